package db

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// NewMySQL opens a MySQL pool with default settings.
// DSN format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=Local"
func NewMySQL(dsn string) (Database, error) {
	return NewMySQLWithConfig(&Config{DSN: dsn})
}

// NewMySQLWithConfig opens a MySQL pool with custom settings.
func NewMySQLWithConfig(config *Config) (Database, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.Driver = string(DialectMySQL)
	return openSQL("mysql", DialectMySQL, config)
}
