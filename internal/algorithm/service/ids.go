package service

import (
	"errors"
	"time"

	"github.com/sony/sonyflake"
)

// IDConfig configures the snowflake generator.
type IDConfig struct {
	// MachineID distinguishes instances sharing one store. Zero falls back to
	// the sonyflake default derived from the private IP.
	MachineID uint16 `yaml:"machineID"`
	StartTime string `yaml:"startTime"`
}

// NewIDGenerator returns a sonyflake generator.
func NewIDGenerator(cfg IDConfig) (IDGenerator, error) {
	settings := sonyflake.Settings{}
	if cfg.StartTime != "" {
		start, err := time.Parse(time.DateOnly, cfg.StartTime)
		if err != nil {
			return nil, err
		}
		settings.StartTime = start
	}
	if cfg.MachineID != 0 {
		id := cfg.MachineID
		settings.MachineID = func() (uint16, error) { return id, nil }
	}
	sf := sonyflake.NewSonyflake(settings)
	if sf == nil {
		return nil, errors.New("create sonyflake failed")
	}
	return sf, nil
}
