package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"algohub/internal/cli/command"
	"algohub/internal/cli/config"
	httpclient "algohub/internal/cli/http"
	"algohub/internal/cli/repl"
	"algohub/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	userID := flag.String("user", "", "Override user id")
	statePath := flag.String("state", "", "Override session state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	session, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		os.Exit(1)
	}
	if *userID != "" {
		session.UserID = *userID
	}
	base := cfg.BaseURL
	if session.BaseURL != "" {
		base = session.BaseURL
	}
	if *baseURL != "" {
		base = *baseURL
	}

	client := httpclient.New(base, cfg.Timeout, func() string {
		return session.UserID
	})

	commands := command.Registry()
	r := repl.New(client, commands, &session, cfg.StatePath, cfg.PrettyJSON != nil && *cfg.PrettyJSON, os.Stdout)

	// A command given on the command line runs once without the prompt.
	if args := flag.Args(); len(args) > 0 {
		if _, err := r.Execute(context.Background(), shellJoin(args)); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := r.Run(context.Background(), cfg.HistoryFile); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
