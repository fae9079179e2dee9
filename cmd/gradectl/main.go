package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"autograde/internal/cli/command"
	"autograde/internal/cli/config"
	httpclient "autograde/internal/cli/http"
	"autograde/internal/cli/repl"
	"autograde/internal/cli/state"
)

const defaultConfigPath = "configs/gradectl.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override grader base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override staff token")
	statePath := flag.String("state", "", "Override token state path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.TokenStatePath = *statePath
	}

	tokenState, err := state.Load(cfg.TokenStatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load token state failed: %v\n", err)
		return
	}
	if *token != "" {
		tokenState, err = state.FromToken(*token)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid token: %v\n", err)
			return
		}
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return tokenState.AccessToken
	})

	session, err := repl.New(client, command.Registry(), &tokenState, cfg.TokenStatePath, cfg.HistoryFile, cfg.PrettyJSON != nil && *cfg.PrettyJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init console failed: %v\n", err)
		return
	}
	session.Run(context.Background())
}
