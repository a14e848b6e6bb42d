// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Switchboard-daemon is the brain process. It holds one session on the
// homeserver as the brain account, drives the admin command channel,
// runs the sync loop, fans events out to the HTTP API and in-process
// subscribers, and routes messages between human, queue, and worker
// rooms.
//
// On startup:
//  1. Loads the configuration named by --config or SWITCHBOARD_CONFIG.
//  2. Opens the brain session from state.yaml, or registers the brain
//     account on the provisioned homeserver when no state exists.
//  3. Scans the homeserver and seeds the router's room map.
//  4. Serves the HTTP API and the CBOR control socket, and runs the
//     sync loop, until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)

	flags := pflag.NewFlagSet("switchboard-daemon", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to switchboard.yaml (default $SWITCHBOARD_CONFIG)")
	flags.StringVar(&logLevel, "log-level", "info", "minimum log level: debug, info, warn, error")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("switchboard-daemon %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer daemon.Close()

	logger.Info("switchboard daemon starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"homeserver", cfg.Homeserver.URL,
	)
	return daemon.Run(ctx)
}

// loadConfig reads the file at path, or the one named by
// SWITCHBOARD_CONFIG when path is empty, then validates it and creates
// the directories it names.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}
