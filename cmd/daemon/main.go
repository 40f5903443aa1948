// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command nexusm-stream runs the adaptive streaming engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/michaeldallariva/NexusM-sub001/internal/config"
	xglog "github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "probe" {
		os.Exit(runProbeCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "nexusm-stream",
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(config.ParseString(config.EnvPrefix+"CONFIG", ""))
	}
	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}
	xglog.SetLevel(cfg.LogLevel)

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, path).
		Msg("configuration loaded")

	if err := run(ctx, config.NewHolder(cfg, loader)); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
}
