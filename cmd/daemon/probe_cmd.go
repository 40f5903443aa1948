// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/michaeldallariva/NexusM-sub001/internal/config"
	"github.com/michaeldallariva/NexusM-sub001/internal/hardware"
	xglog "github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/platform/host"
	"github.com/michaeldallariva/NexusM-sub001/internal/version"
)

// runProbeCLI runs hardware detection once and prints the report as JSON.
func runProbeCLI(args []string) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	encoderMode := fs.String("encoder", "", "override transcode.encoder (auto, software, nvenc, qsv, amf, vaapi)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	xglog.Configure(xglog.Config{Level: "warn", Output: os.Stderr, Service: "nexusm-probe", Version: version.Version})

	cfg, err := config.NewLoader(*configPath, version.Version).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		return 1
	}
	if *encoderMode != "" {
		cfg.Transcode.Encoder = *encoderMode
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prober := hardware.NewProber(proberConfig(cfg), host.Detect(), nil)
	if err := writeReport(os.Stdout, prober.Init(ctx)); err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		return 1
	}
	return 0
}

func writeReport(w io.Writer, r hardware.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
