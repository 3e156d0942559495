// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"modelinstall/internal/events"
	"modelinstall/pkg/fetchqueue"
	"modelinstall/pkg/hfmeta"
	"modelinstall/pkg/install"
	"modelinstall/pkg/probe"
	"modelinstall/pkg/records"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Token   string
	JSONOut bool
	Quiet   bool
	Verbose bool
	Config  string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "modelinstall",
		Short:         "Model install coordinator: fetch, register, and track local model installs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().StringVarP(&ro.Token, "token", "t", "", "Remote access token (also reads MODELINSTALL_TOKEN env)")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON instead of a live progress view")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (minimal logs)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")

	root.AddCommand(newImportCmd(ctx, ro))
	root.AddCommand(newJobsCmd(ctx, ro))
	root.AddCommand(newServeCmd(ctx, ro))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd(version, ro))
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// collaborators bundles everything buildService constructs, so
// callers can shut it down cleanly.
type collaborators struct {
	svc     *install.Service
	hub     *events.Hub
	records *records.Store
}

func (c *collaborators) Close(ctx context.Context) error {
	err := c.svc.Stop(ctx)
	if cerr := c.records.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// buildService wires the real collaborators (pkg/records, pkg/fetchqueue,
// pkg/probe, pkg/hfmeta) into a pkg/install.Service, the way a production
// deployment would, and starts it.
func buildService(ctx context.Context, cfg AppConfig) (*collaborators, error) {
	store, err := records.Open(cfg.RecordsPath)
	if err != nil {
		return nil, fmt.Errorf("opening records store: %w", err)
	}

	threshold, err := parseSize(cfg.MultipartThreshold, 256<<20)
	if err != nil {
		store.Close()
		return nil, err
	}

	hub := events.New()
	queue := fetchqueue.New(
		fetchqueue.WithConcurrency(cfg.Concurrency),
		fetchqueue.WithRetries(cfg.Retries),
		fetchqueue.WithMultipartThreshold(threshold),
	)

	svc := install.New(
		install.Config{
			ModelsRoot:       cfg.ModelsRoot,
			ConvertCacheRoot: cfg.ConvertCacheRoot,
			LegacyConfigRoot: cfg.LegacyConfigRoot,
			LegacyYAMLPath:   cfg.LegacyYAMLPath,
			HashAlgorithm:    cfg.HashAlgorithm,
			StartupScan:      cfg.StartupScan,
		},
		store,
		queue,
		probe.Prober{},
		hub,
		install.WithMetadataFetchers(hfmeta.New()),
	)

	if err := svc.Start(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("starting install service: %w", err)
	}

	return &collaborators{svc: svc, hub: hub, records: store}, nil
}
