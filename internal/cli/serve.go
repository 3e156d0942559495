// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"modelinstall/internal/server"
)

func newServeCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var addr, serverToken string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP + WebSocket server",
		Long: `Start an HTTP server that provides:
  - REST API for model installs and records
  - WebSocket feed of live install progress`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, ro)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ServerAddr = addr
			}
			if cmd.Flags().Changed("server-token") {
				cfg.ServerToken = serverToken
			}

			collab, err := buildService(ctx, cfg)
			if err != nil {
				return err
			}
			defer collab.Close(context.Background())

			srv := server.New(server.Config{
				Addr:  cfg.ServerAddr,
				Token: cfg.ServerToken,
			}, collab.svc, collab.records, collab.hub)

			fmt.Printf("model install server listening on %s\n", cfg.ServerAddr)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Address to bind to (default from config)")
	cmd.Flags().StringVar(&serverToken, "server-token", "", "Bearer token required on API routes")

	return cmd
}
