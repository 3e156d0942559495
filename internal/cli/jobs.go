// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"modelinstall/pkg/install"
)

func newJobsCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage install jobs",
	}
	cmd.AddCommand(newJobsListCmd(ctx, ro))
	cmd.AddCommand(newJobsGetCmd(ctx, ro))
	cmd.AddCommand(newJobsCancelCmd(ctx, ro))
	return cmd
}

func newJobsListCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all known install jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, ro)
			if err != nil {
				return err
			}
			collab, err := buildService(ctx, cfg)
			if err != nil {
				return err
			}
			defer collab.Close(context.Background())

			jobs := collab.svc.ListJobs()
			if ro.JSONOut {
				return printJSON(jobs)
			}
			printJobTable(jobs)
			return nil
		},
	}
}

func newJobsGetCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show a single job by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			cfg, err := loadConfig(cmd, ro)
			if err != nil {
				return err
			}
			collab, err := buildService(ctx, cfg)
			if err != nil {
				return err
			}
			defer collab.Close(context.Background())

			snap, err := collab.svc.GetJobByID(id)
			if err != nil {
				return err
			}
			if ro.JSONOut {
				return printJSON(snap)
			}
			printJobTable([]install.Snapshot{snap})
			return nil
		},
	}
}

func newJobsCancelCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running or waiting job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			cfg, err := loadConfig(cmd, ro)
			if err != nil {
				return err
			}
			collab, err := buildService(ctx, cfg)
			if err != nil {
				return err
			}
			defer collab.Close(context.Background())

			if err := collab.svc.CancelJob(id); err != nil {
				return err
			}
			fmt.Printf("job %d cancelled\n", id)
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobTable(jobs []install.Snapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSOURCE\tBYTES\tTOTAL\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n", j.ID, j.Status, j.Source, j.Bytes, j.TotalBytes, j.Error)
	}
	w.Flush()
}
