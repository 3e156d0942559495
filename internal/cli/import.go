// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"modelinstall/internal/events"
	"modelinstall/internal/tui"
	"modelinstall/pkg/install"
)

func newImportCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var name, description string
	var inplace bool

	cmd := &cobra.Command{
		Use:   "import SOURCE",
		Short: "Import a model from a local path, a repo id, or a URL",
		Long: `SOURCE is one of:
  /path/to/file-or-dir      an existing filesystem entry
  owner/name[:variant][:/subfolder]   a remote repository
  https://...               a direct URL`,
		Args: cobra.ExactArgs(1),
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

			overrides := install.ConfigOverrides{Name: name, Description: description}
			src, err := install.ParseSource(args[0], overrides, cfg.Token, inplace, nil)
			if err != nil {
				return err
			}

			job, err := collab.svc.ImportModel(ctx, src, overrides)
			if err != nil {
				return err
			}

			var closeProgress func()
			switch {
			case ro.JSONOut:
				closeProgress = jsonProgress(collab.hub, job.ID)
			case ro.Quiet:
				closeProgress = barProgress(collab.hub, job.ID)
			default:
				renderer := tui.NewLiveRenderer(collab.hub)
				closeProgress = renderer.Close
			}

			final, err := collab.svc.WaitForJob(job.ID, 0)
			if closeProgress != nil {
				closeProgress()
			}
			if err != nil {
				return err
			}

			if final.Status != install.StatusCompleted {
				return fmt.Errorf("install ended in %s: %s", final.Status, final.Error)
			}
			fmt.Printf("installed: %s\n", final.ConfigOut.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Override the model's recorded name")
	cmd.Flags().StringVar(&description, "description", "", "Description to stamp onto the record")
	cmd.Flags().BoolVar(&inplace, "inplace", false, "Register a local path without copying it into the models root")

	return cmd
}

// jsonProgress prints JSON-lines events for jobID until the returned
// func is called. cheggaaa/pb/v3 is skipped in JSON mode since its
// output would corrupt the stream.
func jsonProgress(hub *events.Hub, jobID int64) func() {
	ch := hub.Subscribe()
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			snap, ok := ev.Payload.(install.Snapshot)
			if !ok || snap.ID != jobID {
				continue
			}
			_ = enc.Encode(snap)
		}
	}()
	return func() {
		hub.Unsubscribe(ch)
		<-done
	}
}

// barProgress drives a single cheggaaa/pb/v3 bar from hub events for
// jobID, used by --quiet mode. The bar's total grows from zero to the
// job's TotalBytes as soon as a snapshot reports one.
func barProgress(hub *events.Hub, jobID int64) func() {
	bar := pb.New64(0)
	bar.Set(pb.Bytes, true)
	bar.Start()
	ch := hub.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			snap, ok := ev.Payload.(install.Snapshot)
			if !ok || snap.ID != jobID {
				continue
			}
			if snap.TotalBytes > 0 {
				bar.SetTotal(snap.TotalBytes)
			}
			bar.SetCurrent(snap.Bytes)
			if strings.HasPrefix(ev.Type, "install-") && (snap.Status == install.StatusCompleted || snap.Status == install.StatusError || snap.Status == install.StatusCancelled) {
				break
			}
		}
	}()
	return func() {
		hub.Unsubscribe(ch)
		<-done
		bar.Finish()
	}
}
