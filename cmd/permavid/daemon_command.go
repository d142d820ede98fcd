package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"permavid/internal/api"
	"permavid/internal/daemon"
	"permavid/internal/logging"
	"permavid/internal/queue"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:          "daemon",
		Short:        "Run the permavid daemon in the foreground",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			d, err := daemon.New(cfg, store, logger)
			if err != nil {
				_ = store.Close()
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := d.Start(runCtx); err != nil {
				return err
			}
			<-runCtx.Done()
			d.Stop()
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(cmd.Context(), func(reqCtx context.Context, client *api.Client) error {
				status, err := client.Status(reqCtx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Running:  %s\n", yesNo(status.Running))
				fmt.Fprintf(out, "PID:      %d\n", status.PID)
				fmt.Fprintf(out, "Database: %s\n", status.DatabasePath)
				fmt.Fprintf(out, "Lock:     %s\n", status.LockFilePath)
				if len(status.QueueCounts) > 0 {
					fmt.Fprintln(out, "Queue:")
					for _, st := range statusDisplayOrder {
						if n, ok := status.QueueCounts[st]; ok && n > 0 {
							fmt.Fprintf(out, "  %-13s %d\n", st, n)
						}
					}
				}
				return nil
			})
		},
	}
}

var statusDisplayOrder = []string{
	"queued", "downloading", "completed", "uploading",
	"transferring", "uploaded", "encoding", "encoded",
	"failed", "cancelled",
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
