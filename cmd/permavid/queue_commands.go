package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"permavid/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the archive queue",
	}

	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueGalleryCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueUploadCommand(ctx))
	queueCmd.AddCommand(newQueueRestartCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url>",
		Short: "Add a video URL to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(reqCtx context.Context, client *api.Client) error {
				result, message, err := client.Enqueue(reqCtx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, message)
				fmt.Fprintf(out, "ID: %s\n", result.Item.ID)
				if !result.Created {
					fmt.Fprintf(out, "Status: %s\n", result.Item.Status)
				}
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List items still moving through the pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(cmd.Context(), func(reqCtx context.Context, client *api.Client) error {
				items, err := client.ListActive(reqCtx)
				if err != nil {
					return err
				}
				writeItems(cmd, items, "Queue is empty")
				return nil
			})
		},
	}
}

func newQueueGalleryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "gallery",
		Short: "List fully archived items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(cmd.Context(), func(reqCtx context.Context, client *api.Client) error {
				items, err := client.ListEncoded(reqCtx)
				if err != nil {
					return err
				}
				writeItems(cmd, items, "Nothing archived yet")
				return nil
			})
		},
	}
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one queue item in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(reqCtx context.Context, client *api.Client) error {
				item, err := client.Get(reqCtx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:        %s\n", item.ID)
				fmt.Fprintf(out, "URL:       %s\n", item.URL)
				fmt.Fprintf(out, "Title:     %s\n", item.Title)
				fmt.Fprintf(out, "Status:    %s\n", item.Status)
				if item.Message != "" {
					fmt.Fprintf(out, "Message:   %s\n", item.Message)
				}
				if item.EncodingProgress != nil {
					fmt.Fprintf(out, "Progress:  %d%%\n", *item.EncodingProgress)
				}
				if item.LocalPath != "" {
					fmt.Fprintf(out, "Local:     %s\n", item.LocalPath)
				}
				if item.FilemoonCode != "" {
					fmt.Fprintf(out, "Filemoon:  %s\n", item.FilemoonCode)
				}
				if item.FilesVCCode != "" {
					fmt.Fprintf(out, "Files.vc:  %s\n", item.FilesVCCode)
				}
				fmt.Fprintf(out, "Created:   %s\n", item.CreatedAt)
				fmt.Fprintf(out, "Updated:   %s\n", item.UpdatedAt)
				return nil
			})
		},
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return newItemActionCommand(ctx, "cancel <id>", "Cancel a queued or downloading item",
		func(reqCtx context.Context, client *api.Client, id string) (string, error) {
			return client.Cancel(reqCtx, id)
		})
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return newItemActionCommand(ctx, "retry <id>", "Re-queue a failed item",
		func(reqCtx context.Context, client *api.Client, id string) (string, error) {
			return client.Retry(reqCtx, id)
		})
}

func newQueueUploadCommand(ctx *commandContext) *cobra.Command {
	return newItemActionCommand(ctx, "upload <id>", "Upload a completed item to the configured target",
		func(reqCtx context.Context, client *api.Client, id string) (string, error) {
			return client.TriggerUpload(reqCtx, id)
		})
}

func newQueueRestartCommand(ctx *commandContext) *cobra.Command {
	return newItemActionCommand(ctx, "restart-encoding <id>", "Ask the host to re-run a stuck encode",
		func(reqCtx context.Context, client *api.Client, id string) (string, error) {
			return client.RestartEncoding(reqCtx, id)
		})
}

func newItemActionCommand(ctx *commandContext, use, short string, action func(context.Context, *api.Client, string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(reqCtx context.Context, client *api.Client) error {
				message, err := action(reqCtx, client, args[0])
				if err != nil {
					if message != "" {
						fmt.Fprintln(cmd.OutOrStdout(), message)
					}
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), message)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "clear <completed|failed|cancelled|finished>",
		Short:     "Remove all items in a terminal status",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"completed", "failed", "cancelled", "finished"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(reqCtx context.Context, client *api.Client) error {
				result, _, err := client.Clear(reqCtx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d item(s)\n", result.Removed)
				return nil
			})
		},
	}
}

func writeItems(cmd *cobra.Command, items []api.QueueItem, emptyMessage string) {
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, emptyMessage)
		return
	}
	fmt.Fprintln(out, renderQueueItems(out, items))
}
