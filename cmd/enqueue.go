package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

func newEnqueueCmd() *cobra.Command {
	var payload offline.NotificationPayload
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Persist a notification for the next queue pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if payload.Title == "" {
				return errors.New("--title is required")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := appInstance.Enqueue(cmd.Context(), payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&payload.Title, "title", "", "notification title")
	f.StringVar(&payload.Body, "body", "", "notification body")
	f.StringVar(&payload.Image, "image", "", "image URL")
	f.StringVar(&payload.Icon, "icon", "", "icon URL (defaults to the placeholder)")
	f.StringVar(&payload.Tag, "tag", "", "display tag (derived from slug or content when empty)")
	f.StringVar(&payload.Data.Slug, "slug", "", "catalog slug the notification links to")
	f.StringVar(&payload.Data.URL, "url", "", "explicit link target")
	return cmd
}
