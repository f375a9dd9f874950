package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Precache the shell and catalog, then prune stale tiers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, removed, err := appInstance.Install(cmd.Context())
			if err != nil {
				return err
			}
			if removed == nil {
				removed = []string{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{"install": report, "removed": removed}); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			return nil
		},
	}
}
