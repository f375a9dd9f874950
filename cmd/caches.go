package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCachesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "caches",
		Short: "List cache tier names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			names, err := appInstance.CacheNames(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
