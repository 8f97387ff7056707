package cmd

import (
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report store size, embedding coverage and index freshness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := svc.Health(cmd.Context())
			if err != nil {
				return err
			}
			printHealth(cmd.OutOrStdout(), result)
			return nil
		},
	}
}
