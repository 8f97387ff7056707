package cmd

import (
	"github.com/spf13/cobra"
)

func newRecommendCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recommend <path>",
		Short: "Recommend files related to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := svc.Recommend(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			printRecommendations(cmd.OutOrStdout(), args[0], recs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of recommendations (default: configured default_limit)")

	return cmd
}
