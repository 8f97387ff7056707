package cmd

import (
	"github.com/spf13/cobra"
)

func newActivityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Record and inspect file access events",
	}
	cmd.AddCommand(newActivityLogCmd())
	return cmd
}

func newActivityLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <path>",
		Short: "Record an access event for path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := svc.LogActivity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printLogResult(cmd.OutOrStdout(), args[0], result)
			return nil
		},
	}
}
