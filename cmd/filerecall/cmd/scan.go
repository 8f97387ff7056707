package cmd

import (
	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [root]",
		Short: "Reconcile a directory against the store",
		Long:  `Scan walks root, embedding new or changed files and tombstoning files no longer present. With no root, the first configured scan root is used.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var root string
			if len(args) == 1 {
				root = args[0]
			}

			report, err := svc.Scan(cmd.Context(), root)
			if err != nil {
				return err
			}
			printScanReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	return cmd
}
