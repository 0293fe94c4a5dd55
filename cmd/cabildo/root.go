package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cabildo",
		Short:        "Affiliation certificate service",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newAdminCmd())
	return root
}
