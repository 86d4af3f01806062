package main

import (
	"github.com/spf13/cobra"

	"github.com/sadopc/jsonrel/internal/adapter"
	"github.com/sadopc/jsonrel/internal/persister"
	"github.com/sadopc/jsonrel/internal/report"
)

func newPlanCmd(g *globals) *cobra.Command {
	var (
		docs        docFlags
		adapterName string
	)

	cmd := &cobra.Command{
		Use:   "plan <file>",
		Short: "Print the DDL an import of the document would run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := adapter.Lookup(adapterName)
			if err != nil {
				return err
			}
			res, err := docs.read(cmd, g.cfg, args[0])
			if err != nil {
				return err
			}
			stmts := persister.Plan(res.Model, g.cfg, a.Dialect())
			return report.Plan(cmd.OutOrStdout(), stmts, a.Name(), g.theme())
		},
	}

	docs.register(cmd)
	cmd.Flags().StringVarP(&adapterName, "adapter", "a", "sqlite", "SQL dialect: "+availableAdapters())
	return cmd
}
