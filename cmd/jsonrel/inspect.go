package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sadopc/jsonrel/internal/report"
)

func newInspectCmd(g *globals) *cobra.Command {
	var (
		docs  docFlags
		conns connFlags
		table string
	)

	cmd := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Show the tables inferred from a document or stored in a target",
		Long: `inspect prints the table model of a JSON document without writing
anything. With --target (or connection flags) and no file it reports the
tables, row counts and indexes of that database instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			th := g.theme()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				res, err := docs.read(cmd, g.cfg, args[0])
				if err != nil {
					return err
				}
				if len(res.Folded) > 0 {
					g.log.Info("wrapper tables folded", "count", len(res.Folded))
				}
				return report.Model(out, res.Model, th, table)
			}

			specs, err := conns.resolve(g.cfg)
			if err != nil {
				return err
			}
			if len(specs) == 0 {
				return errors.New("nothing to inspect: pass a file or a target")
			}
			for i, sc := range specs {
				conn, err := connect(cmd.Context(), sc)
				if err != nil {
					return err
				}
				if i > 0 {
					fmt.Fprintln(out)
				}
				err = report.Database(cmd.Context(), out, conn, sc.Schema, th, table)
				conn.Close()
				if err != nil {
					return fmt.Errorf("target %s: %w", sc.Name, err)
				}
			}
			return nil
		},
	}

	docs.register(cmd)
	conns.register(cmd)
	cmd.Flags().StringVar(&table, "table", "", "Only show tables fuzzy-matching this pattern")
	return cmd
}
