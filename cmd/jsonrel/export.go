package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sadopc/jsonrel/internal/export"
)

func newExportCmd(g *globals) *cobra.Command {
	var (
		docs   docFlags
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write the inferred tables as CSV or JSON files",
		Long: `export writes one file per table, junction tables included, laid out
exactly as import would store them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			res, err := docs.read(cmd, g.cfg, args[0])
			if err != nil {
				return err
			}
			files, err := export.Dir(cmd.Context(), out, res.Model, g.cfg, f)
			for _, p := range files {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		},
	}

	docs.register(cmd)
	cmd.Flags().StringVar(&format, "format", "csv", "Output format: csv or json")
	cmd.Flags().StringVarP(&out, "out", "o", ".", "Output directory")
	return cmd
}
