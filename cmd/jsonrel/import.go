package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/ingest"
	"github.com/sadopc/jsonrel/internal/journal"
	"github.com/sadopc/jsonrel/internal/persister"
	"github.com/sadopc/jsonrel/internal/report"
)

// docFlags selects how input documents are read.
type docFlags struct {
	root     string
	source   string
	encoding string
	noReduce bool
}

func (f *docFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.root, "root", "r", "", "Table for top-level rows (config naming.root_table when empty)")
	fl.StringVarP(&f.source, "source", "s", "", "Provenance tag (file base name when empty)")
	fl.StringVar(&f.encoding, "encoding", "", "Input encoding, an IANA name (config parser.encoding when empty)")
	fl.BoolVar(&f.noReduce, "no-reduce", false, "Keep wrapper tables")
}

func (f *docFlags) options() ingest.Options {
	return ingest.Options{Root: f.root, SkipReduce: f.noReduce}
}

// read runs the document pipeline over path, "-" meaning stdin.
func (f *docFlags) read(cmd *cobra.Command, cfg *config.Config, path string) (*ingest.Result, error) {
	if f.encoding != "" {
		cfg.Parser.Encoding = f.encoding
	}
	var (
		res *ingest.Result
		err error
	)
	if path == "-" {
		res, err = ingest.Document(cmd.Context(), os.Stdin, cfg, f.options())
		if res != nil {
			res.Source = "stdin"
		}
	} else {
		res, err = ingest.File(cmd.Context(), path, cfg, f.options())
	}
	if err != nil {
		return nil, err
	}
	if f.source != "" {
		res.Source = f.source
	}
	return res, nil
}

func newImportCmd(g *globals) *cobra.Command {
	var (
		docs        docFlags
		conns       connFlags
		journalPath string
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Parse JSON documents and persist their tables",
		Long: `import runs every document through parsing, wrapper folding and
content deduplication, then writes the tables to each target concurrently.
Use "-" to read a document from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := g.cfg

			specs, err := conns.resolve(cfg)
			if err != nil {
				return err
			}
			if len(specs) == 0 {
				return errors.New("no target: pass --target or --adapter")
			}

			var j *journal.Journal
			if journalPath == "" && cfg.Journal.Enabled {
				journalPath = cfg.Journal.Path
				if journalPath == "" {
					if dir, err := config.ConfigDir(); err == nil {
						journalPath = filepath.Join(dir, "journal.jsonl")
					}
				}
			}
			if journalPath != "" {
				j, err = journal.Open(journalPath, cfg.Journal.MaxSizeMB)
				if err != nil {
					g.log.Warn("could not open journal", "path", journalPath, "err", err)
				}
				defer j.Close()
			}

			var targets []ingest.Target
			for _, sc := range specs {
				conn, err := connect(ctx, sc)
				if err != nil {
					return err
				}
				defer conn.Close()

				var opts []persister.Option
				if j != nil {
					opts = append(opts, persister.WithReporter(j))
				}
				if sc.Schema != "" {
					opts = append(opts, persister.WithSchema(sc.Schema))
				}
				targets = append(targets, ingest.Target{Name: sc.Name, Conn: conn, Options: opts})
			}

			th := g.theme()
			var errs []error
			for _, path := range args {
				res, err := docs.read(cmd, cfg, path)
				if err != nil {
					g.log.Error("document skipped", "path", path, "err", err)
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					if ctx.Err() != nil {
						break
					}
					continue
				}
				sums, err := ingest.PersistAll(ctx, res.Model, res.Source, cfg, targets)
				if !quiet {
					for i, sum := range sums {
						if sum == nil {
							continue
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s → %s\n", res.Source, targets[i].Name)
						if rerr := report.Summary(cmd.OutOrStdout(), sum, th); rerr != nil {
							return rerr
						}
					}
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					if ctx.Err() != nil {
						break
					}
				}
			}
			return errors.Join(errs...)
		},
	}

	docs.register(cmd)
	conns.register(cmd)
	cmd.Flags().StringVar(&journalPath, "journal", "", "Append a JSON line per persisted table to this file")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print per-table summaries")
	return cmd
}
