// Package ingest runs the per-document pipeline (parse, reduce, dedupe) and
// hands the finished model to one or more databases.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/dedupe"
	"github.com/sadopc/jsonrel/internal/model"
	"github.com/sadopc/jsonrel/internal/parser"
	"github.com/sadopc/jsonrel/internal/persister"
	"github.com/sadopc/jsonrel/internal/reducer"
)

// Options controls one document run.
type Options struct {
	// Root names the table top-level rows go to; the configured root table
	// when empty.
	Root string
	// SkipReduce keeps wrapper tables.
	SkipReduce bool
}

// Result is a finished, frozen model plus what each stage did to it.
type Result struct {
	Model  *model.Model
	Source string
	Folded map[string]string
	Parse  time.Duration
	Reduce time.Duration
	Dedupe time.Duration
}

// Document parses r, folds wrapper tables unless disabled, deduplicates and
// freezes the model.
func Document(ctx context.Context, r io.Reader, cfg *config.Config, opts Options) (*Result, error) {
	log := cfg.Logger()
	res := &Result{}

	start := time.Now()
	m, err := parser.Parse(ctx, r, cfg, opts.Root)
	if err != nil {
		return nil, err
	}
	res.Model = m
	res.Parse = time.Since(start)

	if !opts.SkipReduce {
		start = time.Now()
		red, err := reducer.Reduce(m, cfg)
		if err != nil {
			return nil, fmt.Errorf("reduce %s: %w", m.Root, err)
		}
		res.Folded = red.Folded
		res.Reduce = time.Since(start)
	}

	start = time.Now()
	if err := dedupe.Dedupe(m, cfg); err != nil {
		return nil, fmt.Errorf("dedupe %s: %w", m.Root, err)
	}
	res.Dedupe = time.Since(start)

	m.Freeze()
	log.Info("document processed",
		"root", m.Root,
		"tables", len(m.TableNames()),
		"relations", len(m.Relations()),
		"folded", len(res.Folded),
		"parse", res.Parse,
		"reduce", res.Reduce,
		"dedupe", res.Dedupe,
	)
	return res, nil
}

// Source returns the provenance tag of an input file: its base name without
// extension.
func Source(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// File runs Document over the file at path. The result's Source is the
// file's provenance tag.
func File(ctx context.Context, path string, cfg *config.Config, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest open: %w", err)
	}
	defer f.Close()

	res, err := Document(ctx, f, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", path, err)
	}
	res.Source = Source(path)
	return res, nil
}

// Target is one database a model is written to.
type Target struct {
	Name string
	Conn persister.Beginner
	// Options are applied after the defaults PersistAll sets.
	Options []persister.Option
}

// PersistAll writes m to every target concurrently, one persister per
// target. Summaries are returned in target order; a target that failed
// before its first table leaves a nil entry. Targets are independent: a
// failing target never cancels the others, and every target error is
// returned.
func PersistAll(ctx context.Context, m *model.Model, source string, cfg *config.Config, targets []Target) ([]*persister.Summary, error) {
	m.Freeze()
	sums := make([]*persister.Summary, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			opts := append([]persister.Option{persister.WithTarget(t.Name)}, t.Options...)
			sum, err := persister.New(t.Conn, cfg, opts...).Persist(ctx, m, source)
			sums[i] = sum
			if err != nil {
				errs[i] = fmt.Errorf("target %s: %w", t.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return sums, errors.Join(errs...)
}
