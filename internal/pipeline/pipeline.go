// Package pipeline drives rows from the tabular source through
// normalization, assembly and bundling into a delivery sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/ehr/hcafhir/internal/domain/oncology"
	"github.com/ehr/hcafhir/internal/domain/terminology"
	"github.com/ehr/hcafhir/internal/platform/delivery"
	"github.com/ehr/hcafhir/internal/platform/fhir"
	"github.com/ehr/hcafhir/internal/platform/tabular"
)

// BundleMode selects how resources are grouped for delivery.
type BundleMode string

const (
	// BundleModeRun seals one transaction bundle after the last row.
	BundleModeRun BundleMode = "run"
	// BundleModePatient seals and resets the bundle after every row.
	BundleModePatient BundleMode = "patient"
	// BundleModeNone delivers each resource on its own.
	BundleModeNone BundleMode = "none"
)

// Source yields rows in file order and io.EOF after the last one.
type Source interface {
	Next() (tabular.Row, error)
}

// RowError ties a failure to the input row that caused it.
type RowError struct {
	Line       int
	NaturalKey string
	Err        error
}

func (e *RowError) Error() string {
	if e.NaturalKey != "" {
		return fmt.Sprintf("line %d (PtID %s): %v", e.Line, e.NaturalKey, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// DuplicatePatientError reports a PtID seen twice in one run.
type DuplicatePatientError struct {
	NaturalKey int64
	FirstLine  int
}

func (e *DuplicatePatientError) Error() string {
	return fmt.Sprintf("duplicate PtID %d, first seen on line %d", e.NaturalKey, e.FirstLine)
}

// Summary counts what a run produced.
type Summary struct {
	Rows      int
	Resources int
	Bundles   int
}

type Option func(*Pipeline)

func WithBundleMode(m BundleMode) Option {
	return func(p *Pipeline) { p.mode = m }
}

// WithBaseURL sets the base used for bundle entry fullUrl values.
func WithBaseURL(baseURL string) Option {
	return func(p *Pipeline) { p.builder = fhir.NewTransactionBuilder(baseURL) }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// Pipeline processes rows strictly in order on the calling goroutine.
type Pipeline struct {
	source     Source
	normalizer *oncology.Normalizer
	assembler  *oncology.Assembler
	builder    *fhir.TransactionBuilder
	sink       delivery.Sink
	mode       BundleMode
	logger     zerolog.Logger

	// natural key -> first line
	seen map[int64]int
}

func New(source Source, normalizer *oncology.Normalizer, sink delivery.Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:     source,
		normalizer: normalizer,
		assembler:  oncology.NewAssembler(),
		builder:    fhir.NewTransactionBuilder(""),
		sink:       sink,
		mode:       BundleModeRun,
		logger:     zerolog.Nop(),
		seen:       make(map[int64]int),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run consumes the source until io.EOF. It stops at the first failing row
// and returns that row's *RowError together with the counts so far.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	switch p.mode {
	case BundleModeRun, BundleModePatient, BundleModeNone:
	default:
		return sum, fmt.Errorf("unknown bundle mode %q", p.mode)
	}

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		row, err := p.source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("read row: %w", err)
		}
		sum.Rows++

		n, bundles, err := p.processRow(ctx, row)
		sum.Resources += n
		sum.Bundles += bundles
		if err != nil {
			return sum, p.rowError(row, err)
		}
	}

	if p.mode == BundleModeRun && p.builder.Len() > 0 {
		if err := p.flush(ctx); err != nil {
			return sum, err
		}
		sum.Bundles++
	}

	p.logger.Info().
		Int("rows", sum.Rows).
		Int("resources", sum.Resources).
		Int("bundles", sum.Bundles).
		Str("bundle_mode", string(p.mode)).
		Msg("conversion complete")
	return sum, nil
}

// processRow returns the number of resources produced and bundles delivered.
func (p *Pipeline) processRow(ctx context.Context, row tabular.Row) (int, int, error) {
	rec, err := p.normalizer.Normalize(row)
	if err != nil {
		return 0, 0, err
	}
	if first, ok := p.seen[rec.NaturalKey]; ok {
		return 0, 0, &DuplicatePatientError{NaturalKey: rec.NaturalKey, FirstLine: first}
	}
	p.seen[rec.NaturalKey] = row.Line

	resources, err := p.assembler.Assemble(rec)
	if err != nil {
		return 0, 0, err
	}
	p.logger.Debug().
		Int("line", row.Line).
		Int64("natural_key", rec.NaturalKey).
		Int("resources", len(resources)).
		Msg("row converted")

	switch p.mode {
	case BundleModeNone:
		for _, r := range resources {
			if err := p.sink.DeliverResource(ctx, r); err != nil {
				return len(resources), 0, err
			}
		}
		return len(resources), 0, nil
	case BundleModePatient:
		p.builder.Add(resources...)
		if err := p.flush(ctx); err != nil {
			return len(resources), 0, err
		}
		return len(resources), 1, nil
	default:
		p.builder.Add(resources...)
		return len(resources), 0, nil
	}
}

func (p *Pipeline) flush(ctx context.Context) error {
	sealed, err := p.builder.Seal()
	if err != nil {
		return err
	}
	if err := p.sink.DeliverBundle(ctx, sealed); err != nil {
		return err
	}
	p.builder.Reset()
	return nil
}

func (p *Pipeline) rowError(row tabular.Row, err error) error {
	key := row.Get(oncology.ColPatientID)
	ev := p.logger.Error().Err(err).Int("line", row.Line).Str("natural_key", key)
	var ue *terminology.UnmappedTermError
	if errors.As(err, &ue) {
		ev = ev.Str("table", ue.Table).Str("text", ue.Text)
	}
	ev.Msg("row failed")
	return &RowError{Line: row.Line, NaturalKey: key, Err: err}
}
