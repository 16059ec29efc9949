package databuilder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/textforge/seqprep/seqprep"
	"github.com/textforge/seqprep/seqprep/config"
	"github.com/textforge/seqprep/seqprep/tokenizer"
)

const (
	defaultBatchSize = 32
	defaultWorkers   = 4
)

// Databuilder converts a dataset of raw rows into fixed-length token-id
// sequences ready for batched tensor consumption. It is stateless per row;
// the tokenizer vocabulary must already contain the configured highlight
// and separation tokens.
type Databuilder struct {
	tok       tokenizer.Tokenizer
	cfg       config.DatabuilderConfig
	batchSize int
	workers   int
}

// Option customizes a Databuilder.
type Option func(*Databuilder)

// WithBatchSize sets how many rows are tokenized per batch-encode call.
func WithBatchSize(n int) Option {
	return func(b *Databuilder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithWorkers bounds how many batches are tokenized concurrently.
func WithWorkers(n int) Option {
	return func(b *Databuilder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// New creates a Databuilder from a tokenizer and its configuration.
func New(tok tokenizer.Tokenizer, cfg config.DatabuilderConfig, opts ...Option) *Databuilder {
	b := &Databuilder{
		tok:       tok,
		cfg:       cfg,
		batchSize: defaultBatchSize,
		workers:   defaultWorkers,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Encode runs the full pipeline: EOS normalization, special-token
// substitution, batched tokenization, assembly. Output index i corresponds
// to input row i for every field.
func (b *Databuilder) Encode(ctx context.Context, ds *Dataset) (*EncodedDataset, error) {
	if err := b.validateSchema(ds); err != nil {
		return nil, err
	}

	ds = ds.Map(b.addEOS)
	ds = ds.Map(b.replaceSpecialTokens)

	out := &EncodedDataset{
		SourceIDs:     make([][]int64, ds.Len()),
		TargetIDs:     make([][]int64, ds.Len()),
		AttentionMask: make([][]int64, ds.Len()),
	}

	// Batches carry no ordering dependency between each other; each one
	// writes into its own slice window.
	p := pool.New().WithMaxGoroutines(b.workers).WithContext(ctx)
	for start := 0; start < ds.Len(); start += b.batchSize {
		start := start
		end := min(start+b.batchSize, ds.Len())
		p.Go(func(ctx context.Context) error {
			return b.encodeBatch(ds, start, end, out)
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("dataset encoded",
		"rows", ds.Len(),
		"source_max_length", b.cfg.SourceMaxLength,
		"target_max_length", b.cfg.TargetMaxLength)

	return out, nil
}

// validateSchema fails before any encoding work begins when a required
// column is missing.
func (b *Databuilder) validateSchema(ds *Dataset) error {
	for _, col := range []string{b.cfg.SourceColumn, b.cfg.TargetColumn} {
		if !ds.HasColumn(col) {
			return fmt.Errorf("%w: column %q missing from dataset schema", config.ErrConfiguration, col)
		}
	}
	return nil
}

// addEOS appends the end-of-sequence marker to both fields unless the
// trailing four characters already are the marker.
func (b *Databuilder) addEOS(row Row) Row {
	out := cloneRow(row)
	out[b.cfg.SourceColumn] = appendEOS(out[b.cfg.SourceColumn])
	out[b.cfg.TargetColumn] = appendEOS(out[b.cfg.TargetColumn])
	return out
}

func appendEOS(text string) string {
	if strings.HasSuffix(text, seqprep.EOSMarker) {
		return text
	}
	return text + " " + seqprep.EOSMarker
}

// replaceSpecialTokens substitutes every literal occurrence of the
// highlight placeholder in the source field and of the separation
// placeholder in the target field.
func (b *Databuilder) replaceSpecialTokens(row Row) Row {
	out := cloneRow(row)
	out[b.cfg.SourceColumn] = strings.ReplaceAll(out[b.cfg.SourceColumn], seqprep.HighlightPlaceholder, b.cfg.HighlightToken)
	out[b.cfg.TargetColumn] = strings.ReplaceAll(out[b.cfg.TargetColumn], seqprep.SeparationPlaceholder, b.cfg.SeparationToken)
	return out
}

// encodeBatch tokenizes rows [start, end) and writes the aligned outputs
// into the same index range of out.
func (b *Databuilder) encodeBatch(ds *Dataset, start, end int, out *EncodedDataset) error {
	sources := make([]string, 0, end-start)
	targets := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		row := ds.Row(i)
		sources = append(sources, row[b.cfg.SourceColumn])
		targets = append(targets, row[b.cfg.TargetColumn])
	}

	srcIDs, srcMask, err := b.tok.BatchEncode(sources, b.cfg.SourceMaxLength)
	if err != nil {
		return fmt.Errorf("failed to encode source batch [%d:%d): %w", start, end, err)
	}
	// The attention mask is produced for the source encoding only.
	tgtIDs, _, err := b.tok.BatchEncode(targets, b.cfg.TargetMaxLength)
	if err != nil {
		return fmt.Errorf("failed to encode target batch [%d:%d): %w", start, end, err)
	}

	for j := 0; j < end-start; j++ {
		out.SourceIDs[start+j] = srcIDs[j]
		out.TargetIDs[start+j] = tgtIDs[j]
		out.AttentionMask[start+j] = srcMask[j]
	}
	return nil
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
