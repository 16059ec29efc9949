package databuilder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodedDataset holds the three aligned sequences produced by the
// encoder. For every index i, SourceIDs[i], TargetIDs[i] and
// AttentionMask[i] come from the same input row. Instances are immutable
// once created.
type EncodedDataset struct {
	SourceIDs     [][]int64 `msgpack:"source_ids"`
	TargetIDs     [][]int64 `msgpack:"target_ids"`
	AttentionMask [][]int64 `msgpack:"attention_mask"`
}

// Len returns the number of encoded examples.
func (e *EncodedDataset) Len() int { return len(e.SourceIDs) }

// Save serializes the dataset as a single opaque blob at path.
func (e *EncodedDataset) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}
	blob, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize dataset: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("failed to write dataset to %s: %w", path, err)
	}
	return nil
}

// LoadEncodedDataset reads a dataset blob previously written by Save.
func LoadEncodedDataset(path string) (*EncodedDataset, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset from %s: %w", path, err)
	}
	var e EncodedDataset
	if err := msgpack.Unmarshal(blob, &e); err != nil {
		return nil, fmt.Errorf("failed to deserialize dataset %s: %w", path, err)
	}
	return &e, nil
}
