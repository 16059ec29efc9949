package model

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

// weightsBlob is the on-disk checkpoint layout.
type weightsBlob struct {
	Vocab int       `msgpack:"vocab"`
	Dim   int       `msgpack:"dim"`
	PadID int64     `msgpack:"pad_id"`
	Emb   []float64 `msgpack:"emb"`
	Out   []float64 `msgpack:"out"`
}

// SaveWeights writes the model parameters as a single blob at path.
func (m *Linear) SaveWeights(path string) error {
	blob := weightsBlob{
		Vocab: m.vocab,
		Dim:   m.dim,
		PadID: m.padID,
		Emb:   append([]float64(nil), m.emb.RawMatrix().Data...),
		Out:   append([]float64(nil), m.out.RawMatrix().Data...),
	}
	b, err := msgpack.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to serialize weights: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write weights to %s: %w", path, err)
	}
	return nil
}

// LoadLinear reconstructs a model from a checkpoint written by SaveWeights.
func LoadLinear(path string) (*Linear, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights from %s: %w", path, err)
	}
	var blob weightsBlob
	if err := msgpack.Unmarshal(b, &blob); err != nil {
		return nil, fmt.Errorf("failed to deserialize weights %s: %w", path, err)
	}
	if len(blob.Emb) != blob.Vocab*blob.Dim || len(blob.Out) != blob.Dim*blob.Vocab {
		return nil, fmt.Errorf("weights blob %s has inconsistent shapes", path)
	}
	return &Linear{
		vocab: blob.Vocab,
		dim:   blob.Dim,
		padID: blob.PadID,
		emb:   mat.NewDense(blob.Vocab, blob.Dim, blob.Emb),
		out:   mat.NewDense(blob.Dim, blob.Vocab, blob.Out),
		gEmb:  mat.NewDense(blob.Vocab, blob.Dim, nil),
		gOut:  mat.NewDense(blob.Dim, blob.Vocab, nil),
	}, nil
}
