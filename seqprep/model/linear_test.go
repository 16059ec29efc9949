package model

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textforge/seqprep/seqprep/tensor"
	"github.com/textforge/seqprep/seqprep/training"
)

func testBatch(smoothing float64) training.Batch {
	b := training.Batch{
		"input_ids":      tensor.FromRows([][]int64{{1, 2, 0}, {3, 4, 5}}),
		"attention_mask": tensor.FromRows([][]int64{{1, 1, 0}, {1, 1, 1}}),
		"labels":         tensor.FromRows([][]int64{{2, 3}, {4, 0}}),
	}
	if smoothing > 0 {
		b["label_smoothing"] = smoothing
	}
	return b
}

func forwardLoss(t *testing.T, m *Linear, batch training.Batch) *tensor.Loss {
	t.Helper()
	outputs, err := m.Forward(batch)
	require.NoError(t, err)
	loss, ok := outputs[0].(*tensor.Loss)
	require.True(t, ok)
	return loss
}

func TestForwardLossIsFinite(t *testing.T) {
	m := NewLinear(6, 4, 0, 1)
	loss := forwardLoss(t, m, testBatch(0))

	v := loss.Item()
	assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	assert.Greater(t, v, 0.0)
}

func TestForwardLabelSmoothingChangesLoss(t *testing.T) {
	m := NewLinear(6, 4, 0, 1)
	plain := forwardLoss(t, m, testBatch(0)).Item()
	smoothed := forwardLoss(t, m, testBatch(0.1)).Item()
	assert.NotEqual(t, plain, smoothed)
}

func TestForwardRejectsBadSmoothing(t *testing.T) {
	m := NewLinear(6, 4, 0, 1)
	batch := testBatch(0)
	batch["label_smoothing"] = 1.0
	_, err := m.Forward(batch)
	assert.Error(t, err)
}

func TestForwardRejectsAllPadLabels(t *testing.T) {
	m := NewLinear(6, 4, 0, 1)
	batch := testBatch(0)
	batch["labels"] = tensor.FromRows([][]int64{{0, 0}, {0, 0}})
	_, err := m.Forward(batch)
	assert.Error(t, err)
}

func TestForwardRejectsOutOfVocabIDs(t *testing.T) {
	m := NewLinear(6, 4, 0, 1)
	batch := testBatch(0)
	batch["input_ids"] = tensor.FromRows([][]int64{{1, 99, 0}, {3, 4, 5}})
	_, err := m.Forward(batch)
	assert.Error(t, err)
}

// Numerical gradient check on a handful of projection weights: the
// analytic gradient from the backward closure must match a central finite
// difference of the loss.
func TestBackwardGradientMatchesFiniteDifference(t *testing.T) {
	m := NewLinear(6, 4, 0, 7)
	batch := testBatch(0.1)

	loss := forwardLoss(t, m, batch)
	require.NoError(t, loss.Backward())

	const h = 1e-6
	checks := [][2]int{{0, 1}, {2, 3}, {3, 5}}
	for _, kv := range checks {
		k, v := kv[0], kv[1]
		orig := m.out.At(k, v)

		m.out.Set(k, v, orig+h)
		up := forwardLoss(t, m, batch).Item()
		m.out.Set(k, v, orig-h)
		down := forwardLoss(t, m, batch).Item()
		m.out.Set(k, v, orig)

		numeric := (up - down) / (2 * h)
		assert.InDelta(t, numeric, m.gOut.At(k, v), 1e-4,
			"gradient mismatch at out[%d,%d]", k, v)
	}
}

func TestSGDStepAndZeroGrad(t *testing.T) {
	m := NewLinear(6, 4, 0, 1)
	opt := NewSGD(m, 0.5, 0)

	m.gOut.Set(1, 2, 4.0)
	before := m.out.At(1, 2)

	require.NoError(t, opt.Step())
	assert.InDelta(t, before-0.5*4.0, m.out.At(1, 2), 1e-12)

	opt.ZeroGrad()
	assert.Zero(t, m.gOut.At(1, 2))
}

func TestSGDUnscaleAndOverflowDetection(t *testing.T) {
	m := NewLinear(6, 4, 0, 1)
	opt := NewSGD(m, 0.1, 0)

	m.gEmb.Set(0, 0, 8.0)
	opt.UnscaleGrads(0.25)
	assert.InDelta(t, 2.0, m.gEmb.At(0, 0), 1e-12)
	assert.True(t, opt.GradsFinite())

	m.gOut.Set(0, 0, math.Inf(1))
	assert.False(t, opt.GradsFinite())
}

func TestSaveLoadWeightsRoundTrip(t *testing.T) {
	m := NewLinear(6, 4, 0, 3)
	path := filepath.Join(t.TempDir(), "checkpoint.bin")
	require.NoError(t, m.SaveWeights(path))

	loaded, err := LoadLinear(path)
	require.NoError(t, err)

	batch := testBatch(0)
	assert.InDelta(t, forwardLoss(t, m, batch).Item(),
		forwardLoss(t, loaded, batch).Item(), 1e-12)
}

func TestLoadLinearRejectsCorruptBlob(t *testing.T) {
	_, err := LoadLinear(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}

func TestResizeVocabPreservesWeights(t *testing.T) {
	m := NewLinear(4, 3, 0, 1)
	kept := m.emb.At(2, 1)

	m.ResizeVocab(7)
	assert.Equal(t, 7, m.VocabSize())
	assert.Equal(t, kept, m.emb.At(2, 1))
	// New rows start at zero.
	assert.Zero(t, m.emb.At(6, 0))
	assert.Zero(t, m.out.At(0, 6))
}
