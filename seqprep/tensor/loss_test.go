package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLossMeanReducesReplicas(t *testing.T) {
	var upstream float64
	loss := NewLoss([]float64{1, 2, 3}, func(u float64) error {
		upstream += u
		return nil
	})

	reduced := loss.Mean()
	assert.InDelta(t, 2.0, reduced.Item(), 1e-12)

	require.NoError(t, reduced.Backward())
	// Mean over three replicas spreads the upstream gradient as 1/3.
	assert.InDelta(t, 1.0/3.0, upstream, 1e-12)
}

func TestLossScaleCarriesIntoBackward(t *testing.T) {
	var upstream float64
	loss := NewLoss([]float64{4}, func(u float64) error {
		upstream += u
		return nil
	})

	scaled := loss.Scale(0.25)
	assert.InDelta(t, 1.0, scaled.Item(), 1e-12)

	require.NoError(t, scaled.Backward())
	assert.InDelta(t, 0.25, upstream, 1e-12)

	// The original loss is unchanged.
	assert.InDelta(t, 4.0, loss.Item(), 1e-12)
}

func TestLossScaleThenMeanComposes(t *testing.T) {
	var upstream float64
	loss := NewLoss([]float64{2, 4}, func(u float64) error {
		upstream += u
		return nil
	})

	out := loss.Mean().Scale(0.5)
	assert.InDelta(t, 1.5, out.Item(), 1e-12)

	require.NoError(t, out.Backward())
	assert.InDelta(t, 0.25, upstream, 1e-12)
}

func TestConcatLossesFansOut(t *testing.T) {
	var a, b float64
	la := NewLoss([]float64{1}, func(u float64) error { a += u; return nil })
	lb := NewLoss([]float64{3}, func(u float64) error { b += u; return nil })

	joined := ConcatLosses(la, lb)
	assert.Equal(t, []float64{1, 3}, joined.Values())

	reduced := joined.Mean()
	assert.InDelta(t, 2.0, reduced.Item(), 1e-12)

	require.NoError(t, reduced.Backward())
	assert.InDelta(t, 0.5, a, 1e-12)
	assert.InDelta(t, 0.5, b, 1e-12)
}

func TestBackwardWithoutGraphFails(t *testing.T) {
	loss := NewLoss([]float64{1}, nil)
	assert.Error(t, loss.Backward())
}

func TestDenseToTagsDevice(t *testing.T) {
	d := FromRows([][]int64{{1, 2}, {3, 4}})
	assert.Equal(t, CPU, d.Device())

	moved, ok := d.To(GPU(0)).(*Dense)
	require.True(t, ok)
	assert.Equal(t, "cuda:0", moved.Device().Name)
	assert.Equal(t, int64(3), moved.At(1, 0))

	// Same-device placement returns the tensor itself.
	same := d.To(CPU)
	assert.Same(t, d, same)
}

func TestDenseSliceRows(t *testing.T) {
	d := FromRows([][]int64{{1, 2}, {3, 4}, {5, 6}})
	s := d.SliceRows(1, 3)
	rows, cols := s.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, int64(3), s.At(0, 0))
	assert.Equal(t, int64(6), s.At(1, 1))
}
