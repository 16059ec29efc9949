package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Loss is a graph-attached loss tensor holding one value per active
// replica. Scale and Mean return new losses whose backward pass composes
// the corresponding factor into the upstream gradient, mirroring how the
// operations would propagate through an autograd graph.
type Loss struct {
	values   *mat.VecDense
	backward func(upstream float64) error
}

// NewLoss wraps per-replica loss values and the backward closure the model
// attached at forward time. The closure receives the accumulated upstream
// scale factor.
func NewLoss(values []float64, backward func(upstream float64) error) *Loss {
	return &Loss{values: mat.NewVecDense(len(values), values), backward: backward}
}

// Values returns a copy of the per-replica loss values.
func (l *Loss) Values() []float64 {
	out := make([]float64, l.values.Len())
	copy(out, l.values.RawVector().Data)
	return out
}

// Mean reduces the per-replica values to their arithmetic mean. The
// backward pass distributes the upstream gradient evenly across replicas.
func (l *Loss) Mean() *Loss {
	n := l.values.Len()
	m := stat.Mean(l.values.RawVector().Data, nil)
	inner := l.backward
	return &Loss{
		values: mat.NewVecDense(1, []float64{m}),
		backward: func(upstream float64) error {
			return inner(upstream / float64(n))
		},
	}
}

// Scale multiplies the loss by f; the factor carries into the backward
// pass.
func (l *Loss) Scale(f float64) *Loss {
	v := mat.VecDenseCopyOf(l.values)
	v.ScaleVec(f, v)
	inner := l.backward
	return &Loss{
		values: v,
		backward: func(upstream float64) error {
			return inner(upstream * f)
		},
	}
}

// Backward runs the backward pass, accumulating gradients into the model
// parameters that produced this loss.
func (l *Loss) Backward() error {
	if l.backward == nil {
		return fmt.Errorf("loss has no backward function attached")
	}
	return l.backward(1)
}

// Item returns the plain numeric loss value, detached from the graph.
// A reduced loss has a single value; an unreduced one reports the mean.
func (l *Loss) Item() float64 {
	if l.values.Len() == 1 {
		return l.values.AtVec(0)
	}
	return stat.Mean(l.values.RawVector().Data, nil)
}

// ConcatLosses joins per-replica losses into one loss vector whose
// backward pass fans the upstream gradient out to every part.
func ConcatLosses(parts ...*Loss) *Loss {
	var values []float64
	backwards := make([]func(float64) error, 0, len(parts))
	for _, p := range parts {
		values = append(values, p.Values()...)
		backwards = append(backwards, p.backward)
	}
	return &Loss{
		values: mat.NewVecDense(len(values), values),
		backward: func(upstream float64) error {
			for _, bw := range backwards {
				if bw == nil {
					continue
				}
				if err := bw(upstream); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
