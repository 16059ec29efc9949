package model

import (
	"math"
)

// SGD updates Linear parameters from their accumulated gradients. It also
// exposes the gradient hooks the precision scaler needs.
type SGD struct {
	m           *Linear
	lr          float64
	weightDecay float64
}

// NewSGD builds an optimizer over the model's parameters.
func NewSGD(m *Linear, lr, weightDecay float64) *SGD {
	return &SGD{m: m, lr: lr, weightDecay: weightDecay}
}

// Step applies one gradient-descent update.
func (s *SGD) Step() error {
	update := func(w, g []float64) {
		for i := range w {
			w[i] -= s.lr * (g[i] + s.weightDecay*w[i])
		}
	}
	update(s.m.emb.RawMatrix().Data, s.m.gEmb.RawMatrix().Data)
	update(s.m.out.RawMatrix().Data, s.m.gOut.RawMatrix().Data)
	return nil
}

// ZeroGrad clears the accumulated gradients.
func (s *SGD) ZeroGrad() {
	zero(s.m.gEmb.RawMatrix().Data)
	zero(s.m.gOut.RawMatrix().Data)
}

// UnscaleGrads multiplies every gradient by factor, undoing loss scaling
// before the update.
func (s *SGD) UnscaleGrads(factor float64) {
	scale := func(g []float64) {
		for i := range g {
			g[i] *= factor
		}
	}
	scale(s.m.gEmb.RawMatrix().Data)
	scale(s.m.gOut.RawMatrix().Data)
}

// GradsFinite reports whether every gradient is a finite number.
func (s *SGD) GradsFinite() bool {
	finite := func(g []float64) bool {
		for _, v := range g {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
		return true
	}
	return finite(s.m.gEmb.RawMatrix().Data) && finite(s.m.gOut.RawMatrix().Data)
}

func zero(data []float64) {
	for i := range data {
		data[i] = 0
	}
}
