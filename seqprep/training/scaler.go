package training

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/textforge/seqprep/seqprep/tensor"
)

const (
	defaultInitScale    = 65536
	defaultGrowthFactor = 2
	defaultBackoff      = 0.5
	defaultGrowthEvery  = 2000
)

// GradUnscaler is implemented by optimizers whose gradients can be
// unscaled in place and checked for overflow before the update.
type GradUnscaler interface {
	UnscaleGrads(factor float64)
	GradsFinite() bool
}

// Scaler implements dynamic loss scaling for reduced-precision training:
// the loss is multiplied before backward and the gradients divided before
// the update, preserving small gradient magnitudes. Overflow skips the
// update and shrinks the scale; a run of good steps grows it back.
type Scaler struct {
	mu        sync.Mutex
	scale     float64
	growth    float64
	backoff   float64
	growEvery int
	goodSteps int
	// pending scale per optimizer so Step can unscale what backward scaled
	pending map[Optimizer]float64
}

// NewScaler returns a Scaler with the usual dynamic-scaling defaults.
func NewScaler() *Scaler {
	return &Scaler{
		scale:     defaultInitScale,
		growth:    defaultGrowthFactor,
		backoff:   defaultBackoff,
		growEvery: defaultGrowthEvery,
		pending:   make(map[Optimizer]float64),
	}
}

// Scale returns the current loss scale.
func (s *Scaler) Scale() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale
}

// ScaleLoss hands fn a loss multiplied by the current scale and records
// the factor against opt so a later Step can unscale the gradients. The
// scoped call keeps the scaler's bookkeeping consistent with the backward
// pass that actually ran.
func (s *Scaler) ScaleLoss(loss *tensor.Loss, opt Optimizer, fn func(*tensor.Loss) error) error {
	s.mu.Lock()
	scale := s.scale
	s.mu.Unlock()

	if err := fn(loss.Scale(scale)); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending[opt] = scale
	s.mu.Unlock()
	return nil
}

// Step unscales the optimizer's gradients, skips the update when they
// overflowed, and adjusts the scale for the next iteration.
func (s *Scaler) Step(opt Optimizer) error {
	s.mu.Lock()
	scale, ok := s.pending[opt]
	delete(s.pending, opt)
	s.mu.Unlock()
	if !ok {
		// No scaled backward ran for this optimizer; plain update.
		return opt.Step()
	}

	u, ok := opt.(GradUnscaler)
	if !ok {
		return fmt.Errorf("optimizer %T cannot unscale gradients", opt)
	}
	u.UnscaleGrads(1 / scale)

	if !u.GradsFinite() {
		s.mu.Lock()
		s.scale *= s.backoff
		s.goodSteps = 0
		newScale := s.scale
		s.mu.Unlock()
		slog.Warn("gradient overflow, skipping step", "new_scale", newScale)
		return nil
	}

	if err := opt.Step(); err != nil {
		return err
	}

	s.mu.Lock()
	s.goodSteps++
	if s.goodSteps >= s.growEvery {
		s.scale *= s.growth
		s.goodSteps = 0
	}
	s.mu.Unlock()
	return nil
}
