package training

import (
	"fmt"

	"github.com/textforge/seqprep/seqprep/tensor"
)

// Batch is one micro-batch of keyword inputs for a forward pass.
type Batch map[string]any

// Model is the forward-pass collaborator. The first element of the Forward
// output is the loss tensor.
type Model interface {
	// Train enables stochastic regularization layers.
	Train()
	// Eval disables them.
	Eval()
	// Forward runs the model on keyword inputs and returns its outputs.
	Forward(inputs Batch) ([]any, error)
}

// Optimizer is the parameter-update collaborator. The step runner never
// calls it; stepping and gradient zeroing stay with the external driver.
type Optimizer interface {
	Step() error
	ZeroGrad()
}

// RunConfig carries the per-run knobs the step runner needs. It is passed
// by value at construction; the runner holds no other state across calls.
type RunConfig struct {
	Device                    tensor.Device
	NGPU                      int
	GradientAccumulationSteps int
	FP16                      bool
	LabelSmoothingRate        float64
}

// StepRunner executes one optimization micro-step per call. It is a
// standalone strategy object invoked explicitly by the training driver.
type StepRunner struct {
	cfg    RunConfig
	scaler *Scaler
}

// NewStepRunner builds a StepRunner. The scaler may be nil when
// mixed-precision training is disabled.
func NewStepRunner(cfg RunConfig, scaler *Scaler) *StepRunner {
	if cfg.GradientAccumulationSteps < 1 {
		cfg.GradientAccumulationSteps = 1
	}
	return &StepRunner{cfg: cfg, scaler: scaler}
}

// Step runs one forward/backward pass over batch and returns the detached
// loss value for logging. Any forward/backward failure propagates
// unmodified; there is no retry and no partial-failure recovery.
func (r *StepRunner) Step(model Model, batch Batch, opt Optimizer) (float64, error) {
	model.Train()

	// Numeric tensors move to the compute device; everything else passes
	// through unchanged.
	for k, v := range batch {
		if p, ok := v.(tensor.Placeable); ok {
			batch[k] = p.To(r.cfg.Device)
		}
	}

	// Replica-wrapped models return one loss per replica; force
	// tuple-shaped output so loss extraction stays positionally stable.
	if _, ok := model.(*DataParallel); ok {
		batch["return_tuple"] = true
	}

	// The smoothing rate is computed inside the model's loss; thread it
	// through so it is never silently dropped.
	batch["label_smoothing"] = r.cfg.LabelSmoothingRate

	outputs, err := model.Forward(batch)
	if err != nil {
		return 0, err
	}
	if len(outputs) == 0 {
		return 0, fmt.Errorf("model forward returned no outputs")
	}
	loss, ok := outputs[0].(*tensor.Loss)
	if !ok {
		return 0, fmt.Errorf("first model output is %T, expected a loss tensor", outputs[0])
	}

	if r.cfg.NGPU > 1 {
		loss = loss.Mean()
	}
	if r.cfg.GradientAccumulationSteps > 1 {
		loss = loss.Scale(1 / float64(r.cfg.GradientAccumulationSteps))
	}

	if r.cfg.FP16 && r.scaler != nil {
		err = r.scaler.ScaleLoss(loss, opt, func(scaled *tensor.Loss) error {
			return scaled.Backward()
		})
	} else {
		err = loss.Backward()
	}
	if err != nil {
		return 0, err
	}

	return loss.Item(), nil
}
