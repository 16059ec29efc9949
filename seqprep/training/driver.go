package training

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/textforge/seqprep/seqprep/config"
	"github.com/textforge/seqprep/seqprep/databuilder"
	"github.com/textforge/seqprep/seqprep/tensor"
)

const logEverySteps = 50

// WeightSaver is implemented by models whose parameters can be
// checkpointed.
type WeightSaver interface {
	SaveWeights(path string) error
}

// Driver owns the outer training loop: it shuffles, batches, invokes the
// step runner, steps the optimizer at accumulation boundaries, evaluates
// and checkpoints. The step runner never does any of this itself.
type Driver struct {
	cfg      config.TrainingConfig
	runner   *StepRunner
	scaler   *Scaler
	model    Model
	opt      Optimizer
	collator Collator
	runID    string
}

// NewDriver wires a driver from the run configuration and collaborators.
func NewDriver(cfg config.TrainingConfig, model Model, opt Optimizer) *Driver {
	var scaler *Scaler
	if cfg.FP16 {
		scaler = NewScaler()
	}
	runner := NewStepRunner(RunConfig{
		Device:                    tensor.ParseDevice(cfg.Device),
		NGPU:                      cfg.NGPU,
		GradientAccumulationSteps: cfg.GradientAccumulationSteps,
		FP16:                      cfg.FP16,
		LabelSmoothingRate:        cfg.LabelSmoothingRate,
	}, scaler)

	return &Driver{
		cfg:    cfg,
		runner: runner,
		scaler: scaler,
		model:  model,
		opt:    opt,
		runID:  uuid.NewString(),
	}
}

// RunID identifies this training run in logs and checkpoint names.
func (d *Driver) RunID() string { return d.runID }

// Train runs the full epoch loop over the encoded dataset.
func (d *Driver) Train(ctx context.Context, train *databuilder.EncodedDataset) error {
	if train.Len() == 0 {
		return fmt.Errorf("training dataset is empty")
	}

	rng := rand.New(rand.NewSource(d.cfg.Seed))
	accum := d.cfg.GradientAccumulationSteps
	if accum < 1 {
		accum = 1
	}

	slog.Info("training started",
		"run_id", d.runID,
		"examples", train.Len(),
		"epochs", d.cfg.Epochs,
		"batch_size", d.cfg.BatchSize,
		"gradient_accumulation_steps", accum,
		"fp16", d.cfg.FP16)

	globalStep := 0
	for epoch := 0; epoch < d.cfg.Epochs; epoch++ {
		indices := rng.Perm(train.Len())

		var runningLoss float64
		microSteps := 0
		for start := 0; start < len(indices); start += d.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+d.cfg.BatchSize, len(indices))
			batch := d.collator.Collate(train, indices[start:end])

			loss, err := d.runner.Step(d.model, batch, d.opt)
			if err != nil {
				return fmt.Errorf("training step failed at epoch %d: %w", epoch, err)
			}
			runningLoss += loss
			microSteps++

			if microSteps%accum == 0 {
				if err := d.applyUpdate(); err != nil {
					return err
				}
				globalStep++
				if globalStep%logEverySteps == 0 {
					slog.Info("training progress",
						"epoch", epoch,
						"step", globalStep,
						"loss", runningLoss/float64(microSteps))
				}
			}
		}

		// Flush a trailing partial accumulation window.
		if microSteps%accum != 0 {
			if err := d.applyUpdate(); err != nil {
				return err
			}
			globalStep++
		}

		slog.Info("epoch finished",
			"epoch", epoch,
			"mean_loss", runningLoss/float64(microSteps))
	}

	return nil
}

// applyUpdate steps the optimizer (through the scaler under fp16) and
// zeroes the gradients.
func (d *Driver) applyUpdate() error {
	var err error
	if d.cfg.FP16 && d.scaler != nil {
		err = d.scaler.Step(d.opt)
	} else {
		err = d.opt.Step()
	}
	if err != nil {
		return fmt.Errorf("optimizer step failed: %w", err)
	}
	d.opt.ZeroGrad()
	return nil
}

// Evaluate computes the mean forward loss over the validation dataset.
func (d *Driver) Evaluate(ctx context.Context, valid *databuilder.EncodedDataset) (map[string]float64, error) {
	if valid.Len() == 0 {
		return nil, fmt.Errorf("validation dataset is empty")
	}

	d.model.Eval()
	defer d.model.Train()

	indices := make([]int, valid.Len())
	for i := range indices {
		indices[i] = i
	}

	var total float64
	batches := 0
	for start := 0; start < len(indices); start += d.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+d.cfg.BatchSize, len(indices))
		batch := d.collator.Collate(valid, indices[start:end])
		batch["label_smoothing"] = d.cfg.LabelSmoothingRate

		outputs, err := d.model.Forward(batch)
		if err != nil {
			return nil, fmt.Errorf("evaluation forward failed: %w", err)
		}
		loss, ok := outputs[0].(*tensor.Loss)
		if !ok {
			return nil, fmt.Errorf("evaluation output is %T, expected a loss tensor", outputs[0])
		}
		total += loss.Item()
		batches++
	}

	return map[string]float64{"eval_loss": total / float64(batches)}, nil
}

// WriteEvalReport persists evaluation results as output_dir/eval_results.txt
// with deterministically ordered keys.
func (d *Driver) WriteEvalReport(results map[string]float64) error {
	if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(filepath.Join(d.cfg.OutputDir, "eval_results.txt"))
	if err != nil {
		return fmt.Errorf("failed to create eval report: %w", err)
	}
	defer f.Close()

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		slog.Info("eval result", "key", k, "value", results[k])
		if _, err := fmt.Fprintf(f, "%s = %v\n", k, results[k]); err != nil {
			return err
		}
	}
	return nil
}

// SaveCheckpoint writes the model weights under the output directory,
// tagged with the run id.
func (d *Driver) SaveCheckpoint() (string, error) {
	saver, ok := d.model.(WeightSaver)
	if !ok {
		if dp, isDP := d.model.(*DataParallel); isDP {
			saver, ok = dp.Inner.(WeightSaver)
		}
		if !ok {
			return "", fmt.Errorf("model %T does not support checkpointing", d.model)
		}
	}
	if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(d.cfg.OutputDir, fmt.Sprintf("checkpoint-%s.bin", d.runID))
	if err := saver.SaveWeights(path); err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}
	slog.Info("checkpoint saved", "path", path)
	return path, nil
}
