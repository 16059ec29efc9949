package training

import (
	"fmt"

	"github.com/textforge/seqprep/seqprep/tensor"
)

// DataParallel wraps a model for multi-replica execution: the batch is
// split row-wise into contiguous shards, each shard runs through the inner
// model, and the per-shard losses are concatenated into one loss vector
// (one value per replica). Reduction of that vector is the step runner's
// job, not the wrapper's.
type DataParallel struct {
	Inner    Model
	Replicas int
}

// NewDataParallel wraps model across n replicas.
func NewDataParallel(model Model, n int) *DataParallel {
	if n < 1 {
		n = 1
	}
	return &DataParallel{Inner: model, Replicas: n}
}

// Train puts the inner model in training mode.
func (dp *DataParallel) Train() { dp.Inner.Train() }

// Eval puts the inner model in evaluation mode.
func (dp *DataParallel) Eval() { dp.Inner.Eval() }

// Forward shards the batch, runs each shard through the inner model and
// returns the concatenated per-replica loss as the first output.
func (dp *DataParallel) Forward(inputs Batch) ([]any, error) {
	rows, err := batchRows(inputs)
	if err != nil {
		return nil, err
	}
	if dp.Replicas <= 1 || rows <= 1 {
		return dp.Inner.Forward(inputs)
	}

	n := dp.Replicas
	if n > rows {
		n = rows
	}
	per := (rows + n - 1) / n

	losses := make([]*tensor.Loss, 0, n)
	for from := 0; from < rows; from += per {
		to := min(from+per, rows)
		shard := shardBatch(inputs, from, to)
		outputs, err := dp.Inner.Forward(shard)
		if err != nil {
			return nil, err
		}
		if len(outputs) == 0 {
			return nil, fmt.Errorf("replica forward returned no outputs")
		}
		loss, ok := outputs[0].(*tensor.Loss)
		if !ok {
			return nil, fmt.Errorf("replica output is %T, expected a loss tensor", outputs[0])
		}
		losses = append(losses, loss)
	}

	return []any{tensor.ConcatLosses(losses...)}, nil
}

// batchRows returns the common row count of the batch's tensors.
func batchRows(inputs Batch) (int, error) {
	rows := -1
	for k, v := range inputs {
		d, ok := v.(*tensor.Dense)
		if !ok {
			continue
		}
		r, _ := d.Dims()
		if rows == -1 {
			rows = r
		} else if rows != r {
			return 0, fmt.Errorf("batch entry %q has %d rows, expected %d", k, r, rows)
		}
	}
	if rows == -1 {
		return 0, fmt.Errorf("batch holds no tensors to shard")
	}
	return rows, nil
}

// shardBatch slices every tensor entry to rows [from, to); non-tensor
// entries are shared across shards.
func shardBatch(inputs Batch, from, to int) Batch {
	shard := make(Batch, len(inputs))
	for k, v := range inputs {
		if d, ok := v.(*tensor.Dense); ok {
			shard[k] = d.SliceRows(from, to)
			continue
		}
		shard[k] = v
	}
	return shard
}
