package training

import (
	"github.com/textforge/seqprep/seqprep/databuilder"
	"github.com/textforge/seqprep/seqprep/tensor"
)

// Collator assembles encoded examples into model-ready batches.
type Collator struct{}

// Collate builds a batch from the dataset rows at the given indices, in
// index order.
func (Collator) Collate(ds *databuilder.EncodedDataset, indices []int) Batch {
	sources := make([][]int64, len(indices))
	masks := make([][]int64, len(indices))
	labels := make([][]int64, len(indices))
	for i, idx := range indices {
		sources[i] = ds.SourceIDs[idx]
		masks[i] = ds.AttentionMask[idx]
		labels[i] = ds.TargetIDs[idx]
	}
	return Batch{
		"input_ids":      tensor.FromRows(sources),
		"attention_mask": tensor.FromRows(masks),
		"labels":         tensor.FromRows(labels),
	}
}
