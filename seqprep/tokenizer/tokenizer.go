package tokenizer

import (
	"fmt"
)

// Tokenizer converts raw text to model-ready token IDs and attention masks.
// Implementations pad and truncate every sequence to the requested length;
// output order always matches input order.
type Tokenizer interface {
	// BatchEncode tokenizes texts, padding each sequence with the pad id
	// and truncating from the end so that every row is exactly maxLength
	// ids long. The mask holds 1 for real tokens and 0 for padding.
	BatchEncode(texts []string, maxLength int) (ids [][]int64, masks [][]int64, err error)

	// AddSpecialTokens registers tokens as new atomic vocabulary entries
	// and returns how many were actually added. Must be called before any
	// BatchEncode call.
	AddSpecialTokens(tokens ...string) int

	// PadID returns the id used for padding.
	PadID() int64

	// VocabSize returns the vocabulary size including added tokens.
	VocabSize() int
}

// ErrUnsupported indicates the tokenizer could not be initialized
var ErrUnsupported = fmt.Errorf("unsupported tokenizer configuration")
