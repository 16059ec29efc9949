package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
)

// padCandidates are tried in order when discovering the pad id.
var padCandidates = []string{"<pad>", "[PAD]"}

// WordPiece wraps sugarme/tokenizer WordPiece (BERT-style) behind the
// Tokenizer interface.
type WordPiece struct {
	t     *tk.Tokenizer
	padID int64
}

// NewWordPiece loads a vocab file (or a directory containing vocab.txt)
// and builds a WordPiece tokenizer.
func NewWordPiece(nameOrPath string) (*WordPiece, error) {
	vocabFile, err := resolveVocabFile(nameOrPath)
	if err != nil {
		return nil, err
	}

	wp, err := wordpiece.NewWordPieceFromFile(vocabFile, "[UNK]")
	if err != nil {
		return nil, fmt.Errorf("failed to load vocab from %s: %w", vocabFile, err)
	}

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	padID := int64(0)
	for _, cand := range padCandidates {
		if id, ok := t.TokenToId(cand); ok {
			padID = int64(id)
			break
		}
	}

	return &WordPiece{t: t, padID: padID}, nil
}

// resolveVocabFile accepts either a vocab file path or a directory holding
// vocab.txt.
func resolveVocabFile(nameOrPath string) (string, error) {
	fi, err := os.Stat(nameOrPath)
	if err != nil {
		return "", fmt.Errorf("%w: tokenizer path %s does not exist", ErrUnsupported, nameOrPath)
	}
	if fi.IsDir() {
		vocabFile := filepath.Join(nameOrPath, "vocab.txt")
		if _, err := os.Stat(vocabFile); err != nil {
			return "", fmt.Errorf("%w: no vocab.txt under %s", ErrUnsupported, nameOrPath)
		}
		return vocabFile, nil
	}
	return nameOrPath, nil
}

// AddSpecialTokens registers the tokens as atomic vocabulary entries so
// they survive normalization and pre-tokenization unsplit.
func (w *WordPiece) AddSpecialTokens(tokens ...string) int {
	added := make([]tk.AddedToken, 0, len(tokens))
	for _, tok := range tokens {
		added = append(added, tk.NewAddedToken(tok, true))
	}
	return w.t.AddSpecialTokens(added)
}

// PadID returns the id used for padding rows to their fixed length.
func (w *WordPiece) PadID() int64 { return w.padID }

// VocabSize returns the vocabulary size including added tokens.
func (w *WordPiece) VocabSize() int {
	return len(w.t.GetVocab(true))
}

// BatchEncode tokenizes every text and enforces fixed-length output:
// rows are padded with the pad id and truncated from the end to exactly
// maxLength ids. Index i of the output corresponds to index i of texts.
func (w *WordPiece) BatchEncode(texts []string, maxLength int) ([][]int64, [][]int64, error) {
	if maxLength < 1 {
		return nil, nil, fmt.Errorf("%w: max length must be >= 1, got %d", ErrUnsupported, maxLength)
	}

	ids := make([][]int64, len(texts))
	masks := make([][]int64, len(texts))
	for i, txt := range texts {
		enc, err := w.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(txt)), true)
		if err != nil {
			return nil, nil, err
		}
		uids := enc.GetIds()
		umask := enc.GetAttentionMask()

		rowIDs := make([]int64, maxLength)
		rowMask := make([]int64, maxLength)
		for j := range rowIDs {
			rowIDs[j] = w.padID
		}
		n := len(uids)
		if n > maxLength {
			n = maxLength
		}
		for j := 0; j < n; j++ {
			rowIDs[j] = int64(uids[j])
			if j < len(umask) {
				rowMask[j] = int64(umask[j])
			} else {
				rowMask[j] = 1
			}
		}
		ids[i] = rowIDs
		masks[i] = rowMask
	}
	return ids, masks, nil
}

// SaveVocab writes the current vocabulary, added tokens included, as a
// vocab.txt ordered by id into dir.
func (w *WordPiece) SaveVocab(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create tokenizer directory: %w", err)
	}

	vocab := w.t.GetVocab(true)
	tokens := make([]string, 0, len(vocab))
	for tok := range vocab {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool { return vocab[tokens[i]] < vocab[tokens[j]] })

	f, err := os.Create(filepath.Join(dir, "vocab.txt"))
	if err != nil {
		return fmt.Errorf("failed to create vocab file: %w", err)
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	for _, tok := range tokens {
		if _, err := fmt.Fprintln(buf, tok); err != nil {
			return err
		}
	}
	return buf.Flush()
}
