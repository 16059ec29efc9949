package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/textforge/seqprep/seqprep/tensor"
	"github.com/textforge/seqprep/seqprep/training"
)

// Linear is a small seq2seq baseline: every target position is predicted
// from the mean embedding of the unmasked source tokens. It exists so the
// step contract has a real collaborator computing a label-smoothed loss
// inside its forward pass; it is not a competitive architecture.
type Linear struct {
	vocab, dim int
	padID      int64

	emb *mat.Dense // vocab x dim
	out *mat.Dense // dim x vocab

	gEmb *mat.Dense
	gOut *mat.Dense

	training bool
}

// NewLinear allocates a model with small random weights.
func NewLinear(vocab, dim int, padID int64, seed int64) *Linear {
	rng := rand.New(rand.NewSource(seed))
	scale := 1 / math.Sqrt(float64(dim))

	emb := mat.NewDense(vocab, dim, nil)
	out := mat.NewDense(dim, vocab, nil)
	fill := func(m *mat.Dense) {
		data := m.RawMatrix().Data
		for i := range data {
			data[i] = rng.NormFloat64() * scale
		}
	}
	fill(emb)
	fill(out)

	return &Linear{
		vocab: vocab,
		dim:   dim,
		padID: padID,
		emb:   emb,
		out:   out,
		gEmb:  mat.NewDense(vocab, dim, nil),
		gOut:  mat.NewDense(dim, vocab, nil),
	}
}

// VocabSize returns the current vocabulary size.
func (m *Linear) VocabSize() int { return m.vocab }

// Train enables training mode.
func (m *Linear) Train() { m.training = true }

// Eval disables training mode.
func (m *Linear) Eval() { m.training = false }

// ResizeVocab grows (or shrinks) the embedding and projection to n rows,
// preserving existing weights. New entries get zero weights.
func (m *Linear) ResizeVocab(n int) {
	if n == m.vocab {
		return
	}
	emb := mat.NewDense(n, m.dim, nil)
	out := mat.NewDense(m.dim, n, nil)
	keep := min(n, m.vocab)
	for i := 0; i < keep; i++ {
		for k := 0; k < m.dim; k++ {
			emb.Set(i, k, m.emb.At(i, k))
			out.Set(k, i, m.out.At(k, i))
		}
	}
	m.emb, m.out = emb, out
	m.gEmb = mat.NewDense(n, m.dim, nil)
	m.gOut = mat.NewDense(m.dim, n, nil)
	m.vocab = n
}

// Forward computes the label-smoothed cross-entropy loss over the batch
// and attaches the backward closure to the returned loss tensor. Expected
// inputs: input_ids, attention_mask, labels (int64 tensors) and an
// optional label_smoothing rate.
func (m *Linear) Forward(inputs training.Batch) ([]any, error) {
	ids, err := denseInput(inputs, "input_ids")
	if err != nil {
		return nil, err
	}
	mask, err := denseInput(inputs, "attention_mask")
	if err != nil {
		return nil, err
	}
	labels, err := denseInput(inputs, "labels")
	if err != nil {
		return nil, err
	}

	eps, _ := inputs["label_smoothing"].(float64)
	if eps < 0 || eps >= 1 {
		return nil, fmt.Errorf("label smoothing rate %g out of range [0, 1)", eps)
	}

	rows, srcCols := ids.Dims()
	_, tgtCols := labels.Dims()
	V := m.vocab

	type rowState struct {
		context *mat.VecDense // mean source embedding
		gLogits []float64     // summed (p - q) over counted positions
		srcIdx  []int         // unmasked source token ids
	}

	states := make([]rowState, 0, rows)
	var total float64
	counted := 0

	for b := 0; b < rows; b++ {
		// Mean embedding of unmasked source tokens.
		c := mat.NewVecDense(m.dim, nil)
		var srcIdx []int
		for j := 0; j < srcCols; j++ {
			if mask.At(b, j) == 0 {
				continue
			}
			id := int(ids.At(b, j))
			if id < 0 || id >= V {
				return nil, fmt.Errorf("source id %d out of vocabulary (size %d)", id, V)
			}
			c.AddVec(c, m.emb.RowView(id))
			srcIdx = append(srcIdx, id)
		}
		if len(srcIdx) > 0 {
			c.ScaleVec(1/float64(len(srcIdx)), c)
		}

		// One softmax per row; positions share the bag context.
		logits := mat.NewVecDense(V, nil)
		logits.MulVec(m.out.T(), c)
		p, logP := softmax(logits.RawVector().Data)

		gLogits := make([]float64, V)
		for t := 0; t < tgtCols; t++ {
			y := labels.At(b, t)
			if y == m.padID {
				continue
			}
			yi := int(y)
			if yi < 0 || yi >= V {
				return nil, fmt.Errorf("label id %d out of vocabulary (size %d)", yi, V)
			}

			// Smoothed target: q = (1-eps)*onehot + eps/V.
			total += -(1 - eps) * logP[yi]
			for v := 0; v < V; v++ {
				total += -(eps / float64(V)) * logP[v]
				gLogits[v] += p[v] - eps/float64(V)
			}
			gLogits[yi] -= 1 - eps
			counted++
		}

		states = append(states, rowState{context: c, gLogits: gLogits, srcIdx: srcIdx})
	}

	if counted == 0 {
		return nil, fmt.Errorf("batch holds no non-pad target tokens")
	}
	lossValue := total / float64(counted)

	backward := func(upstream float64) error {
		scale := upstream / float64(counted)
		for _, st := range states {
			if len(st.srcIdx) == 0 {
				continue
			}
			// dL/dOut = context (x) gLogits
			for k := 0; k < m.dim; k++ {
				ck := st.context.AtVec(k)
				if ck == 0 {
					continue
				}
				for v := 0; v < V; v++ {
					if g := st.gLogits[v]; g != 0 {
						m.gOut.Set(k, v, m.gOut.At(k, v)+scale*ck*g)
					}
				}
			}
			// dL/dContext = Out * gLogits, spread over contributing rows.
			gc := mat.NewVecDense(m.dim, nil)
			gc.MulVec(m.out, mat.NewVecDense(V, st.gLogits))
			gc.ScaleVec(scale/float64(len(st.srcIdx)), gc)
			for _, id := range st.srcIdx {
				for k := 0; k < m.dim; k++ {
					m.gEmb.Set(id, k, m.gEmb.At(id, k)+gc.AtVec(k))
				}
			}
		}
		return nil
	}

	return []any{tensor.NewLoss([]float64{lossValue}, backward)}, nil
}

func denseInput(inputs training.Batch, key string) (*tensor.Dense, error) {
	d, ok := inputs[key].(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("batch entry %q is %T, expected a tensor", key, inputs[key])
	}
	return d, nil
}

// softmax returns probabilities and log-probabilities, numerically stable.
func softmax(logits []float64) (p, logP []float64) {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}
	p = make([]float64, len(logits))
	logP = make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		p[i] = math.Exp(l - maxLogit)
		sum += p[i]
	}
	logSum := math.Log(sum)
	for i := range p {
		logP[i] = logits[i] - maxLogit - logSum
		p[i] /= sum
	}
	return p, logP
}
