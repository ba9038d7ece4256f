package onnx

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/hua2014/VidMuse/internal/tensor"
)

// randFloat returns a uniform value in [0, 1).
// Package-level var to allow deterministic testing.
var randFloat = func() float64 {
	return rand.Float64()
}

// nextToken picks a token id from one codebook's logits row. With sampling
// disabled it is the argmax; otherwise the row is tempered, normalized and
// drawn from the nucleus (top-p) or the top-k candidates.
func nextToken(logits []float32, useSampling bool, topK int, topP, temperature float64) (int64, error) {
	if len(logits) == 0 {
		return 0, errors.New("empty logits row")
	}

	if !useSampling {
		return argmax(logits), nil
	}

	if temperature <= 0 {
		return 0, fmt.Errorf("temperature %.3f must be positive for sampling", temperature)
	}

	tempered := make([]float32, len(logits))
	for i, v := range logits {
		tempered[i] = v / float32(temperature)
	}

	row, err := tensor.New(tempered, []int64{int64(len(tempered))})
	if err != nil {
		return 0, err
	}

	probs, err := tensor.Softmax(row, 0)
	if err != nil {
		return 0, err
	}

	p := probs.RawData()

	switch {
	case topP > 0:
		return sampleTopP(p, topP), nil
	case topK > 0:
		return sampleTopK(p, topK), nil
	default:
		return drawIndex(p, allIndices(len(p))), nil
	}
}

func argmax(values []float32) int64 {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}

	return int64(best)
}

// sampleTopK draws from the k most probable tokens after renormalization.
func sampleTopK(probs []float32, k int) int64 {
	idx := sortedByProb(probs)

	if k > len(idx) {
		k = len(idx)
	}

	return drawIndex(probs, idx[:k])
}

// sampleTopP draws from the smallest prefix of tokens whose cumulative
// probability reaches p (nucleus sampling). At least one token always
// survives.
func sampleTopP(probs []float32, p float64) int64 {
	idx := sortedByProb(probs)

	var cum float64

	cut := len(idx)

	for i, j := range idx {
		cum += float64(probs[j])
		if cum >= p {
			cut = i + 1
			break
		}
	}

	return drawIndex(probs, idx[:cut])
}

func sortedByProb(probs []float32) []int {
	idx := allIndices(len(probs))
	sort.Slice(idx, func(a, b int) bool {
		return probs[idx[a]] > probs[idx[b]]
	})

	return idx
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	return idx
}

// drawIndex draws one of the candidate indices weighted by its probability,
// renormalized over the candidate set.
func drawIndex(probs []float32, candidates []int) int64 {
	var total float64
	for _, i := range candidates {
		total += float64(probs[i])
	}

	if total <= 0 {
		return int64(candidates[0])
	}

	r := randFloat() * total

	var cum float64

	for _, i := range candidates {
		cum += float64(probs[i])
		if r < cum {
			return int64(i)
		}
	}

	return int64(candidates[len(candidates)-1])
}
