// Package tokens provides token-count estimation for context budgeting.
//
// Counts are estimates: the BPE codec is an approximation for non-OpenAI
// models, and the fallback is a character heuristic. The budget math in the
// history package only needs monotonic, reproducible numbers.
package tokens

import (
	"github.com/tiktoken-go/tokenizer"
)

// fallbackDivisor approximates 4 characters per token when no codec is available.
const fallbackDivisor = 4

// Estimator counts tokens using a tiktoken codec with a character fallback.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator creates an estimator. All supported chat models are close
// enough to the GPT-4 encoding for budgeting purposes; unknown models fall
// back to it too.
func NewEstimator() *Estimator {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &Estimator{}
	}
	return &Estimator{codec: codec}
}

// Count returns the estimated token count of text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e == nil || e.codec == nil {
		return heuristic(text)
	}
	n, err := e.codec.Count(text)
	if err != nil {
		return heuristic(text)
	}
	return n
}

func heuristic(text string) int {
	n := len(text) / fallbackDivisor
	if n == 0 {
		n = 1
	}
	return n
}
