// SPDX-License-Identifier: MIT

// Package prompt turns a library snapshot into a deterministic,
// token-bounded generation prompt: budget resolution, banded sampling,
// rendering with staged compression, and plan caching.
package prompt

import (
	"math"
	"strings"
	"sync"
	"unicode/utf8"
)

// Estimator returns the estimated token count of s.
type Estimator func(s string) int

// EstimateTokens is the fallback heuristic for models without a
// registered tokenizer: max(words * 1.3, runes * 0.25), rounded up. It
// deliberately overestimates so budgets fail safe.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	words := float64(len(strings.Fields(s)))
	runes := float64(utf8.RuneCountInString(s))
	return int(math.Ceil(math.Max(words*1.3, runes*0.25)))
}

// TokenizerRegistry maps model ids to estimators. Lookup misses fall
// back to EstimateTokens.
type TokenizerRegistry struct {
	mu      sync.RWMutex
	byModel map[string]Estimator
}

func NewTokenizerRegistry() *TokenizerRegistry {
	return &TokenizerRegistry{byModel: make(map[string]Estimator)}
}

func (r *TokenizerRegistry) Register(modelID string, e Estimator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byModel[modelID] = e
}

// For returns the estimator for modelID, or the default heuristic.
func (r *TokenizerRegistry) For(modelID string) Estimator {
	if r == nil {
		return EstimateTokens
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byModel[modelID]; ok {
		return e
	}
	return EstimateTokens
}
