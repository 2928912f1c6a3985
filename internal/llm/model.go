// SPDX-License-Identifier: MIT

// Package llm contains the generation backends: wire shapes, failure
// classification, and the service wrapper that adds retries and health
// accounting on top of a raw backend.
package llm

import (
	"regexp"
	"strconv"
	"strings"
)

// thinkingSuffixRe matches "#thinking", "#thinking(tokens=N)", and
// "#thinking(N)" at the end of a model identifier.
var thinkingSuffixRe = regexp.MustCompile(`(?i)#thinking(?:\((?:tokens=)?(\d+)\))?\s*$`)

// ModelSpec is a parsed model identifier. The thinking suffix toggles the
// vendor's extended-reasoning mode and is stripped from the transmitted id.
type ModelSpec struct {
	ID             string
	Thinking       bool
	ThinkingBudget int
}

// ParseModel splits a raw model identifier from its optional
// extended-reasoning suffix.
func ParseModel(raw string) ModelSpec {
	raw = strings.TrimSpace(raw)
	m := thinkingSuffixRe.FindStringSubmatch(raw)
	if m == nil {
		return ModelSpec{ID: raw}
	}

	spec := ModelSpec{
		ID:       strings.TrimSpace(strings.TrimSuffix(raw, m[0])),
		Thinking: true,
	}
	if m[1] != "" {
		if n, err := strconv.Atoi(m[1]); err == nil {
			spec.ThinkingBudget = n
		}
	}
	return spec
}
