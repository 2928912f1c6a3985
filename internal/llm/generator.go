// SPDX-License-Identifier: MIT

package llm

import (
	"context"
)

// Prompt is a planned request ready for transmission. MaxTokens caps the
// completion; zero lets the backend default apply.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// Result carries the raw generated text plus token usage for vendors that
// report it. Zero usage means "not available".
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Capability describes a backend's token geometry and feature set. The
// budget resolver consumes it; zero PromptCeiling means no explicit
// ceiling below the context window.
type Capability struct {
	ContextTokens    int
	PromptCeiling    int
	SupportsThinking bool
}

// Generator is the capability surface of one text-generation backend.
type Generator interface {
	// Name returns the stable backend id used in metrics and health keys.
	Name() string

	// Invoke sends the prompt and returns the raw text. The effective
	// deadline is the earlier of the configured timeout and ctx's.
	Invoke(ctx context.Context, p Prompt) (Result, error)

	// Probe checks liveness without consuming generation quota.
	Probe(ctx context.Context) error

	// UpdateModel swaps the model identifier; the optional thinking
	// suffix is parsed here.
	UpdateModel(id string)

	// Model returns the current parsed model spec.
	Model() ModelSpec

	// Capability returns the static descriptor for this backend.
	Capability() Capability
}
