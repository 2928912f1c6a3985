// SPDX-License-Identifier: MIT

package prompt

import (
	"math"

	"github.com/cratedig/cratedig/internal/llm"
	"github.com/cratedig/cratedig/internal/rec"
)

const (
	// systemReserveTokens is held back for the fixed system instructions.
	systemReserveTokens = 500

	// budgetFloor is the minimum usable prompt budget. Backends with tiny
	// declared contexts still get a workable prompt; they will truncate
	// on their side if they must.
	budgetFloor = 1500

	// defaultContextTokens stands in when a backend declares no window.
	defaultContextTokens = 8192
)

// Budget is the resolved token envelope for one request.
type Budget struct {
	ContextTokens       int
	TargetTokens        int
	HeadroomTokens      int
	SystemReserveTokens int
	CompletionTokens    int
	ModelKey            string
}

// ResolveBudget derives the prompt budget from the request tier and the
// backend capability descriptor. comprehensiveOverride, when positive,
// caps the comprehensive tier's target.
func ResolveBudget(req rec.Request, capability llm.Capability, comprehensiveOverride int) Budget {
	contextTokens := capability.ContextTokens
	if contextTokens <= 0 {
		contextTokens = defaultContextTokens
	}

	completionReserve := max(512, contextTokens*20/100)
	headroom := max(256, contextTokens/10)

	promptBudget := contextTokens - systemReserveTokens - completionReserve - headroom
	if promptBudget < budgetFloor {
		promptBudget = budgetFloor
	}
	if capability.PromptCeiling > 0 && capability.PromptCeiling < promptBudget {
		promptBudget = capability.PromptCeiling
	}

	ratio := req.Tier.Ratio()
	scaled := math.Floor(float64(promptBudget) * ratio)
	target := int(math.Min(float64(promptBudget), math.Max(float64(budgetFloor)*ratio, scaled)))

	if req.Tier == rec.TierComprehensive && comprehensiveOverride > 0 && target > comprehensiveOverride {
		target = comprehensiveOverride
	}

	// The prompt plus headroom must always fit the window.
	if target+headroom > contextTokens {
		target = contextTokens - headroom
	}

	return Budget{
		ContextTokens:       contextTokens,
		TargetTokens:        target,
		HeadroomTokens:      headroom,
		SystemReserveTokens: systemReserveTokens,
		CompletionTokens:    completionReserve,
		ModelKey:            llm.ParseModel(req.ModelID).ID,
	}
}
