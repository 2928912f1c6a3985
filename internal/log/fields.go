// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldOperationID   = "operation_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Generation fields
	FieldBackend   = "backend"
	FieldModel     = "model"
	FieldMode      = "mode"
	FieldIteration = "iteration"
	FieldCount     = "count"

	// Timing fields
	FieldElapsedMS = "elapsed_ms"
	FieldDeadline  = "deadline"

	// Prompt fields
	FieldTokens     = "tokens"
	FieldBudget     = "budget"
	FieldCompressed = "compressed"
	FieldTrimmed    = "trimmed"
)
