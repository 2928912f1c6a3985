// SPDX-License-Identifier: MIT

package daemon

import "errors"

var (
	// ErrMissingLogger is returned when no logger is provided.
	ErrMissingLogger = errors.New("logger is required")

	// ErrMissingAPIHandler is returned when no API handler is provided.
	ErrMissingAPIHandler = errors.New("API handler is required")

	// ErrMissingManager is returned when App runs without a manager.
	ErrMissingManager = errors.New("daemon manager is required")

	// ErrManagerNotStarted is returned when Shutdown precedes Start.
	ErrManagerNotStarted = errors.New("manager not started")
)
