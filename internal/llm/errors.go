// SPDX-License-Identifier: MIT

package llm

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cratedig/cratedig/internal/log"
)

// Failure kinds mapped at the generator boundary. Callers branch with
// errors.Is; the concrete value is a *BackendError carrying transport
// detail. Context cancellation and deadline errors pass through unchanged.
var (
	// ErrTransient covers 5xx, 429, connection errors, and malformed or
	// empty 2xx bodies. Eligible for bounded retry.
	ErrTransient = errors.New("transient backend failure")

	// ErrAuth covers 401 and 403. Never retried, fatal for the fetch.
	ErrAuth = errors.New("backend authentication failed")

	// ErrBadRequest covers the remaining 4xx. Never retried.
	ErrBadRequest = errors.New("backend rejected request")

	// ErrParseEmpty marks a generation whose text parsed to zero items.
	// It terminates the iteration loop early and is not fatal.
	ErrParseEmpty = errors.New("response parsed to zero items")
)

// BackendError is the uniform failure shape for backend calls.
type BackendError struct {
	Backend string
	Op      string
	Status  int
	Snippet string
	Err     error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Backend, e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if e.Snippet != "" {
		fmt.Fprintf(&b, " (%s)", e.Snippet)
	}
	return b.String()
}

func (e *BackendError) Unwrap() error { return e.Err }

// classifyStatus maps a non-2xx HTTP status to its failure kind. A remote
// 429 is treated as transient: backoff and retry is the correct reaction.
func classifyStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 429:
		return ErrTransient
	case status >= 400 && status < 500:
		return ErrBadRequest
	default:
		return ErrTransient
	}
}

// snippet produces a single-line, redacted, length-capped excerpt of a
// response body, safe for logs and error strings.
func snippet(body []byte) string {
	const maxLen = 200

	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > maxLen {
		s = s[:maxLen]
		for len(s) > 0 && !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}
	return log.RedactString(s)
}
