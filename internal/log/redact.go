// SPDX-License-Identifier: MIT

package log

import (
	"io"
	"regexp"
)

// Secret-shaped patterns masked from every emitted log line. JWTs are
// matched before bearer tokens so a raw token is caught even without the
// scheme prefix.
var redactions = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]+`), "[REDACTED:jwt]"},
	{regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._~+/=-]+`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`), "sk-[REDACTED]"},
	{regexp.MustCompile(`(?i)\b(api[_-]?key)(\s*[=:]\s*)[^\s&"',;}]+`), "$1$2[REDACTED]"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED:email]"},
}

// Redact masks secret-shaped substrings in b. The input slice is not modified.
func Redact(b []byte) []byte {
	out := b
	for _, r := range redactions {
		out = r.re.ReplaceAll(out, []byte(r.replacement))
	}
	return out
}

// RedactString masks secret-shaped substrings in s.
func RedactString(s string) string {
	return string(Redact([]byte(s)))
}

type redactingWriter struct {
	w io.Writer
}

// NewRedactingWriter wraps w so every write is scrubbed of credentials
// before reaching the underlying sink. zerolog emits one complete line per
// Write call, so patterns never straddle a chunk boundary.
func NewRedactingWriter(w io.Writer) io.Writer {
	if w == nil {
		return nil
	}
	if _, ok := w.(*redactingWriter); ok {
		return w
	}
	return &redactingWriter{w: w}
}

func (r *redactingWriter) Write(p []byte) (int, error) {
	if _, err := r.w.Write(Redact(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
