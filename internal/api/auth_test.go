// SPDX-License-Identifier: MIT

package api

import (
	"net/http/httptest"
	"testing"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "bearer token", header: "Bearer abc123", want: "abc123"},
		{name: "bearer with padding", header: "Bearer   abc123  ", want: "abc123"},
		{name: "missing header", header: "", want: ""},
		{name: "wrong scheme", header: "Basic abc123", want: ""},
		{name: "bare token", header: "abc123", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := extractToken(req); got != tt.want {
				t.Errorf("extractToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthorizeToken(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
		want     bool
	}{
		{name: "match", got: "secret", expected: "secret", want: true},
		{name: "mismatch", got: "wrong", expected: "secret", want: false},
		{name: "empty got", got: "", expected: "secret", want: false},
		{name: "empty expected", got: "secret", expected: "", want: false},
		{name: "both empty", got: "", expected: "", want: false},
		{name: "whitespace expected", got: "secret", expected: "   ", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := authorizeToken(tt.got, tt.expected); got != tt.want {
				t.Errorf("authorizeToken(%q, %q) = %v, want %v", tt.got, tt.expected, got, tt.want)
			}
		})
	}
}
