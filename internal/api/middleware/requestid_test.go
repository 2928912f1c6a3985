// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/cratedig/cratedig/internal/log"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name       string
		existingID string
	}{
		{name: "generates new request ID when none provided"},
		{name: "honors existing request ID from header", existingID: "test-request-id-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var contextID string
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				contextID = log.RequestIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			handler := RequestID(inner)

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.existingID != "" {
				req.Header.Set(RequestIDHeader, tt.existingID)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			headerID := rr.Header().Get(RequestIDHeader)
			if headerID == "" {
				t.Fatal("expected X-Request-ID header to be set")
			}
			if tt.existingID != "" {
				if headerID != tt.existingID {
					t.Errorf("header ID = %s, want %s", headerID, tt.existingID)
				}
			} else if _, err := uuid.Parse(headerID); err != nil {
				t.Errorf("generated request ID is not a valid UUID: %s", headerID)
			}

			if contextID != headerID {
				t.Errorf("context ID = %s, want %s", contextID, headerID)
			}
		})
	}
}

func TestRecovererReturns500(t *testing.T) {
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	handler := Recoverer(inner)

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestRecovererPassesThrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	handler := Recoverer(inner)

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
}
