package errmodel

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wilhg/lyrcache/pkg/store"
)

func TestNewAndFrom(t *testing.T) {
	e := Validation("missing", "field missing", map[string]any{"field": "kind"})
	if e.Category != CategoryValidation || e.Code != "missing" {
		t.Fatalf("unexpected: %#v", e)
	}
	if got := From(e); got != e {
		t.Fatalf("From should return same error instance")
	}
	wrapped := fmt.Errorf("handler: %w", e)
	if got := From(wrapped); got != e {
		t.Fatalf("From should unwrap to the same instance")
	}
}

func TestFromStoreErrors(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("%w: ping: refused", store.ErrUnavailable), CodeUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: commit: disk full", store.ErrTransaction), CodeTransaction, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		ce := From(tc.err)
		if ce.Category != CategoryStorage || ce.Code != tc.code {
			t.Fatalf("From(%v)=%#v", tc.err, ce)
		}
		if got := HTTPStatus(ce); got != tc.status {
			t.Fatalf("status=%d want %d", got, tc.status)
		}
	}
	if ce := From(errors.New("boom")); ce.Category != CategorySystem || HTTPStatus(ce) != http.StatusInternalServerError {
		t.Fatalf("unexpected default mapping: %#v", ce)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[*Error]int{
		NotFound("gone", nil):                     http.StatusNotFound,
		Validation("bad_json", "x", nil):          http.StatusBadRequest,
		Policy("captcha_required", "x", nil):      http.StatusPreconditionRequired,
		Policy("other", "x", nil):                 http.StatusForbidden,
		Network("provider", "x", nil, nil):        http.StatusBadGateway,
		New(CategorySystem, "internal", "x", nil): http.StatusInternalServerError,
		nil:                                       http.StatusInternalServerError,
	}
	for e, want := range cases {
		if got := HTTPStatus(e); got != want {
			t.Fatalf("HTTPStatus(%v)=%d want %d", e, got, want)
		}
	}
}

func TestWriteHTTP_StatusAndEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	WriteHTTP(rr, req, Validation("bad_json", "oops", nil))
	if rr.Code != 400 {
		t.Fatalf("status=%d want 400", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "\"category\":\"validation\"") {
		t.Fatalf("body missing category: %s", body)
	}
	if !strings.Contains(body, "\"code\":\"bad_json\"") {
		t.Fatalf("body missing code: %s", body)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 600)
	e := New(CategorySystem, "internal", long, map[string]any{"k": strings.Repeat("b", 300)})
	if len(e.Message) != 512 || !strings.HasSuffix(e.Message, "...") {
		t.Fatalf("message len=%d", len(e.Message))
	}
	if s, _ := e.Context["k"].(string); len(s) != 256 {
		t.Fatalf("context len=%d", len(s))
	}
}
