package acmehttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ferrohq/gatewayd/internal/challenge"
)

func TestServeChallengeFound(t *testing.T) {
	table := challenge.New()
	table.Put("tok1", "auth1")
	h := New(table, 4443, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/tok1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "auth1" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestServeChallengeMiss(t *testing.T) {
	h := New(challenge.New(), 4443, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRedirectToHTTPSWithNonStandardPort(t *testing.T) {
	h := New(challenge.New(), 4443, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/some/path?x=1", nil)
	req.Host = "Example.COM:8080"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d", rec.Code)
	}
	want := "https://example.com:4443/some/path?x=1"
	if got := rec.Header().Get("Location"); got != want {
		t.Fatalf("Location = %q, want %q", got, want)
	}
}

func TestRedirectToHTTPSOmitsStandardPort(t *testing.T) {
	h := New(challenge.New(), 443, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "example.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	want := "https://example.com/"
	if got := rec.Header().Get("Location"); got != want {
		t.Fatalf("Location = %q, want %q", got, want)
	}
}

type delegateFunc func(w http.ResponseWriter, r *http.Request) bool

func (f delegateFunc) Handle(w http.ResponseWriter, r *http.Request) bool { return f(w, r) }

func TestDelegateShortCircuits(t *testing.T) {
	delegate := delegateFunc(func(w http.ResponseWriter, r *http.Request) bool {
		w.WriteHeader(http.StatusTeapot)
		return true
	})
	h := New(challenge.New(), 4443, delegate, nil)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/tok1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected delegate to handle request, got status %d", rec.Code)
	}
}
