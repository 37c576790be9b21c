package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowRespectsBurstThenRejects(t *testing.T) {
	rl := New(2, 60)
	if !rl.Allow("client-a") {
		t.Fatal("first request should be allowed")
	}
	if !rl.Allow("client-a") {
		t.Fatal("second request (within burst) should be allowed")
	}
	if rl.Allow("client-a") {
		t.Fatal("third immediate request should exceed burst")
	}
}

func TestAllowIsPerClient(t *testing.T) {
	rl := New(1, 1)
	if !rl.Allow("client-a") {
		t.Fatal("client-a first request should be allowed")
	}
	if !rl.Allow("client-b") {
		t.Fatal("client-b has its own bucket and should be allowed")
	}
}

func TestMiddlewareRejectsWithTooManyRequests(t *testing.T) {
	rl := New(1, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok123")

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec2.Code)
	}
}

func TestClientKeyPrefersBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	req.RemoteAddr = "10.0.0.5:1234"
	if got := ClientKey(req); got != "tok:abc123" {
		t.Fatalf("ClientKey = %q, want tok:abc123", got)
	}
}

func TestClientKeyFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	if got := ClientKey(req); got != "ip:10.0.0.5" {
		t.Fatalf("ClientKey = %q, want ip:10.0.0.5", got)
	}
}
