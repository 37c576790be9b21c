package authn

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func mustHash(t *testing.T, secret string) []byte {
	t.Helper()
	h, err := HashKey(secret)
	if err != nil {
		t.Fatal(err)
	}
	return []byte(h)
}

func TestAuthenticateAcceptsValidAPIKey(t *testing.T) {
	a := New([]APIKey{{Label: "ci", Hash: mustHash(t, "s3cret")}}, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")

	label, err := a.Authenticate(req)
	if err != nil {
		t.Fatal(err)
	}
	if label != "ci" {
		t.Fatalf("label = %q, want ci", label)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	a := New([]APIKey{{Label: "ci", Hash: mustHash(t, "s3cret")}}, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")

	if _, err := a.Authenticate(req); err != ErrInvalidToken {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticateMissingToken(t *testing.T) {
	a := New(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := a.Authenticate(req); err != ErrMissingToken {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
}

func TestAuthenticateAcceptsTokenQueryParam(t *testing.T) {
	a := New([]APIKey{{Label: "ws-client", Hash: mustHash(t, "abc")}}, nil)
	req := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	label, err := a.Authenticate(req)
	if err != nil {
		t.Fatal(err)
	}
	if label != "ws-client" {
		t.Fatalf("label = %q, want ws-client", label)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	priv, err := GenerateECKey()
	if err != nil {
		t.Fatal(err)
	}
	a := New(nil, &priv.PublicKey)

	signed, err := IssueJWT(priv, "operator-cli", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	label, err := a.Authenticate(req)
	if err != nil {
		t.Fatal(err)
	}
	if label != "operator-cli" {
		t.Fatalf("label = %q, want operator-cli", label)
	}
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	priv, err := GenerateECKey()
	if err != nil {
		t.Fatal(err)
	}
	a := New(nil, &priv.PublicKey)

	signed, err := IssueJWT(priv, "operator-cli", -time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	if _, err := a.Authenticate(req); err != ErrInvalidToken {
		t.Fatalf("err = %v, want ErrInvalidToken for expired jwt", err)
	}
}

func TestMiddlewareRejectsUnauthenticated(t *testing.T) {
	a := New([]APIKey{{Label: "ci", Hash: mustHash(t, "s3cret")}}, nil)
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
