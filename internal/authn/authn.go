// Package authn implements the gateway's authentication model (spec.md
// §6): a flat bearer-token allow-list of bcrypt-hashed API keys, with an
// optional JWT mode for short-lived delegated tokens signed with an
// ES256 key, mirroring the teacher's wing/browser JWT scheme.
package authn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("authn: missing bearer token")
	ErrInvalidToken = errors.New("authn: invalid or expired token")
)

// APIKey is one configured allow-list entry: a human label and the
// bcrypt hash of the secret the client presents.
type APIKey struct {
	Label string
	Hash  []byte
}

// HashKey bcrypt-hashes a raw API key secret for storage in config.
func HashKey(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("authn: hash key: %w", err)
	}
	return string(h), nil
}

// GatewayClaims are the JWT claims accepted in JWT mode.
type GatewayClaims struct {
	jwt.RegisteredClaims
	ClientLabel string `json:"client,omitempty"`
}

// Authenticator validates bearer tokens against the configured
// allow-list and, if a JWT public key is configured, against
// ES256-signed delegated tokens too.
type Authenticator struct {
	keys   []APIKey
	jwtPub *ecdsa.PublicKey
}

// New creates an Authenticator from a set of bcrypt-hashed keys. jwtPub
// may be nil to disable JWT mode entirely.
func New(keys []APIKey, jwtPub *ecdsa.PublicKey) *Authenticator {
	return &Authenticator{keys: keys, jwtPub: jwtPub}
}

// Authenticate validates r's Authorization header and returns the
// matched client label.
func (a *Authenticator) Authenticate(r *http.Request) (label string, err error) {
	token := bearerToken(r)
	if token == "" {
		return "", ErrMissingToken
	}
	if label, ok := a.checkAPIKeys(token); ok {
		return label, nil
	}
	if a.jwtPub != nil {
		if label, ok := a.checkJWT(token); ok {
			return label, nil
		}
	}
	return "", ErrInvalidToken
}

func bearerToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func (a *Authenticator) checkAPIKeys(token string) (string, bool) {
	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword(k.Hash, []byte(token)) == nil {
			return k.Label, true
		}
	}
	return "", false
}

func (a *Authenticator) checkJWT(tokenString string) (string, bool) {
	parsed, err := jwt.ParseWithClaims(tokenString, &GatewayClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtPub, nil
	})
	if err != nil || !parsed.Valid {
		return "", false
	}
	claims, ok := parsed.Claims.(*GatewayClaims)
	if !ok {
		return "", false
	}
	return claims.ClientLabel, true
}

// IssueJWT signs a GatewayClaims token valid for ttl, for use by an
// operator-side token-issuing tool. key must be the private half of the
// configured JWT public key.
func IssueJWT(key *ecdsa.PrivateKey, clientLabel string, ttl time.Duration) (string, error) {
	claims := GatewayClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		ClientLabel: clientLabel,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	return token.SignedString(key)
}

// GenerateECKey creates a fresh P-256 key pair for JWT mode, mirroring
// the teacher's wing-keygen flow.
func GenerateECKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// ParseECPrivateKey parses a P-256 private key from PEM or base64 DER.
func ParseECPrivateKey(data string) (*ecdsa.PrivateKey, error) {
	if block, _ := pem.Decode([]byte(data)); block != nil {
		return x509.ParseECPrivateKey(block.Bytes)
	}
	der, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("authn: decode ec key: %w", err)
	}
	return x509.ParseECPrivateKey(der)
}

// ParseECPublicKey parses a base64 DER ECDSA public key.
func ParseECPublicKey(data string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("authn: decode ec public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("authn: parse ec public key: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("authn: key is not ECDSA P-256")
	}
	return ecPub, nil
}

// ConstantTimeEqual compares two strings without leaking timing
// information, used by callers comparing raw (non-bcrypt) shared
// secrets such as a webhook signature.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Middleware enforces authentication on every request, passing the
// matched client label on in the X-Shellgate-Client request header.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		label, err := a.Authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		r.Header.Set("X-Shellgate-Client", label)
		next.ServeHTTP(w, r)
	})
}
