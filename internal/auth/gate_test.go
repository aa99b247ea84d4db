package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type stubValidator struct {
	identity *Identity
	err      error
	calls    int
}

func (s *stubValidator) Validate(ctx context.Context, credential string) (*Identity, error) {
	s.calls++
	return s.identity, s.err
}

func TestExtractCredentialPriority(t *testing.T) {
	// Query parameter wins over both headers
	r := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	r.Header.Set("x-api-key", "api-key")
	if got := ExtractCredential(r); got != "query-token" {
		t.Errorf("Expected query-token, got %q", got)
	}

	// Authorization header beats x-api-key
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	r.Header.Set("x-api-key", "api-key")
	if got := ExtractCredential(r); got != "header-token" {
		t.Errorf("Expected header-token, got %q", got)
	}

	// x-api-key as last resort
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("x-api-key", "api-key")
	if got := ExtractCredential(r); got != "api-key" {
		t.Errorf("Expected api-key, got %q", got)
	}

	// Bearer prefix inside the query parameter is stripped
	r = httptest.NewRequest("GET", "/ws?token=Bearer%20abc", nil)
	if got := ExtractCredential(r); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
}

func TestAuthenticateAnonymousWithoutValidators(t *testing.T) {
	gate := NewGate(true)
	r := httptest.NewRequest("GET", "/ws?token=whatever", nil)

	identity, err := gate.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if identity != nil {
		t.Errorf("Expected anonymous identity, got %+v", identity)
	}
}

func TestAuthenticateRequiredMissingToken(t *testing.T) {
	gate := NewGate(true, &stubValidator{})
	r := httptest.NewRequest("GET", "/ws", nil)

	if _, err := gate.Authenticate(context.Background(), r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticateOptionalMissingToken(t *testing.T) {
	gate := NewGate(false, &stubValidator{})
	r := httptest.NewRequest("GET", "/ws", nil)

	identity, err := gate.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if identity != nil {
		t.Errorf("Expected anonymous identity, got %+v", identity)
	}
}

func TestAuthenticatePresentButRejectedToken(t *testing.T) {
	// Token present but no validator accepts it: rejected even when auth
	// is not required.
	gate := NewGate(false, &stubValidator{}, &stubValidator{})
	r := httptest.NewRequest("GET", "/ws?token=bogus", nil)

	if _, err := gate.Authenticate(context.Background(), r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticateFirstMatchWins(t *testing.T) {
	first := &stubValidator{identity: &Identity{ID: "alice", Role: "admin"}}
	second := &stubValidator{identity: &Identity{ID: "bob"}}
	gate := NewGate(true, first, second)
	r := httptest.NewRequest("GET", "/ws?token=tok", nil)

	identity, err := gate.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if identity.ID != "alice" {
		t.Errorf("Expected alice, got %q", identity.ID)
	}
	if second.calls != 0 {
		t.Errorf("Second validator should not run after a match, calls=%d", second.calls)
	}
}

func TestAuthenticateValidatorErrorIsNonMatch(t *testing.T) {
	failing := &stubValidator{err: errors.New("backend down")}
	matching := &stubValidator{identity: &Identity{ID: "carol"}}
	gate := NewGate(true, failing, matching)
	r := httptest.NewRequest("GET", "/ws?token=tok", nil)

	identity, err := gate.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Expected the later validator to match, got %v", err)
	}
	if identity.ID != "carol" {
		t.Errorf("Expected carol, got %q", identity.ID)
	}
}

func TestJWTValidator(t *testing.T) {
	secret := "test-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    "user-42",
		"role":   "editor",
		"scopes": []string{"read", "write"},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	v := NewJWTValidator(secret)
	identity, err := v.Validate(context.Background(), signed)
	if err != nil {
		t.Fatalf("Expected valid token, got %v", err)
	}
	if identity.ID != "user-42" {
		t.Errorf("Expected user-42, got %q", identity.ID)
	}
	if identity.Role != "editor" {
		t.Errorf("Expected role editor, got %q", identity.Role)
	}
	if len(identity.Scopes) != 2 {
		t.Errorf("Expected 2 scopes, got %v", identity.Scopes)
	}

	// Wrong secret must not validate
	if id, err := v.Validate(context.Background(), signed+"tampered"); err == nil && id != nil {
		t.Error("Tampered token should not validate")
	}
}

func TestAPIKeyValidator(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sk-live-123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash key: %v", err)
	}

	v := NewAPIKeyValidator([]APIKey{
		{ID: "service-a", Role: "service", Hash: string(hash)},
	})

	identity, err := v.Validate(context.Background(), "sk-live-123")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if identity == nil || identity.ID != "service-a" {
		t.Fatalf("Expected service-a identity, got %+v", identity)
	}

	identity, err = v.Validate(context.Background(), "sk-live-999")
	if err != nil {
		t.Fatalf("Expected non-match without error, got %v", err)
	}
	if identity != nil {
		t.Errorf("Unknown key should not produce an identity, got %+v", identity)
	}
}
