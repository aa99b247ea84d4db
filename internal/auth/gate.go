package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned when a credential is required but missing,
// or present but rejected by every validator.
var ErrUnauthorized = errors.New("auth: invalid or missing credential")

// Identity is the authenticated principal attached to a connection. It is
// produced once at handshake time and never changes afterwards.
type Identity struct {
	ID     string   `json:"id"`
	Role   string   `json:"role,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// Validator exchanges a raw credential for an identity. Returning (nil, nil)
// means "not mine"; errors are treated the same way by the gate so a broken
// validator never blocks the ones after it.
type Validator interface {
	Validate(ctx context.Context, credential string) (*Identity, error)
}

// Gate runs the handshake authentication step: extract a bearer credential
// from the upgrade request and try each validator in order until one
// produces an identity.
type Gate struct {
	validators []Validator
	required   bool
	logger     *slog.Logger
}

func NewGate(required bool, validators ...Validator) *Gate {
	return &Gate{
		validators: validators,
		required:   required,
		logger:     slog.Default(),
	}
}

// Authenticate resolves the request's credential to an identity.
//
// With no validators configured authentication is skipped and every
// connection is anonymous. A missing credential is only an error when the
// gate requires auth; a present credential that no validator accepts is
// always an error.
func (g *Gate) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	if len(g.validators) == 0 {
		return nil, nil
	}

	credential := ExtractCredential(r)
	if credential == "" {
		if g.required {
			return nil, ErrUnauthorized
		}
		return nil, nil
	}

	for _, v := range g.validators {
		identity, err := v.Validate(ctx, credential)
		if err != nil {
			g.logger.Debug("validator rejected credential", "error", err)
			continue
		}
		if identity != nil {
			return identity, nil
		}
	}

	return nil, ErrUnauthorized
}

// ExtractCredential pulls the bearer credential out of an upgrade request.
// Checked in priority order: `token` query parameter, `Authorization:
// Bearer` header, `x-api-key` header.
func ExtractCredential(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return strings.TrimPrefix(token, "Bearer ")
	}

	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimPrefix(header, "Bearer ")
		}
	}

	return r.Header.Get("x-api-key")
}
