package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// APIKey is a configured key entry. Only the bcrypt hash of the key is
// kept; the plaintext key never touches configuration.
type APIKey struct {
	ID     string
	Role   string
	Scopes []string
	Hash   string
}

// APIKeyValidator matches a presented key against the configured hashed
// key table.
type APIKeyValidator struct {
	keys []APIKey
}

func NewAPIKeyValidator(keys []APIKey) *APIKeyValidator {
	return &APIKeyValidator{keys: keys}
}

func (v *APIKeyValidator) Validate(ctx context.Context, credential string) (*Identity, error) {
	for _, key := range v.keys {
		if err := bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(credential)); err == nil {
			return &Identity{
				ID:     key.ID,
				Role:   key.Role,
				Scopes: key.Scopes,
			}, nil
		}
	}
	return nil, nil
}
