package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator verifies HMAC-signed JWTs. The identity id comes from the
// "sub" claim with "user_id" as a fallback; "role" and "scopes" claims are
// carried over when present.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) Validate(ctx context.Context, credential string) (*Identity, error) {
	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	identity := &Identity{}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		identity.ID = sub
	} else if userID, ok := claims["user_id"].(string); ok {
		identity.ID = userID
	}
	if identity.ID == "" {
		return nil, fmt.Errorf("token carries no subject")
	}

	if role, ok := claims["role"].(string); ok {
		identity.Role = role
	}
	if raw, ok := claims["scopes"].([]interface{}); ok {
		for _, s := range raw {
			if scope, ok := s.(string); ok {
				identity.Scopes = append(identity.Scopes, scope)
			}
		}
	}

	return identity, nil
}
