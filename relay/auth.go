package relay

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rideline/ride-relay/config"
)

// Claims are the JWT claims accepted on the websocket handshake.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTValidator validates handshake tokens when auth is enabled.
type JWTValidator struct {
	cfg *config.AuthConfig
}

func NewJWTValidator(cfg *config.AuthConfig) *JWTValidator {
	return &JWTValidator{cfg: cfg}
}

// ValidateToken parses and verifies an HMAC-signed token.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(v.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
