package auth

import (
	"context"
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims a relay token carries. An empty Role allows any role.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier accepts handshakes carrying an HMAC-signed token in the "token" field.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string, opts ...jwt.ParserOption) *JWTVerifier {
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	}, opts...)

	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}
}

// Authenticate reports whether the payload's token is valid, names a subject,
// and permits the requested role.
func (v *JWTVerifier) Authenticate(_ context.Context, payload json.RawMessage) (bool, error) {
	tokenString := field(payload, "token")
	if tokenString == "" {
		return false, nil
	}

	var claims Claims
	token, err := v.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return false, nil
	}

	if claims.Subject == "" {
		return false, nil
	}
	if claims.Role != "" && claims.Role != field(payload, "role") {
		return false, nil
	}
	return true, nil
}
