package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT. The
// token carries identity only; the caller's role is resolved per request.
type AccessTokenPayload struct {
	AccountID uuid.UUID
	Handle    string
	JTI       string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	AccountID uuid.UUID `json:"account_id"`
	Handle    string    `json:"handle,omitempty"`
	jwt.RegisteredClaims
}
