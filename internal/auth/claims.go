package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// ClientID names the app install or push gateway holding the token.
type Claims struct {
	jwt.RegisteredClaims

	ClientID  string    `json:"client_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
