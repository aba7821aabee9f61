package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidity is how long the vendor honors a session hash. Past this
// window every call fails and a fresh login is required.
const TokenValidity = 360 * time.Second

// Token is a vendor session hash together with the time it was issued.
type Token struct {
	Hash     string    `json:"hash"`
	IssuedAt time.Time `json:"issued_at"`
}

// Valid reports whether the token is usable at the given time.
func (t Token) Valid(now time.Time) bool {
	return t.Hash != "" && now.Sub(t.IssuedAt) < TokenValidity
}

// Age returns how old the token is at the given time.
func (t Token) Age(now time.Time) time.Duration {
	return now.Sub(t.IssuedAt)
}

// Claims parses the session hash as a JWT without verifying its signature
// and returns the claims. The vendor signs with its own key, so this is
// diagnostic only and must never gate authentication.
func (t Token) Claims() (jwt.MapClaims, error) {
	if t.Hash == "" {
		return nil, fmt.Errorf("auth: no token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.Hash, claims); err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	return claims, nil
}
