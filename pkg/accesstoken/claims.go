package accesstoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represent the psychologist identity embedded inside practice API access tokens.
type Claims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	CRP      string `json:"crp,omitempty"`
	jwt.RegisteredClaims
}

// GetUserID returns the user identifier from the token.
func (claims *Claims) GetUserID() string {
	if claims == nil {
		return ""
	}
	return claims.UserID
}

// GetExpiresAt returns the expiry timestamp.
func (claims *Claims) GetExpiresAt() time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Identity is the subject an access token is minted for.
type Identity struct {
	UserID   string
	Email    string
	FullName string
	CRP      string
}

var errEmptyUserID = errors.New("access_token.mint.empty_user_id")

// Mint creates a signed HS256 access token valid for ttl from issuedAt.
func Mint(identity Identity, issuer string, signingKey []byte, issuedAt time.Time, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return "", time.Time{}, errEmptyUserID
	}
	if len(signingKey) == 0 {
		return "", time.Time{}, fmt.Errorf("access_token.mint: %w", ErrMissingSigningKey)
	}
	issuedAt = issuedAt.UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   identity.UserID,
		Email:    identity.Email,
		FullName: identity.FullName,
		CRP:      identity.CRP,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("access_token.mint: %w", err)
	}
	return signed, expiresAt, nil
}

// Inspect decodes claims without verifying the signature. It is meant for displaying the
// identity behind a locally stored token, never for authorization decisions.
func Inspect(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("access_token.inspect: %w", ErrMissingToken)
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("access_token.inspect: %w", ErrInvalidToken)
	}
	return claims, nil
}
