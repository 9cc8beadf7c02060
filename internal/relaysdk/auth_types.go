package relaysdk

import (
	"fmt"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type AuthTokenType string

const (
	AccessToken  AuthTokenType = "access"
	RefreshToken AuthTokenType = "refresh"
)

var otpRegex = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// IsValidOTP reports whether code looks like a relay-issued email code.
func IsValidOTP(code string) bool {
	return otpRegex.MatchString(code)
}

type OTPRequest struct {
	Email string `json:"email"`
}

type VerifyEmailCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type AuthClaims struct {
	Type AuthTokenType `json:"type"`
	jwt.RegisteredClaims
}

func (c *AuthClaims) Validate(email string) error {
	if c.Subject != email {
		return fmt.Errorf("invalid claims: token subject %q does not match %q", c.Subject, email)
	}

	return nil
}

// ParseToken decodes a token without verifying its signature. Only the
// relay holds the signing secrets; the client uses this to inspect type
// and expiry before spending a round trip on a request that would be
// rejected anyway.
func ParseToken(tokenStr string, expected AuthTokenType) (*AuthClaims, error) {
	claims := &AuthClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if claims.Type != expected {
		return nil, fmt.Errorf("invalid token type: got %q want %q", claims.Type, expected)
	}

	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("token expired at %s", claims.ExpiresAt.Format(time.RFC3339))
	}

	return claims, nil
}
