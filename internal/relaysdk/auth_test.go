package relaysdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidOTP(t *testing.T) {
	assert.True(t, IsValidOTP("ABCD1234"))
	assert.False(t, IsValidOTP("abcd1234"), "lowercase should fail")
	assert.False(t, IsValidOTP("ABC123"), "wrong length should fail")
	assert.False(t, IsValidOTP("ABCD123!"), "non-alnum should fail")
}

func TestParseToken_TypeAndExpiry(t *testing.T) {
	now := time.Now()
	claims := &AuthClaims{
		Type: AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice@example.com",
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)

	parsed, err := ParseToken(tokenStr, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, AccessToken, parsed.Type)
	require.NoError(t, parsed.Validate("alice@example.com"))
	assert.Error(t, parsed.Validate("bob@example.com"))

	_, err = ParseToken(tokenStr, RefreshToken)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token type")

	expiredClaims := &AuthClaims{
		Type: RefreshToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice@example.com",
			ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Minute)),
		},
	}
	expiredStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expiredClaims).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = ParseToken(expiredStr, RefreshToken)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestRefreshAuthTokens_InputValidation(t *testing.T) {
	ctx := context.Background()

	_, err := RefreshAuthTokens(ctx, "not-a-url", "tok")
	assert.ErrorIs(t, err, ErrNoServerURL)

	_, err = RefreshAuthTokens(ctx, "http://127.0.0.1:8080", "")
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRequestVerifyEmailCode_InputValidation(t *testing.T) {
	ctx := context.Background()

	err := RequestEmailCode(ctx, "not-a-url", "alice@example.com")
	assert.ErrorIs(t, err, ErrNoServerURL)

	err = RequestEmailCode(ctx, "http://127.0.0.1:8080", "bad")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = VerifyEmailCode(ctx, "not-a-url", &VerifyEmailCodeRequest{
		Email: "alice@example.com",
		Code:  "ABCD1234",
	})
	assert.ErrorIs(t, err, ErrNoServerURL)

	_, err = VerifyEmailCode(ctx, "http://127.0.0.1:8080", &VerifyEmailCodeRequest{
		Email: "alice@example.com",
		Code:  "bad",
	})
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestVerifyEmailCode_ReturnsTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/otp/verify", func(w http.ResponseWriter, r *http.Request) {
		var body VerifyEmailCodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice@example.com", body.Email)
		assert.Equal(t, "ABCD1234", body.Code)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&TokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens, err := VerifyEmailCode(context.Background(), srv.URL, &VerifyEmailCodeRequest{
		Email: "alice@example.com",
		Code:  "ABCD1234",
	})
	require.NoError(t, err)
	assert.Equal(t, "access-1", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
}

func TestVerifyEmailCode_SurfacesAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/otp/verify", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(NewAPIError(CodeAuthOTPVerificationFailed, "invalid code"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := VerifyEmailCode(context.Background(), srv.URL, &VerifyEmailCodeRequest{
		Email: "alice@example.com",
		Code:  "ABCD1234",
	})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeAuthOTPVerificationFailed, apiErr.Code)
}
