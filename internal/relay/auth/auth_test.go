package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/confsync/confsync/internal/relay/email"
)

func getTestAuthConfig() *Config {
	return &Config{
		Enabled:            true,
		TokenIssuer:        "https://relay.confsync.dev",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenSecret:  "access-secret",
		RefreshTokenExpiry: time.Minute,
		AccessTokenExpiry:  time.Second * 10,
		EmailOTPLength:     6,
		EmailOTPExpiry:     2 * time.Minute,
	}
}

type MockEmailService struct {
	mock.Mock
}

func (m *MockEmailService) IsEnabled() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockEmailService) Send(ctx context.Context, data *email.MailInfo) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

func NewMockEmailService() *MockEmailService {
	emailSvc := &MockEmailService{}
	emailSvc.On("IsEnabled").Return(true)
	emailSvc.On("Send", mock.Anything, mock.Anything).Return(nil)
	return emailSvc
}

func NewMockEmailServiceDisabled() *MockEmailService {
	emailSvc := &MockEmailService{}
	emailSvc.On("IsEnabled").Return(false)
	return emailSvc
}

var _ email.Service = (*MockEmailService)(nil)

func TestServiceIsEnabled(t *testing.T) {
	cfg := getTestAuthConfig()
	svc := NewService(cfg, NewMockEmailService())
	assert.True(t, svc.IsEnabled())

	cfg.Enabled = false
	svc = NewService(cfg, NewMockEmailServiceDisabled())
	assert.False(t, svc.IsEnabled())
}

func TestServiceOTP(t *testing.T) {
	cfg := getTestAuthConfig()
	svc := NewService(cfg, NewMockEmailService())

	otp, err := svc.generateOTP("user@email.com")
	assert.NoError(t, err)
	assert.Len(t, otp, cfg.EmailOTPLength)

	// verifies once
	err = svc.verifyOTP("user@email.com", otp)
	assert.NoError(t, err)

	// burns on use
	err = svc.verifyOTP("user@email.com", otp)
	assert.Error(t, err)

	// wrong code
	otp2, _ := svc.generateOTP("user@email.com")
	err = svc.verifyOTP("user@email.com", "WRONG1")
	assert.Error(t, err)

	// wrong email
	err = svc.verifyOTP("not-an-email", otp2)
	assert.Error(t, err)
}

func TestServiceGenerateTokensPair(t *testing.T) {
	cfg := getTestAuthConfig()
	svc := NewService(cfg, NewMockEmailService())

	user := "user@email.com"
	otp, err := svc.generateOTP(user)
	require.NoError(t, err)

	access, refresh, err := svc.GenerateTokensPair(context.Background(), user, otp)
	assert.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)

	claims, err := svc.ValidateAccessToken(context.Background(), access)
	assert.NoError(t, err)
	assert.Equal(t, user, claims.Subject)
	assert.Equal(t, AccessToken, claims.Type)

	rclaims, err := svc.ValidateRefreshToken(context.Background(), refresh)
	assert.NoError(t, err)
	assert.Equal(t, user, rclaims.Subject)
	assert.Equal(t, RefreshToken, rclaims.Type)
}

func TestServiceRefreshToken(t *testing.T) {
	cfg := getTestAuthConfig()
	svc := NewService(cfg, NewMockEmailService())

	user := "user@email.com"
	otp, err := svc.generateOTP(user)
	require.NoError(t, err)
	_, refresh, err := svc.GenerateTokensPair(context.Background(), user, otp)
	require.NoError(t, err)

	access2, refresh2, err := svc.RefreshToken(context.Background(), refresh)
	assert.NoError(t, err)
	assert.NotEmpty(t, access2)
	assert.NotEmpty(t, refresh2)

	_, _, err = svc.RefreshToken(context.Background(), "invalid.token")
	assert.Error(t, err)

	_, _, err = svc.RefreshToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRequestToken)
}

func TestServiceValidateAccessTokenErrors(t *testing.T) {
	cfg := getTestAuthConfig()
	svc := NewService(cfg, NewMockEmailService())

	_, err := svc.ValidateAccessToken(context.Background(), "")
	assert.Error(t, err)

	// token of wrong type
	refresh, _ := newRefreshToken("user@email.com", cfg.TokenIssuer, cfg.RefreshTokenSecret, time.Minute)
	_, err = svc.ValidateAccessToken(context.Background(), refresh)
	assert.Error(t, err)
}

func TestServiceValidateRefreshTokenErrors(t *testing.T) {
	cfg := getTestAuthConfig()
	svc := NewService(cfg, NewMockEmailService())

	_, err := svc.ValidateRefreshToken(context.Background(), "")
	assert.Error(t, err)

	// token of wrong type
	access, _ := newAccessToken("user@email.com", cfg.TokenIssuer, cfg.AccessTokenSecret, time.Minute)
	_, err = svc.ValidateRefreshToken(context.Background(), access)
	assert.Error(t, err)
}

func TestServiceGenerateOTPEmail(t *testing.T) {
	cfg := getTestAuthConfig()
	svc := NewService(cfg, NewMockEmailService())

	addr := "user@email.com"
	code := "ABC123"
	html, err := svc.generateOTPEmail(addr, code)
	assert.NoError(t, err)
	assert.Contains(t, html, addr)
	assert.Contains(t, html, code)
	assert.Contains(t, html, "ConfSync")
	assert.Contains(t, html, "2 minutes")
}

func TestServiceSendOTP(t *testing.T) {
	cfg := getTestAuthConfig()
	emailSvc := NewMockEmailService()
	svc := NewService(cfg, emailSvc)

	err := svc.SendOTP(context.Background(), "user@email.com")
	assert.NoError(t, err)
	emailSvc.AssertExpectations(t)
}

func TestServiceSendOTPEmailDisabled(t *testing.T) {
	cfg := getTestAuthConfig()
	emailSvc := NewMockEmailServiceDisabled()
	svc := NewService(cfg, emailSvc)

	err := svc.SendOTP(context.Background(), "user@email.com")
	assert.NoError(t, err)
	emailSvc.AssertExpectations(t)
}

func TestServiceDisabledShortCircuits(t *testing.T) {
	cfg := getTestAuthConfig()
	cfg.Enabled = false
	svc := NewService(cfg, NewMockEmailServiceDisabled())

	assert.NoError(t, svc.SendOTP(context.Background(), "user@email.com"))

	access, refresh, err := svc.GenerateTokensPair(context.Background(), "user@email.com", "whatever")
	assert.NoError(t, err)
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}
