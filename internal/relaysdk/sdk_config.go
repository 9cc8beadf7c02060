package relaysdk

import (
	"github.com/confsync/confsync/internal/utils"
)

const (
	DefaultBaseURL = "https://relay.confsync.net"
)

// Config is the configuration for the SDK
type Config struct {
	BaseURL      string // BaseURL is required
	Email        string // Email is required
	ReplicaID    string // ReplicaID is required
	AccessToken  string // AccessToken is optional
	RefreshToken string // RefreshToken is optional when the relay runs without auth

	// OnTokensRefreshed fires whenever the SDK rotates its token pair, so
	// the caller can persist the new refresh token.
	OnTokensRefreshed func(*TokenResponse)
}

func (c *Config) Validate() error {
	if !utils.IsValidEmail(c.Email) {
		return ErrInvalidEmail
	}

	if c.BaseURL == "" {
		return ErrNoServerURL
	}

	if c.ReplicaID == "" {
		return ErrNoReplicaID
	}

	return nil
}
