package relay

import (
	"fmt"

	"github.com/confsync/confsync/internal/blob"
	"github.com/confsync/confsync/internal/relay/auth"
	"github.com/confsync/confsync/internal/relay/email"
)

const DefaultAddr = "127.0.0.1:8080"

type Config struct {
	HTTP   HTTPConfig   `mapstructure:"http"`
	Auth   auth.Config  `mapstructure:"auth"`
	Email  email.Config `mapstructure:"email"`
	Blob   blob.Config  `mapstructure:"blob"`
	DBPath string       `mapstructure:"db_path"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultAddr
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := c.Email.Validate(); err != nil {
		return fmt.Errorf("email config: %w", err)
	}
	return nil
}
