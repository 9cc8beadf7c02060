package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/confsync/confsync/internal/relay"
	"github.com/confsync/confsync/internal/version"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Preload .env so secrets can live next to the binary in dev.
	_ "github.com/joho/godotenv/autoload"
)

var rootCmd = &cobra.Command{
	Use:     "confsync-relay",
	Short:   "ConfSync relay server",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRelayConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		slog.Info("confsync-relay", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)
		slog.Info("relay config", "auth", cfg.Auth, "email", cfg.Email, "db", cfg.DBPath)

		srv, err := relay.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		if err := srv.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("relay start", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("bind", "b", relay.DefaultAddr, "Address to bind the relay")
	rootCmd.Flags().String("cert", "", "Path to the TLS certificate file")
	rootCmd.Flags().String("key", "", "Path to the TLS key file")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Relay config file (yaml)")
}

func main() {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadRelayConfig merges the yaml config file, CONFSYNC_RELAY_* environment
// variables and flags. Flags win over env, env wins over the file.
func loadRelayConfig(cmd *cobra.Command) (*relay.Config, error) {
	v := viper.New()

	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		v.SetConfigFile(configFilePath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/confsync")
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
	}

	setRelayDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	v.BindPFlag("http.addr", cmd.Flags().Lookup("bind"))
	v.BindPFlag("http.cert_file", cmd.Flags().Lookup("cert"))
	v.BindPFlag("http.key_file", cmd.Flags().Lookup("key"))

	v.SetEnvPrefix("CONFSYNC_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys it knows about, so secrets that arrive
	// through the environment need explicit bindings.
	for _, key := range []string{
		"auth.refresh_token_secret",
		"auth.access_token_secret",
		"email.sendgrid_api_key",
		"email.from_name",
		"email.from_email",
		"blob.s3.bucket",
		"blob.s3.region",
		"blob.s3.access_key",
		"blob.s3.secret_key",
		"blob.s3.endpoint",
	} {
		v.BindEnv(key)
	}

	var cfg relay.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	return &cfg, nil
}

func setRelayDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", relay.DefaultAddr)
	v.SetDefault("db_path", "data/relay.db")
	v.SetDefault("blob.dir", "data/chunks")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token_issuer", "confsync-relay")
	v.SetDefault("auth.refresh_token_expiry", "168h")
	v.SetDefault("auth.access_token_expiry", "24h")
	// OTP length is fixed by the client's validator, keep them in step.
	v.SetDefault("auth.email_otp_length", 8)
	v.SetDefault("auth.email_otp_expiry", "10m")
	v.SetDefault("email.enabled", false)
}
