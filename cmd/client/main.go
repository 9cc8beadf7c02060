package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/confsync/confsync/internal/client"
	"github.com/confsync/confsync/internal/client/config"
	"github.com/confsync/confsync/internal/client/controlplane"
	"github.com/confsync/confsync/internal/utils"
	"github.com/confsync/confsync/internal/version"
	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var rootCmd = &cobra.Command{
	Use:     "confsync",
	Short:   "ConfSync replica daemon and CLI",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// all good now, show header
		cmd.SilenceUsage = true
		showHeader()

		addr, _ := cmd.Flags().GetString("http-addr")
		authToken, _ := cmd.Flags().GetString("http-token")
		daemon, err := client.NewDaemon(cfg, &controlplane.CPServerConfig{
			Addr:      addr,
			AuthToken: authToken,
		})
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		if err := daemon.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("daemon start", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("email", "e", "", "Email the replica belongs to")
	rootCmd.Flags().StringP("datadir", "d", config.DefaultDataDir, "ConfSync data directory")
	rootCmd.Flags().StringP("server", "s", config.DefaultServerURL, "ConfSync relay server")
	rootCmd.Flags().StringP("http-addr", "a", controlplane.DefaultAddr, "Address to bind the local control plane")
	rootCmd.Flags().StringP("http-token", "t", "", "Access token for the local control plane")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "ConfSync config file")
}

func main() {
	logFile := config.DefaultLogFilePath

	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	// Create new log file for this instance
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	// Setup handlers for both outputs
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// Do not include time as it is added by the log interceptor.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	multiLogHandler := utils.NewMultiLogHandler(stdoutHandler, fileHandler)
	logger := slog.New(multiLogHandler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the config file, CONFSYNC_* environment variables and
// command line flags into a client config. Flags win over env, env wins
// over the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	// config path
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else if envPath := os.Getenv("CONFSYNC_CONFIG_PATH"); envPath != "" {
		viper.SetConfigFile(envPath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".confsync"))
		viper.AddConfigPath(filepath.Join(home, ".config/confsync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return nil, fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	// Bind flags to viper
	if flag := cmd.Flags().Lookup("email"); flag != nil {
		viper.BindPFlag("email", flag)
	}
	if flag := cmd.Flags().Lookup("datadir"); flag != nil {
		viper.BindPFlag("data_dir", flag)
	}
	if flag := cmd.Flags().Lookup("server"); flag != nil {
		viper.BindPFlag("server_url", flag)
	}

	// Set up environment variables
	viper.SetEnvPrefix("CONFSYNC")
	viper.AutomaticEnv()

	cfg := &config.Config{
		Path:           viper.ConfigFileUsed(),
		Email:          viper.GetString("email"),
		DataDir:        viper.GetString("data_dir"),
		ServerURL:      viper.GetString("server_url"),
		ClientURL:      viper.GetString("client_url"),
		ClientToken:    viper.GetString("client_token"),
		ReplicaID:      viper.GetString("replica_id"),
		RefreshToken:   viper.GetString("refresh_token"),
		ConflictPolicy: viper.GetString("conflict_policy"),
	}
	if cfg.Path == "" {
		cfg.Path = config.DefaultConfigPath
	}
	if cfg.DataDir == "" {
		cfg.DataDir = config.DefaultDataDir
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = config.DefaultServerURL
	}
	if cfg.ClientURL == "" {
		cfg.ClientURL = config.DefaultClientURL
	}
	if cfg.ReplicaID == "" {
		cfg.ReplicaID = config.DeriveReplicaID()
	}

	return cfg, nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).
		Print(utils.ConfSyncArt + "\n")
}
