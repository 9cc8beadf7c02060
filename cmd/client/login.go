package main

import (
	"fmt"
	"os"
	"time"

	"github.com/confsync/confsync/internal/client/config"
	"github.com/confsync/confsync/internal/relaysdk"
	"github.com/confsync/confsync/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLoginCmd())
}

func newLoginCmd() *cobra.Command {
	var dataDir string
	var serverURL string
	var quiet bool

	cmd := &cobra.Command{
		Use:     "login",
		Aliases: []string{"init"},
		Short:   "Log this replica in to the relay",
		Run: func(cmd *cobra.Command, args []string) {
			var tokens *relaysdk.TokenResponse
			var email string

			// fetched from main/rootCmd/persistentFlags
			configPath := cmd.Flag("config").Value.String()

			if cfg, err := readValidConfig(configPath, true); err == nil {
				if !quiet {
					fmt.Println(green.Render("**Already logged in**"))
					logConfig(cfg)
				}
				os.Exit(0)
			}

			if err := utils.ValidateURL(serverURL); err != nil {
				fmt.Printf("%s: %s\n", red.Render("ERROR"), err)
				os.Exit(1)
			}

			resolvedDataDir, err := utils.ResolvePath(dataDir)
			if err != nil {
				fmt.Printf("%s: %s\n", red.Render("ERROR"), err)
				os.Exit(1)
			}

			resolvedConfigPath, err := utils.ResolvePath(configPath)
			if err != nil {
				fmt.Printf("%s: %s\n", red.Render("ERROR"), err)
				os.Exit(1)
			}

			var note string
			if relaysdk.AuthRequired(serverURL) {
				onEmailSubmit := func(emailInput string) error {
					return relaysdk.RequestEmailCode(cmd.Context(), serverURL, emailInput)
				}

				onOTPSubmit := func(emailInput, otpInput string) error {
					token, err := relaysdk.VerifyEmailCode(cmd.Context(), serverURL, &relaysdk.VerifyEmailCodeRequest{
						Email: emailInput,
						Code:  otpInput,
					})
					if err != nil {
						return err
					}
					email = emailInput
					tokens = token

					time.Sleep(500 * time.Millisecond)
					return nil
				}

				if err := RunLoginTUI(LoginTUIOpts{
					Email:              email,
					ServerURL:          serverURL,
					DataDir:            resolvedDataDir,
					ConfigPath:         resolvedConfigPath,
					EmailSubmitHandler: onEmailSubmit,
					OTPSubmitHandler:   onOTPSubmit,
					EmailValidator:     utils.IsValidEmail,
					OTPValidator:       relaysdk.IsValidOTP,
				}); err != nil {
					fmt.Printf("%s: %s\n", red.Render("ERROR"), err)
					os.Exit(1)
				}

				if tokens == nil {
					fmt.Printf("%s: %s\n", red.Render("ERROR"), "no auth token found")
					os.Exit(1)
				}
			} else {
				// Dev relays do not authenticate, so there is no OTP
				// round trip. The email still identifies the replica owner.
				email, _ = cmd.Flags().GetString("email")
				if !utils.IsValidEmail(email) {
					fmt.Printf("%s: %s\n", red.Render("ERROR"), "relay auth is disabled, pass --email to identify this replica")
					os.Exit(1)
				}
				note = "Relay auth is disabled, logged in without a token."
			}

			cfg := config.Default()
			cfg.Email = email
			cfg.DataDir = resolvedDataDir
			cfg.ServerURL = serverURL
			cfg.Path = resolvedConfigPath
			if tokens != nil {
				cfg.RefreshToken = tokens.RefreshToken
			}

			if err := cfg.Validate(); err != nil {
				fmt.Printf("%s: %s\n", red.Render("ERROR"), err)
				os.Exit(1)
			}

			if err := cfg.Save(); err != nil {
				fmt.Printf("%s: %s\n", red.Render("ERROR"), err)
				os.Exit(1)
			}

			if !quiet {
				fmt.Println(green.Render("ConfSync replica initialized"))
				if note != "" {
					fmt.Println(yellow.Render(note))
				}
				logConfig(cfg)
			}
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringP("email", "e", "", "email that owns this replica")
	cmd.Flags().StringVarP(&dataDir, "datadir", "d", config.DefaultDataDir, "data directory where the synced tree is stored")
	cmd.Flags().StringVarP(&serverURL, "server", "s", config.DefaultServerURL, "url of the relay server")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "disable output")

	return cmd
}
