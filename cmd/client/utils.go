package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/confsync/confsync/internal/client/config"
	"github.com/confsync/confsync/internal/relaysdk"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// logConfig prints a short summary of the replica config.
func logConfig(cfg *config.Config) {
	fmt.Println(gray.Render("CONFSYNC REPLICA CONFIG"))
	fmt.Printf("%s %s\n", gray.Render("Config "), cyan.Render(cfg.Path))
	fmt.Printf("%s %s\n", gray.Render("Email  "), cyan.Render(cfg.Email))
	fmt.Printf("%s %s\n", gray.Render("Data   "), cyan.Render(cfg.DataDir))
	fmt.Printf("%s %s\n", gray.Render("Server "), cyan.Render(cfg.ServerURL))
	fmt.Printf("%s %s\n", gray.Render("Replica"), cyan.Render(cfg.ReplicaID))
}

// readValidConfig loads and validates the config at path. With requireAuth
// it also insists on a live refresh token, so callers can tell "configured"
// apart from "logged in".
func readValidConfig(path string, requireAuth bool) (*config.Config, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if requireAuth && relaysdk.AuthRequired(cfg.ServerURL) {
		if cfg.RefreshToken == "" {
			return nil, fmt.Errorf("no refresh token in config")
		}
		if _, err := relaysdk.ParseToken(cfg.RefreshToken, relaysdk.RefreshToken); err != nil {
			return nil, fmt.Errorf("refresh token: %w", err)
		}
	}
	return cfg, nil
}
