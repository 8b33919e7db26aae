package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	vim "github.com/zongyulang/IM"
)

const requestTimeout = 15 * time.Second

func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return vim.DefaultConfigPath()
}

func loadConfig() (*vim.Config, string, error) {
	path, err := configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := vim.LoadConfig(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// saveAuth stores the login in the config file. The file is reloaded on
// its own so environment overrides are not written into it.
func saveAuth(path string, auth vim.AuthConfig) error {
	cfg, err := vim.LoadConfigFile(path)
	if err != nil {
		return err
	}
	cfg.Auth = auth
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// getClient returns a REST client carrying the stored token.
func getClient() (*vim.Client, *vim.Config, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.Token == "" {
		return nil, nil, errors.New("not logged in; run 'vim login <username>' first")
	}
	return vim.NewClient(cfg.Auth.Token, vim.WithBaseURL(cfg.HTTPBaseURL())), cfg, nil
}

// newApp builds the full client with a terminal notifier.
func newApp(cfg *vim.Config) (*vim.App, error) {
	log := newLogger()
	return vim.NewApp(cfg,
		vim.WithLogger(log),
		vim.WithNotifier(terminalNotifier{}),
	)
}

// startApp builds and starts the client from the stored login.
func startApp(ctx context.Context) (*vim.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.Token == "" {
		return nil, errors.New("not logged in; run 'vim login <username>' first")
	}
	app, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

// terminalNotifier renders attention requests on stderr.
type terminalNotifier struct{}

func (terminalNotifier) Notify(content string) { fmt.Fprintf(os.Stderr, "[notice] %s\n", content) }
func (terminalNotifier) Sound(string)          { fmt.Fprint(os.Stderr, "\a") }
func (terminalNotifier) Flash()                {}
func (terminalNotifier) Alert(text string)     { fmt.Fprintf(os.Stderr, "[alert] %s\n", text) }

func chatType(group bool) vim.ChatType {
	if group {
		return vim.ChatGroup
	}
	return vim.ChatFriend
}

// maskToken shows the first and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
