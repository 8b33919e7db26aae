package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	vim "github.com/zongyulang/IM"
)

var loginPassword string

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (read from stdin when omitted)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store the token locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		cfg, path, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		password := loginPassword
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		app, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer app.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := app.Login(ctx, username, password); err != nil {
			return err
		}
		if err := saveAuth(path, cfg.Auth); err != nil {
			return err
		}

		fmt.Println("Login successful!")
		fmt.Printf("  User ID:  %s\n", cfg.Auth.UserID)
		fmt.Printf("  Username: %s\n", cfg.Auth.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Auth.Token == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		app, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer app.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		// Start adopts the stored login so Logout has a session to end.
		if err := app.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		if err := app.Logout(ctx); err != nil {
			return err
		}
		if err := saveAuth(path, vim.AuthConfig{}); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}
