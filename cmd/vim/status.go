package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	vim "github.com/zongyulang/IM"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and login status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  File:      %s\n", path)
		fmt.Printf("  REST:      %s\n", cfg.HTTPBaseURL())
		fmt.Printf("  WebSocket: %s\n", cfg.WSURL())
		fmt.Printf("  Client:    %s\n", cfg.Client.Type)
		fmt.Printf("  Data dir:  %s\n", valueOrDefault(cfg.Client.DataDir, "(memory only)"))
		fmt.Printf("  Heartbeat: %s, timeout %s, retry every %s up to %d times\n",
			cfg.Heartbeat(), cfg.Timeout(), cfg.RetryInterval(), cfg.Session.MaxRetries)

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Token == "" {
			fmt.Println("  Token:     (not logged in)")
			return nil
		}
		fmt.Printf("  Username:  %s\n", valueOrDefault(cfg.Auth.Username, "(unknown)"))
		fmt.Printf("  User ID:   %s\n", valueOrDefault(cfg.Auth.UserID, "(unknown)"))
		fmt.Printf("  Token:     %s\n", maskToken(cfg.Auth.Token))

		client := vim.NewClient(cfg.Auth.Token, vim.WithBaseURL(cfg.HTTPBaseURL()))
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")
		valid, err := client.Auth.CheckLogin(ctx)
		if err != nil {
			fmt.Printf("  Error checking login: %v\n", err)
			return nil
		}
		if !valid {
			fmt.Println("  Token:     EXPIRED")
			return nil
		}
		fmt.Println("  Token:     valid")

		me, err := client.Users.Current(ctx)
		if err != nil {
			fmt.Printf("  Error fetching account info: %v\n", err)
			return nil
		}
		fmt.Printf("  Name:      %s\n", me.Name)
		if me.Email != "" {
			fmt.Printf("  Email:     %s\n", me.Email)
		}
		if me.Mobile != "" {
			fmt.Printf("  Mobile:    %s\n", me.Mobile)
		}
		return nil
	},
}
