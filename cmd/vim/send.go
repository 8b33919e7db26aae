package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	sendGroup bool
	sendFile  string
)

func init() {
	sendCmd.Flags().BoolVarP(&sendGroup, "group", "g", false, "The chat is a group")
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "Upload and send a file instead of text")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> [message...]",
	Short: "Send a message over the live connection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID := args[0]
		text := strings.Join(args[1:], " ")
		if text == "" && sendFile == "" {
			return fmt.Errorf("nothing to send: pass a message or --file")
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		app, err := startApp(ctx)
		if err != nil {
			return err
		}
		defer app.Shutdown()

		if sendFile != "" {
			data, err := os.ReadFile(sendFile)
			if err != nil {
				return fmt.Errorf("cannot read file: %w", err)
			}
			if err := app.SendFile(ctx, chatID, chatType(sendGroup), filepath.Base(sendFile), data); err != nil {
				return err
			}
			fmt.Printf("File %s sent to %s\n", filepath.Base(sendFile), chatID)
		}
		if text != "" {
			if err := app.SendText(chatID, chatType(sendGroup), text); err != nil {
				return err
			}
			fmt.Printf("Message sent to %s\n", chatID)
		}
		return nil
	},
}
