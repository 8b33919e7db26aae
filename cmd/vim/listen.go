package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	vim "github.com/zongyulang/IM"
)

var (
	listenOpen  string
	listenGroup bool
)

func init() {
	listenCmd.Flags().StringVar(&listenOpen, "open", "", "Open this chat so incoming messages are marked read")
	listenCmd.Flags().BoolVarP(&listenGroup, "group", "g", false, "The opened chat is a group")
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stay connected and print incoming messages",
	Long:  "Connect to the server and print messages, unread counts and connection\nstate changes until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		startCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		app, err := startApp(startCtx)
		cancel()
		if err != nil {
			return err
		}
		defer app.Shutdown()

		loggedOut := make(chan struct{}, 1)
		app.Subscribe(func(ev vim.Event) {
			switch ev.Kind {
			case vim.EventMessageAdded:
				printMessage(*ev.Message)
			case vim.EventUnreadChanged:
				if n := app.Conversations.UnreadCount(ev.ChatID); n > 0 {
					fmt.Printf("  (%s: %d unread)\n", ev.ChatID, n)
				}
			case vim.EventSessionState:
				fmt.Fprintf(os.Stderr, "connection %s\n", ev.State)
			case vim.EventDirectory:
				if n := len(app.Directory.FriendRequests()); n > 0 {
					fmt.Printf("  (%d pending friend request(s))\n", n)
				}
			case vim.EventLogout:
				select {
				case loggedOut <- struct{}{}:
				default:
				}
			}
		})

		if listenOpen != "" {
			chat, ok := app.Conversations.Chat(listenOpen)
			if !ok {
				chat = vim.Chat{ID: listenOpen, Type: chatType(listenGroup)}
			}
			app.Conversations.OpenChat(chat)
		}

		fmt.Fprintln(os.Stderr, "Listening, press Ctrl-C to stop.")
		select {
		case <-ctx.Done():
			return nil
		case <-loggedOut:
			return fmt.Errorf("logged out by the server")
		}
	},
}
