package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	vim "github.com/zongyulang/IM"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// chats
	chatsJSON bool

	// messages
	messagesLimit int
	messagesGroup bool
	messagesJSON  bool

	// friends
	friendsJSON bool
	searchJSON  bool
)

func init() {
	chatsCmd.Flags().BoolVar(&chatsJSON, "json", false, "Output raw JSON")

	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 20, "Maximum number of messages to return")
	messagesCmd.Flags().BoolVarP(&messagesGroup, "group", "g", false, "The chat is a group")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")

	friendsCmd.Flags().BoolVar(&friendsJSON, "json", false, "Output raw JSON")
	friendsSearchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output raw JSON")
	friendsCmd.AddCommand(friendsSearchCmd)

	rootCmd.AddCommand(chatsCmd, messagesCmd, friendsCmd)
}

// ============================================================================
// chats
// ============================================================================

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List pinned and recent chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		var top, recent []vim.Chat
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			top, err = client.Chats.TopList(gctx)
			return err
		})
		g.Go(func() (err error) {
			recent, err = client.Chats.List(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if chatsJSON {
			return printJSON(map[string][]vim.Chat{"top": top, "recent": recent})
		}
		if len(top)+len(recent) == 0 {
			fmt.Println("No chats.")
			return nil
		}
		for _, c := range top {
			fmt.Printf("* %-8s %-20s %s\n", c.Type, c.ID, c.Name)
		}
		for _, c := range recent {
			fmt.Printf("  %-8s %-20s %s\n", c.Type, c.ID, c.Name)
		}
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "Show the latest messages of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		messages, err := client.Messages.List(ctx, args[0], chatType(messagesGroup), messagesLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if messagesJSON {
			return printJSON(messages)
		}
		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		for _, m := range messages {
			printMessage(m)
		}
		return nil
	},
}

// ============================================================================
// friends
// ============================================================================

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "List friends and pending friend requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		friends, err := client.Friends.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		pending, err := client.Friends.WaitCheckList(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if friendsJSON {
			return printJSON(map[string]any{"friends": friends, "pending": pending})
		}
		for _, f := range friends {
			fmt.Printf("  %-20s %s\n", f.ID, f.Name)
		}
		if len(pending) > 0 {
			fmt.Printf("\n%d pending request(s):\n", len(pending))
			for _, p := range pending {
				fmt.Printf("  from %s: %s\n", p.UserID, p.Message)
			}
		}
		return nil
	},
}

var friendsSearchCmd = &cobra.Command{
	Use:   "search <mobile>",
	Short: "Find users by mobile number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		users, err := client.Users.Search(ctx, args[0])
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if searchJSON {
			return printJSON(users)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("  %-20s %-16s %s\n", u.ID, u.Mobile, u.Name)
		}
		return nil
	},
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printMessage(m vim.Message) {
	ts := "-"
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp).Format(time.DateTime)
	}
	fmt.Printf("[%s] %s: %s\n", ts, m.FromID, m.Content)
}
