package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// ============================================================================
// Global flags
// ============================================================================

var (
	configFile string
	verbose    bool
)

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "vim",
	Short: "Instant messaging client",
	Long: "Command-line client for the IM server.\n" +
		"Log in, list chats, send messages and listen for incoming traffic.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.vim/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
