package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	vim "github.com/zongyulang/IM"
)

var configShowFile bool

func init() {
	configShowCmd.Flags().BoolVar(&configShowFile, "file", false, "Print only what is stored in the file, without overrides or defaults")
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit settings",
	Long: `Settings live in ~/.vim/config.toml (or the file given with --config).
Any key can be overridden for a single run with a VIM_* environment
variable, e.g. server.host with VIM_SERVER_HOST. A .env file in the
working directory is read as well.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the settings this client would run with",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}

		var cfg *vim.Config
		if configShowFile {
			cfg, err = vim.LoadConfigFile(path)
		} else {
			cfg, err = vim.LoadConfig(path)
		}
		if err != nil {
			return err
		}
		shown := *cfg
		if shown.Auth.Token != "" {
			shown.Auth.Token = maskToken(shown.Auth.Token)
		}
		data, err := toml.Marshal(&shown)
		if err != nil {
			return fmt.Errorf("cannot render settings: %w", err)
		}

		if _, err := os.Stat(path); err != nil {
			fmt.Printf("# %s does not exist yet\n", path)
		} else {
			fmt.Printf("# %s\n", path)
		}
		fmt.Print(string(data))

		if configShowFile {
			return nil
		}
		if env := envOverrides(); len(env) > 0 {
			fmt.Println("\n# overridden from the environment:")
			for _, kv := range env {
				fmt.Printf("#   %s\n", kv)
			}
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <section.key> <value>",
	Short: "Store a setting in the config file",
	Long:  "Store a setting in the config file.\nExample: vim config set server.ws_port 9326",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := vim.LoadConfigFile(path)
		if err != nil {
			return err
		}
		if err := cfg.Set(key, value); err != nil {
			return err
		}
		if err := cfg.Save(path); err != nil {
			return fmt.Errorf("cannot write %s: %w", path, err)
		}

		fmt.Printf("%s = %s\n", key, value)
		if env := vim.EnvKey(key); os.Getenv(env) != "" {
			fmt.Fprintf(os.Stderr, "note: %s is set and takes precedence over the file\n", env)
		}
		return nil
	},
}

// envOverrides lists the VIM_* variables in effect, secrets masked.
func envOverrides() []string {
	var out []string
	for _, kv := range os.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(name, "VIM_") {
			continue
		}
		if name == vim.EnvKey("auth.token") {
			value = maskToken(value)
		}
		out = append(out, name+"="+value)
	}
	slices.Sort(out)
	return out
}
