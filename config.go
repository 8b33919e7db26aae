package vim

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
)

// ============================================================================
// Config types
// ============================================================================

// Config is the client configuration stored in ~/.vim/config.toml.
// Every field can be overridden from the environment with the VIM_
// prefix, e.g. VIM_SERVER_HOST or VIM_SESSION_HEARTBEAT_MS.
type Config struct {
	Server  ServerConfig  `toml:"server" envconfig:"SERVER"`
	Client  ClientConfig  `toml:"client" envconfig:"CLIENT"`
	Session SessionTuning `toml:"session" envconfig:"SESSION"`
	Auth    AuthConfig    `toml:"auth" envconfig:"AUTH"`
}

// ServerConfig locates the REST and WebSocket endpoints.
type ServerConfig struct {
	Host         string `toml:"host" envconfig:"HOST"`
	HTTPProtocol string `toml:"http_protocol" envconfig:"HTTP_PROTOCOL"`
	WSProtocol   string `toml:"ws_protocol" envconfig:"WS_PROTOCOL"`
	HTTPPort     int    `toml:"http_port" envconfig:"HTTP_PORT"`
	WSPort       int    `toml:"ws_port" envconfig:"WS_PORT"`
}

// ClientConfig describes this client to the server.
type ClientConfig struct {
	Type      string `toml:"type" envconfig:"TYPE"`
	SoundPath string `toml:"sound_path" envconfig:"SOUND_PATH"`
	DataDir   string `toml:"data_dir" envconfig:"DATA_DIR"`
}

// SessionTuning holds the connection manager's timing knobs.
type SessionTuning struct {
	HeartbeatMillis     int `toml:"heartbeat_ms" envconfig:"HEARTBEAT_MS"`
	TimeoutMillis       int `toml:"timeout_ms" envconfig:"TIMEOUT_MS"`
	RetryIntervalMillis int `toml:"retry_interval_ms" envconfig:"RETRY_INTERVAL_MS"`
	MaxRetries          int `toml:"max_retries" envconfig:"MAX_RETRIES"`
}

// AuthConfig holds the login state kept between runs.
type AuthConfig struct {
	Token    string `toml:"token" envconfig:"TOKEN"`
	UserID   string `toml:"user_id" envconfig:"USER_ID"`
	Username string `toml:"username" envconfig:"USERNAME"`
}

func (c *Config) defaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.HTTPProtocol == "" {
		c.Server.HTTPProtocol = "http"
	}
	if c.Server.WSProtocol == "" {
		c.Server.WSProtocol = "ws"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.WSPort == 0 {
		c.Server.WSPort = 9326
	}
	if c.Client.Type == "" {
		c.Client.Type = "pc"
	}
	if c.Client.SoundPath == "" {
		c.Client.SoundPath = "/static/Message.mp3"
	}
	if c.Session.HeartbeatMillis == 0 {
		c.Session.HeartbeatMillis = 3000
	}
	if c.Session.TimeoutMillis == 0 {
		c.Session.TimeoutMillis = 5000
	}
	if c.Session.RetryIntervalMillis == 0 {
		c.Session.RetryIntervalMillis = 3000
	}
	if c.Session.MaxRetries == 0 {
		c.Session.MaxRetries = 50
	}
}

// HTTPBaseURL is the REST endpoint root.
func (c *Config) HTTPBaseURL() string {
	return c.Server.HTTPProtocol + "://" + net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.HTTPPort))
}

// WSURL is the WebSocket endpoint.
func (c *Config) WSURL() string {
	return c.Server.WSProtocol + "://" + net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.WSPort))
}

// SoundURL is where the notification sound is served.
func (c *Config) SoundURL() string {
	return c.HTTPBaseURL() + c.Client.SoundPath
}

// Heartbeat returns the heartbeat interval.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Session.HeartbeatMillis) * time.Millisecond
}

// Timeout returns how long to wait for traffic after a ping.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Session.TimeoutMillis) * time.Millisecond
}

// RetryInterval returns the fixed delay before a reconnect attempt.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Session.RetryIntervalMillis) * time.Millisecond
}

// ============================================================================
// Loading and saving
// ============================================================================

// DefaultConfigDir returns ~/.vim, creating it if needed.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".vim")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// DefaultConfigPath returns ~/.vim/config.toml.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LoadConfig reads the TOML file at path, which may be missing, applies
// a .env file from the working directory and VIM_* environment
// variables on top, then fills in defaults.
func LoadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cannot load .env: %w", err)
	}
	if err := envconfig.Process("vim", cfg); err != nil {
		return nil, fmt.Errorf("unable to get envconfig: %w", err)
	}
	cfg.defaults()
	return cfg, nil
}

// LoadConfigFile reads only the TOML file, without environment
// overrides or defaults. Use it to edit and save the file.
func LoadConfigFile(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	return &cfg, nil
}

// EnvKey is the environment variable that overrides a dotted config key,
// e.g. server.host -> VIM_SERVER_HOST.
func EnvKey(key string) string {
	return "VIM_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Save writes the config back to path as TOML.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// Set assigns a field using dot notation (e.g. "server.host").
func (c *Config) Set(key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.host)")
	}

	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		return n, nil
	}

	var err error
	switch section {
	case "server":
		switch field {
		case "host":
			c.Server.Host = value
		case "http_protocol":
			c.Server.HTTPProtocol = value
		case "ws_protocol":
			c.Server.WSProtocol = value
		case "http_port":
			c.Server.HTTPPort, err = atoi()
		case "ws_port":
			c.Server.WSPort, err = atoi()
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "client":
		switch field {
		case "type":
			c.Client.Type = value
		case "sound_path":
			c.Client.SoundPath = value
		case "data_dir":
			c.Client.DataDir = value
		default:
			return fmt.Errorf("unknown field %q in section [client]", field)
		}
	case "session":
		switch field {
		case "heartbeat_ms":
			c.Session.HeartbeatMillis, err = atoi()
		case "timeout_ms":
			c.Session.TimeoutMillis, err = atoi()
		case "retry_interval_ms":
			c.Session.RetryIntervalMillis, err = atoi()
		case "max_retries":
			c.Session.MaxRetries, err = atoi()
		default:
			return fmt.Errorf("unknown field %q in section [session]", field)
		}
	case "auth":
		switch field {
		case "token":
			c.Auth.Token = value
		case "user_id":
			c.Auth.UserID = value
		case "username":
			c.Auth.Username = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, client, session, auth)", section)
	}
	return err
}
