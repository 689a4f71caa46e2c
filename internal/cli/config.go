package cli

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFile is the default name of the config file
	DefaultConfigFile = "config.yaml"
	// DefaultSessionFile holds the persisted session next to the config file
	DefaultSessionFile = "session.yaml"
	// ConfigVersion is written into new config files
	ConfigVersion = "0.1.0"

	EnvServerURL = "ADVX_SERVER_URL"
	EnvLogLevel  = "ADVX_LOG_LEVEL"

	LocalServerURL      = "http://localhost:8000/api/v1"
	ProductionServerURL = "https://client.advancex.ai/api/v1"
	defaultAPIPath      = "/api/v1"
)

// supportedConfigVersions is the range of config formats this build reads.
var supportedConfigVersions = mustConstraint("^0.1")

func mustConstraint(c string) *semver.Constraints {
	sc, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return sc
}

// Config represents the configuration for the advx CLI
type Config struct {
	// Version of the configuration file format
	Version string `yaml:"version"`
	// ServerURL is the backend API root, including its path
	ServerURL string `yaml:"server_url"`
	// LogLevel is one of trace, debug, info, warn, error
	LogLevel string `yaml:"log_level,omitempty"`
	// SweepInterval is how often the session validity check runs
	SweepInterval string `yaml:"sweep_interval,omitempty"`
	// SessionFile overrides where the session is persisted
	SessionFile string `yaml:"session_file,omitempty"`
	// InsecureSkipVerify disables TLS certificate checks
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`
}

var config *Config

// GetDefaultConfigPath returns the default path for the config file
// It uses the OS-specific config directory (e.g., ~/.config/advx on Linux)
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "advx", DefaultConfigFile), nil
}

// DefaultConfig is used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Version:   ConfigVersion,
		ServerURL: ProductionServerURL,
	}
}

// LoadConfig loads the configuration from file, falling back to defaults when
// the file does not exist. Values from the environment, or from a .env file in
// the working directory, override the file.
func LoadConfig(file string) error {
	if file == "" {
		var err error
		file, err = GetDefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get default config path: %w", err)
		}
	}

	c := DefaultConfig()
	yamlStr, err := os.ReadFile(file)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("unable to read config file: %w", err)
	default:
		c = &Config{}
		if err = yaml.Unmarshal(yamlStr, c); err != nil {
			return fmt.Errorf("unable to parse config file: %w", err)
		}
		if err := checkVersion(c.Version); err != nil {
			return err
		}
	}

	_ = godotenv.Load() // no error if .env doesn't exist
	if v := os.Getenv(EnvServerURL); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}

	if err := c.ValidateConfig(); err != nil {
		return err
	}
	c.ServerURL = MorphServer(c.ServerURL)

	config = c
	return nil
}

func checkVersion(v string) error {
	if v == "" {
		return errors.New("config file has no version")
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid config version %q: %w", v, err)
	}
	if !supportedConfigVersions.Check(ver) {
		return fmt.Errorf("config version %s is not supported; rewrite it with \"advx config --server\"", v)
	}
	return nil
}

// GetConfig returns the current configuration
func GetConfig() *Config {
	return config
}

// WriteConfig writes the current configuration to the specified file
func (cfg *Config) WriteConfig(file string) error {
	if file == "" {
		return errors.New("file path cannot be empty")
	}

	err := os.MkdirAll(filepath.Dir(file), 0o700)
	if err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}

	yamlStr, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("unable to generate configuration: %w", err)
	}

	err = os.WriteFile(file, yamlStr, os.FileMode(0600))
	if err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}

	return nil
}

// ValidateConfig checks for required fields and proper formatting
func (cfg *Config) ValidateConfig() error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	u, err := url.Parse(MorphServer(cfg.ServerURL))
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid server URL %q", cfg.ServerURL)
	}
	if _, err := cfg.GetSweepInterval(); err != nil {
		return err
	}
	return nil
}

// GetSweepInterval returns the configured sweep interval, or zero for the default.
func (cfg *Config) GetSweepInterval() (time.Duration, error) {
	if cfg.SweepInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(cfg.SweepInterval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid sweep_interval %q", cfg.SweepInterval)
	}
	return d, nil
}

// GetSessionFile returns where the session is persisted.
func (cfg *Config) GetSessionFile() (string, error) {
	if cfg.SessionFile != "" {
		return cfg.SessionFile, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "advx", DefaultSessionFile), nil
}

// MorphServer ensures the server URL is properly formatted. A bare host gets
// a scheme and the default API path; localhost is served over plain http on
// the development port.
func MorphServer(server string) string {
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	if server == "" {
		return server
	}
	if server == "localhost" {
		return LocalServerURL
	}

	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		scheme := "https://"
		if strings.HasPrefix(server, "localhost:") || strings.HasPrefix(server, "127.0.0.1") {
			scheme = "http://"
		}
		server = scheme + server
		if u, err := url.Parse(server); err == nil && u.Path == "" {
			server += defaultAPIPath
		}
	}

	return server
}

// GetServerURL returns the properly formatted server URL
func (cfg *Config) GetServerURL() string {
	return MorphServer(cfg.ServerURL)
}

func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return GetDefaultConfigPath()
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long: `Manage CLI configuration settings like the backend server.

Examples:
  # Point the CLI at a local backend
  advx config --server localhost

  # Point the CLI at a deployment
  advx config --server https://client.advancex.ai/api/v1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverFlag, _ := cmd.Flags().GetString("server")
			if serverFlag != "" {
				return setServerConfig(cmd, serverFlag)
			}
			cfg := GetConfig()
			if cfg == nil {
				return cmd.Help()
			}
			path, _ := configPath()
			if jsonOutput {
				printJSON(cmd, map[string]any{
					"server":      cfg.GetServerURL(),
					"log_level":   cfg.LogLevel,
					"config_file": path,
				})
				return nil
			}
			cmd.Printf("Server: %s\n", cfg.GetServerURL())
			cmd.Printf("Config file: %s\n", path)
			return nil
		},
	}
	cmd.Flags().String("server", "", "Set the backend URL (e.g., localhost or example.com/api/v1)")

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored session",
		Long: `Remove the stored session token, expiry and profile without contacting the server.
Use "advx logout" to also end the session on the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime()
			if err != nil {
				return err
			}
			rt.session.Clear()
			if jsonOutput {
				printJSON(cmd, map[string]int{"result": 1})
			} else {
				cmd.Println("Session cleared. Sign in with \"advx login\"")
			}
			return nil
		},
	}
	cmd.AddCommand(clear)
	return cmd
}

// setServerConfig writes a new config file pointing at server
func setServerConfig(cmd *cobra.Command, server string) error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("failed to get default config path: %w", err)
	}

	cfg := &Config{Version: ConfigVersion}
	if existing := GetConfig(); existing != nil {
		*cfg = *existing
		cfg.Version = ConfigVersion
	}
	cfg.ServerURL = MorphServer(server)
	if err := cfg.ValidateConfig(); err != nil {
		return err
	}

	if err := cfg.WriteConfig(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if jsonOutput {
		printJSON(cmd, map[string]string{
			"server":      cfg.ServerURL,
			"config_file": path,
		})
	} else {
		cmd.Printf("Server configured: %s\n", cfg.ServerURL)
		cmd.Printf("Config file: %s\n", path)
	}
	return nil
}
