package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultServerURL    = "http://127.0.0.1:8080"
	defaultShareBaseURL = "https://linkdrop.app/"
	identityDirectory   = "linkdrop"
	identityFileName    = "identity.yaml"
)

// ClientConfig captures runtime configuration for the command line client.
type ClientConfig struct {
	ServerURL    string
	IdentityPath string
	ShareBaseURL string
	LogLevel     string
}

// NewClientViper returns a viper instance with client defaults and env bindings configured.
func NewClientViper() *viper.Viper {
	configViper := viper.New()
	ApplyClientDefaults(configViper)
	return configViper
}

// ApplyClientDefaults configures client defaults and env bindings on the provided viper instance.
func ApplyClientDefaults(configViper *viper.Viper) {
	bindEnvironment(configViper)

	configViper.SetDefault("server.url", defaultServerURL)
	configViper.SetDefault("identity.path", DefaultIdentityPath())
	configViper.SetDefault("share.base_url", defaultShareBaseURL)
	configViper.SetDefault("log.level", "warn")
}

// LoadClient parses client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL:    strings.TrimRight(strings.TrimSpace(configViper.GetString("server.url")), "/"),
		IdentityPath: strings.TrimSpace(configViper.GetString("identity.path")),
		ShareBaseURL: strings.TrimSpace(configViper.GetString("share.base_url")),
		LogLevel:     configViper.GetString("log.level"),
	}
	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) validate() error {
	parsed, err := url.Parse(c.ServerURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("server.url must be an absolute URL")
	}
	if c.IdentityPath == "" {
		return fmt.Errorf("identity.path is required")
	}
	return nil
}

// DefaultIdentityPath returns the identity file under the user configuration directory.
func DefaultIdentityPath() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		return identityFileName
	}
	return filepath.Join(base, identityDirectory, identityFileName)
}
