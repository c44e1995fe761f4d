// Package config loads client settings from an optional YAML file. Missing
// keys keep their defaults; command-line flags are applied on top by main.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIURL string `yaml:"api_url"`
	WSURL  string `yaml:"ws_url"`

	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	PreviewParallelism int           `yaml:"preview_parallelism"`

	// Store is `memory`, `bolt:<path>` or a redis:// url.
	Store string `yaml:"store"`

	// Instances is the number of sessions run by this process over the store.
	Instances int    `yaml:"instances"`
	DebugAddr string `yaml:"debug_addr"`

	// Credentials, saved into the store at start when set.
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
}

func Default() *Config {
	return &Config{
		APIURL:             "http://localhost:8080",
		WSURL:              "ws://localhost:8080/ws/websocket",
		ReconnectDelay:     5 * time.Second,
		RefreshInterval:    30 * time.Second,
		PollInterval:       700 * time.Millisecond,
		PreviewParallelism: 16,
		Store:              "bolt:minichat.db",
		Instances:          1,
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %v", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %v", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		errs = append(errs, "api_url must be a http(s) url")
	}
	if !strings.HasPrefix(c.WSURL, "ws://") && !strings.HasPrefix(c.WSURL, "wss://") {
		errs = append(errs, "ws_url must be a ws(s) url")
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, "reconnect_delay must be positive")
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, "refresh_interval must be positive")
	}
	if c.PollInterval <= 0 {
		errs = append(errs, "poll_interval must be positive")
	}
	if c.PreviewParallelism <= 0 {
		errs = append(errs, "preview_parallelism must be positive")
	}
	if c.Store == "" {
		errs = append(errs, "store is required")
	}
	if c.Instances <= 0 {
		errs = append(errs, "instances must be positive")
	}
	if (c.Token == "") != (c.Username == "") {
		errs = append(errs, "token and username go together")
	}
	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}
