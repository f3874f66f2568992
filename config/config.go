package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"merchantvault/crypto"

	"github.com/BurntSushi/toml"
)

// Config carries the vaultd service configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`
	LogFile       string `toml:"LogFile"`
	// Authority is the bech32 identity allowed to mutate registry
	// configuration. The registry for this authority is created on first
	// boot when absent.
	Authority string `toml:"Authority"`

	// MinDepositNative and MinDepositToken override the registry defaults
	// on first boot. Zero keeps the deployment default.
	MinDepositNative uint64 `toml:"MinDepositNative"`
	MinDepositToken  uint64 `toml:"MinDepositToken"`

	// RateLimitPerMinute caps mutating requests per client identity. Zero
	// disables throttling.
	RateLimitPerMinute float64 `toml:"RateLimitPerMinute"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`

	// OTLPEndpoint enables trace and metric export when set.
	OTLPEndpoint string `toml:"OTLPEndpoint"`
	OTLPInsecure bool   `toml:"OTLPInsecure"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for values the service cannot run
// with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must not be empty")
	}
	if strings.TrimSpace(c.Authority) != "" {
		if _, err := crypto.DecodeAddress(c.Authority); err != nil {
			return fmt.Errorf("config: invalid Authority address: %w", err)
		}
	}
	return nil
}

// AuthorityAddress decodes the configured authority identity. Returns false
// when no authority is configured.
func (c *Config) AuthorityAddress() (crypto.Address, bool, error) {
	trimmed := strings.TrimSpace(c.Authority)
	if trimmed == "" {
		return crypto.Address{}, false, nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, false, err
	}
	return addr, true, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8671"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./vault-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
