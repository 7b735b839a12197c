package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"investpool/crypto"
)

// Config is the TOML-backed service configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	// DataDir roots the LevelDB store. An empty value keeps the ledger in
	// memory, which is only useful for local experiments.
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`
	// OwnerAddress is the privileged identity permitted to approve, deny
	// and default-close loans.
	OwnerAddress string `toml:"OwnerAddress"`
	// InterestRateBps is the fixed linear rate stamped on new loans.
	InterestRateBps uint64 `toml:"InterestRateBps"`
	// CollateralRatioBps sizes required collateral relative to principal.
	CollateralRatioBps uint64 `toml:"CollateralRatioBps"`
	// RequestsPerMinute and RequestBurst throttle the HTTP API per client.
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	RequestBurst      int     `toml:"RequestBurst"`
	// LogFile enables rotating file output when set; stdout otherwise.
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	// Genesis maps addresses to initial balances (decimal strings) funded
	// at first start.
	Genesis map[string]string `toml:"Genesis"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ListenAddress:      ":8645",
		Environment:        "local",
		InterestRateBps:    500,
		CollateralRatioBps: 15_000,
		RequestsPerMinute:  600,
		RequestBurst:       30,
		LogMaxSizeMB:       100,
		LogMaxBackups:      5,
	}
}

// Load reads the configuration at path, falling back to defaults when the
// file does not exist. Unknown keys are rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := Default()
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaults.ListenAddress
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = defaults.Environment
	}
	if c.CollateralRatioBps == 0 {
		c.CollateralRatioBps = defaults.CollateralRatioBps
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if c.RequestBurst <= 0 {
		c.RequestBurst = defaults.RequestBurst
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = defaults.LogMaxSizeMB
	}
	if c.LogMaxBackups <= 0 {
		c.LogMaxBackups = defaults.LogMaxBackups
	}
}

// Validate checks the configuration for values the ledger cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OwnerAddress) == "" {
		return fmt.Errorf("config: OwnerAddress is required")
	}
	if _, err := crypto.ParseAddress(c.OwnerAddress); err != nil {
		return fmt.Errorf("config: OwnerAddress: %w", err)
	}
	if c.CollateralRatioBps < 10_000 {
		return fmt.Errorf("config: CollateralRatioBps must be at least 10000 (collateral cannot be worth less than principal)")
	}
	if c.InterestRateBps > 10_000 {
		return fmt.Errorf("config: InterestRateBps above 10000 is not supported")
	}
	for addr, balance := range c.Genesis {
		if _, err := crypto.ParseAddress(addr); err != nil {
			return fmt.Errorf("config: Genesis address %q: %w", addr, err)
		}
		if _, ok := new(big.Int).SetString(strings.TrimSpace(balance), 10); !ok {
			return fmt.Errorf("config: Genesis balance %q for %s is not a decimal integer", balance, addr)
		}
	}
	return nil
}

// Owner returns the parsed owner address.
func (c *Config) Owner() (crypto.Address, error) {
	return crypto.ParseAddress(c.OwnerAddress)
}

// GenesisBalances returns the parsed genesis allocation.
func (c *Config) GenesisBalances() (map[crypto.Address]*big.Int, error) {
	balances := make(map[crypto.Address]*big.Int, len(c.Genesis))
	for raw, value := range c.Genesis {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
		if !ok {
			return nil, fmt.Errorf("config: invalid genesis balance for %s", raw)
		}
		balances[addr] = amount
	}
	return balances, nil
}
