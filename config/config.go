// Package config loads the JSON deployment configuration shared by every
// node in a vaccination-record chain: block timing, admission limits,
// storage locations, and the genesis bootstrap set. Multiple nodes of one
// deployment load the same file, matching the original client's CONFIG
// singleton.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// BootstrapAdmission is a founding admission key embedded into the genesis
// block as a self-signed Permission(Admission) transaction.
type BootstrapAdmission struct {
	PubKeyHex  string `json:"pub_key"`
	PrivKeyHex string `json:"priv_key"` // present only for local dev genesis generation
}

// GenesisConfig describes the chain's bootstrap set: the founding
// admissions and the vaccines they are pre-authorised to administer.
// These are embedded in the genesis block as ordinary self-signed
// Permission/Vaccine transactions rather than tracked separately, since
// Permission transactions need no prior eligibility beyond a valid
// signature.
type GenesisConfig struct {
	ChainID     string                `json:"chain_id"`
	Timestamp   int64                 `json:"timestamp"`
	Admissions  []BootstrapAdmission  `json:"admissions"`
	Vaccines    []string              `json:"vaccines"`
}

// Config holds the deployment-wide node configuration read from disk,
// recognizing exactly the options named in the original CONFIG table.
type Config struct {
	BlockTimeSeconds  int    `json:"block_time"`         // seconds between expected block slots
	BlockSize         int    `json:"block_size"`         // max transactions per block
	Version           int    `json:"version"`            // protocol version stamped on the genesis transactions
	KeyFolder         string `json:"key_folder"`         // directory holding this node's keystore file
	PersistanceFolder string `json:"persistance_folder"` // directory holding the leveldb store

	DefaultPort int           `json:"default_port"` // P2P listen port when SERVER_PORT is unset
	Genesis     GenesisConfig `json:"genesis"`
}

// BlockTime returns the configured block interval as a time.Duration.
func (c *Config) BlockTime() time.Duration {
	return time.Duration(c.BlockTimeSeconds) * time.Second
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		BlockTimeSeconds:  10,
		BlockSize:         100,
		Version:           1,
		KeyFolder:         "./keys",
		PersistanceFolder: "./data",
		DefaultPort:       30303,
		Genesis: GenesisConfig{
			ChainID:   "vaccination-records-dev",
			Timestamp: 0,
		},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.BlockTimeSeconds <= 0 {
		return fmt.Errorf("block_time must be positive")
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block_size must be positive")
	}
	if c.KeyFolder == "" {
		return fmt.Errorf("key_folder must not be empty")
	}
	if c.PersistanceFolder == "" {
		return fmt.Errorf("persistance_folder must not be empty")
	}
	if c.DefaultPort <= 0 || c.DefaultPort > 65535 {
		return fmt.Errorf("default_port must be 1-65535, got %d", c.DefaultPort)
	}
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id must not be empty")
	}
	if len(c.Genesis.Admissions) == 0 {
		return fmt.Errorf("genesis must declare at least one founding admission")
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
