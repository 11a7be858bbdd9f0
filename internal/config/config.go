// Package config loads and creates per-network configuration files.
//
// Every network lives in its own directory under the networks root:
//
//	<root>/<name>/config.yml
//	<root>/<name>/blocks/
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// FileName is the name of a network's configuration file.
	FileName = "config.yml"
	// BlocksDir is the directory holding a network's block store.
	BlocksDir = "blocks"

	envPath = "BLOCKINSIGHT7000_PATH"
)

const (
	defaultBatchSize       = 50
	defaultWorkers         = 8
	defaultRPS             = 100
	defaultMaxReorgDepth   = 100
	defaultTipPollInterval = 5 * time.Second
)

// ErrInvalidName is returned for network names that are not ASCII alphanumeric.
var ErrInvalidName = errors.New("network name must be non-empty ASCII alphanumeric")

// Network is the static configuration of one network.
type Network struct {
	// Chain selects the chain parameters: mainnet, testnet, regtest or signet.
	Chain string `yaml:"chain"`
	RPC   RPC    `yaml:"rpc"`
	// ZMQ is an optional zmqpubhashblock endpoint used to wake the sync loop early.
	ZMQ  string `yaml:"zmq,omitempty"`
	Sync Sync   `yaml:"sync"`
}

// RPC describes the peer's JSON-RPC endpoint.
type RPC struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Sync tunes block download.
type Sync struct {
	BatchSize int `yaml:"batch_size"`
	Workers   int `yaml:"workers"`
	// RPS caps node requests per second. Zero selects the default and a
	// negative value disables the limit.
	RPS             int           `yaml:"rps"`
	MaxReorgDepth   uint64        `yaml:"max_reorg_depth"`
	TipPollInterval time.Duration `yaml:"tip_poll_interval"`
}

// ValidName reports whether name can be used as a network name.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// DefaultRoot returns $BLOCKINSIGHT7000_PATH/networks, or ~/.blockinsight7000/networks.
func DefaultRoot() (string, error) {
	if base := os.Getenv(envPath); base != "" {
		return filepath.Join(base, "networks"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".blockinsight7000", "networks"), nil
}

// Path returns the configuration file path of a network.
func Path(root, name string) string {
	return filepath.Join(root, name, FileName)
}

// Load reads and validates the configuration of a network.
func Load(root, name string) (Network, error) {
	if !ValidName(name) {
		return Network{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	data, err := os.ReadFile(Path(root, name))
	if err != nil {
		return Network{}, fmt.Errorf("read network %s config: %w", name, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Network{}, fmt.Errorf("network %s: %w", name, err)
	}
	return cfg, nil
}

// Parse decodes a configuration file and fills in defaults.
func Parse(data []byte) (Network, error) {
	var cfg Network
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Network{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Chain == "" {
		return Network{}, errors.New("config: chain is required")
	}
	if cfg.RPC.URL == "" {
		return Network{}, errors.New("config: rpc.url is required")
	}
	cfg.Sync = cfg.Sync.withDefaults()
	return cfg, nil
}

func (s Sync) withDefaults() Sync {
	if s.BatchSize <= 0 {
		s.BatchSize = defaultBatchSize
	}
	if s.Workers <= 0 {
		s.Workers = defaultWorkers
	}
	if s.RPS == 0 {
		s.RPS = defaultRPS
	}
	if s.MaxReorgDepth == 0 {
		s.MaxReorgDepth = defaultMaxReorgDepth
	}
	if s.TipPollInterval <= 0 {
		s.TipPollInterval = defaultTipPollInterval
	}
	return s
}

// Discover lists the networks under root that have a configuration file, sorted by name.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || !ValidName(entry.Name()) {
			continue
		}
		if _, err := os.Stat(Path(root, entry.Name())); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
