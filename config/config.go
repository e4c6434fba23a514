package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rumiprotocol/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, loaded from a TOML file.
type Config struct {
	DataDir  string   `toml:"DataDir"`
	Storage  Storage  `toml:"Storage"`
	Ledgers  Ledgers  `toml:"Ledgers"`
	Oracle   Oracle   `toml:"Oracle"`
	Protocol Protocol `toml:"Protocol"`
	Logging  Logging  `toml:"Logging"`
}

// Load loads the configuration from the given path, writing a default
// file (with a freshly generated developer account) when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := ensureDeveloper(path, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills the optional knobs a hand-edited file may omit.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./rumi-data"
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = filepath.Join(cfg.DataDir, "events")
	}
	if cfg.Oracle.RefreshSeconds == 0 {
		cfg.Oracle.RefreshSeconds = 60
	}
	if cfg.Oracle.StaleAfterSeconds == 0 {
		cfg.Oracle.StaleAfterSeconds = 300
	}
	if cfg.Oracle.RequestsPerMinute == 0 {
		cfg.Oracle.RequestsPerMinute = 30
	}
	if cfg.Protocol.PendingRetrySeconds == 0 {
		cfg.Protocol.PendingRetrySeconds = 5
	}
	if strings.TrimSpace(cfg.Logging.Service) == "" {
		cfg.Logging.Service = "rumid"
	}
	if strings.TrimSpace(cfg.Logging.Env) == "" {
		cfg.Logging.Env = "local"
	}
}

// ensureDeveloper generates the fee account when the file carries none,
// saving the key beside the config and persisting the derived address.
func ensureDeveloper(configPath string, cfg *Config) error {
	if strings.TrimSpace(cfg.Protocol.Developer) != "" {
		return nil
	}
	keystorePath := cfg.Protocol.DeveloperKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	var key *crypto.PrivateKey
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, err = crypto.GeneratePrivateKey()
		if err != nil {
			return err
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else {
		key, err = crypto.LoadFromKeystore(keystorePath, "")
		if err != nil {
			return fmt.Errorf("config: decrypt developer keystore %s: %w", keystorePath, err)
		}
	}

	cfg.Protocol.Developer = key.PubKey().Address().String()
	cfg.Protocol.DeveloperKeystorePath = keystorePath
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Ledgers: Ledgers{
			ICPEndpoint:   "http://127.0.0.1:4943/ledger/icp",
			IcusdEndpoint: "http://127.0.0.1:4943/ledger/icusd",
			FeeE8s:        10_000,
		},
		Oracle: Oracle{
			Endpoint: "http://127.0.0.1:4943/xrc",
		},
	}
	applyDefaults(cfg)
	if err := ensureDeveloper(path, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	return filepath.Join(dir, "developer.keystore.json")
}
