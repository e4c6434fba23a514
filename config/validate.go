package config

import (
	"fmt"
	"strings"

	"rumiprotocol/crypto"
)

// Validate rejects configurations the daemon cannot run with.
func Validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "leveldb", "bolt":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage: %s backend needs a path", cfg.Storage.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if strings.TrimSpace(cfg.Ledgers.ICPEndpoint) == "" {
		return fmt.Errorf("ledgers: ICPEndpoint is required")
	}
	if strings.TrimSpace(cfg.Ledgers.IcusdEndpoint) == "" {
		return fmt.Errorf("ledgers: IcusdEndpoint is required")
	}
	if strings.TrimSpace(cfg.Oracle.Endpoint) == "" {
		return fmt.Errorf("oracle: Endpoint is required")
	}
	if cfg.Oracle.RefreshSeconds >= cfg.Oracle.StaleAfterSeconds {
		return fmt.Errorf("oracle: RefreshSeconds must be below StaleAfterSeconds")
	}
	if _, err := crypto.DecodeAddress(cfg.Protocol.Developer); err != nil {
		return fmt.Errorf("protocol: invalid Developer account: %w", err)
	}
	return nil
}

// DeveloperAddress parses the configured fee account.
func (c *Config) DeveloperAddress() (crypto.Address, error) {
	return crypto.DecodeAddress(c.Protocol.Developer)
}
