package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rumiprotocol/crypto"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rumid.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err, "default file must be written")
	require.Equal(t, "leveldb", cfg.Storage.Backend)
	require.EqualValues(t, 60, cfg.Oracle.RefreshSeconds)
	require.EqualValues(t, 300, cfg.Oracle.StaleAfterSeconds)

	// A developer account is generated and its keystore saved.
	addr, err := cfg.DeveloperAddress()
	require.NoError(t, err)
	require.False(t, addr.IsAnonymous())
	_, err = os.Stat(cfg.Protocol.DeveloperKeystorePath)
	require.NoError(t, err, "keystore must be written")
	key, err := crypto.LoadFromKeystore(cfg.Protocol.DeveloperKeystorePath, "")
	require.NoError(t, err)
	require.Equal(t, addr, key.PubKey().Address())

	// Loading again keeps the same account.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Protocol.Developer, again.Protocol.Developer)
}

func TestLoadFillsOmittedKnobs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rumid.toml")
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	body := `
[Storage]
Backend = "memory"

[Ledgers]
ICPEndpoint = "http://localhost:4943/ledger/icp"
IcusdEndpoint = "http://localhost:4943/ledger/icusd"
FeeE8s = 10000

[Oracle]
Endpoint = "http://localhost:4943/xrc"

[Protocol]
Developer = "` + key.PubKey().Address().String() + `"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 60, cfg.Oracle.RefreshSeconds)
	require.EqualValues(t, 5, cfg.Protocol.PendingRetrySeconds)
	require.Equal(t, "rumid", cfg.Logging.Service)
}

func TestValidateRejections(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	developer := key.PubKey().Address().String()

	base := func() *Config {
		cfg := &Config{
			Ledgers: Ledgers{
				ICPEndpoint:   "http://localhost/icp",
				IcusdEndpoint: "http://localhost/icusd",
			},
			Oracle:   Oracle{Endpoint: "http://localhost/xrc"},
			Protocol: Protocol{Developer: developer},
		}
		applyDefaults(cfg)
		return cfg
	}

	require.NoError(t, Validate(base()))

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"leveldb without path", func(c *Config) { c.Storage.Path = "" }},
		{"refresh slower than staleness", func(c *Config) { c.Oracle.RefreshSeconds = 600 }},
		{"bad developer account", func(c *Config) { c.Protocol.Developer = "not-an-address" }},
		{"missing icusd endpoint", func(c *Config) { c.Ledgers.IcusdEndpoint = "" }},
		{"missing oracle endpoint", func(c *Config) { c.Oracle.Endpoint = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			require.Error(t, Validate(cfg))
		})
	}
}
