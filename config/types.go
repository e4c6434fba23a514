package config

// Storage selects the backing store for the event log.
type Storage struct {
	// Backend is one of "leveldb", "bolt" or "memory". Memory is for
	// tests and throwaway runs: the event log vanishes with the process.
	Backend string `toml:"Backend"`
	Path    string `toml:"Path"`
}

// Ledgers points at the two ICRC ledgers the protocol moves funds on.
type Ledgers struct {
	ICPEndpoint   string `toml:"ICPEndpoint"`
	IcusdEndpoint string `toml:"IcusdEndpoint"`
	// FeeE8s is the collateral ledger's transfer fee. The running daemon
	// refreshes it from BadFee rejections; this value seeds the cache.
	FeeE8s uint64 `toml:"FeeE8s"`
}

// Oracle configures the exchange-rate refresh loop.
type Oracle struct {
	Endpoint          string `toml:"Endpoint"`
	RefreshSeconds    uint64 `toml:"RefreshSeconds"`
	StaleAfterSeconds uint64 `toml:"StaleAfterSeconds"`
	RequestsPerMinute uint64 `toml:"RequestsPerMinute"`
}

// Protocol holds the protocol-level accounts and loop cadences.
type Protocol struct {
	// Developer is the bech32 account receiving borrow and redemption
	// fees. Left empty, Load generates a key and fills it in.
	Developer             string `toml:"Developer"`
	DeveloperKeystorePath string `toml:"DeveloperKeystorePath"`
	PendingRetrySeconds   uint64 `toml:"PendingRetrySeconds"`
}

// Logging names the service for the structured log lines.
type Logging struct {
	Service string `toml:"Service"`
	Env     string `toml:"Env"`
	Level   string `toml:"Level"`
}
