package config

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       30303,
			MaxPeers:   50,
			Seeds:      []string{},
		},
		Sync: SyncConfig{
			PruningHorizon:                DefaultPruningHorizon,
			OutputValidationWorkers:       DefaultOutputValidationWorkers,
			BypassRangeProofs:             false,
			PeerSelectionPolicy:           PolicyRandomWithChain,
			HeaderRequestSize:             100,
			BlockRequestSize:              10,
			MaxBlockRequestRetryAttempts:  3,
			MaxAddBlockRetryAttempts:      3,
			MaxHeaderRequestRetryAttempts: 3,
			RPCDeadlineSeconds:            30,
			MaxLatencyMillis:              2000,
			MaxLatencyIncreaseMillis:      500,
			MaxLatencyIncreases:           3,
			ShortBanDuration:              5 * 60,
			LongBanDuration:               24 * 60 * 60,
			MaxFrameBytes:                 4 << 20,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.P2P.Port = 30304
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
