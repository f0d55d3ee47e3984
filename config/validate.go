package config

import "fmt"

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.Sync.PruningHorizon == 0 {
		return fmt.Errorf("sync.pruning_horizon must be positive")
	}
	if cfg.Sync.OutputValidationWorkers <= 0 {
		return fmt.Errorf("sync.output_validation_workers must be positive")
	}
	switch cfg.Sync.PeerSelectionPolicy {
	case PolicyFirst, PolicyRandomWithChain:
	case "":
		cfg.Sync.PeerSelectionPolicy = PolicyRandomWithChain
	default:
		return fmt.Errorf("sync.peer_selection_policy must be %q or %q", PolicyFirst, PolicyRandomWithChain)
	}
	if cfg.Sync.HeaderRequestSize == 0 {
		return fmt.Errorf("sync.header_request_size must be positive")
	}
	if cfg.Sync.BlockRequestSize == 0 {
		return fmt.Errorf("sync.block_request_size must be positive")
	}
	if cfg.Sync.MaxFrameBytes == 0 {
		return fmt.Errorf("sync.max_frame_bytes must be positive")
	}
	return nil
}
