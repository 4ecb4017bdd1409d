package engine

import "time"

// NodeConfig carries every tunable named in the block-lattice consensus
// design. DefaultNodeConfig returns the documented production defaults;
// every field is overridable, mainly so tests can run the announce loop
// on a fast tick.
type NodeConfig struct {
	AnnouncementsPerInterval int
	AnnouncementMin          int
	AnnouncementLong         int
	ElectionHistorySize      int

	ActiveTransactionsInterval     time.Duration
	ActiveTransactionsFastInterval time.Duration

	OnlineWeightQuorum int // percent, e.g. 50
	OnlineWeightWindow time.Duration

	XorCheckPossibilitiesCapLog2 int
	TopRepsHardCutoff            int
	TopRepsGenerationCutoff      int
	TopRepsConfirmationCutoff   int

	BootstrapThresholdPercent int
	GapCacheMax               int

	ArrivalTimeMin  time.Duration
	ArrivalSizeMin  int

	MaxPeersPerIP       int
	MaxLegacyPeersPerIP int
	MaxLegacyPeers      int
	KeepaliveInterval   time.Duration
	KeepaliveCutoff     time.Duration

	StapleSessionCapacity int
	StapleSessionTimeout  time.Duration
}

// DefaultNodeConfig returns the documented production defaults.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		AnnouncementsPerInterval: 32,
		AnnouncementMin:          2,
		AnnouncementLong:         20,
		ElectionHistorySize:      2048,

		ActiveTransactionsInterval:     16000 * time.Millisecond,
		ActiveTransactionsFastInterval: 10 * time.Millisecond,

		OnlineWeightQuorum: 50,
		OnlineWeightWindow: 5 * time.Minute,

		XorCheckPossibilitiesCapLog2: 3,
		TopRepsHardCutoff:            127,
		TopRepsGenerationCutoff:      64,
		TopRepsConfirmationCutoff:    90,

		BootstrapThresholdPercent: 50,
		GapCacheMax:               256,

		ArrivalTimeMin: 300 * time.Second,
		ArrivalSizeMin: 8192,

		MaxPeersPerIP:       4,
		MaxLegacyPeersPerIP: 2,
		MaxLegacyPeers:      250,
		KeepaliveInterval:   60 * time.Second,
		KeepaliveCutoff:     5 * 60 * time.Second,

		StapleSessionCapacity: 4096,
		StapleSessionTimeout:  30 * time.Second,
	}
}

// ValidateBasic performs basic sanity checks on the configuration.
func (cfg *NodeConfig) ValidateBasic() error {
	if cfg.AnnouncementMin <= 0 || cfg.AnnouncementLong <= cfg.AnnouncementMin {
		return ErrInvalidConfig
	}
	if cfg.OnlineWeightQuorum <= 0 || cfg.OnlineWeightQuorum > 100 {
		return ErrInvalidConfig
	}
	return nil
}
