package config

import "time"

// DefaultConfig returns the configuration the service runs with when no
// file or environment overrides are present. Values match the per-package
// constructor defaults so a zero-config deployment and a programmatic one
// behave identically.
func DefaultConfig() *Config {
	return &Config{
		Log:           DefaultLogConfig(),
		Memory:        DefaultMemoryConfig(),
		Salience:      DefaultSalienceConfig(),
		Goals:         DefaultGoalsConfig(),
		Episodes:      DefaultEpisodesConfig(),
		Consolidation: DefaultConsolidationConfig(),
		Orchestrator:  DefaultOrchestratorConfig(),
		Redis:         DefaultRedisConfig(),
		Database:      DefaultDatabaseConfig(),
	}
}

// DefaultLogConfig returns json logging at info level to stdout.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMemoryConfig returns session lifecycle defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxSessionsPerUser: 3,
		IdleTimeout:        30 * time.Minute,
		SweepInterval:      5 * time.Minute,
		SnapshotTimeout:    2 * time.Second,
		SnapshotTTL:        7 * 24 * time.Hour,
		MaxTurns:           15,
	}
}

// DefaultSalienceConfig returns scorer defaults.
func DefaultSalienceConfig() SalienceConfig {
	return SalienceConfig{
		RecencyHalfLife:    24 * time.Hour,
		MaxAssumedAccesses: 100,
		Weights: WeightsConfig{
			Recency:       0.20,
			Frequency:     0.10,
			Relevance:     0.30,
			Importance:    0.15,
			GoalAlignment: 0.15,
			EntityOverlap: 0.10,
		},
	}
}

// DefaultGoalsConfig returns goal tracker defaults.
func DefaultGoalsConfig() GoalsConfig {
	return GoalsConfig{
		MinConfidence:     0.6,
		CompletionOverlap: 0.6,
	}
}

// DefaultEpisodesConfig returns episode detector defaults.
func DefaultEpisodesConfig() EpisodesConfig {
	return EpisodesConfig{
		Window:             48 * time.Hour,
		MinClusterSize:     3,
		MinDeadlineCluster: 2,
		ActivityNorm:       10,
		CacheTTL:           15 * time.Minute,
		MaxEpisodes:        5,
	}
}

// DefaultConsolidationConfig returns consolidation worker defaults.
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		Interval:           time.Hour,
		RunTimeout:         30 * time.Second,
		PromotionThreshold: 0.7,
		DecayAfter:         7 * 24 * time.Hour,
		DecayRate:          0.05,
		MergeThreshold:     0.85,
		MergeBoost:         0.05,
		RemovalFloor:       0.1,
		GoalRetention:      30 * 24 * time.Hour,
		PatternStaleness:   14 * 24 * time.Hour,
		PatternPenalty:     0.1,
		StoreOpsPerSecond:  50,
		HistoryLimit:       50,
	}
}

// DefaultOrchestratorConfig returns context assembly defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		FactSearchLimit:  10,
		RecentTurnWindow: 10,
		BranchTimeout:    2 * time.Second,
		DueSoonWindow:    24 * time.Hour,
		MaxContextLength: 4000,
	}
}

// DefaultRedisConfig returns a local single-node connection.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns a local sqlite file store.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "agentmemory.db",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}
