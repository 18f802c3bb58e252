package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Intent:       DefaultIntentConfig(),
		Registry:     DefaultRegistryConfig(),
		Knowledge:    DefaultKnowledgeConfig(),
		Learning:     DefaultLearningConfig(),
		ToolPool:     DefaultToolPoolConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Auth:         DefaultAuthConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultOrchestratorConfig returns the default execution budgets.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		StepTimeout:             30 * time.Second,
		CompositionTimeout:      60 * time.Second,
		MaxSteps:                20,
		MaxIterationConcurrency: 8,
		DecomposeSearchLimit:    5,
	}
}

// DefaultIntentConfig returns the default intent resolver configuration.
func DefaultIntentConfig() IntentConfig {
	return IntentConfig{
		RulesPath:            "",
		ClassifierConfidence: 0.5,
	}
}

// DefaultRegistryConfig returns the default promotion and search settings.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MinExecutions:       5,
		MinSuccessRate:      0.7,
		SearchTopK:          5,
		SimilarityThreshold: 0.7,
	}
}

// DefaultKnowledgeConfig returns the default retention settings.
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		Retention:  30 * 24 * time.Hour,
		QueryLimit: 500,
	}
}

// DefaultLearningConfig returns the default learning cycle settings.
func DefaultLearningConfig() LearningConfig {
	return LearningConfig{
		Enabled:              true,
		Interval:             10 * time.Minute,
		MinSamples:           5,
		FailureRateThreshold: 0.3,
		CatalogSearchRPS:     1,
	}
}

// DefaultToolPoolConfig returns the default tool pool client configuration.
func DefaultToolPoolConfig() ToolPoolConfig {
	return ToolPoolConfig{
		BaseURL:    "http://localhost:9090",
		APIKey:     "",
		Timeout:    30 * time.Second,
		MaxRetries: 2,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "composer",
	}
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "composer",
		Password:        "",
		Name:            "composer.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultAuthConfig returns the default auth configuration.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:   false,
		JWTSecret: "",
		Issuer:    "composer",
	}
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "composer",
		SampleRate:   0.1,
	}
}
