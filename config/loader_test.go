package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 30*time.Second, cfg.Orchestrator.StepTimeout)
	assert.Equal(t, 60*time.Second, cfg.Orchestrator.CompositionTimeout)
	assert.Equal(t, 20, cfg.Orchestrator.MaxSteps)

	assert.Equal(t, 5, cfg.Registry.MinExecutions)
	assert.Equal(t, 0.7, cfg.Registry.MinSuccessRate)
	assert.Equal(t, 0.7, cfg.Registry.SimilarityThreshold)

	assert.Equal(t, 30*24*time.Hour, cfg.Knowledge.Retention)
	assert.True(t, cfg.Learning.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Learning.Interval)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "composer", cfg.Redis.KeyPrefix)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Auth.Enabled)
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 5, cfg.Registry.MinExecutions)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "composer.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

orchestrator:
  step_timeout: 10s
  composition_timeout: 45s
  max_steps: 12

registry:
  min_executions: 7
  min_success_rate: 0.9

knowledge:
  retention: 168h

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 10*time.Second, cfg.Orchestrator.StepTimeout)
	assert.Equal(t, 45*time.Second, cfg.Orchestrator.CompositionTimeout)
	assert.Equal(t, 12, cfg.Orchestrator.MaxSteps)

	assert.Equal(t, 7, cfg.Registry.MinExecutions)
	assert.Equal(t, 0.9, cfg.Registry.MinSuccessRate)

	assert.Equal(t, 7*24*time.Hour, cfg.Knowledge.Retention)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("COMPOSER_SERVER_HTTP_PORT", "9099")
	t.Setenv("COMPOSER_REGISTRY_MIN_EXECUTIONS", "3")
	t.Setenv("COMPOSER_ORCHESTRATOR_STEP_TIMEOUT", "5s")
	t.Setenv("COMPOSER_REDIS_ADDR", "envhost:6379")
	t.Setenv("COMPOSER_LEARNING_ENABLED", "false")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9099, cfg.Server.HTTPPort)
	assert.Equal(t, 3, cfg.Registry.MinExecutions)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.StepTimeout)
	assert.Equal(t, "envhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.Learning.Enabled)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "composer.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8888\n"), 0644))

	t.Setenv("COMPOSER_SERVER_HTTP_PORT", "7777")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.HTTPPort)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/composer.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.HTTPPort = 0 },
			wantErr: "invalid HTTP port",
		},
		{
			name: "composition budget below step budget",
			mutate: func(c *Config) {
				c.Orchestrator.CompositionTimeout = c.Orchestrator.StepTimeout / 2
			},
			wantErr: "composition_timeout",
		},
		{
			name:    "bad success rate",
			mutate:  func(c *Config) { c.Registry.MinSuccessRate = 1.5 },
			wantErr: "min_success_rate",
		},
		{
			name:    "auth without secret",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			wantErr: "jwt_secret",
		},
		{
			name:    "missing tool pool URL",
			mutate:  func(c *Config) { c.ToolPool.BaseURL = "" },
			wantErr: "tool_pool",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "composer", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=composer sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "composer"}
	assert.Equal(t, "u:p@tcp(db:3306)/composer?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "composer.db"}
	assert.Equal(t, "composer.db", lite.DSN())

	other := DatabaseConfig{Driver: "oracle"}
	assert.Equal(t, "", other.DSN())
}
