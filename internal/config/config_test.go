package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 2*time.Second, cfg.DBTimeout)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, "@every 1h", cfg.OverdueSweepSchedule)
	assert.False(t, cfg.FineDedupeOutstanding)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSAllowedOrigins)
	assert.EqualValues(t, 1<<20, cfg.MaxBodyBytes)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "Mongo")
	t.Setenv("DB_TIMEOUT", "500ms")
	t.Setenv("FINE_DEDUPE_OUTSTANDING", "true")
	t.Setenv("OVERDUE_SWEEP_SCHEDULE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , https://b.example ")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DriverMongo, cfg.StoreDriver)
	assert.Equal(t, 500*time.Millisecond, cfg.DBTimeout)
	assert.True(t, cfg.FineDedupeOutstanding)
	assert.Empty(t, cfg.OverdueSweepSchedule)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"bad driver", map[string]string{"STORE_DRIVER": "sqlite"}},
		{"bad timeout", map[string]string{"DB_TIMEOUT": "soon"}},
		{"negative timeout", map[string]string{"DB_TIMEOUT": "-1s"}},
		{"bad schedule", map[string]string{"OVERDUE_SWEEP_SCHEDULE": "whenever"}},
		{"bad rps", map[string]string{"RATE_LIMIT_RPS": "0"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			assert.Error(t, err)
		})
	}
}
