package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFillsDefaults(t *testing.T) {
	cfg := Sanitize(Config{})
	d := Default()

	assert.Equal(t, d.Server.Addr, cfg.Server.Addr)
	assert.Equal(t, d.WebSocket.MaxMessageSize, cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, d.RateLimit.Burst, cfg.RateLimit.Burst)
	assert.Equal(t, d.RateLimit.RefillInterval, cfg.RateLimit.RefillInterval)
	assert.Equal(t, d.Fanout.Workers, cfg.Fanout.Workers)
	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, "HS256", cfg.Auth.Algorithm)
}

func TestSanitizeKeepsPingBelowPongWait(t *testing.T) {
	cfg := Default()
	cfg.WebSocket.PongWait = 10 * time.Second
	cfg.WebSocket.PingPeriod = 20 * time.Second

	cfg = Sanitize(cfg)
	assert.Less(t, cfg.WebSocket.PingPeriod, cfg.WebSocket.PongWait)
}

func TestNormalizeOrigins(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		want     []string
		allowAll bool
	}{
		{name: "empty", input: nil, want: nil},
		{name: "lowercases host", input: []string{"HTTP://LocalHost:5173/"}, want: []string{"http://localhost:5173"}},
		{name: "drops invalid", input: []string{"not-an-origin", " ", "tauri://localhost"}, want: []string{"tauri://localhost"}},
		{name: "wildcard", input: []string{"*", "http://a.example"}, want: []string{"*", "http://a.example"}, allowAll: true},
		{name: "dedupes", input: []string{"http://a.example", "http://A.example"}, want: []string{"http://a.example"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, allowAll := NormalizeOrigins(tt.input)
			if tt.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.allowAll, allowAll)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Sanitize(Config{})
	assert.Error(t, cfg.Validate(), "mongo store without a secret must be rejected")

	cfg.Auth.Secret = "s3cret"
	assert.NoError(t, cfg.Validate())

	cfg.Store.Driver = DriverMemory
	cfg.Auth.Secret = ""
	assert.NoError(t, cfg.Validate())

	cfg.Store.Driver = "cassandra"
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatd.yaml")
	content := []byte(`
server:
  addr: ":9100"
store:
  driver: memory
rate_limit:
  burst: 7
fanout:
  workers: 3
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("CHATD_FANOUT_WORKERS", "5")
	t.Setenv("CHATD_WEBSOCKET_ALLOWED_ORIGINS", "http://a.example, http://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 7, cfg.RateLimit.Burst)
	assert.Equal(t, 5, cfg.Fanout.Workers, "environment overrides the file")
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.WebSocket.AllowedOrigins)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadOverrideWins(t *testing.T) {
	t.Setenv("CHATD_STORE_DRIVER", "mongo")

	cfg, err := Load("", Override("store.driver", DriverMemory))
	require.NoError(t, err, "memory driver needs no secret")
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}
