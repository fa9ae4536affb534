package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
http:
  addr: ":9090"
repository:
  driver: edge
edge:
  base_url: "https://proj.supabase.co"
  anon_key: "anon"
jwt:
  secret: "0123456789abcdef0123"
permission:
  cache_ttl: 2m
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.HTTP.Addr)
	assert.Equal(t, 2*time.Minute, c.Permission.CacheTTL)
	assert.Equal(t, "/404", c.Guard.NotFoundPath)
	assert.Equal(t, "/functions/v1", c.Edge.FunctionsPath)
	assert.Equal(t, "/rest/v1", c.Edge.RestPath)
	assert.Equal(t, 30*time.Minute, c.Editor.SessionTTL)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GACHA_GUARD_NOT_FOUND_PATH", "/not-found")
	t.Setenv("GACHA_EDGE_BASE_URL", "https://other.supabase.co")
	c, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "/not-found", c.Guard.NotFoundPath)
	assert.Equal(t, "https://other.supabase.co", c.Edge.BaseURL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"short secret": `
edge: {base_url: "https://x"}
jwt: {secret: "short"}
`,
		"unknown driver": `
repository: {driver: mysql}
jwt: {secret: "0123456789abcdef0123"}
`,
		"postgres without dsn": `
repository: {driver: postgres}
jwt: {secret: "0123456789abcdef0123"}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
