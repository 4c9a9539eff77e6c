// ABOUTME: Tests for configuration loading
// ABOUTME: Verifies YAML parsing, env expansion, defaults, duration parsing, validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/parley.db"
gemini:
  api_key: "test-key"
  model: "gemini-2.0-pro"
  search_grounding: true
  request_timeout: "45s"
assistant:
  id: "bot"
  display_name: "Parley Bot"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/parley.db", cfg.Database.Path)
	assert.Equal(t, "test-key", cfg.Gemini.APIKey)
	assert.Equal(t, "gemini-2.0-pro", cfg.Gemini.Model)
	assert.True(t, cfg.Gemini.SearchGrounding)
	assert.Equal(t, 45*time.Second, cfg.Gemini.RequestTimeout)
	assert.Equal(t, "bot", cfg.Assistant.ID)
	assert.Equal(t, "Parley Bot", cfg.Assistant.DisplayName)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/parley.db"
gemini:
  api_key: "test-key"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta", cfg.Gemini.Endpoint)
	assert.NotEmpty(t, cfg.Gemini.Model)
	assert.Equal(t, 60*time.Second, cfg.Gemini.RequestTimeout)
	assert.Equal(t, "assistant", cfg.Assistant.ID)
	assert.Equal(t, "Assistant", cfg.Assistant.DisplayName)
	assert.NotEmpty(t, cfg.Assistant.Persona)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_API_KEY", "secret-from-env")

	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/parley.db"
gemini:
  api_key: "${PARLEY_TEST_API_KEY}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Gemini.APIKey)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "/tmp/parley.db"
gemini:
  api_key: "k"
`,
			wantErr: "http_addr",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: "localhost:8080"
gemini:
  api_key: "k"
`,
			wantErr: "database.path",
		},
		{
			name: "missing api key",
			content: `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/parley.db"
`,
			wantErr: "api_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/parley.db"
gemini:
  api_key: "k"
  request_timeout: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timeout")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
