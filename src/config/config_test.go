package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func validConfig() *Config {
	c := Default()
	c.Backend.APIKeys = []string{"k1"}
	c.Owner.ForwardNumber = "+15550001111"
	return c
}

func TestDefaultsMatchScreeningTimings(t *testing.T) {
	c := Default()
	assert.Equal(t, 2000, c.Endpoint.EndSilenceMs)
	assert.Equal(t, 15000, c.Endpoint.MaxUtteranceMs)
	assert.Equal(t, 800, c.Endpoint.MinSpeechMs)
	assert.Equal(t, 2500*time.Millisecond, c.Turn.PostAudioBuffer)
	assert.Equal(t, 10*time.Second, c.Backend.AttemptTimeout)
	assert.Equal(t, "memory", c.Storage.Driver)
	assert.Equal(t, 10*time.Second, c.Calendar.Timeout)
	assert.Equal(t, time.Hour, c.Recordings.MaxDuration)
}

func TestNumberedKeysWithFallback(t *testing.T) {
	keys := numberedKeys(envMap(map[string]string{
		"BACKEND_API_KEY1": "a",
		"BACKEND_API_KEY3": " c ",
		"BACKEND_API_KEY":  "legacy",
	}), "BACKEND_API_KEY")
	assert.Equal(t, []string{"a", "c"}, keys)

	keys = numberedKeys(envMap(map[string]string{"BACKEND_API_KEY": "legacy"}), "BACKEND_API_KEY")
	assert.Equal(t, []string{"legacy"}, keys)

	assert.Empty(t, numberedKeys(envMap(nil), "BACKEND_API_KEY"))
}

func TestApplyEnvOverrides(t *testing.T) {
	c := Default()
	err := c.applyEnv(envMap(map[string]string{
		"PORT":              "9090",
		"PERSONAL_PHONE":    "+15550002222",
		"OWNER_NAME":        "Kevin",
		"POST_AUDIO_BUFFER": "3s",
		"CALENDAR_ENABLED":  "true",
		"BACKEND_API_KEY2":  "second",
		"STORAGE_DRIVER":    "redis",
		"REDIS_URL":         "redis://localhost:6379/0",
		"CALENDAR_TIMEOUT":  "4s",

		"RECORDINGS_MAX_DURATION": "20m",
	}))
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "+15550002222", c.Owner.ForwardNumber)
	assert.Equal(t, "Kevin", c.Owner.Name)
	assert.Equal(t, 3*time.Second, c.Turn.PostAudioBuffer)
	assert.True(t, c.Calendar.Enabled)
	assert.Equal(t, []string{"second"}, c.Backend.APIKeys)
	assert.Equal(t, 4*time.Second, c.Calendar.Timeout)
	assert.Equal(t, 20*time.Minute, c.Recordings.MaxDuration)
	assert.NoError(t, c.Validate())
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	c := Default()
	err := c.applyEnv(envMap(map[string]string{"PORT": "eighty", "POST_AUDIO_BUFFER": "soon"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "POST_AUDIO_BUFFER")
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "screener.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
owner:
  name: Sam
  forward_number: "+15550003333"
backend:
  provider: gemini
  api_keys: [g1, g2]
turn:
  post_audio_buffer: 1500ms
`), 0o600))

	t.Setenv("PORT", "7001")
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, c.Server.Port)
	assert.Equal(t, "Sam", c.Owner.Name)
	assert.Equal(t, "gemini", c.Backend.Provider)
	assert.Equal(t, 1500*time.Millisecond, c.Turn.PostAudioBuffer)
	// untouched sections keep their defaults
	assert.Equal(t, 2000, c.Endpoint.EndSilenceMs)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	c := validConfig()
	c.Backend.APIKeys = nil
	c.Owner.ForwardNumber = ""
	c.Storage.Driver = "postgres"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_keys")
	assert.Contains(t, err.Error(), "forward_number")
	assert.Contains(t, err.Error(), "postgres_dsn")

	c = validConfig()
	c.Backend.Provider = "gemini"
	c.Backend.APIKeys = nil
	c.Backend.VertexAI = true
	assert.ErrorContains(t, c.Validate(), "backend.project")
	c.Backend.Project = "proj"
	assert.NoError(t, c.Validate())
}

func TestStreamURL(t *testing.T) {
	c := Default()
	assert.Empty(t, c.StreamURL())
	c.Server.PublicURL = "https://screen.example.com/"
	assert.Equal(t, "wss://screen.example.com/media", c.StreamURL())
	c.Server.PublicURL = "http://localhost:8080"
	assert.Equal(t, "ws://localhost:8080/media", c.StreamURL())
}
