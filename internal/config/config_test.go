package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_ASSISTANT_ID", "TELEGRAM_BOT_TOKEN", "SHOPLINE_DATA_DIR"} {
		t.Setenv(k, "")
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path, "defaults not written")
	assert.Equal(t, 50, cfg.Gateway.MaxConnections)
	assert.Equal(t, 5*time.Minute, cfg.Gateway.CacheTTL.Std())
	assert.Equal(t, 30*time.Second, cfg.Gateway.BreakerOpenTimeout.Std())
	assert.Equal(t, 5, cfg.Gateway.MaxToolRounds)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw), "written defaults are not valid JSON")
	assert.Equal(t, "5m0s", raw["gateway"].(map[string]any)["cache_ttl"], "durations written as strings")
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := Default()
	original.DataDir = "/tmp/shop-data"
	original.LogLevel = "debug"
	original.LLM.APIKey = "sk-test-round-trip"
	original.LLM.AssistantID = "asst_42"
	original.Gateway.RetryBaseDelay = Duration(250 * time.Millisecond)
	original.Telegram.Token = "bot-token-456"

	require.NoError(t, Save(path, original))
	assert.NoFileExists(t, path+".tmp")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, original.DataDir, loaded.DataDir)
	assert.Equal(t, "asst_42", loaded.LLM.AssistantID)
	assert.Equal(t, original.LLM.APIKey, loaded.LLM.APIKey)
	assert.Equal(t, 250*time.Millisecond, loaded.Gateway.RetryBaseDelay.Std())
	assert.Equal(t, original.Telegram.Token, loaded.Telegram.Token)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	cfg := Default()
	cfg.LLM.APIKey = "from-file"
	require.NoError(t, Save(path, cfg))

	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENAI_ASSISTANT_ID", "asst_env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("SHOPLINE_DATA_DIR", "/var/lib/shopline")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", loaded.LLM.APIKey)
	assert.Equal(t, "asst_env", loaded.LLM.AssistantID)
	assert.Equal(t, "/var/lib/shopline", loaded.DataDir)
	assert.Equal(t, "/var/lib/shopline/shop.db", loaded.CatalogPath())
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := tempConfigPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDuration_UnmarshalSeconds(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte("90"), &d))
	assert.Equal(t, 90*time.Second, d.Std())
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
}

func TestListValues(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-secret-key-1234"
	cfg.Telegram.Token = "bot-token-abcd"

	flat, err := ListValues(cfg, false)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-key-1234", flat["llm.api_key"])
	assert.Equal(t, float64(5), flat["gateway.max_attempts"])

	masked, err := ListValues(cfg, true)
	require.NoError(t, err)
	assert.Equal(t, "***1234", masked["llm.api_key"])
	assert.Equal(t, "***abcd", masked["telegram.token"])
	assert.Equal(t, "info", masked["log_level"])
}

func TestGetValue(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	cfg := Default()
	cfg.LLM.Model = "gpt-4o"
	require.NoError(t, Save(path, cfg))

	v, err := GetValue(path, "llm.model")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", v)

	v, err = GetValue(path, "gateway.cache_capacity")
	require.NoError(t, err)
	assert.Equal(t, float64(1000), v)

	_, err = GetValue(path, "nonexistent.key")
	assert.EqualError(t, err, "unknown config key: nonexistent.key")
}

func TestGetValue_CreatesDefaults(t *testing.T) {
	clearEnv(t)
	v, err := GetValue(tempConfigPath(t), "log_level")
	require.NoError(t, err)
	assert.Equal(t, "info", v)
}

func TestSetValue(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	require.NoError(t, Save(path, Default()))

	tests := []struct {
		key, value string
		want       any
	}{
		{"log_level", "debug", "debug"},
		{"gateway.max_connections", "16", float64(16)},
		{"http.enabled", "false", false},
		// Durations are normalized by the typed config.
		{"gateway.cache_ttl", "10m", "10m0s"},
		{"custom.setting", "value", "value"},
	}
	for _, tt := range tests {
		require.NoError(t, SetValue(path, tt.key, tt.value), tt.key)
		v, err := GetValue(path, tt.key)
		require.NoError(t, err, tt.key)
		assert.Equal(t, tt.want, v, tt.key)
	}

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Gateway.CacheTTL.Std())
	assert.Equal(t, Default().LLM.Model, cfg.LLM.Model, "other values should be preserved")
}

func TestSetValue_RejectsWrongType(t *testing.T) {
	path := tempConfigPath(t)
	require.NoError(t, Save(path, Default()))
	assert.Error(t, SetValue(path, "gateway.max_polls", "many"))
	assert.Error(t, SetValue(path, "gateway.turn_timeout", "eventually"))
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	assert.Error(t, SetValue(path, "log_level", "debug"))
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.json")
	require.NoError(t, Save(path, Default()), "Save should create parent directory")
	assert.FileExists(t, path)
}
