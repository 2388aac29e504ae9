// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBase() *Config {
	return &Config{
		Port:          "8080",
		DataDir:       "data",
		StoreBackend:  StoreBackendFile,
		LLMProvider:   "gemini",
		GeminiAPIKey:  "env-key",
		SummaryModel:  "gemini-2.5-pro",
		DialogueModel: "gemini-1.5-pro",
	}
}

func TestOverlayMergesSavedSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	saved := `{"llm_provider":"openrouter","llm_config":{"api_key":"saved-key"},"summary_model":"google/gemini-2.5-flash"}`
	require.NoError(t, os.WriteFile(path, []byte(saved), 0600))

	require.NoError(t, initWith(testBase(), path))

	cfg := GetCurrentConfig()
	assert.Equal(t, "openrouter", cfg.LLMProvider)
	assert.Equal(t, "saved-key", cfg.LLMConfig["api_key"])
	assert.Equal(t, "google/gemini-2.5-flash", cfg.SummaryModel)
	assert.Equal(t, "gemini-1.5-pro", cfg.DialogueModel)
	assert.Equal(t, "8080", cfg.Port)
}

func TestEmptySavedKeyDoesNotHideEnvironmentKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"llm_config":{"api_key":""}}`), 0600))

	require.NoError(t, initWith(testBase(), path))
	assert.Equal(t, "env-key", GetCurrentConfig().LLMConfig["api_key"])
}

func TestUpdateLLMConfigPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, initWith(testBase(), path))

	require.NoError(t, UpdateLLMConfig("openrouter", map[string]string{"api_key": "k2"}, "", "m-dialogue"))

	cfg := GetCurrentConfig()
	assert.Equal(t, "gemini-2.5-pro", cfg.SummaryModel)
	assert.Equal(t, "m-dialogue", cfg.DialogueModel)

	require.NoError(t, initWith(testBase(), path))
	cfg = GetCurrentConfig()
	assert.Equal(t, "openrouter", cfg.LLMProvider)
	assert.Equal(t, "k2", cfg.LLMConfig["api_key"])
}

func TestGetCurrentConfigReturnsCopy(t *testing.T) {
	require.NoError(t, initWith(testBase(), filepath.Join(t.TempDir(), "config.json")))

	cfg := GetCurrentConfig()
	cfg.LLMConfig["api_key"] = "mutated"
	assert.Equal(t, "env-key", GetCurrentConfig().LLMConfig["api_key"])
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SHELFTALK_TEST_LIST", " a, ,b ")
	t.Setenv("SHELFTALK_TEST_INT", "nope")

	assert.Equal(t, []string{"a", "b"}, getEnvList("SHELFTALK_TEST_LIST", nil))
	assert.Equal(t, 7, getEnvInt("SHELFTALK_TEST_INT", 7))
}
