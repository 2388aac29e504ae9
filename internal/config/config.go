// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Singleton state for the runtime-editable configuration.
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// Store and media backends.
const (
	StoreBackendFile      = "file"
	StoreBackendMongo     = "mongo"
	StoreBackendFirestore = "firestore"

	MediaBackendLocal = "local"
	MediaBackendS3    = "s3"
)

// AppConfig is the runtime configuration. The LLM section is persisted to
// data/config.json and can be changed through the settings API; everything
// else always comes from the environment.
type AppConfig struct {
	Config `json:"-"`

	// LLM settings
	LLMProvider   string            `json:"llm_provider"`
	LLMConfig     map[string]string `json:"llm_config"`
	SummaryModel  string            `json:"summary_model"`
	DialogueModel string            `json:"dialogue_model"`
}

// Config holds the settings read from the environment.
type Config struct {
	Port      string
	DataDir   string
	StaticDir string
	LogDir    string
	DebugMode bool

	// Document store
	StoreBackend     string
	MongoURI         string
	MongoDatabase    string
	FirestoreProject string

	// Media uploads
	MediaBackend string
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3Bucket     string
	S3UseSSL     bool
	S3PublicURL  string

	// Text generation
	LLMProvider      string
	GeminiAPIKey     string
	OpenRouterAPIKey string
	SummaryModel     string
	DialogueModel    string
	StageTimeout     time.Duration

	// Talking-avatar vendor
	DIDAPIKey          string
	DIDBaseURL         string
	VideoRequestDelay  time.Duration
	VideoMaxTextLength int
	VideoPollInterval  time.Duration

	// HTTP
	AuthSecret    string
	CORSOrigins   []string
	ViewRateLimit int
}

// Load reads the configuration from the environment (and an optional .env).
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Port:      getEnv("PORT", "8080"),
		DataDir:   getEnvPath("DATA_DIR", "data"),
		StaticDir: getEnvPath("STATIC_DIR", "static"),
		LogDir:    getEnvPath("LOG_DIR", "logs"),
		DebugMode: getEnvBool("DEBUG_MODE", false),

		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", StoreBackendFile)),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:    getEnv("MONGO_DATABASE", "shelftalk"),
		FirestoreProject: getEnv("FIRESTORE_PROJECT", ""),

		MediaBackend: strings.ToLower(getEnv("MEDIA_BACKEND", MediaBackendLocal)),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
		S3Bucket:     getEnv("S3_BUCKET", "shelftalk-media"),
		S3UseSSL:     getEnvBool("S3_USE_SSL", true),
		S3PublicURL:  getEnv("S3_PUBLIC_URL", ""),

		LLMProvider:      getEnv("LLM_PROVIDER", "gemini"),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		SummaryModel:     getEnv("SUMMARY_MODEL", "gemini-2.5-pro"),
		DialogueModel:    getEnv("DIALOGUE_MODEL", "gemini-1.5-pro"),
		StageTimeout:     getEnvDuration("STAGE_TIMEOUT", 60*time.Second),

		DIDAPIKey:          getEnv("DID_API_KEY", ""),
		DIDBaseURL:         getEnv("DID_BASE_URL", "https://api.d-id.com"),
		VideoRequestDelay:  getEnvDuration("VIDEO_REQUEST_DELAY", 2*time.Second),
		VideoMaxTextLength: getEnvInt("VIDEO_MAX_TEXT_LENGTH", 500),
		VideoPollInterval:  getEnvDuration("VIDEO_POLL_INTERVAL", 3*time.Second),

		AuthSecret:    getEnv("AUTH_SECRET", ""),
		CORSOrigins:   getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		ViewRateLimit: getEnvInt("VIEW_RATE_LIMIT", 10),
	}

	switch config.StoreBackend {
	case StoreBackendFile, StoreBackendMongo, StoreBackendFirestore:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", config.StoreBackend)
	}
	if config.StoreBackend == StoreBackendFirestore && config.FirestoreProject == "" {
		return nil, fmt.Errorf("FIRESTORE_PROJECT is required for the firestore backend")
	}
	switch config.MediaBackend {
	case MediaBackendLocal, MediaBackendS3:
	default:
		return nil, fmt.Errorf("unknown MEDIA_BACKEND %q", config.MediaBackend)
	}

	if config.GeminiAPIKey == "" && config.OpenRouterAPIKey == "" {
		log.Println("warning: no text-generation API key set, discussion features stay disabled until one is configured")
	}
	if config.DIDAPIKey == "" {
		log.Println("warning: DID_API_KEY not set, video generation will fail")
	}
	if config.AuthSecret == "" {
		log.Println("warning: AUTH_SECRET not set, all requests are treated as guests")
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath returns a directory path and makes sure it exists.
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("warning: failed to create directory %s: %v\n", path, err)
		}
	}

	return path
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		log.Printf("warning: invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvDuration accepts Go durations ("2s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	log.Printf("warning: invalid %s=%q, using %s", key, value, defaultValue)
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// InitConfig loads the environment and merges the persisted LLM overlay.
func InitConfig(dataDir string) error {
	baseConfig, err := Load()
	if err != nil {
		return err
	}
	return initWith(baseConfig, filepath.Join(dataDir, "config.json"))
}

func initWith(baseConfig *Config, path string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	configFile = path
	currentConfig = defaultAppConfig(baseConfig)

	if data, err := os.ReadFile(configFile); err == nil {
		var saved AppConfig
		if json.Unmarshal(data, &saved) == nil {
			if saved.LLMProvider != "" {
				currentConfig.LLMProvider = saved.LLMProvider
			}
			if saved.SummaryModel != "" {
				currentConfig.SummaryModel = saved.SummaryModel
			}
			if saved.DialogueModel != "" {
				currentConfig.DialogueModel = saved.DialogueModel
			}
			for k, v := range saved.LLMConfig {
				// keys from the environment win over an empty saved value
				if v != "" || currentConfig.LLMConfig[k] == "" {
					currentConfig.LLMConfig[k] = v
				}
			}
		}
	}

	return saveLocked()
}

func defaultAppConfig(base *Config) *AppConfig {
	apiKey := base.GeminiAPIKey
	if base.LLMProvider == "openrouter" {
		apiKey = base.OpenRouterAPIKey
	}
	return &AppConfig{
		Config:        *base,
		LLMProvider:   base.LLMProvider,
		SummaryModel:  base.SummaryModel,
		DialogueModel: base.DialogueModel,
		LLMConfig: map[string]string{
			"api_key": apiKey,
		},
	}
}

// GetCurrentConfig returns a copy of the current configuration.
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		baseConfig, err := Load()
		if err != nil {
			baseConfig = &Config{Port: "8080", DataDir: "data", LogDir: "logs", StoreBackend: StoreBackendFile}
		}
		return defaultAppConfig(baseConfig)
	}

	configCopy := *currentConfig
	configCopy.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	return &configCopy
}

// UpdateLLMConfig switches the provider and models and persists the change.
// Empty models keep their current value.
func UpdateLLMConfig(provider string, settings map[string]string, summaryModel, dialogueModel string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("configuration not initialized")
	}

	currentConfig.LLMProvider = provider
	if settings != nil {
		currentConfig.LLMConfig = settings
	}
	if summaryModel != "" {
		currentConfig.SummaryModel = summaryModel
	}
	if dialogueModel != "" {
		currentConfig.DialogueModel = dialogueModel
	}

	return saveLocked()
}

// SaveConfig writes the LLM overlay to disk.
func SaveConfig() error {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return saveLocked()
}

func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("no configuration to save")
	}

	dir := filepath.Dir(configFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp := configFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, configFile)
}
