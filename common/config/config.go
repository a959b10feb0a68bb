package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Consumer modes
const (
	ModeRedisQueue = "redis_queue"
	ModeHTTP       = "http"
)

// Config holds all service configuration
type Config struct {
	Service  ServiceConfig
	Consumer ConsumerConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Storage  StorageConfig
	FaceSwap FaceSwapConfig
	Callback CallbackConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Host        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// ConsumerConfig holds the task source settings
type ConsumerConfig struct {
	Mode             string // "redis_queue" or "http"
	TaskAPIURLs      []string
	AllowedWorkflows []string
	LogFilteredTasks bool
	TestTaskShortcut bool
	PollInterval     time.Duration
}

// RedisConfig holds the priority queue connection settings
type RedisConfig struct {
	URL      string // redis:// URL, takes precedence when set
	Host     string
	Port     int
	DB       int
	Password string
	// Upstash-style REST credentials are accepted and converted
	// to a plain connection by the bootstrap layer.
	RestURL   string
	RestToken string
}

// EngineConfig holds the generation engine settings
type EngineConfig struct {
	URL              string
	InputDir         string
	TaskTimeout      time.Duration
	ReadyInterval    time.Duration
	ReadyRetries     int
	LoraCacheEnabled bool
}

// StorageConfig holds the object storage settings
type StorageConfig struct {
	Provider string // "gcs", "r2" or "cf_images"
	Strict   bool   // fail startup when no provider can be configured

	GCSBucket string
	CDNURL    string

	R2Bucket       string
	R2AccountID    string
	R2AccessKey    string
	R2SecretKey    string
	R2PublicDomain string

	CFImagesAccountID      string
	CFImagesAPIToken       string
	CFImagesDeliveryDomain string
}

// FaceSwapConfig holds the co-located face-swap service settings
type FaceSwapConfig struct {
	APIURL     string
	Timeout    time.Duration
	RetryCount int
}

// CallbackConfig holds task status callback settings
type CallbackConfig struct {
	DefaultURL  string // used for redis_queue jobs without a per-job callback
	TaskAPIBase string // default producer API base
	Timeout     time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Host:        getEnv("HOST", "127.0.0.1"),
			Port:        getEnvInt("PORT", 8001),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Consumer: ConsumerConfig{
			Mode:             getEnv("CONSUMER_MODE", ModeRedisQueue),
			TaskAPIURLs:      getEnvSlice("TASK_API_URLS", nil),
			AllowedWorkflows: getEnvSlice("ALLOWED_WORKFLOWS", []string{"*"}),
			LogFilteredTasks: getEnvBool("LOG_FILTERED_TASKS", true),
			TestTaskShortcut: getEnvBool("TEST_TASK_SHORTCUT", true),
			PollInterval:     getEnvDuration("CONSUMER_POLL_INTERVAL", time.Second),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnvInt("REDIS_PORT", 6379),
			DB:        getEnvInt("REDIS_DB", 0),
			Password:  getEnv("REDIS_PASSWORD", ""),
			RestURL:   getEnv("UPSTASH_REDIS_REST_URL", ""),
			RestToken: getEnv("UPSTASH_REDIS_REST_TOKEN", ""),
		},
		Engine: EngineConfig{
			URL:              getEnv("COMFYUI_URL", "http://127.0.0.1:8188"),
			InputDir:         getEnv("COMFYUI_INPUT_DIR", "/workspace/ComfyUI/input"),
			TaskTimeout:      getEnvDuration("TASK_TIMEOUT", 150*time.Second),
			ReadyInterval:    getEnvDuration("COMFYUI_READY_INTERVAL", 5*time.Second),
			ReadyRetries:     getEnvInt("COMFYUI_READY_RETRIES", 200),
			LoraCacheEnabled: getEnvBool("LORA_CACHE_ENABLED", true),
		},
		Storage: StorageConfig{
			Provider:               getEnv("STORAGE_PROVIDER", "gcs"),
			Strict:                 getEnvBool("STORAGE_STRICT", false),
			GCSBucket:              getEnv("GCS_BUCKET_NAME", ""),
			CDNURL:                 getEnv("CDN_URL", ""),
			R2Bucket:               getEnv("R2_BUCKET", ""),
			R2AccountID:            getEnv("R2_ACCOUNT_ID", ""),
			R2AccessKey:            getEnv("R2_ACCESS_KEY_ID", ""),
			R2SecretKey:            getEnv("R2_SECRET_ACCESS_KEY", ""),
			R2PublicDomain:         getEnv("R2_PUBLIC_URL", ""),
			CFImagesAccountID:      getEnv("CF_IMAGES_ACCOUNT_ID", ""),
			CFImagesAPIToken:       getEnv("CF_IMAGES_API_TOKEN", ""),
			CFImagesDeliveryDomain: getEnv("CF_IMAGES_DELIVERY_DOMAIN", ""),
		},
		FaceSwap: FaceSwapConfig{
			APIURL:     getEnv("FACE_SWAP_API_URL", "http://localhost:8000"),
			Timeout:    getEnvDuration("FACE_SWAP_TIMEOUT", 5*time.Minute),
			RetryCount: getEnvInt("FACE_SWAP_RETRY_COUNT", 3),
		},
		Callback: CallbackConfig{
			DefaultURL:  getEnv("TASK_CALLBACK_URL", ""),
			TaskAPIBase: getEnv("TASK_API_URL", ""),
			Timeout:     getEnvDuration("TASK_CALLBACK_TIMEOUT", 30*time.Second),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Consumer.Mode {
	case ModeRedisQueue, ModeHTTP:
	default:
		return fmt.Errorf("unknown consumer mode: %s", c.Consumer.Mode)
	}

	if c.Consumer.Mode == ModeHTTP && len(c.Consumer.TaskAPIURLs) == 0 {
		return fmt.Errorf("http consumer mode requires TASK_API_URLS")
	}

	if c.Engine.URL == "" {
		return fmt.Errorf("engine URL is required")
	}

	return nil
}

// RedisAddr returns the host:port address for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
