package services

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Environment string
	Log         LogConfig
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	AI          AIConfig
	Inference   InferenceConfig
	JWT         JWTConfig
	WebSocket   WebSocketConfig
	Storage     StorageConfig
	Search      SearchConfig
	Telemetry   TelemetryConfig
}

type LogConfig struct {
	Level string
	File  string
}

type ServerConfig struct {
	Port          string
	PublicBaseURL string
}

type DatabaseConfig struct {
	URL          string
	Seed         bool
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type RedisConfig struct {
	Addr           string
	DB             int
	Password       string
	ChatHistoryTTL time.Duration
}

type AIConfig struct {
	GroqAPIKey        string
	GroqBaseURL       string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	GeminiAPIKey      string
	ElevenLabsKey     string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string
	GTTSBaseURL       string
	SunoBaseURL       string
	SunoAPIKey        string
	OMIMBaseURL       string
	OMIMAPIKey        string
}

type InferenceConfig struct {
	URL string
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

type StorageConfig struct {
	StaticDir string
	CacheDir  string
}

type SearchConfig struct {
	DataDir           string
	ReindexCron       string
	EnglishModel      string
	MultilingualModel string
}

type TelemetryConfig struct {
	OTLPEndpoint string
}

// IsProduction reports whether cookies should be marked secure.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("environment", "development")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")
	viper.SetDefault("server.port", "5000")
	viper.SetDefault("server.public_base_url", "http://localhost:5000")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.seed", "false")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", "0")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.chat_history_ttl", "24h")
	viper.SetDefault("groq.api_key", "")
	viper.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault("elevenlabs.api_key", "")
	viper.SetDefault("elevenlabs.base_url", "https://api.elevenlabs.io")
	viper.SetDefault("elevenlabs.voice_id", "cgSgspJ2msm6clMCkdW9")
	viper.SetDefault("gtts.base_url", "https://translate.google.com")
	viper.SetDefault("suno.base_url", "")
	viper.SetDefault("suno.api_key", "")
	viper.SetDefault("omim.base_url", "https://api.omim.org/api")
	viper.SetDefault("omim.api_key", "")
	viper.SetDefault("inference.url", "")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("websocket.allowed_origins", "")
	viper.SetDefault("storage.static_dir", "static")
	viper.SetDefault("storage.cache_dir", "cache")
	viper.SetDefault("search.data_dir", "data")
	viper.SetDefault("search.reindex_cron", "0 3 * * *")
	viper.SetDefault("search.english_model", "text-embedding-3-small")
	viper.SetDefault("search.multilingual_model", "text-embedding-3-large")
	viper.SetDefault("telemetry.otlp_endpoint", "")

	// Map environment variables to config keys
	viper.BindEnv("environment", "ENVIRONMENT")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.file", "LOG_FILE")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.public_base_url", "PUBLIC_BASE_URL")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.seed", "DATABASE_SEED")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.chat_history_ttl", "CHAT_HISTORY_TTL")
	viper.BindEnv("groq.api_key", "GROQ_API_KEY")
	viper.BindEnv("groq.base_url", "GROQ_BASE_URL")
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
	viper.BindEnv("elevenlabs.base_url", "ELEVENLABS_BASE_URL")
	viper.BindEnv("elevenlabs.voice_id", "ELEVENLABS_VOICE_ID")
	viper.BindEnv("gtts.base_url", "GTTS_BASE_URL")
	viper.BindEnv("suno.base_url", "SUNO_BASE_URL")
	viper.BindEnv("suno.api_key", "SUNO_API_KEY")
	viper.BindEnv("omim.base_url", "OMIM_BASE_URL")
	viper.BindEnv("omim.api_key", "OMIM_API_KEY")
	viper.BindEnv("inference.url", "INFERENCE_URL")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")
	viper.BindEnv("storage.static_dir", "STATIC_DIR")
	viper.BindEnv("storage.cache_dir", "AUDIO_CACHE_DIR")
	viper.BindEnv("search.data_dir", "SEARCH_DATA_DIR")
	viper.BindEnv("search.reindex_cron", "SEARCH_REINDEX_CRON")
	viper.BindEnv("search.english_model", "SEARCH_ENGLISH_MODEL")
	viper.BindEnv("search.multilingual_model", "SEARCH_MULTILINGUAL_MODEL")
	viper.BindEnv("telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Environment: viper.GetString("environment"),
		Log: LogConfig{
			Level: viper.GetString("log.level"),
			File:  viper.GetString("log.file"),
		},
		Server: ServerConfig{
			Port:          viper.GetString("server.port"),
			PublicBaseURL: viper.GetString("server.public_base_url"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			Seed:         viper.GetBool("database.seed"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		Redis: RedisConfig{
			Addr:           viper.GetString("redis.addr"),
			DB:             viper.GetInt("redis.db"),
			Password:       viper.GetString("redis.password"),
			ChatHistoryTTL: viper.GetDuration("redis.chat_history_ttl"),
		},
		AI: AIConfig{
			GroqAPIKey:        viper.GetString("groq.api_key"),
			GroqBaseURL:       viper.GetString("groq.base_url"),
			OpenAIAPIKey:      viper.GetString("openai.api_key"),
			OpenAIBaseURL:     viper.GetString("openai.base_url"),
			GeminiAPIKey:      viper.GetString("gemini.api_key"),
			ElevenLabsKey:     viper.GetString("elevenlabs.api_key"),
			ElevenLabsBaseURL: viper.GetString("elevenlabs.base_url"),
			ElevenLabsVoiceID: viper.GetString("elevenlabs.voice_id"),
			GTTSBaseURL:       viper.GetString("gtts.base_url"),
			SunoBaseURL:       viper.GetString("suno.base_url"),
			SunoAPIKey:        viper.GetString("suno.api_key"),
			OMIMBaseURL:       viper.GetString("omim.base_url"),
			OMIMAPIKey:        viper.GetString("omim.api_key"),
		},
		Inference: InferenceConfig{
			URL: viper.GetString("inference.url"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		Storage: StorageConfig{
			StaticDir: viper.GetString("storage.static_dir"),
			CacheDir:  viper.GetString("storage.cache_dir"),
		},
		Search: SearchConfig{
			DataDir:           viper.GetString("search.data_dir"),
			ReindexCron:       viper.GetString("search.reindex_cron"),
			EnglishModel:      viper.GetString("search.english_model"),
			MultilingualModel: viper.GetString("search.multilingual_model"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: viper.GetString("telemetry.otlp_endpoint"),
		},
	}
}
