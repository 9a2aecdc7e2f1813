package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Rtc      RtcConfig
	Ai       AIConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JwtSecret          string
}

type DatabaseConfig struct {
	Connection string
}

type RtcConfig struct {
	// StunServers is the fallback configuration used when no TURN server
	// is configured or the provisioning fetch fails.
	StunServers []string
	TurnURL     string
	TurnUser    string
	TurnPass    string
	// IceCacheTTLSeconds bounds how long a provisioned ICE configuration
	// (with its TURN credentials) may be reused.
	IceCacheTTLSeconds int
}

type AIConfig struct {
	EmbeddingProvider string // "jina" or "ollama"
	JinaAPIKey        string
	OllamaBaseURL     string
	OllamaModel       string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JwtSecret:          getEnv("JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Rtc: RtcConfig{
			StunServers:        getEnvAsSlice("RTC_STUN_SERVERS", []string{"stun:stun.l.google.com:19302"}),
			TurnURL:            getEnv("RTC_TURN_URL", ""),
			TurnUser:           getEnv("RTC_TURN_USERNAME", ""),
			TurnPass:           getEnv("RTC_TURN_PASSWORD", ""),
			IceCacheTTLSeconds: getEnvAsInt("RTC_ICE_CACHE_TTL_SECONDS", 300),
		},
		Ai: AIConfig{
			EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "jina"),
			JinaAPIKey:        getEnv("JINA_API_KEY", ""),
			OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OllamaModel:       getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	parts := strings.Split(strValue, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
