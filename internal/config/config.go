package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	DBDSN    string

	LogLevel string
	LogFile  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TurnLockTTL is never shorter than MinTurnLockTTL(LLMTimeout).
	TurnLockTTL   time.Duration

	// pipeline
	HardGuidelineCount int
	SoftGuidelineCount int
	ContextWindowSize  int
	SummaryWindowSize  int
	ModelHistory       bool
	// CatalogCacheTTL bounds how stale another process's guideline writes
	// can look; zero disables the cache.
	CatalogCacheTTL    time.Duration

	// AI provider
	LLMProvider          string
	LLMTimeout           time.Duration
	OpenAIBaseURL        string
	OpenAIAPIKey         string
	OpenAIModel          string
	OpenAIEmbeddingModel string
	VercelBaseURL        string
	VercelAPIKey         string
	VercelModel          string
	VercelEmbeddingModel string
	OpenRouterBaseURL    string
	OpenRouterAPIKey     string
	OpenRouterModel      string
	OpenRouterSiteURL    string
	OpenRouterAppName    string
	OllamaBaseURL        string
	OllamaModel          string
	OllamaEmbeddingModel string

	// rabbitMQ
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int
}

func (c Config) IsProduction() bool { return c.AppEnv == "production" }

// MinTurnLockTTL covers a worst-case turn: the reply call and the summary
// call each running to the provider timeout, plus headroom for storage.
func MinTurnLockTTL(llmTimeout time.Duration) time.Duration {
	return 2*llmTimeout + 30*time.Second
}

func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}

	llmTimeout := getEnvDuration("LLM_TIMEOUT", 90*time.Second)
	lockTTL := getEnvDuration("TURN_LOCK_TTL", MinTurnLockTTL(llmTimeout))
	if floor := MinTurnLockTTL(llmTimeout); lockTTL < floor {
		log.Printf("config: TURN_LOCK_TTL %s is shorter than a worst-case turn, using %s", lockTTL, floor)
		lockTTL = floor
	}

	// DSN demo:
	// app:apppass@tcp(127.0.0.1:3306)/sales_agent?charset=utf8mb4&parseTime=true&loc=Local
	// sqlite:sales_agent.db
	return Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		DBDSN:    getEnv("DB_DSN", "sqlite:sales_agent.db"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		TurnLockTTL:   lockTTL,

		HardGuidelineCount: getEnvInt("HARD_GUIDELINE_COUNT", 2),
		SoftGuidelineCount: getEnvInt("SOFT_GUIDELINE_COUNT", 2),
		ContextWindowSize:  getEnvInt("CONTEXT_WINDOW_SIZE", 4),
		SummaryWindowSize:  getEnvInt("SUMMARY_WINDOW_SIZE", 10),
		ModelHistory:       getEnvBool("MODEL_HISTORY", false),
		CatalogCacheTTL:    getEnvDurationAllowZero("CATALOG_CACHE_TTL", 30*time.Second),

		LLMProvider:          getEnv("LLM_PROVIDER", "openai"),
		LLMTimeout:           llmTimeout,
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIEmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		VercelBaseURL:        getEnv("VERCEL_AI_BASE_URL", "https://api.vercel.ai/v1"),
		VercelAPIKey:         os.Getenv("VERCEL_AI_API_KEY"),
		VercelModel:          getEnv("VERCEL_AI_MODEL", "anthropic/claude-3.5-sonnet"),
		VercelEmbeddingModel: getEnv("VERCEL_AI_EMBEDDING_MODEL", "text-embedding-3-small"),
		OpenRouterBaseURL:    getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:     os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:      getEnv("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL:    os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName:    os.Getenv("OPENROUTER_APP_NAME"),
		OllamaBaseURL:        getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:          getEnv("OLLAMA_MODEL", "llama3:latest"),
		OllamaEmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       getEnv("RABBIT_QUEUE", "sales_turns"),
		WorkerConcurrency: clamp(getEnvInt("WORKER_CONCURRENCY", 2), 1, 50),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvDurationAllowZero is getEnvDuration where "0" means off.
func getEnvDurationAllowZero(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
