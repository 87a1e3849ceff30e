package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	API struct {
		Port     string
		BasePath string
	}
	Logging struct {
		Dir   string
		Level string
	}
	Auth struct {
		Required bool
		Secret   string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	DB struct {
		DSN string
	}
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	// Services maps a proxy/health-check name to its backend base URL.
	Services map[string]string
	Health   struct {
		Interval     time.Duration
		ProbeTimeout time.Duration
		ProbePath    string
	}
	RateLimit struct {
		Requests int
		Window   time.Duration
	}
	Dispatch struct {
		QueueSize      int
		MaxWorkers     int
		DefaultTimeout time.Duration
		MaxRetries     int
	}
	Cloudflare struct {
		APIBase string
		Token   string
		ZoneID  string
	}
	Agent struct {
		BaseURL string
	}
	Telegram struct {
		BotToken      string
		ChatID        int64
		RatePerSecond int
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	cfg.API.Port = getenv("API_PORT", ":8080")
	cfg.API.BasePath = getenv("API_BASE_PATH", "/api/v1")

	cfg.Logging.Dir = getenv("LOG_DIR", "logs")
	cfg.Logging.Level = getenv("LOG_LEVEL", "info")

	cfg.Auth.Required = getbool("AUTH_REQUIRED", false)
	cfg.Auth.Secret = os.Getenv("AUTH_SECRET")

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getint("REDIS_DB", 0)

	cfg.DB.DSN = os.Getenv("DB_DSN")

	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = getenv("KAFKA_TOPIC", "ops_alerts")
	cfg.Kafka.GroupID = getenv("KAFKA_GROUP_ID", "ops-gateway")

	cfg.Services = parseServices(os.Getenv("SERVICES"))

	cfg.Health.Interval = getdur("HEALTH_INTERVAL", 5*time.Second)
	cfg.Health.ProbeTimeout = getdur("HEALTH_PROBE_TIMEOUT", 5*time.Second)
	cfg.Health.ProbePath = getenv("HEALTH_PROBE_PATH", "/health")

	cfg.RateLimit.Requests = getint("RATE_LIMIT_REQUESTS", 100)
	cfg.RateLimit.Window = getdur("RATE_LIMIT_WINDOW", 15*time.Minute)

	cfg.Dispatch.QueueSize = getint("QUEUE_SIZE", 500)
	cfg.Dispatch.MaxWorkers = getint("MAX_WORKERS", 10)
	cfg.Dispatch.DefaultTimeout = getdur("TASK_TIMEOUT", 5*time.Minute)
	cfg.Dispatch.MaxRetries = getint("TASK_MAX_RETRIES", 3)

	cfg.Cloudflare.APIBase = getenv("CLOUDFLARE_API_BASE", "https://api.cloudflare.com/client/v4")
	cfg.Cloudflare.Token = os.Getenv("CLOUDFLARE_API_TOKEN")
	cfg.Cloudflare.ZoneID = os.Getenv("CLOUDFLARE_ZONE_ID")

	cfg.Agent.BaseURL = getenv("AGENT_BASE_URL", "http://localhost:8000")

	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.ChatID = int64(getint("TELEGRAM_CHAT_ID", 0))
	cfg.Telegram.RatePerSecond = getint("TELEGRAM_RATE_LIMIT", 1)

	// Validate required settings
	if cfg.Auth.Required && cfg.Auth.Secret == "" {
		return Config{}, fmt.Errorf("AUTH_SECRET is required when AUTH_REQUIRED is set")
	}

	return cfg, nil
}

// parseServices parses "name=url,name=url" into a service map.
func parseServices(raw string) map[string]string {
	services := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, url, ok := strings.Cut(pair, "=")
		if !ok || name == "" || url == "" {
			continue
		}
		services[strings.TrimSpace(name)] = strings.TrimSpace(url)
	}
	return services
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getbool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
