package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
// All values come from environment variables; unknown variables are ignored,
// invalid values fail startup via Validate.
type Profile struct {
	Mode    string // dev, demo, prod
	Addr    string
	Port    int
	Data    string
	Driver  string // postgres, sqlite
	DSN     string
	Version string

	// Chat service
	ChatToken string // bot token for the chat gateway

	// Distributed cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Gemini (google.golang.org/genai)
	GeminiAPIKey     string
	GeminiModel      string // strong model, routing fallback tier
	GeminiFlashModel string // fast model, primary routing + general backend

	// Claude (anthropic-sdk-go)
	AnthropicAPIKey string
	ClaudeModel     string

	// Grok (OpenAI-compatible endpoint)
	GrokAPIKey  string
	GrokBaseURL string
	GrokModel   string

	// Gemma via OpenRouter (OpenAI-compatible endpoint)
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	GemmaModel        string

	// Codex (OpenAI)
	OpenAIAPIKey string
	CodexModel   string

	// Per-provider default sampling temperature, validated to [0, 2].
	DefaultTemperature float64

	// Joke sampling pool
	JokePoolSize     int
	JokePoolExponent float64

	// Telemetry
	TelemetryServiceName string
	OTLPEndpoint         string
}

// Provider default configurations, applied when the corresponding
// model env variable is not set.
var providerModelDefaults = map[string]string{
	"gemini":       "gemini-2.5-pro",
	"gemini_flash": "gemini-2.5-flash",
	"claude":       "claude-sonnet-4-20250514",
	"grok":         "grok-3",
	"gemma":        "google/gemma-3-27b-it",
	"codex":        "gpt-5.2",
}

var providerBaseURLDefaults = map[string]string{
	"grok":       "https://api.x.ai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.ChatToken = getEnvOrDefault("BANTER_CHAT_TOKEN", "")

	p.RedisAddr = getEnvOrDefault("BANTER_REDIS_ADDR", "localhost:6379")
	p.RedisPassword = getEnvOrDefault("BANTER_REDIS_PASSWORD", "")
	p.RedisDB = getEnvOrDefaultInt("BANTER_REDIS_DB", 0)

	p.GeminiAPIKey = getEnvOrDefault("BANTER_GEMINI_API_KEY", "")
	p.GeminiModel = getEnvOrDefault("BANTER_GEMINI_MODEL", providerModelDefaults["gemini"])
	p.GeminiFlashModel = getEnvOrDefault("BANTER_GEMINI_FLASH_MODEL", providerModelDefaults["gemini_flash"])

	p.AnthropicAPIKey = getEnvOrDefault("BANTER_ANTHROPIC_API_KEY", "")
	p.ClaudeModel = getEnvOrDefault("BANTER_CLAUDE_MODEL", providerModelDefaults["claude"])

	p.GrokAPIKey = getEnvOrDefault("BANTER_GROK_API_KEY", "")
	p.GrokBaseURL = getEnvOrDefault("BANTER_GROK_BASE_URL", providerBaseURLDefaults["grok"])
	p.GrokModel = getEnvOrDefault("BANTER_GROK_MODEL", providerModelDefaults["grok"])

	p.OpenRouterAPIKey = getEnvOrDefault("BANTER_OPENROUTER_API_KEY", "")
	p.OpenRouterBaseURL = getEnvOrDefault("BANTER_OPENROUTER_BASE_URL", providerBaseURLDefaults["openrouter"])
	p.GemmaModel = getEnvOrDefault("BANTER_GEMMA_MODEL", providerModelDefaults["gemma"])

	p.OpenAIAPIKey = getEnvOrDefault("BANTER_OPENAI_API_KEY", "")
	p.CodexModel = getEnvOrDefault("BANTER_CODEX_MODEL", providerModelDefaults["codex"])

	p.DefaultTemperature = getEnvOrDefaultFloat("BANTER_DEFAULT_TEMPERATURE", 0.7)

	p.JokePoolSize = getEnvOrDefaultInt("BANTER_JOKE_POOL_SIZE", 20)
	p.JokePoolExponent = getEnvOrDefaultFloat("BANTER_JOKE_POOL_EXPONENT", 2.0)

	p.TelemetryServiceName = getEnvOrDefault("BANTER_TELEMETRY_SERVICE_NAME", "banter")
	p.OTLPEndpoint = getEnvOrDefault("BANTER_OTLP_ENDPOINT", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "postgres" && p.Driver != "sqlite" {
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}

	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	if p.DefaultTemperature < 0 || p.DefaultTemperature > 2 {
		return errors.Errorf("default temperature %.2f outside [0, 2]", p.DefaultTemperature)
	}

	if p.JokePoolSize <= 0 {
		return errors.Errorf("joke pool size must be positive, got %d", p.JokePoolSize)
	}

	if p.Driver == "sqlite" {
		if p.Data == "" {
			p.Data = "."
		}
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("banter_%s.db", p.Mode)) + "?_loc=auto"
		}
	}

	return nil
}
