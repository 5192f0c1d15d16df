package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/hrygo/banter/ai/conversation"
	"github.com/hrygo/banter/ai/core/llm"
	"github.com/hrygo/banter/ai/generators"
	"github.com/hrygo/banter/ai/memory"
	"github.com/hrygo/banter/ai/metrics"
	"github.com/hrygo/banter/ai/postprocess"
	"github.com/hrygo/banter/ai/router"
	"github.com/hrygo/banter/ai/tracing"
	"github.com/hrygo/banter/bot"
	"github.com/hrygo/banter/chat/telegram"
	"github.com/hrygo/banter/internal/profile"
	"github.com/hrygo/banter/internal/version"
	"github.com/hrygo/banter/store"
	"github.com/hrygo/banter/store/db/postgres"
	"github.com/hrygo/banter/store/db/sqlite"
	"github.com/hrygo/banter/store/kv"
)

var rootCmd = &cobra.Command{
	Use:   "banter",
	Short: `A group-chat companion bot: routed replies, long-term member memory, and emoji-triggered modes.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution; service managers
		// provide environment another way.
		if !isRunningAsService() {
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return err
		}
		return run(instanceProfile)
	},
}

func run(p *profile.Profile) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbDriver, err := newDBDriver(p)
	if err != nil {
		slog.Error("failed to create db driver", "error", err)
		return err
	}
	storeInstance := store.New(dbDriver, p)
	defer storeInstance.Close()
	if err := storeInstance.Migrate(ctx); err != nil {
		slog.Error("failed to migrate", "error", err)
		return err
	}

	kvCache, err := kv.New(ctx, kv.Config{
		Addr:     p.RedisAddr,
		Password: p.RedisPassword,
		DB:       p.RedisDB,
	})
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		return err
	}
	defer kvCache.Close()

	exporter := metrics.NewExporter(metrics.DefaultConfig())

	var tracer tracing.Exporter = tracing.NewLogExporter()
	if p.OTLPEndpoint != "" {
		otlp := tracing.NewOTLPExporter(tracing.OTLPConfig{
			Endpoint:    p.OTLPEndpoint,
			ServiceName: p.TelemetryServiceName,
		})
		defer otlp.Close()
		tracer = tracing.NewCompositeExporter(tracer, otlp)
	}

	providers, err := buildProviders(ctx, p, exporter)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return err
	}

	gateway, err := telegram.New(p.ChatToken, kvCache, slog.Default())
	if err != nil {
		slog.Error("failed to connect chat gateway", "error", err)
		return err
	}

	formatter := conversation.NewFormatter(gateway)
	memories := memory.NewManager(memory.Config{
		Store:      storeInstance,
		KV:         kvCache,
		Formatter:  formatter,
		Summarizer: providers.summarizer(),
		Merger:     providers.summarizer(),
		Aliaser:    providers.summarizer(),
		Metrics:    exporter,
	})

	post := postprocess.NewProcessor(postprocess.DefaultLimit, providers.summarizer())
	replyChain := providers.replyChain(exporter)

	dispatcher := generators.NewDispatcher(
		conversation.NewBuilder(gateway, conversation.DefaultBuilderConfig()),
		formatter,
		memories,
		post,
		generators.NewFamousGenerator(replyChain),
		generators.NewGeneralGenerator(providers.backends()),
		generators.NewFactGenerator(memories, formatter, replyChain),
	)

	r := router.NewRouter(providers.selectors(), providers.detector(), providers.extractor(), dispatcher.Specs(), exporter)

	app := bot.New(bot.Config{
		Gateway:    gateway,
		Store:      storeInstance,
		Router:     r,
		Dispatcher: dispatcher,
		Memories:   memories,
		Post:       post,
		Wisdom:     generators.NewWisdomGenerator(replyChain),
		Advocate:   generators.NewAdvocateGenerator(replyChain),
		Joke:       generators.NewJokeGenerator(storeInstance, replyChain, p.JokePoolSize, p.JokePoolExponent),
		Metrics:    exporter,
		Tracer:     tracer,
		BotUserID:  gateway.BotUserID(),
	})

	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)
	go func() {
		<-c
		slog.Info("shutting down")
		cancel()
	}()

	go func() {
		addr := fmt.Sprintf("%s:%d", p.Addr, p.Port)
		if err := app.Serve(ctx, addr); err != nil {
			slog.Error("http server failed", "error", err)
			cancel()
		}
	}()

	printGreetings(p)

	return gateway.Run(ctx, telegram.Handlers{
		OnMessage:  app.HandleMessage,
		OnReaction: app.HandleReaction,
	})
}

func newDBDriver(p *profile.Profile) (store.Driver, error) {
	switch p.Driver {
	case "sqlite":
		return sqlite.NewDB(p)
	default:
		return postgres.NewDB(p)
	}
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "postgres")
	viper.SetDefault("port", 28091)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the operational http endpoint")
	rootCmd.PersistentFlags().Int("port", 28091, "port of the operational http endpoint")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "postgres", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("banter")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Banter %s started successfully!\n", p.Version)
	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if p.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
		}
	}
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Metrics and health at: http://localhost:%d\n", p.Port)
}

// isRunningAsService detects a systemd-managed process.
func isRunningAsService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// retryDefaults bounds every provider call.
var retryDefaults = llm.RetryConfig{
	MaxTries: 3,
	MaxTime:  2 * time.Minute,
	Jitter:   true,
}

// providerSet holds the configured provider clients, each wrapped with
// retry. Absent API keys leave the slot nil.
type providerSet struct {
	geminiFlash llm.Client
	geminiPro   llm.Client
	claude      llm.Client
	grok        llm.Client
	gemma       llm.Client
	codex       llm.Client
}

func buildProviders(ctx context.Context, p *profile.Profile, exporter *metrics.Exporter) (*providerSet, error) {
	wrap := func(c llm.Client) llm.Client {
		return llm.NewRetryClient(c, retryDefaults)
	}
	set := &providerSet{}

	if p.GeminiAPIKey != "" {
		flash, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			Provider:    "gemini_flash",
			APIKey:      p.GeminiAPIKey,
			Model:       p.GeminiFlashModel,
			Temperature: float32(p.DefaultTemperature),
			Limiter:     rate.NewLimiter(rate.Limit(2), 4),
			Recorder:    exporter,
		})
		if err != nil {
			return nil, err
		}
		set.geminiFlash = wrap(flash)

		pro, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			Provider:    "gemini_pro",
			APIKey:      p.GeminiAPIKey,
			Model:       p.GeminiModel,
			Temperature: float32(p.DefaultTemperature),
			Limiter:     rate.NewLimiter(rate.Limit(1), 2),
			Recorder:    exporter,
		})
		if err != nil {
			return nil, err
		}
		set.geminiPro = wrap(pro)
	}

	if p.AnthropicAPIKey != "" {
		set.claude = wrap(llm.NewClaudeClient(llm.ClaudeConfig{
			Provider:    "claude",
			APIKey:      p.AnthropicAPIKey,
			Model:       p.ClaudeModel,
			Temperature: p.DefaultTemperature,
			Limiter:     rate.NewLimiter(rate.Limit(1), 2),
			Recorder:    exporter,
		}))
	}
	if p.GrokAPIKey != "" {
		set.grok = wrap(llm.NewOpenAIClient(llm.OpenAIConfig{
			Provider:    "grok",
			APIKey:      p.GrokAPIKey,
			BaseURL:     p.GrokBaseURL,
			Model:       p.GrokModel,
			Temperature: float32(p.DefaultTemperature),
			Limiter:     rate.NewLimiter(rate.Limit(1), 2),
			Recorder:    exporter,
		}))
	}
	if p.OpenRouterAPIKey != "" {
		set.gemma = wrap(llm.NewOpenAIClient(llm.OpenAIConfig{
			Provider:    "gemma",
			APIKey:      p.OpenRouterAPIKey,
			BaseURL:     p.OpenRouterBaseURL,
			Model:       p.GemmaModel,
			Temperature: float32(p.DefaultTemperature),
			Limiter:     rate.NewLimiter(rate.Limit(1), 2),
			Recorder:    exporter,
		}))
	}
	if p.OpenAIAPIKey != "" {
		set.codex = wrap(llm.NewOpenAIClient(llm.OpenAIConfig{
			Provider:    "codex",
			APIKey:      p.OpenAIAPIKey,
			Model:       p.CodexModel,
			Temperature: float32(p.DefaultTemperature),
			Limiter:     rate.NewLimiter(rate.Limit(1), 2),
			Recorder:    exporter,
		}))
	}

	if set.geminiFlash == nil && set.claude == nil && set.grok == nil && set.gemma == nil && set.codex == nil {
		return nil, fmt.Errorf("no AI provider configured, set at least one API key")
	}
	return set, nil
}

// ordered returns the configured clients, fast and cheap first.
func (s *providerSet) ordered() []llm.Client {
	var out []llm.Client
	for _, c := range []llm.Client{s.geminiFlash, s.claude, s.grok, s.gemma, s.codex} {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// selectors are the tier-1 route-selection clients.
func (s *providerSet) selectors() []llm.Client {
	return s.ordered()
}

// detector answers the parallel language-detection call.
func (s *providerSet) detector() llm.Client {
	return s.ordered()[0]
}

// extractor runs tier-2 parameter extraction; prefer the strong model.
func (s *providerSet) extractor() llm.Client {
	if s.geminiPro != nil {
		return s.geminiPro
	}
	return s.ordered()[0]
}

// summarizer backs the memory pipeline's schema-typed calls.
func (s *providerSet) summarizer() llm.Client {
	return s.extractor()
}

// replyChain is the shuffled fallback chain used by reply generators that
// have no backend preference.
func (s *providerSet) replyChain(exporter *metrics.Exporter) llm.Client {
	return llm.NewCompositeClient(s.ordered(), llm.WithShuffle(), llm.WithFallbackRecorder(exporter))
}

// backends maps general-route backend names to configured clients.
func (s *providerSet) backends() map[router.Backend]llm.Client {
	out := map[router.Backend]llm.Client{}
	if s.geminiFlash != nil {
		out[router.BackendGeminiFlash] = s.geminiFlash
	}
	if s.claude != nil {
		out[router.BackendClaude] = s.claude
	}
	if s.grok != nil {
		out[router.BackendGrok] = s.grok
	}
	if s.gemma != nil {
		out[router.BackendGemma] = s.gemma
	}
	if s.codex != nil {
		out[router.BackendCodex] = s.codex
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
