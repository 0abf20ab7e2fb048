package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "TOPICPULSE_CONFIG"
	logLevelEnv       = "TOPICPULSE_LOG_LEVEL"
	httpAddrEnv       = "TOPICPULSE_HTTP_ADDR"
	chatGPTAPIKeyEnv  = "CHATGPT_API_KEY"
	chatGPTModelEnv   = "CHATGPT_MODEL"
	mlAPIKeyEnv       = "ML_API_KEY"
	redisAddrEnv      = "REDIS_ADDR"
	databaseDSNEnv    = "DATABASE_DSN"
	natsURLEnv        = "NATS_URL"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Server        ServerConfig       `yaml:"server"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Stream        StreamConfig       `yaml:"stream"`
	Storage       StorageConfig      `yaml:"storage"`
	Search        SearchConfig       `yaml:"search"`
	ML            MLConfig           `yaml:"ml"`
	ChatGPT       ChatGPTConfig      `yaml:"chatgpt"`
	Artifacts     ArtifactConfig     `yaml:"artifacts"`
	Notifications NotificationConfig `yaml:"notifications"`
	NATS          NATSConfig         `yaml:"nats"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Janitor       JanitorConfig      `yaml:"janitor"`
	Sources       []SourceConfig     `yaml:"sources"`
}

// LoggingConfig selects verbosity and an optional JSON log file.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ServerConfig describes the HTTP listener serving the job API and websocket.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// PipelineConfig externalizes retry, concurrency and aggregation constants.
type PipelineConfig struct {
	MaxRetries              int      `yaml:"maxRetries"`
	BackoffBase             Duration `yaml:"backoffBase"`
	BackoffMax              Duration `yaml:"backoffMax"`
	GlobalConcurrencyLimit  int      `yaml:"globalConcurrencyLimit"`
	SearchConcurrency       int      `yaml:"searchConcurrency"`
	ScoreConcurrency        int      `yaml:"scoreConcurrency"`
	EntityWorkers           int      `yaml:"entityWorkers"`
	CallTimeout             Duration `yaml:"callTimeout"`
	CancelGrace             Duration `yaml:"cancelGrace"`
	TrimFraction            float64  `yaml:"trimFraction"`
	DefaultResultsPerEntity int      `yaml:"defaultResultsPerEntity"`
	MaxResultsPerEntity     int      `yaml:"maxResultsPerEntity"`
	MaxEntities             int      `yaml:"maxEntities"`
	DefaultWindowDays       int      `yaml:"defaultWindowDays"`
	MaxWindowDays           int      `yaml:"maxWindowDays"`
	ScoreBatchSize          int      `yaml:"scoreBatchSize"`
}

// StreamConfig tunes the dispatcher.
type StreamConfig struct {
	ReplayBufferSize  int      `yaml:"replayBufferSize"`
	HeartbeatInterval Duration `yaml:"heartbeatInterval"`
	PongGrace         Duration `yaml:"pongGrace"`
	OutboxSize        int      `yaml:"outboxSize"`
	WriteTimeout      Duration `yaml:"writeTimeout"`
}

// StorageConfig picks the job snapshot backend.
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig describes the redis job store.
type RedisConfig struct {
	Addr      string   `yaml:"addr"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"keyPrefix"`
	TTL       Duration `yaml:"ttl"`
}

// PostgresConfig describes the postgres job store.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// SearchConfig groups search sites and their shared rate limit.
type SearchConfig struct {
	RateLimit float64      `yaml:"rateLimit"`
	Burst     int          `yaml:"burst"`
	Sites     []SiteConfig `yaml:"sites"`
}

// SiteConfig describes a single HTML search page and how to read its results.
type SiteConfig struct {
	Name       string            `yaml:"name"`
	URL        string            `yaml:"url"`
	Selectors  SelectorConfig    `yaml:"selectors"`
	DateLayout string            `yaml:"dateLayout"`
	Language   string            `yaml:"language"`
	Headers    map[string]string `yaml:"headers"`
}

// SelectorConfig holds the CSS selectors applied to a search result page.
type SelectorConfig struct {
	Result  string `yaml:"result"`
	Title   string `yaml:"title"`
	Link    string `yaml:"link"`
	Snippet string `yaml:"snippet"`
	Date    string `yaml:"date"`
}

// MLConfig describes the scoring service.
type MLConfig struct {
	InferenceURL string `yaml:"inferenceUrl"`
	APIKey       string `yaml:"apiKey"`
	Batch        bool   `yaml:"batch"`
}

// ChatGPTConfig defines how to contact the ChatGPT API for extraction and summaries.
type ChatGPTConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
	Summaries    bool   `yaml:"summaries"`
}

// ArtifactConfig drives when and how artifacts are requested.
type ArtifactConfig struct {
	RendererURL       string   `yaml:"rendererUrl"`
	CallbackBaseURL   string   `yaml:"callbackBaseUrl"`
	Kinds             []string `yaml:"kinds"`
	MinScoredEntities int      `yaml:"minScoredEntities"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// NATSConfig enables mirroring of job envelopes.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// JanitorConfig controls eviction of finished jobs from memory.
type JanitorConfig struct {
	Interval  Duration `yaml:"interval"`
	Retention Duration `yaml:"retention"`
}

// SourceConfig describes what is known about a publisher domain.
type SourceConfig struct {
	Domain      string  `yaml:"domain"`
	Credibility float64 `yaml:"credibility"`
	Leaning     string  `yaml:"leaning"`
	Language    string  `yaml:"language"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		fileCfg, err := ReadFile(path)
		if err != nil {
			log.Printf("config: %v (falling back to defaults)", err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// LoadFrom is Load with an explicit file path. Unlike Load, an unreadable
// file is an error.
func LoadFrom(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		fileCfg, err := ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = mergeConfig(cfg, fileCfg)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// ReadFile parses a YAML config file without applying defaults.
func ReadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var fileCfg Config
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	return fileCfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	p := c.Pipeline
	if p.TrimFraction < 0 || p.TrimFraction >= 0.5 {
		return fmt.Errorf("pipeline.trimFraction must be in [0, 0.5), got %v", p.TrimFraction)
	}
	if p.GlobalConcurrencyLimit <= 0 || p.SearchConcurrency <= 0 || p.ScoreConcurrency <= 0 || p.EntityWorkers <= 0 {
		return fmt.Errorf("pipeline concurrency limits must be positive")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("pipeline.maxRetries must not be negative")
	}
	if p.MaxResultsPerEntity <= 0 || p.DefaultResultsPerEntity <= 0 {
		return fmt.Errorf("pipeline results per entity must be positive")
	}
	if c.Stream.ReplayBufferSize <= 0 {
		return fmt.Errorf("stream.replayBufferSize must be positive")
	}
	switch c.Storage.Driver {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	for _, k := range c.Artifacts.Kinds {
		if k != "chart" && k != "report" {
			return fmt.Errorf("unknown artifact kind %q", k)
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.Server.Addr = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}

	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.ChatGPT.Model = v
	}

	if v := os.Getenv(mlAPIKeyEnv); v != "" {
		c.ML.APIKey = v
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Storage.Redis.Addr = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Storage.Postgres.DSN = v
	}

	if v := os.Getenv(natsURLEnv); v != "" {
		c.NATS.URL = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}
