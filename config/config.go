package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the digest pipeline
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Feeds      []FeedConfig     `mapstructure:"feeds"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Guardrail  GuardrailConfig  `mapstructure:"guardrail"`
	Relevance  RelevanceConfig  `mapstructure:"relevance"`
	Summary    SummaryConfig    `mapstructure:"summary"`
	Categories CategoriesConfig `mapstructure:"categories"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Schedule   string           `mapstructure:"schedule"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// FeedConfig is one RSS/Atom source
type FeedConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// FetchConfig controls feed retrieval
type FetchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	Window         time.Duration `mapstructure:"window"`
	InterFeedDelay time.Duration `mapstructure:"inter_feed_delay"`
	PoolSize       int           `mapstructure:"pool_size"`
}

func (f FetchConfig) Validate() error {
	if f.Window <= 0 {
		return fmt.Errorf("fetch.window must be > 0")
	}
	if f.PoolSize <= 0 {
		return fmt.Errorf("fetch.pool_size must be > 0 (1 = sequential)")
	}
	return nil
}

// RetryConfig is the shared retry policy for feeds and classifier calls
type RetryConfig struct {
	MaxAttempts int             `mapstructure:"max_attempts"`
	Delays      []time.Duration `mapstructure:"delays"`
}

func (r RetryConfig) Validate() error {
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	return nil
}

// DedupConfig holds similarity thresholds
type DedupConfig struct {
	TitleThreshold float64 `mapstructure:"title_threshold"`
	URLThreshold   float64 `mapstructure:"url_threshold"`
}

func (d DedupConfig) Validate() error {
	if d.TitleThreshold <= 0 || d.TitleThreshold > 1 {
		return fmt.Errorf("dedup.title_threshold must be in (0, 1]")
	}
	if d.URLThreshold <= 0 || d.URLThreshold > 1 {
		return fmt.Errorf("dedup.url_threshold must be in (0, 1]")
	}
	return nil
}

// GuardrailConfig controls the optional keyword pre-filter that runs
// between deduplication and the paid relevance stage. Off by default:
// most deployments let the classifier decide.
type GuardrailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Keywords []string `mapstructure:"keywords"`
}

func (g GuardrailConfig) Validate() error {
	if !g.Enabled {
		return nil
	}
	for _, kw := range g.Keywords {
		if strings.TrimSpace(kw) != "" {
			return nil
		}
	}
	return fmt.Errorf("guardrail.keywords required when guardrail is enabled")
}

// RelevanceConfig controls the relevance filter stage
type RelevanceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Model    string `mapstructure:"model"`
	Criteria string `mapstructure:"criteria"`
	// OnFailure decides what happens to an article when the classifier
	// fails after all retries: "include" keeps it flagged low
	// confidence, "exclude" drops it.
	OnFailure string `mapstructure:"on_failure"`
}

func (r RelevanceConfig) Validate() error {
	if r.OnFailure != "include" && r.OnFailure != "exclude" {
		return fmt.Errorf("relevance.on_failure must be include or exclude")
	}
	return nil
}

// SummaryConfig controls the macro overview written at the top of the
// digest once relevance filtering is done.
type SummaryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

// CategoryConfig defines one category for the keyword scorer. Priority
// for ties follows list order.
type CategoryConfig struct {
	Name        string   `mapstructure:"name"`
	Keywords    []string `mapstructure:"keywords"`
	URLPatterns []string `mapstructure:"url_patterns"`
}

// CategoriesConfig selects and parameterizes the categorizer
type CategoriesConfig struct {
	Mode    string           `mapstructure:"mode"` // keyword or model
	Model   string           `mapstructure:"model"`
	Default string           `mapstructure:"default"`
	List    []CategoryConfig `mapstructure:"list"`
}

func (c CategoriesConfig) Validate() error {
	if c.Mode != "keyword" && c.Mode != "model" {
		return fmt.Errorf("categories.mode must be keyword or model")
	}
	if strings.TrimSpace(c.Default) == "" {
		return fmt.Errorf("categories.default required")
	}
	return nil
}

// RankingConfig controls the per-category ranker
type RankingConfig struct {
	Model string `mapstructure:"model"`
	// Threshold is the category size at or below which ranking is
	// skipped entirely.
	Threshold      int `mapstructure:"threshold"`
	MaxPerCategory int `mapstructure:"max_per_category"`
}

func (r RankingConfig) Validate() error {
	if r.Threshold <= 0 {
		return fmt.Errorf("ranking.threshold must be > 0")
	}
	if r.MaxPerCategory <= 0 {
		return fmt.Errorf("ranking.max_per_category must be > 0")
	}
	return nil
}

// LLMConfig configures the external classifier provider
type LLMConfig struct {
	APIKey      string             `mapstructure:"api_key"`
	BaseURL     string             `mapstructure:"base_url"`
	Timeout     time.Duration      `mapstructure:"timeout"`
	Temperature float64            `mapstructure:"temperature"`
	MaxTokens   int                `mapstructure:"max_tokens"`
	Pricing     map[string]Pricing `mapstructure:"pricing"`
}

// Pricing overrides the built-in per-1K-token rates for a model
type Pricing struct {
	Input  float64 `mapstructure:"input"`
	Output float64 `mapstructure:"output"`
}

// CacheConfig controls decision cache behaviour. TTL zero means
// entries never expire; invalidation is explicit.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// StorageConfig contains storage backends
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis cache backend is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Enabled reports whether a Postgres cost sink is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN assembles the connection string.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

func (p PostgresConfig) Validate() error {
	if !p.Enabled() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("fetch.timeout", "15s")
	viper.SetDefault("fetch.window", "24h")
	viper.SetDefault("fetch.inter_feed_delay", "500ms")
	viper.SetDefault("fetch.pool_size", 1)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.delays", []string{"1s", "2s", "3s"})
	viper.SetDefault("dedup.title_threshold", 0.85)
	viper.SetDefault("dedup.url_threshold", 0.8)
	viper.SetDefault("guardrail.enabled", false)
	viper.SetDefault("relevance.enabled", true)
	viper.SetDefault("relevance.model", "gpt-3.5-turbo")
	viper.SetDefault("relevance.on_failure", "include")
	viper.SetDefault("summary.enabled", true)
	viper.SetDefault("summary.model", "gpt-3.5-turbo")
	viper.SetDefault("categories.mode", "keyword")
	viper.SetDefault("categories.model", "gpt-3.5-turbo")
	viper.SetDefault("categories.default", "Other")
	viper.SetDefault("ranking.model", "gpt-3.5-turbo")
	viper.SetDefault("ranking.threshold", 5)
	viper.SetDefault("ranking.max_per_category", 5)
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.timeout", "30s")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.max_tokens", 512)
	viper.SetDefault("cache.ttl", "0s")
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.metrics_port", 9090)
	viper.SetDefault("schedule", "0 7 * * *")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("FEEDIGEST")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (FEEDIGEST_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Fetch.Validate(); err != nil {
		panic(err)
	}
	if err := config.Retry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Dedup.Validate(); err != nil {
		panic(err)
	}
	if err := config.Guardrail.Validate(); err != nil {
		panic(err)
	}
	if err := config.Relevance.Validate(); err != nil {
		panic(err)
	}
	if err := config.Categories.Validate(); err != nil {
		panic(err)
	}
	if err := config.Ranking.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
