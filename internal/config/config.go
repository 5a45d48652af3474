package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the whole application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Providers   ProvidersConfig   `mapstructure:"providers" yaml:"providers"`
	Translation TranslationConfig `mapstructure:"translation" yaml:"translation"`
	Agent       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Prefs       PrefsConfig       `mapstructure:"prefs" yaml:"prefs"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colour names.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the backend proxy.
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	RateLimitRPM    int           `mapstructure:"rate_limit_rpm" yaml:"rate_limit_rpm"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	DefaultProvider string        `mapstructure:"default_provider" yaml:"default_provider"`
}

// Provider names understood by the proxy's "model" field.
const (
	ProviderSarvam = "sarvam"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ProvidersConfig configures the language-model providers.
type ProvidersConfig struct {
	Sarvam ModelConfig `mapstructure:"sarvam" yaml:"sarvam"`
	Gemini ModelConfig `mapstructure:"gemini" yaml:"gemini"`
	OpenAI ModelConfig `mapstructure:"openai" yaml:"openai"`
}

// ModelConfig defines one chat model endpoint.
type ModelConfig struct {
	Model        string        `mapstructure:"model" yaml:"model"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	AuthHeader   string        `mapstructure:"auth_header" yaml:"auth_header"`
	APITimeout   time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature  float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP         float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK         float32       `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens    int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	GoogleSearch bool          `mapstructure:"google_search" yaml:"google_search"`
}

// Enabled reports whether the provider has credentials.
func (m ModelConfig) Enabled() bool { return m.APIKey != "" }

// TranslationConfig configures the translation provider.
type TranslationConfig struct {
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	SourceLanguage  string        `mapstructure:"source_language" yaml:"source_language"`
	DefaultLanguage string        `mapstructure:"default_language" yaml:"default_language"`
	BatchSize       int           `mapstructure:"batch_size" yaml:"batch_size"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
	CacheSize       int           `mapstructure:"cache_size" yaml:"cache_size"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MaxRetryElapsed bounds retries of one batch; zero disables retrying.
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
}

// AgentConfig configures the client-side agent loop.
type AgentConfig struct {
	BackendURL     string        `mapstructure:"backend_url" yaml:"backend_url"`
	BackendTimeout time.Duration `mapstructure:"backend_timeout" yaml:"backend_timeout"`
	Model          string        `mapstructure:"model" yaml:"model"`
	MaxSteps       int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxDuration    time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	NavigateSettle time.Duration `mapstructure:"navigate_settle" yaml:"navigate_settle"`
	LoopThreshold  int           `mapstructure:"loop_threshold" yaml:"loop_threshold"`
}

// Browser drivers.
const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
	DriverStatic     = "static"
)

// BrowserConfig configures the page environment.
type BrowserConfig struct {
	Driver      string        `mapstructure:"driver" yaml:"driver"`
	Headless    bool          `mapstructure:"headless" yaml:"headless"`
	StartURL    string        `mapstructure:"start_url" yaml:"start_url"`
	UserDataDir string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout" yaml:"nav_timeout"`
	Viewport    ViewportSize  `mapstructure:"viewport" yaml:"viewport"`
}

// ViewportSize is the emulated window size.
type ViewportSize struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// PrefsConfig locates the preferences database.
type PrefsConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "page-pilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Server --
	v.SetDefault("server.address", "127.0.0.1:8000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 50<<20)
	v.SetDefault("server.rate_limit_rpm", 0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.default_provider", ProviderSarvam)

	// -- Providers --
	v.SetDefault("providers.sarvam.model", "sarvam-m")
	v.SetDefault("providers.sarvam.base_url", "https://api.sarvam.ai/v1")
	v.SetDefault("providers.sarvam.auth_header", "api-subscription-key")
	v.SetDefault("providers.sarvam.temperature", 0.1)
	v.SetDefault("providers.sarvam.top_p", 1.0)
	v.SetDefault("providers.sarvam.api_timeout", "60s")

	v.SetDefault("providers.gemini.model", "gemini-flash-latest")
	v.SetDefault("providers.gemini.temperature", 1.0)
	v.SetDefault("providers.gemini.top_p", 0.95)
	v.SetDefault("providers.gemini.top_k", 64)
	v.SetDefault("providers.gemini.google_search", false)
	v.SetDefault("providers.gemini.api_timeout", "60s")

	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.temperature", 0.0)
	v.SetDefault("providers.openai.max_tokens", 300)
	v.SetDefault("providers.openai.api_timeout", "60s")

	// -- Translation --
	v.SetDefault("translation.endpoint", "https://dhruva-api.bhashini.gov.in/services/inference/pipeline")
	v.SetDefault("translation.source_language", "en")
	v.SetDefault("translation.default_language", "as")
	v.SetDefault("translation.batch_size", 50)
	v.SetDefault("translation.concurrency", 4)
	v.SetDefault("translation.requests_per_sec", 0.0)
	v.SetDefault("translation.cache_size", 4096)
	v.SetDefault("translation.timeout", "60s")
	v.SetDefault("translation.max_retry_elapsed", "10s")

	// -- Agent --
	v.SetDefault("agent.backend_url", "http://127.0.0.1:8000")
	v.SetDefault("agent.backend_timeout", "0s")
	v.SetDefault("agent.model", ProviderSarvam)
	v.SetDefault("agent.max_steps", 25)
	v.SetDefault("agent.max_duration", "5m")
	v.SetDefault("agent.settle_delay", "1500ms")
	v.SetDefault("agent.navigate_settle", "4s")
	v.SetDefault("agent.loop_threshold", 3)

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.start_url", "https://example.com")
	v.SetDefault("browser.user_data_dir", ".playwright_data")
	v.SetDefault("browser.nav_timeout", "60s")
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)

	// -- Prefs --
	v.SetDefault("prefs.path", "pilot.db")
}

// BindEnv wires the env prefix and the provider key variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("providers.sarvam.api_key", "PILOT_PROVIDERS_SARVAM_API_KEY", "SARVAM_API_KEY")
	_ = v.BindEnv("providers.sarvam.model", "PILOT_PROVIDERS_SARVAM_MODEL", "SARVAM_MODEL_ID")
	_ = v.BindEnv("providers.gemini.api_key", "PILOT_PROVIDERS_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("providers.gemini.model", "PILOT_PROVIDERS_GEMINI_MODEL", "GEMINI_MODEL_ID")
	_ = v.BindEnv("providers.openai.api_key", "PILOT_PROVIDERS_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("translation.api_key", "PILOT_TRANSLATION_API_KEY", "BHASHINI_SUBSCRIPTION_KEY")
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.MaxDuration < 0 {
		return fmt.Errorf("agent.max_duration must not be negative")
	}
	if c.Agent.SettleDelay < 0 || c.Agent.NavigateSettle < 0 {
		return fmt.Errorf("agent settle delays must not be negative")
	}
	if c.Translation.BatchSize <= 0 {
		return fmt.Errorf("translation.batch_size must be a positive integer")
	}
	if c.Translation.Concurrency <= 0 {
		return fmt.Errorf("translation.concurrency must be a positive integer")
	}
	switch c.Browser.Driver {
	case DriverChromedp, DriverPlaywright, DriverStatic:
	default:
		return fmt.Errorf("browser.driver must be one of %q, %q, %q; got %q",
			DriverChromedp, DriverPlaywright, DriverStatic, c.Browser.Driver)
	}
	switch c.Server.DefaultProvider {
	case ProviderSarvam, ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("server.default_provider %q is not supported", c.Server.DefaultProvider)
	}
	return nil
}
