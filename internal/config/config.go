package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"clinical-simulator/internal/observability"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"

	BackendJSON     = "json"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendBadger   = "badger"
)

// Config holds every runtime setting.  Credentials only ever come from the
// environment, a .env file or configs/config.yaml.
type Config struct {
	Port string

	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIChatModel string
	AnthropicAPIKey string
	AnthropicModel  string
	TTSDefaultVoice string

	DataDir      string
	CasesBackend string
	DatabaseURL  string

	SessionBackend string
	BadgerPath     string
	SessionTTL     time.Duration

	ScoreDefault       int
	EfficiencyBaseline int
	EfficiencyPenalty  int

	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("llm_provider", ProviderOpenAI)
	v.SetDefault("openai_model_chat", "gpt-4o-mini")
	v.SetDefault("anthropic_model", "claude-3-5-haiku-latest")
	v.SetDefault("tts_default_voice", "onyx")
	v.SetDefault("data_dir", "data")
	v.SetDefault("cases_backend", BackendJSON)
	v.SetDefault("session_backend", BackendMemory)
	v.SetDefault("badger_path", "")
	v.SetDefault("session_ttl", "2h")
	v.SetDefault("score_default", 75)
	v.SetDefault("efficiency_baseline", 10)
	v.SetDefault("efficiency_penalty", 5)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load reads .env (if present), the environment and an optional
// configs/config.yaml, in that order of precedence: env wins over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		observability.Logger().Info("no .env file found, using environment variables only")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	ttl, err := time.ParseDuration(v.GetString("session_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}

	cfg := &Config{
		Port: v.GetString("port"),

		LLMProvider:     strings.ToLower(v.GetString("llm_provider")),
		OpenAIAPIKey:    v.GetString("openai_api_key"),
		OpenAIChatModel: v.GetString("openai_model_chat"),
		AnthropicAPIKey: v.GetString("anthropic_api_key"),
		AnthropicModel:  v.GetString("anthropic_model"),
		TTSDefaultVoice: v.GetString("tts_default_voice"),

		DataDir:      v.GetString("data_dir"),
		CasesBackend: strings.ToLower(v.GetString("cases_backend")),
		DatabaseURL:  v.GetString("database_url"),

		SessionBackend: strings.ToLower(v.GetString("session_backend")),
		BadgerPath:     v.GetString("badger_path"),
		SessionTTL:     ttl,

		ScoreDefault:       v.GetInt("score_default"),
		EfficiencyBaseline: v.GetInt("efficiency_baseline"),
		EfficiencyPenalty:  v.GetInt("efficiency_penalty"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}
	return cfg, cfg.Validate()
}

// Validate checks combinations of settings that cannot work.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderMock:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY must be set")
		}
	case ProviderAnthropic:
		// Speech still goes through OpenAI.
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY must be set")
		}
		if c.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY must be set when LLM_PROVIDER=anthropic")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	switch c.CasesBackend {
	case BackendJSON:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set when CASES_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown CASES_BACKEND %q", c.CasesBackend)
	}
	if c.SessionBackend != BackendMemory && c.SessionBackend != BackendBadger {
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.ScoreDefault < 0 || c.ScoreDefault > 100 {
		return errors.New("SCORE_DEFAULT must be between 0 and 100")
	}
	return nil
}
