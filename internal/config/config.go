package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string `mapstructure:"ENV"`
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	AdminKey    string `mapstructure:"ADMIN_KEY"`
	CORSAllowed string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	// Classifier selection: empty provider and URL means the deterministic
	// mock; "anthropic" uses the Anthropic API; anything else with a URL is
	// the HTTP sidecar.
	ClassifierProvider string        `mapstructure:"CLASSIFIER_PROVIDER"`
	ClassifierURL      string        `mapstructure:"CLASSIFIER_URL"`
	AnthropicAPIKey    string        `mapstructure:"ANTHROPIC_API_KEY"`
	AnthropicModel     string        `mapstructure:"ANTHROPIC_MODEL"`
	ClassifyTimeout    time.Duration `mapstructure:"CLASSIFY_TIMEOUT"`

	ConfidenceHigh      float64       `mapstructure:"CONFIDENCE_HIGH"`
	ConfidenceLow       float64       `mapstructure:"CONFIDENCE_LOW"`
	RepetitionThreshold int           `mapstructure:"RULE_REPEAT_THRESHOLD"`
	RuleAutoApply       bool          `mapstructure:"RULE_AUTO_APPLY"`
	RetriageDelay       time.Duration `mapstructure:"RETRIAGE_DELAY"`

	// Cron schedules; empty disables the job.
	StatsCron    string `mapstructure:"STATS_CRON"`
	RetriageCron string `mapstructure:"RETRIAGE_CRON"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("CLASSIFY_TIMEOUT", "20s")
	v.SetDefault("CONFIDENCE_HIGH", 0.85)
	v.SetDefault("CONFIDENCE_LOW", 0.46)
	v.SetDefault("RULE_REPEAT_THRESHOLD", 3)
	v.SetDefault("RULE_AUTO_APPLY", false)
	v.SetDefault("RETRIAGE_DELAY", "200ms")
	v.SetDefault("STATS_CRON", "30 2 * * *")
	v.SetDefault("RETRIAGE_CRON", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
