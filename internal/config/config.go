package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "STAR_CATALOG"

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "config.yaml"

type Config struct {
	// Path is the file the config was read from; category generation writes
	// back to it.
	Path string `mapstructure:"-"`

	GitHub      GitHubConfig      `mapstructure:"github"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Categories  []string          `mapstructure:"categories" validate:"dive,required"`
	Log         LogConfig         `mapstructure:"log"`
	Events      EventsConfig      `mapstructure:"events"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Report      ReportConfig      `mapstructure:"report"`
}

type GitHubConfig struct {
	Token               string `mapstructure:"token"`
	StarListID          string `mapstructure:"star_list_id"`
	ReadmeExcerptLength int    `mapstructure:"readme_excerpt_length" validate:"gte=0"`
}

type DatabaseConfig struct {
	Driver    string         `mapstructure:"driver" validate:"oneof=sqlite surrealdb"`
	Path      string         `mapstructure:"path" validate:"required_if=Driver sqlite"`
	Cleanup   CleanupConfig  `mapstructure:"cleanup"`
	SurrealDB SurrealDBConfig `mapstructure:"surrealdb"`
}

type CleanupConfig struct {
	ThresholdDays int `mapstructure:"threshold_days" validate:"gte=0"`
}

type SurrealDBConfig struct {
	URL       string `mapstructure:"url"`
	Namespace string `mapstructure:"namespace"`
	Database  string `mapstructure:"database"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

type ConcurrencyConfig struct {
	Fetch    PoolConfig `mapstructure:"fetch"`
	Classify PoolConfig `mapstructure:"classify"`
}

type PoolConfig struct {
	MaxWorkers int `mapstructure:"max_workers" validate:"gte=1"`
}

type OpenAIConfig struct {
	APIKeys          []string `mapstructure:"api_keys" validate:"dive,required"`
	APIBase          string   `mapstructure:"api_base" validate:"required,url"`
	Model            string   `mapstructure:"model" validate:"required"`
	MaxTokens        int      `mapstructure:"max_tokens" validate:"gte=0"`
	Temperature      float32  `mapstructure:"temperature" validate:"gte=0,lte=2"`
	TopP             float32  `mapstructure:"top_p" validate:"gte=0,lte=1"`
	TopK             int      `mapstructure:"top_k" validate:"gte=0"`
	FrequencyPenalty float32  `mapstructure:"frequency_penalty" validate:"gte=-2,lte=2"`
	JSONMode         bool     `mapstructure:"json_mode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type EventsConfig struct {
	NATS NATSConfig `mapstructure:"nats"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject" validate:"required"`
}

type ScheduleConfig struct {
	Cron     string `mapstructure:"cron" validate:"required"`
	Classify bool   `mapstructure:"classify"`
}

type ReportConfig struct {
	Output string `mapstructure:"output" validate:"required"`
}

// GracePeriod is how long a record may go unrefreshed before eviction.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Database.Cleanup.ThresholdDays) * 24 * time.Hour
}

// RequireGitHub checks what a fetch pass needs.
func (c *Config) RequireGitHub() error {
	if c.GitHub.Token == "" {
		return &Error{Field: "github.token", Reason: "required (or set GITHUB_TOKEN)"}
	}
	return nil
}

// RequireOpenAI checks what classification and category generation need.
func (c *Config) RequireOpenAI() error {
	if len(c.OpenAI.APIKeys) == 0 {
		return &Error{Field: "openai.api_keys", Reason: "at least one API key is required"}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("github.token", "")
	v.SetDefault("github.star_list_id", "")
	v.SetDefault("github.readme_excerpt_length", 500)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/stars.db")
	v.SetDefault("database.cleanup.threshold_days", 7)
	v.SetDefault("database.surrealdb.url", "ws://localhost:8000")
	v.SetDefault("database.surrealdb.namespace", "star_catalog")
	v.SetDefault("database.surrealdb.database", "star_catalog")
	v.SetDefault("database.surrealdb.username", "")
	v.SetDefault("database.surrealdb.password", "")

	v.SetDefault("concurrency.fetch.max_workers", 1)
	v.SetDefault("concurrency.classify.max_workers", 1)

	v.SetDefault("openai.api_keys", []string{})
	v.SetDefault("openai.api_base", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 512)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.top_p", 0.7)
	v.SetDefault("openai.top_k", 50)
	v.SetDefault("openai.frequency_penalty", 0.5)
	v.SetDefault("openai.json_mode", false)

	v.SetDefault("categories", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("events.nats.url", "")
	v.SetDefault("events.nats.subject", "star-catalog.passes")

	v.SetDefault("schedule.cron", "0 3 * * *")
	v.SetDefault("schedule.classify", false)

	v.SetDefault("report.output", "STAR.md")
}

// Load reads path (a missing file is not an error), applies STAR_CATALOG_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, &Error{Field: "config", Reason: fmt.Sprintf("reading %s", path), Err: err}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("github.token", envPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, &Error{Field: "github.token", Reason: "binding environment", Err: err}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &Error{Field: "config", Reason: "decoding", Err: err}
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	// Report fields by their config key rather than the Go name.
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return val
}

// Validate checks every option against its constraint.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Field: "config", Reason: "validation failed", Err: err}
	}

	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	reason := fmt.Sprintf("failed %q constraint", fe.Tag())
	if fe.Param() != "" {
		reason = fmt.Sprintf("failed %q constraint (%s)", fe.Tag(), fe.Param())
	}
	return &Error{Field: field, Reason: reason, Err: err}
}
