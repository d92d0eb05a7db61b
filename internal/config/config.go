package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Search    SearchConfig    `mapstructure:"search"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// AssistantConfig represents the hosted assistant runtime settings
type AssistantConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	AssistantID  string `mapstructure:"assistant_id"`
	Timeout      int    `mapstructure:"timeout"`       // Per HTTP call, seconds
	PollInterval int    `mapstructure:"poll_interval"` // Milliseconds between run status checks
	RunTimeout   int    `mapstructure:"run_timeout"`   // Seconds a single run may take overall
	MaxPolls     int    `mapstructure:"max_polls"`     // 0 means bounded by run_timeout only
}

// SearchConfig represents the Google Custom Search settings
type SearchConfig struct {
	BaseURL  string            `mapstructure:"base_url"`
	APIKey   string            `mapstructure:"api_key"`
	EngineID string            `mapstructure:"engine_id"`
	Timeout  int               `mapstructure:"timeout"`
	Params   map[string]string `mapstructure:"params"` // Extra query parameters sent with every search
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// legacyEnv maps the plain environment names used by existing deployments
var legacyEnv = map[string]string{
	"assistant.api_key":      "OPENAI_API_KEY",
	"assistant.assistant_id": "ASSISTANT_ID",
	"search.api_key":         "GOOGLE_API_KEY",
	"search.engine_id":       "CSE_ID",
	"server.port":            "PORT",
}

func Load(cfgFile string) (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("ASB")
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		// Prefixed variable wins over the legacy name
		if err := v.BindEnv(key, "ASB_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 300)

	v.SetDefault("assistant.base_url", "https://api.openai.com/v1")
	v.SetDefault("assistant.timeout", 60)
	v.SetDefault("assistant.poll_interval", 500)
	v.SetDefault("assistant.run_timeout", 120)
	v.SetDefault("assistant.max_polls", 0)

	v.SetDefault("search.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("search.timeout", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks that every credential needed to serve a request is present
func (c *Config) Validate() error {
	var missing []string
	if c.Assistant.APIKey == "" {
		missing = append(missing, "assistant.api_key (OPENAI_API_KEY)")
	}
	if c.Assistant.AssistantID == "" {
		missing = append(missing, "assistant.assistant_id (ASSISTANT_ID)")
	}
	if c.Search.APIKey == "" {
		missing = append(missing, "search.api_key (GOOGLE_API_KEY)")
	}
	if c.Search.EngineID == "" {
		missing = append(missing, "search.engine_id (CSE_ID)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PollIntervalDuration returns the delay between run status checks
func (a AssistantConfig) PollIntervalDuration() time.Duration {
	return time.Duration(a.PollInterval) * time.Millisecond
}

// RunTimeoutDuration returns the overall deadline for one run
func (a AssistantConfig) RunTimeoutDuration() time.Duration {
	return time.Duration(a.RunTimeout) * time.Second
}
