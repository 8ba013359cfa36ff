package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	UseInMemory    bool          `mapstructure:"use_in_memory"`
	StorageTimeout time.Duration `mapstructure:"storage_timeout"`
}

type MirrorConfig struct {
	// Path is the badger directory.
	Path        string `mapstructure:"path"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type OpenAIConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
}

type AnalysisConfig struct {
	MaxBatchUnits    int           `mapstructure:"max_batch_units"`
	MaxBatchCount    int           `mapstructure:"max_batch_count"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SweepConcurrency int           `mapstructure:"sweep_concurrency"`
}

type TelegramConfig struct {
	Token    string  `mapstructure:"token"`
	AdminIDs []int64 `mapstructure:"admin_ids"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q: %w", u.Port(), err)
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("database.storage_timeout", 30*time.Second)

	v.SetDefault("mirror.path", "data/mirror")
	v.SetDefault("mirror.use_in_memory", false)

	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 4096)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.timeout", 60*time.Second)
	v.SetDefault("openai.requests_per_minute", 60)
	v.SetDefault("openai.burst", 1)

	v.SetDefault("analysis.max_batch_units", 15000)
	v.SetDefault("analysis.max_batch_count", 35)
	v.SetDefault("analysis.history_limit", 10)
	v.SetDefault("analysis.sweep_interval", 15*time.Minute)
	v.SetDefault("analysis.sweep_concurrency", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads the YAML file at path and applies environment overrides.
// An empty path or a missing file leaves the defaults and the environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		dbConfig.StorageTimeout = config.Database.StorageTimeout
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	return &config, nil
}

// Validate reports settings the services cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Analysis.MaxBatchUnits <= 0 {
		errs = append(errs, errors.New("analysis.max_batch_units must be positive"))
	}
	if c.Analysis.MaxBatchCount <= 0 {
		errs = append(errs, errors.New("analysis.max_batch_count must be positive"))
	}
	if c.Analysis.HistoryLimit < 0 {
		errs = append(errs, errors.New("analysis.history_limit must not be negative"))
	}
	if c.OpenAI.APIKey == "" && !c.Database.UseInMemory && !c.Log.Development {
		errs = append(errs, errors.New("openai.api_key is required"))
	}
	if !c.Database.UseInMemory && c.Database.DBName == "" {
		errs = append(errs, errors.New("database.dbname is required"))
	}
	if !c.Mirror.UseInMemory && c.Mirror.Path == "" {
		errs = append(errs, errors.New("mirror.path is required"))
	}
	return errors.Join(errs...)
}
