package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var envReplacer = strings.NewReplacer(".", "_")

// Global configuration structure.
type Global struct {
	// Narrative collaborator
	AIProvider       string  `mapstructure:"ai_provider" yaml:"ai_provider"`
	AIModel          string  `mapstructure:"ai_model" yaml:"ai_model"`
	APIKey           string  `mapstructure:"api_key" yaml:"api_key"`
	AITimeoutSec     int     `mapstructure:"ai_timeout_sec" yaml:"ai_timeout_sec"`
	AIMaxTokens      int     `mapstructure:"ai_max_tokens" yaml:"ai_max_tokens"`
	AITemperature    float64 `mapstructure:"ai_temperature" yaml:"ai_temperature"`
	AIRatePerMinute  int     `mapstructure:"ai_rate_per_minute" yaml:"ai_rate_per_minute"`
	AIDigestTokens   int     `mapstructure:"ai_digest_tokens" yaml:"ai_digest_tokens"`
	OllamaHost       string  `mapstructure:"ollama_host" yaml:"ollama_host"`
	RetryMaxAttempts int     `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int     `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int     `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	EDA       EDA       `mapstructure:"eda" yaml:"eda"`
	Training  Training  `mapstructure:"training" yaml:"training"`
	Explainer Explainer `mapstructure:"explainer" yaml:"explainer"`
	Storage   Storage   `mapstructure:"storage" yaml:"storage"`
	Artifacts Artifacts `mapstructure:"artifacts" yaml:"artifacts"`
	Worker    Worker    `mapstructure:"worker" yaml:"worker"`

	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	DataDir     string `mapstructure:"data_dir" yaml:"data_dir"`
}

// EDA tunes the analyzer.
type EDA struct {
	MaxRowsFull   int   `mapstructure:"max_rows_full" yaml:"max_rows_full"`
	SampleSize    int   `mapstructure:"sample_size" yaml:"sample_size"`
	Seed          int64 `mapstructure:"seed" yaml:"seed"`
	HistogramBins int   `mapstructure:"histogram_bins" yaml:"histogram_bins"`
	MaxCategories int   `mapstructure:"max_categories" yaml:"max_categories"`
	TimeLimitSec  int   `mapstructure:"time_limit_sec" yaml:"time_limit_sec"`
	Narrative     bool  `mapstructure:"narrative" yaml:"narrative"`
}

// Training tunes the model trainer.
type Training struct {
	TestSize    float64 `mapstructure:"test_size" yaml:"test_size"`
	Seed        int64   `mapstructure:"seed" yaml:"seed"`
	MaxFolds    int     `mapstructure:"max_folds" yaml:"max_folds"`
	ComputeSHAP bool    `mapstructure:"compute_shap" yaml:"compute_shap"`
}

// Explainer bounds SHAP computation.
type Explainer struct {
	BackgroundSize int   `mapstructure:"background_size" yaml:"background_size"`
	ExplainSize    int   `mapstructure:"explain_size" yaml:"explain_size"`
	KernelCap      int   `mapstructure:"kernel_cap" yaml:"kernel_cap"`
	KernelSamples  int   `mapstructure:"kernel_samples" yaml:"kernel_samples"`
	Seed           int64 `mapstructure:"seed" yaml:"seed"`
}

// Storage selects the repository backend.
type Storage struct {
	Backend  string   `mapstructure:"backend" yaml:"backend"`
	Postgres Postgres `mapstructure:"postgres" yaml:"postgres"`
}

type Postgres struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
	Migrate  bool   `mapstructure:"migrate" yaml:"migrate"`
}

// Artifacts selects where model bundles and prediction outputs live.
type Artifacts struct {
	Backend        string `mapstructure:"backend" yaml:"backend"`
	Dir            string `mapstructure:"dir" yaml:"dir"`
	MinioEndpoint  string `mapstructure:"minio_endpoint" yaml:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key" yaml:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key" yaml:"minio_secret_key"`
	MinioBucket    string `mapstructure:"minio_bucket" yaml:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl" yaml:"minio_use_ssl"`
}

// Worker tunes the async queue and the stale-job reaper.
type Worker struct {
	Concurrency     int `mapstructure:"concurrency" yaml:"concurrency"`
	QueueSize       int `mapstructure:"queue_size" yaml:"queue_size"`
	HeartbeatSec    int `mapstructure:"heartbeat_sec" yaml:"heartbeat_sec"`
	StaleAfterSec   int `mapstructure:"stale_after_sec" yaml:"stale_after_sec"`
	ReapIntervalSec int `mapstructure:"reap_interval_sec" yaml:"reap_interval_sec"`
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

func (c *Global) AITimeout() time.Duration { return time.Duration(c.AITimeoutSec) * time.Second }

func (e EDA) TimeLimit() time.Duration { return time.Duration(e.TimeLimitSec) * time.Second }

func (w Worker) Heartbeat() time.Duration { return time.Duration(w.HeartbeatSec) * time.Second }

func (w Worker) StaleAfter() time.Duration { return time.Duration(w.StaleAfterSec) * time.Second }

func (w Worker) ReapInterval() time.Duration { return time.Duration(w.ReapIntervalSec) * time.Second }

func (w Worker) PollInterval() time.Duration { return time.Duration(w.PollIntervalSec) * time.Second }

// DSN formats the postgres connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v sslmode=%v TimeZone=%v",
		p.Host, p.User, p.Password, p.DBName, p.Port, p.SSLMode, p.Timezone)
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.tabforge/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		dir, err := homeDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("TABFORGE")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := homeDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.DataDir == "" {
		dir, err := homeDir()
		if err != nil {
			return nil, err
		}
		c.DataDir = dir
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = filepath.Join(c.DataDir, "artifacts")
	}
	return &c, nil
}

// Default returns the configuration with only defaults applied.
func Default() *Global {
	v := viper.New()
	setDefaults(v)
	var c Global
	_ = v.Unmarshal(&c)
	return &c
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ai_provider", "openrouter")
	v.SetDefault("ai_model", "google/gemini-flash-1.5")
	v.SetDefault("ai_timeout_sec", 30)
	v.SetDefault("ai_max_tokens", 1024)
	v.SetDefault("ai_temperature", 0.4)
	v.SetDefault("ai_rate_per_minute", 30)
	v.SetDefault("ai_digest_tokens", 1500)
	v.SetDefault("ollama_host", "http://127.0.0.1:11434")
	v.SetDefault("retry_max_attempts", 2)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)

	v.SetDefault("eda.max_rows_full", 50000)
	v.SetDefault("eda.sample_size", 10000)
	v.SetDefault("eda.seed", 42)
	v.SetDefault("eda.histogram_bins", 20)
	v.SetDefault("eda.max_categories", 20)
	v.SetDefault("eda.time_limit_sec", 300)
	v.SetDefault("eda.narrative", true)

	v.SetDefault("training.test_size", 0.2)
	v.SetDefault("training.seed", 42)
	v.SetDefault("training.max_folds", 5)
	v.SetDefault("training.compute_shap", true)

	v.SetDefault("explainer.background_size", 100)
	v.SetDefault("explainer.explain_size", 200)
	v.SetDefault("explainer.kernel_cap", 50)
	v.SetDefault("explainer.kernel_samples", 100)
	v.SetDefault("explainer.seed", 42)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.postgres.host", "127.0.0.1")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "tabforge")
	v.SetDefault("storage.postgres.dbname", "tabforge")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timezone", "UTC")
	v.SetDefault("storage.postgres.migrate", true)

	v.SetDefault("artifacts.backend", "local")
	v.SetDefault("artifacts.minio_endpoint", "localhost:9000")
	v.SetDefault("artifacts.minio_bucket", "tabforge")

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("worker.heartbeat_sec", 15)
	v.SetDefault("worker.stale_after_sec", 600)
	v.SetDefault("worker.reap_interval_sec", 60)
	v.SetDefault("worker.poll_interval_sec", 5)

	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")
}

func homeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".tabforge"), nil
}
