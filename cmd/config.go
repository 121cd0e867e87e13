package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/tabforge/internal/ai"
	cfgpkg "github.com/KaramelBytes/tabforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set tabforge configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No config loaded")
			return nil
		}
		shown := *cfg
		shown.APIKey = mask(shown.APIKey)
		shown.Storage.Postgres.Password = mask(shown.Storage.Postgres.Password)
		shown.Artifacts.MinioSecretKey = mask(shown.Artifacts.MinioSecretKey)
		b, err := yaml.Marshal(&shown)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Example: `  tabforge config set ai_provider ollama
  tabforge config set storage.backend postgres
  tabforge config set worker.concurrency 4`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		if err := setConfigValue(cfg, key, val); err != nil {
			return err
		}
		if err := cfgpkg.Save(cfg, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved config")
		return nil
	},
}

func setConfigValue(c *cfgpkg.Global, key, val string) error {
	intVal := func(dst *int) error {
		i, err := strconv.Atoi(val)
		if err != nil || i < 0 {
			return fmt.Errorf("invalid int for %s: %v", key, val)
		}
		*dst = i
		return nil
	}
	floatVal := func(dst *float64) error {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid float for %s: %v", key, val)
		}
		*dst = f
		return nil
	}
	boolVal := func(dst *bool) error {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid bool for %s: %v", key, val)
		}
		*dst = b
		return nil
	}

	switch key {
	case "api_key":
		c.APIKey = val
	case "ai_model":
		c.AIModel = val
	case "ai_provider":
		switch strings.ToLower(val) {
		case ai.ProviderOpenRouter:
			c.AIProvider = ai.ProviderOpenRouter
		case ai.ProviderOllama, "local":
			c.AIProvider = ai.ProviderOllama
		case ai.ProviderNone, "off":
			c.AIProvider = ai.ProviderNone
		default:
			return fmt.Errorf("invalid ai_provider: %s (use openrouter, ollama or none)", val)
		}
	case "ollama_host":
		c.OllamaHost = val
	case "ai_timeout_sec":
		return intVal(&c.AITimeoutSec)
	case "ai_max_tokens":
		return intVal(&c.AIMaxTokens)
	case "ai_temperature":
		return floatVal(&c.AITemperature)
	case "ai_rate_per_minute":
		return intVal(&c.AIRatePerMinute)
	case "eda.narrative":
		return boolVal(&c.EDA.Narrative)
	case "eda.max_rows_full":
		return intVal(&c.EDA.MaxRowsFull)
	case "eda.sample_size":
		return intVal(&c.EDA.SampleSize)
	case "eda.time_limit_sec":
		return intVal(&c.EDA.TimeLimitSec)
	case "training.test_size":
		if err := floatVal(&c.Training.TestSize); err != nil {
			return err
		}
		if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
			return fmt.Errorf("training.test_size must be between 0 and 1")
		}
	case "training.compute_shap":
		return boolVal(&c.Training.ComputeSHAP)
	case "storage.backend":
		switch val {
		case "memory", "postgres":
			c.Storage.Backend = val
		default:
			return fmt.Errorf("invalid storage.backend: %s (use memory or postgres)", val)
		}
	case "artifacts.backend":
		switch val {
		case "local", "minio":
			c.Artifacts.Backend = val
		default:
			return fmt.Errorf("invalid artifacts.backend: %s (use local or minio)", val)
		}
	case "artifacts.dir":
		c.Artifacts.Dir = val
	case "worker.concurrency":
		return intVal(&c.Worker.Concurrency)
	case "worker.queue_size":
		return intVal(&c.Worker.QueueSize)
	case "metrics_addr":
		c.MetricsAddr = val
	case "log_level":
		c.LogLevel = val
	case "log_file":
		c.LogFile = val
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}
