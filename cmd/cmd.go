package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "approval-workflow",
	Short: "Approval Workflow",
	Long:  `Multi-level approval routing for purchase and expense applications.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*internal.Config, error) {
	// Check if we're running in Docker environment
	if os.Getenv("APP_ENV") == "production" || os.Getenv("DOCKER_ENV") == "true" {
		cfg := internal.LoadConfigFromEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("error validating config from environment: %w", err)
		}
		return cfg, nil
	}

	// Load configuration from file (development)
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.SetEnvPrefix("ENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_server.openapi_spec_path", "./api/openapi.yml")
	v.SetDefault("workflow.application_no_prefix", "APP")
	v.SetDefault("workflow.conflict_retries", 3)
	v.SetDefault("notification.nats_subject", "workflow.transitions")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	var cfg internal.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("error validating config: %w", err)
	}

	return &cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "directory containing config.yml")

	rootCmd.AddCommand(httpServerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}
