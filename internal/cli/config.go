package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rostrum-oss/rostrum/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Commands for viewing and modifying the runtime configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and workflow definitions",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configValidateCmd)
}

// loadConfig builds the effective runtime configuration: environment
// values over built-in defaults, config file values over those, and
// command-line flags over everything.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	applyFileConfig(cfg)
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFileConfig copies config file values over cfg. Only keys actually
// present in the file are applied.
func applyFileConfig(cfg *config.Config) {
	overlays := map[string]func(){
		"log.level":                          func() { cfg.Log.Level = viper.GetString("log.level") },
		"log.format":                         func() { cfg.Log.Format = viper.GetString("log.format") },
		"log.file":                           func() { cfg.Log.File = viper.GetString("log.file") },
		"metrics.addr":                       func() { cfg.Metrics.Addr = viper.GetString("metrics.addr") },
		"metrics.file":                       func() { cfg.Metrics.File = viper.GetString("metrics.file") },
		"bus.queue_size":                     func() { cfg.Bus.QueueSize = viper.GetInt("bus.queue_size") },
		"bus.poll_interval":                  func() { cfg.Bus.PollInterval = viper.GetDuration("bus.poll_interval") },
		"scheduler.max_concurrent_workflows": func() { cfg.Scheduler.MaxConcurrentWorkflows = viper.GetInt("scheduler.max_concurrent_workflows") },
		"checkpoint.driver":                  func() { cfg.Checkpoint.Driver = viper.GetString("checkpoint.driver") },
		"checkpoint.dir":                     func() { cfg.Checkpoint.Dir = viper.GetString("checkpoint.dir") },
		"checkpoint.path":                    func() { cfg.Checkpoint.Path = viper.GetString("checkpoint.path") },
		"checkpoint.redis_addr":              func() { cfg.Checkpoint.RedisAddr = viper.GetString("checkpoint.redis_addr") },
		"checkpoint.redis_password":          func() { cfg.Checkpoint.RedisPassword = viper.GetString("checkpoint.redis_password") },
		"checkpoint.redis_db":                func() { cfg.Checkpoint.RedisDB = viper.GetInt("checkpoint.redis_db") },
		"checkpoint.ttl":                     func() { cfg.Checkpoint.TTL = viper.GetDuration("checkpoint.ttl") },
		"checkpoint.retention":               func() { cfg.Checkpoint.Retention = viper.GetDuration("checkpoint.retention") },
		"recovery.cache_size":                func() { cfg.Recovery.CacheSize = viper.GetInt("recovery.cache_size") },
	}
	for key, apply := range overlays {
		if viper.IsSet(key) {
			apply()
		}
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Effective Configuration:")
	fmt.Println("------------------------")
	fmt.Println(string(out))

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	}

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configFile := "rostrum.yaml"
	if viper.ConfigFileUsed() != "" {
		configFile = viper.ConfigFileUsed()
	}

	// Missing file starts empty so set also bootstraps a config.
	cfg := map[string]interface{}{}
	if content, err := os.ReadFile(configFile); err == nil {
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}

	setNestedValue(cfg, key, value)

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, out, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	var problems []string

	if _, err := loadConfig(); err != nil {
		problems = append(problems, fmt.Sprintf("runtime config: %v", err))
	} else {
		fmt.Println("runtime config: OK")
	}

	if paths, err := config.ListDefinitions("workflows"); err == nil {
		for _, path := range paths {
			if _, err := config.LoadDefinition(path); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", path, err))
			} else {
				fmt.Printf("%s: OK\n", path)
			}
		}
	}

	if len(problems) > 0 {
		fmt.Println("\nValidation Errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("validation failed with %d errors", len(problems))
	}

	fmt.Println("\nAll configurations valid.")
	return nil
}

// setNestedValue writes value into m, creating intermediate maps for
// dotted keys.
func setNestedValue(m map[string]interface{}, key, value string) {
	parts := strings.Split(key, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		if _, ok := current[parts[i]]; !ok {
			current[parts[i]] = make(map[string]interface{})
		}
		next, ok := current[parts[i]].(map[string]interface{})
		if !ok {
			return
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
