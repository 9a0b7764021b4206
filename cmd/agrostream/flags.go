package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	Stages          string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// stage identifies one runnable pipeline stage.
type stage string

const (
	stageIngest  stage = "ingest"
	stageAlerts  stage = "alerts"
	stageArchive stage = "archive"
	stageAPI     stage = "api"
)

var allStages = []stage{stageIngest, stageAlerts, stageArchive, stageAPI}

// stageSet is the set of stages enabled for this process.
type stageSet map[stage]bool

func (s stageSet) has(st stage) bool { return s[st] }

// parseStages turns the -stages flag into a stage set. "all" enables
// every stage in one process, the usual single-node deployment.
func parseStages(spec string) (stageSet, error) {
	set := stageSet{}
	for _, part := range strings.Split(spec, ",") {
		name := stage(strings.TrimSpace(strings.ToLower(part)))
		if name == "" {
			continue
		}
		if name == "all" {
			for _, st := range allStages {
				set[st] = true
			}
			continue
		}
		known := false
		for _, st := range allStages {
			if name == st {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown stage %q (valid: ingest, alerts, archive, api, all)", part)
		}
		set[name] = true
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no stages enabled (use -stages=all or a comma list)")
	}
	return set, nil
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("AGROSTREAM_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: AGROSTREAM_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("AGROSTREAM_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: AGROSTREAM_CONFIG)")

	flag.StringVar(&cfg.Stages, "stages",
		getEnv("AGROSTREAM_STAGES", "all"),
		"Comma-separated stages to run: ingest, alerts, archive, api, all (env: AGROSTREAM_STAGES)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("AGROSTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: AGROSTREAM_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("AGROSTREAM_LOG_FORMAT", "json"),
		"Log format: json, text (env: AGROSTREAM_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("AGROSTREAM_DEBUG", false),
		"Enable debug mode (env: AGROSTREAM_DEBUG)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("AGROSTREAM_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: AGROSTREAM_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	// Override log level if debug is set
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	// Config file is optional; when given it must exist
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if _, ok := logLevels[cfg.LogLevel]; !ok {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if _, err := parseStages(cfg.Stages); err != nil {
		return err
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Agricultural Sensor Telemetry Pipeline

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run every stage in one process with defaults
  %s

  # Run with custom config
  %s --config=/etc/agrostream/config.json

  # Run only the HTTP ingest and the query API
  %s --stages=ingest,api

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Validate configuration only
  %s --config=config.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
