// Package config loads and validates the agrostream runtime configuration.
//
// Configuration is a single JSON document. Every section has working
// defaults so a minimal file only needs the InfluxDB credentials; an empty
// path loads pure defaults, which is what the tests and local development
// use.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c360/agrostream/bus"
	"github.com/c360/agrostream/pipeline"
	"github.com/c360/agrostream/pkg/retry"
	"github.com/c360/agrostream/storage/tsdb"
)

// Duration wraps time.Duration so JSON configs can say "30s" or "24h".
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(v))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// MarshalJSON renders the duration in its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full runtime configuration for every agrostream stage.
type Config struct {
	NATS     NATSConfig     `json:"nats"`
	Channels ChannelsConfig `json:"channels"`
	Groups   GroupsConfig   `json:"groups"`
	Influx   tsdb.Config    `json:"influx"`
	SQLite   SQLiteConfig   `json:"sqlite"`
	HTTP     HTTPConfig     `json:"http"`
	Loop     LoopConfig     `json:"loop"`
}

// NATSConfig defines the NATS connection settings.
type NATSConfig struct {
	URL           string   `json:"url"`
	Name          string   `json:"name,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
	Timeout       Duration `json:"timeout,omitempty"`
}

// ChannelConfig describes one stream channel on the bus.
type ChannelConfig struct {
	Name          string   `json:"name"`
	Stream        string   `json:"stream"`
	SubjectPrefix string   `json:"subject_prefix"`
	MaxAge        Duration `json:"max_age,omitempty"`
}

// Channel converts the config entry into a bus.Channel.
func (c ChannelConfig) Channel() bus.Channel {
	return bus.Channel{
		Name:          c.Name,
		Stream:        c.Stream,
		SubjectPrefix: c.SubjectPrefix,
		MaxAge:        c.MaxAge.Std(),
	}
}

// ChannelsConfig names the three channels the pipeline rides on.
type ChannelsConfig struct {
	Readings   ChannelConfig `json:"readings"`
	Alerts     ChannelConfig `json:"alerts"`
	DeadLetter ChannelConfig `json:"dead_letter"`
}

// GroupsConfig names the durable consumer groups.
type GroupsConfig struct {
	AlertsWorker  string `json:"alerts_worker,omitempty"`
	AlertArchiver string `json:"alert_archiver,omitempty"`
}

// SQLiteConfig locates the alert database.
type SQLiteConfig struct {
	Path string `json:"path"`
}

// HTTPConfig holds the listen addresses for the two HTTP surfaces.
type HTTPConfig struct {
	IngestAddr string `json:"ingest_addr"`
	APIAddr    string `json:"api_addr"`
}

// LoopConfig tunes the consume loops shared by the alerter and archiver.
type LoopConfig struct {
	PollWait          Duration `json:"poll_wait,omitempty"`
	MaxDeliveries     int      `json:"max_deliveries,omitempty"`
	BackoffInitial    Duration `json:"backoff_initial,omitempty"`
	BackoffMax        Duration `json:"backoff_max,omitempty"`
	BackoffMultiplier float64  `json:"backoff_multiplier,omitempty"`
}

// Pipeline converts the loop tuning into a pipeline.Config for the named
// stage.
func (l LoopConfig) Pipeline(name string) pipeline.Config {
	return pipeline.Config{
		Name:          name,
		PollWait:      l.PollWait.Std(),
		MaxDeliveries: l.MaxDeliveries,
		Backoff: retry.Config{
			InitialDelay: l.BackoffInitial.Std(),
			MaxDelay:     l.BackoffMax.Std(),
			Multiplier:   l.BackoffMultiplier,
		},
	}
}

// Default returns the configuration used when a section is absent.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "agrostream",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Timeout:       Duration(5 * time.Second),
		},
		Channels: ChannelsConfig{
			Readings: ChannelConfig{
				Name:          "readings",
				Stream:        "AGRO_READINGS",
				SubjectPrefix: "readings",
				MaxAge:        Duration(24 * time.Hour),
			},
			Alerts: ChannelConfig{
				Name:          "alerts",
				Stream:        "AGRO_ALERTS",
				SubjectPrefix: "alerts",
				MaxAge:        Duration(7 * 24 * time.Hour),
			},
			DeadLetter: ChannelConfig{
				Name:          "dead-letter",
				Stream:        "AGRO_DEADLETTER",
				SubjectPrefix: "deadletter",
				MaxAge:        Duration(30 * 24 * time.Hour),
			},
		},
		Groups: GroupsConfig{
			AlertsWorker:  "alerts-worker",
			AlertArchiver: "alert-archiver",
		},
		Influx: tsdb.Config{
			URL:    "http://localhost:8086",
			Token:  "",
			Org:    "agrostream",
			Bucket: "sensor_readings",
		},
		SQLite: SQLiteConfig{
			Path: "agrostream.db",
		},
		HTTP: HTTPConfig{
			IngestAddr: ":8080",
			APIAddr:    ":8081",
		},
		Loop: LoopConfig{
			PollWait:          Duration(time.Second),
			MaxDeliveries:     5,
			BackoffInitial:    Duration(100 * time.Millisecond),
			BackoffMax:        Duration(5 * time.Second),
			BackoffMultiplier: 2.0,
		},
	}
}

// Load reads a JSON config file, layers it over the defaults, and
// validates the result. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment credentials come from the environment
// instead of the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AGROSTREAM_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("AGROSTREAM_INFLUX_URL"); v != "" {
		c.Influx.URL = v
	}
	if v := os.Getenv("AGROSTREAM_INFLUX_TOKEN"); v != "" {
		c.Influx.Token = v
	}
	if v := os.Getenv("AGROSTREAM_SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}
}

// Validate checks the configuration for the mistakes that would otherwise
// surface as confusing runtime failures.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	for _, ch := range []struct {
		section string
		cfg     ChannelConfig
	}{
		{"channels.readings", c.Channels.Readings},
		{"channels.alerts", c.Channels.Alerts},
		{"channels.dead_letter", c.Channels.DeadLetter},
	} {
		if err := ch.cfg.Channel().Validate(); err != nil {
			return fmt.Errorf("%s: %w", ch.section, err)
		}
	}
	prefixes := map[string]string{}
	for _, ch := range []ChannelConfig{c.Channels.Readings, c.Channels.Alerts, c.Channels.DeadLetter} {
		if prev, ok := prefixes[ch.SubjectPrefix]; ok {
			return fmt.Errorf("channels %s and %s share subject prefix %q", prev, ch.Name, ch.SubjectPrefix)
		}
		prefixes[ch.SubjectPrefix] = ch.Name
	}
	if c.Groups.AlertsWorker == "" {
		return errors.New("groups.alerts_worker is required")
	}
	if c.Groups.AlertArchiver == "" {
		return errors.New("groups.alert_archiver is required")
	}
	if c.SQLite.Path == "" {
		return errors.New("sqlite.path is required")
	}
	if c.HTTP.IngestAddr == "" {
		return errors.New("http.ingest_addr is required")
	}
	if c.HTTP.APIAddr == "" {
		return errors.New("http.api_addr is required")
	}
	if c.Loop.MaxDeliveries < 1 {
		return errors.New("loop.max_deliveries must be at least 1")
	}
	if c.Loop.BackoffMultiplier < 1 {
		return errors.New("loop.backoff_multiplier must be at least 1")
	}
	return nil
}
