// Package config loads the dashboard's configuration from a YAML file and
// applies environment overrides on top of it.
//
// Precedence is defaults, then the file, then the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/go-opsdash/pkg/microservice"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHTTPPort     = ":8080"
	DefaultLogLevel     = "info"
	DefaultPollInterval = 5 * time.Second
	DefaultRedisTTL     = 60 * time.Second
	DefaultSlowLogCount = 200
)

// Duration is a time.Duration written in YAML as a string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Config is the complete dashboard configuration.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	PollInterval Duration `yaml:"poll_interval"`

	Redis     []RedisInstance     `yaml:"redis"`
	SQL       *SQLConfig          `yaml:"sql,omitempty"`
	BigQuery  []BigQueryQuery     `yaml:"bigquery,omitempty"`
	Firestore []FirestoreDocument `yaml:"firestore,omitempty"`
	Buckets   []Bucket            `yaml:"buckets,omitempty"`
	Notify    *NotifyConfig       `yaml:"notify,omitempty"`
	History   *HistoryConfig      `yaml:"history,omitempty"`
}

// RedisInstance configures one monitored Redis server.
type RedisInstance struct {
	Name         string   `yaml:"name"`
	Addr         string   `yaml:"addr"`
	Password     string   `yaml:"password,omitempty"`
	DB           int      `yaml:"db,omitempty"`
	ConfigTTL    Duration `yaml:"config_ttl,omitempty"`
	SlowLogTTL   Duration `yaml:"slowlog_ttl,omitempty"`
	KeyCountTTL  Duration `yaml:"keycount_ttl,omitempty"`
	SlowLogCount int64    `yaml:"slowlog_count,omitempty"`
}

// SQLConfig configures one database and the queries polled against it.
type SQLConfig struct {
	Driver  string     `yaml:"driver"`
	DSN     string     `yaml:"dsn"`
	Queries []SQLQuery `yaml:"queries"`
}

// SQLQuery is one polled SQL statement.
type SQLQuery struct {
	Name  string   `yaml:"name"`
	Query string   `yaml:"query"`
	TTL   Duration `yaml:"ttl"`
}

// BigQueryQuery is one polled BigQuery statement.
type BigQueryQuery struct {
	Name    string   `yaml:"name"`
	SQL     string   `yaml:"sql"`
	TTL     Duration `yaml:"ttl"`
	MaxRows int      `yaml:"max_rows,omitempty"`
}

// FirestoreDocument is one polled Firestore document.
type FirestoreDocument struct {
	Name       string   `yaml:"name"`
	Collection string   `yaml:"collection"`
	Document   string   `yaml:"document"`
	TTL        Duration `yaml:"ttl"`
}

// Bucket is one polled GCS bucket prefix.
type Bucket struct {
	Name   string   `yaml:"name"`
	Bucket string   `yaml:"bucket"`
	Prefix string   `yaml:"prefix,omitempty"`
	TTL    Duration `yaml:"ttl"`
}

// NotifyConfig enables publishing fetch outcomes to Pub/Sub.
type NotifyConfig struct {
	TopicID      string `yaml:"topic_id"`
	FailuresOnly bool   `yaml:"failures_only,omitempty"`
}

// HistoryConfig enables streaming fetch history into BigQuery.
type HistoryConfig struct {
	DatasetID     string   `yaml:"dataset_id"`
	TableID       string   `yaml:"table_id"`
	BatchSize     int      `yaml:"batch_size,omitempty"`
	FlushInterval Duration `yaml:"flush_interval,omitempty"`
}

// NewConfigDefaults provides a config with sensible defaults.
func NewConfigDefaults() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel:    DefaultLogLevel,
			HTTPPort:    DefaultHTTPPort,
			ServiceName: "opsdash",
		},
		PollInterval: Duration{DefaultPollInterval},
	}
}

// Load reads the YAML file at path, when path is not empty, applies the
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := NewConfigDefaults()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment. REDIS_ADDR and
// REDIS_PASSWORD apply to the first Redis instance, creating one named
// "default" when the file configures none.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("OPSDASH_HTTP_PORT"); v != "" {
		c.HTTPPort = v
	}
	if v := os.Getenv("OPSDASH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv("GCP_CREDENTIALS_FILE"); v != "" {
		c.CredentialsFile = v
	}
	if v := os.Getenv("OPSDASH_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("OPSDASH_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = Duration{d}
	}

	addr := os.Getenv("REDIS_ADDR")
	password, hasPassword := os.LookupEnv("REDIS_PASSWORD")
	if addr != "" && len(c.Redis) == 0 {
		c.Redis = append(c.Redis, RedisInstance{Name: "default"})
	}
	if len(c.Redis) > 0 {
		if addr != "" {
			c.Redis[0].Addr = addr
		}
		if hasPassword {
			c.Redis[0].Password = password
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" && len(c.Redis) > 0 {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Redis[0].DB = db
	}
	return nil
}

// Validate checks the config for missing or conflicting values.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("http_port cannot be empty"))
	}
	if c.PollInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be greater than 0, got %s", c.PollInterval))
	}

	names := make(map[string]bool)
	checkName := func(kind, name string) {
		if name == "" {
			errs = append(errs, fmt.Errorf("%s source has no name", kind))
			return
		}
		key := kind + "/" + name
		if names[key] {
			errs = append(errs, fmt.Errorf("duplicate %s source %q", kind, name))
		}
		names[key] = true
	}

	for _, r := range c.Redis {
		checkName("redis", r.Name)
		if r.Addr == "" {
			errs = append(errs, fmt.Errorf("redis instance %q has no addr", r.Name))
		}
	}
	if c.SQL != nil {
		if c.SQL.Driver == "" || c.SQL.DSN == "" {
			errs = append(errs, errors.New("sql requires both driver and dsn"))
		}
		for _, q := range c.SQL.Queries {
			checkName("sql", q.Name)
			if q.Query == "" {
				errs = append(errs, fmt.Errorf("sql query %q has no query text", q.Name))
			}
		}
	}
	for _, q := range c.BigQuery {
		checkName("bigquery", q.Name)
		if q.SQL == "" {
			errs = append(errs, fmt.Errorf("bigquery query %q has no sql", q.Name))
		}
	}
	for _, d := range c.Firestore {
		checkName("firestore", d.Name)
		if d.Collection == "" || d.Document == "" {
			errs = append(errs, fmt.Errorf("firestore document %q requires collection and document", d.Name))
		}
	}
	for _, b := range c.Buckets {
		checkName("gcs", b.Name)
		if b.Bucket == "" {
			errs = append(errs, fmt.Errorf("bucket source %q has no bucket", b.Name))
		}
	}
	if c.Notify != nil && c.Notify.TopicID == "" {
		errs = append(errs, errors.New("notify requires topic_id"))
	}
	if c.History != nil && (c.History.DatasetID == "" || c.History.TableID == "") {
		errs = append(errs, errors.New("history requires dataset_id and table_id"))
	}
	if c.NeedsGCP() && c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required for bigquery, firestore, gcs, pubsub or history"))
	}
	return errors.Join(errs...)
}

// NeedsGCP reports whether any configured component talks to Google Cloud.
func (c *Config) NeedsGCP() bool {
	return len(c.BigQuery) > 0 || len(c.Firestore) > 0 || len(c.Buckets) > 0 || c.Notify != nil || c.History != nil
}

// TTLOr returns d, or def when d is unset.
func TTLOr(d Duration, def time.Duration) time.Duration {
	if d.Duration <= 0 {
		return def
	}
	return d.Duration
}
