// Package config provides layered configuration for nextport.
// Priority: defaults < config file < .env < environment < flags
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	nperrors "github.com/niksan004/nextport/pkg/errors"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "nextport.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NEXTPORT_"

// Config holds all nextport configuration.
type Config struct {
	Constants ConstantsConfig `yaml:"constants" toml:"constants"`
	Tables    TablesConfig    `yaml:"tables" toml:"tables"`
	Source    SourceConfig    `yaml:"source" toml:"source"`
	Sink      SinkConfig      `yaml:"sink" toml:"sink"`
	Workers   int             `yaml:"workers" toml:"workers"` // 0 = one per CPU
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Upload    UploadConfig    `yaml:"upload" toml:"upload"`
	Watch     WatchConfig     `yaml:"watch" toml:"watch"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// ConstantsConfig holds the tuning constants of a run.
type ConstantsConfig struct {
	ShipSampleSize int     `yaml:"ship_sample_size" toml:"ship_sample_size"` // 0 = every entity
	SDCoefficient  float64 `yaml:"sd_coefficient" toml:"sd_coefficient"`
	BulkInsert     int     `yaml:"bulk_insert" toml:"bulk_insert"`
}

// TablesConfig names the result tables.
type TablesConfig struct {
	StayTime string `yaml:"stay_time_table" toml:"stay_time_table"`
	NextPort string `yaml:"next_port_percent" toml:"next_port_percent"`
}

// SourceConfig locates the event store.
type SourceConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite3 | duckdb
	Path   string `yaml:"data_file_name" toml:"data_file_name"`
}

// SinkConfig selects where result rows go.
type SinkConfig struct {
	Kind        string `yaml:"kind" toml:"kind"`     // sql | parquet | xlsx
	Driver      string `yaml:"driver" toml:"driver"` // sql kind: duckdb | sqlite3 | mysql
	DSN         string `yaml:"dsn" toml:"dsn"`
	OutputDir   string `yaml:"output_dir" toml:"output_dir"`
	Compression string `yaml:"compression" toml:"compression"` // parquet: snappy | zstd | gzip | lz4 | none
	Replace     bool   `yaml:"replace" toml:"replace"`         // sql kind: empty the tables first
}

// SchedulerConfig selects how entities are assigned to workers.
type SchedulerConfig struct {
	Kind  string      `yaml:"kind" toml:"kind"` // static | redis
	Redis RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig configures the Redis work queue.
type RedisConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	Password  string `yaml:"password" toml:"password"`
	DB        int    `yaml:"db" toml:"db"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
}

// UploadConfig configures the optional S3 upload of file sink output.
type UploadConfig struct {
	Enabled         bool   `yaml:"enabled" toml:"enabled"`
	Bucket          string `yaml:"bucket" toml:"bucket"`
	Prefix          string `yaml:"prefix" toml:"prefix"`
	Region          string `yaml:"region" toml:"region"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style" toml:"use_path_style"`
}

// WatchConfig controls the watch command.
type WatchConfig struct {
	DebounceMS int `yaml:"debounce_ms" toml:"debounce_ms"`
}

// LoggingConfig controls structured logs.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text | json
	Output string `yaml:"output" toml:"output"` // stderr | stdout | file
	File   string `yaml:"file" toml:"file"`
}

// TelemetryConfig controls OTLP tracing.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled"`
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	ServiceName string  `yaml:"service_name" toml:"service_name"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate" toml:"sample_rate"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Constants: ConstantsConfig{
			ShipSampleSize: 0,
			SDCoefficient:  2,
			BulkInsert:     1000,
		},
		Tables: TablesConfig{
			StayTime: "port_stay_time",
			NextPort: "next_port_percent",
		},
		Source: SourceConfig{
			Driver: "sqlite3",
			Path:   "events.db",
		},
		Sink: SinkConfig{
			Kind:        "sql",
			Driver:      "duckdb",
			DSN:         "nextport.duckdb",
			OutputDir:   "out",
			Compression: "snappy",
		},
		Workers: 0,
		Scheduler: SchedulerConfig{
			Kind: "static",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "nextport:",
			},
		},
		Upload: UploadConfig{
			Region: "us-east-1",
		},
		Watch: WatchConfig{
			DebounceMS: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "nextport",
			Insecure:    true,
			SampleRate:  1.0,
		},
	}
}

// WorkerCount resolves Workers, defaulting to one worker per CPU.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Validate checks the configuration for values no run can use.
func (c *Config) Validate() error {
	if c.Constants.BulkInsert <= 0 {
		return nperrors.InvalidConfig("constants.bulk_insert", c.Constants.BulkInsert)
	}
	if c.Constants.SDCoefficient < 0 {
		return nperrors.InvalidConfig("constants.sd_coefficient", c.Constants.SDCoefficient)
	}
	if c.Constants.ShipSampleSize < 0 {
		return nperrors.InvalidConfig("constants.ship_sample_size", c.Constants.ShipSampleSize)
	}
	if c.Workers < 0 {
		return nperrors.InvalidConfig("workers", c.Workers)
	}
	if !oneOf(c.Source.Driver, "sqlite3", "duckdb") {
		return nperrors.InvalidConfig("source.driver", c.Source.Driver)
	}
	if c.Source.Path == "" {
		return nperrors.InvalidConfig("source.data_file_name", c.Source.Path)
	}

	switch c.Sink.Kind {
	case "sql":
		if !oneOf(c.Sink.Driver, "sqlite3", "duckdb", "mysql") {
			return nperrors.InvalidConfig("sink.driver", c.Sink.Driver)
		}
		if c.Tables.StayTime == "" || c.Tables.NextPort == "" {
			return nperrors.InvalidConfig("tables", c.Tables)
		}
	case "parquet", "xlsx":
		if c.Sink.OutputDir == "" {
			return nperrors.InvalidConfig("sink.output_dir", c.Sink.OutputDir)
		}
	default:
		return nperrors.InvalidConfig("sink.kind", c.Sink.Kind)
	}

	if !oneOf(c.Scheduler.Kind, "static", "redis") {
		return nperrors.InvalidConfig("scheduler.kind", c.Scheduler.Kind)
	}
	if c.Upload.Enabled && c.Upload.Bucket == "" {
		return nperrors.InvalidConfig("upload.bucket", c.Upload.Bucket)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return nperrors.InvalidConfig("telemetry.sample_rate", c.Telemetry.SampleRate)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string
}

// NewManager creates a manager holding the defaults.
func NewManager() *Manager {
	return &Manager{config: Default()}
}

// Load rebuilds the configuration from all sources. When path is empty the
// default locations are searched and missing files are skipped; an explicit
// path must exist.
func (m *Manager) Load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	if path != "" {
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				return nperrors.Wrap(err, nperrors.CodeConfigNotFound, "config file not found").
					WithContext("path", path)
			}
			return err
		}
		m.paths = append(m.paths, path)
	} else {
		for _, p := range searchPaths() {
			if err := m.loadFile(p); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return err
			}
			m.paths = append(m.paths, p)
		}
	}

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nperrors.Wrap(err, nperrors.CodeConfigParse, "parse .env")
	}

	if err := m.loadEnv(); err != nil {
		return err
	}
	return nil
}

// searchPaths returns config file paths in priority order.
func searchPaths() []string {
	var paths []string
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/nextport/"+DefaultFile)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "nextport", DefaultFile))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, DefaultFile))
	}
	return paths
}

// loadFile decodes one file on top of the current configuration, so only
// the keys present in the file change. The format follows the extension.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err = toml.NewDecoder(bytes.NewReader(data)).Decode(m.config)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, m.config)
	default:
		return nperrors.New(nperrors.CodeConfigParse, "unsupported config format").
			WithContext("path", path)
	}
	if err != nil {
		return nperrors.Wrap(err, nperrors.CodeConfigParse, "parse config file").
			WithContext("path", path)
	}
	return nil
}

// loadEnv applies NEXTPORT_* environment overrides.
func (m *Manager) loadEnv() error {
	c := m.config

	strs := map[string]*string{
		"TABLE_STAY_TIME":      &c.Tables.StayTime,
		"TABLE_NEXT_PORT":      &c.Tables.NextPort,
		"SOURCE_DRIVER":        &c.Source.Driver,
		"DATA_FILE_NAME":       &c.Source.Path,
		"SINK_KIND":            &c.Sink.Kind,
		"SINK_DRIVER":          &c.Sink.Driver,
		"SINK_DSN":             &c.Sink.DSN,
		"OUTPUT_DIR":           &c.Sink.OutputDir,
		"COMPRESSION":          &c.Sink.Compression,
		"SCHEDULER":            &c.Scheduler.Kind,
		"REDIS_ADDR":           &c.Scheduler.Redis.Addr,
		"REDIS_PASSWORD":       &c.Scheduler.Redis.Password,
		"S3_BUCKET":            &c.Upload.Bucket,
		"S3_PREFIX":            &c.Upload.Prefix,
		"S3_REGION":            &c.Upload.Region,
		"S3_ENDPOINT":          &c.Upload.Endpoint,
		"S3_ACCESS_KEY_ID":     &c.Upload.AccessKeyID,
		"S3_SECRET_ACCESS_KEY": &c.Upload.SecretAccessKey,
		"LOG_LEVEL":            &c.Logging.Level,
		"LOG_FORMAT":           &c.Logging.Format,
		"OTLP_ENDPOINT":        &c.Telemetry.Endpoint,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SHIP_SAMPLE_SIZE": &c.Constants.ShipSampleSize,
		"BULK_INSERT":      &c.Constants.BulkInsert,
		"WORKERS":          &c.Workers,
		"REDIS_DB":         &c.Scheduler.Redis.DB,
	}
	for key, dst := range ints {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nperrors.Wrapf(err, nperrors.CodeConfigParse, "parse %s%s", EnvPrefix, key)
		}
		*dst = n
	}

	if v := os.Getenv(EnvPrefix + "SD_COEFFICIENT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nperrors.Wrapf(err, nperrors.CodeConfigParse, "parse %sSD_COEFFICIENT", EnvPrefix)
		}
		c.Constants.SDCoefficient = f
	}

	bools := map[string]*bool{
		"UPLOAD":    &c.Upload.Enabled,
		"TELEMETRY": &c.Telemetry.Enabled,
	}
	for key, dst := range bools {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nperrors.Wrapf(err, nperrors.CodeConfigParse, "parse %s%s", EnvPrefix, key)
		}
		*dst = b
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the files that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Marshal renders the current configuration as YAML.
func (m *Manager) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return yaml.Marshal(m.config)
}

// Save writes the current configuration to path as YAML or TOML.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.NewEncoder(&buf).Encode(m.config); err != nil {
			return fmt.Errorf("encode toml: %w", err)
		}
	} else {
		data, err := yaml.Marshal(m.config)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		buf.Write(data)
	}

	return os.WriteFile(path, buf.Bytes(), 0644)
}
