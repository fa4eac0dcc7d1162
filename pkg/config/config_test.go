package config

import (
	"os"
	"path/filepath"
	"testing"

	nperrors "github.com/niksan004/nextport/pkg/errors"
)

// chdir moves into a fresh directory so no stray nextport.yaml or .env is read.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "run.yaml")
	content := `
constants:
  ship_sample_size: 50
  sd_coefficient: 3
  bulk_insert: 250
tables:
  stay_time_table: stays
sink:
  kind: parquet
  output_dir: results
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := m.Get()

	if c.Constants.ShipSampleSize != 50 || c.Constants.SDCoefficient != 3 || c.Constants.BulkInsert != 250 {
		t.Errorf("constants = %+v", c.Constants)
	}
	if c.Tables.StayTime != "stays" {
		t.Errorf("stay table = %q", c.Tables.StayTime)
	}
	// Keys absent from the file keep their defaults.
	if c.Tables.NextPort != "next_port_percent" {
		t.Errorf("next port table = %q", c.Tables.NextPort)
	}
	if c.Sink.Kind != "parquet" || c.Sink.OutputDir != "results" || c.Sink.Compression != "snappy" {
		t.Errorf("sink = %+v", c.Sink)
	}
	if got := m.GetPaths(); len(got) != 1 || got[0] != path {
		t.Errorf("paths = %v", got)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "run.toml")
	content := `
workers = 4

[constants]
sd_coefficient = 1.5

[source]
driver = "duckdb"
data_file_name = "events.duckdb"

[scheduler]
kind = "redis"

[scheduler.redis]
addr = "redis:6379"
db = 2
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := m.Get()

	if c.Workers != 4 || c.WorkerCount() != 4 {
		t.Errorf("workers = %d", c.Workers)
	}
	if c.Constants.SDCoefficient != 1.5 || c.Constants.BulkInsert != 1000 {
		t.Errorf("constants = %+v", c.Constants)
	}
	if c.Source.Driver != "duckdb" || c.Source.Path != "events.duckdb" {
		t.Errorf("source = %+v", c.Source)
	}
	if c.Scheduler.Kind != "redis" || c.Scheduler.Redis.Addr != "redis:6379" || c.Scheduler.Redis.DB != 2 {
		t.Errorf("scheduler = %+v", c.Scheduler)
	}
	if c.Scheduler.Redis.KeyPrefix != "nextport:" {
		t.Errorf("key prefix = %q", c.Scheduler.Redis.KeyPrefix)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdir(t)
	err := NewManager().Load("nope.yaml")
	if !nperrors.IsCode(err, nperrors.CodeConfigNotFound) {
		t.Fatalf("err = %v, want %s", err, nperrors.CodeConfigNotFound)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte("constants: [1, 2"), 0644)

	err := NewManager().Load(path)
	if !nperrors.IsCode(err, nperrors.CodeConfigParse) {
		t.Fatalf("err = %v, want %s", err, nperrors.CodeConfigParse)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "run.yaml")
	os.WriteFile(path, []byte("constants:\n  bulk_insert: 10\n"), 0644)

	t.Setenv("NEXTPORT_BULK_INSERT", "20")
	t.Setenv("NEXTPORT_SD_COEFFICIENT", "2.5")
	t.Setenv("NEXTPORT_SINK_KIND", "xlsx")
	t.Setenv("NEXTPORT_UPLOAD", "true")

	m := NewManager()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := m.Get()

	if c.Constants.BulkInsert != 20 {
		t.Errorf("bulk insert = %d", c.Constants.BulkInsert)
	}
	if c.Constants.SDCoefficient != 2.5 {
		t.Errorf("sd coefficient = %v", c.Constants.SDCoefficient)
	}
	if c.Sink.Kind != "xlsx" || !c.Upload.Enabled {
		t.Errorf("sink kind = %q upload = %v", c.Sink.Kind, c.Upload.Enabled)
	}
}

func TestDotEnvFile(t *testing.T) {
	dir := chdir(t)
	os.WriteFile(filepath.Join(dir, ".env"), []byte("NEXTPORT_WORKERS=3\n"), 0644)
	t.Cleanup(func() { os.Unsetenv("NEXTPORT_WORKERS") })

	m := NewManager()
	if err := m.Load(""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get().Workers != 3 {
		t.Errorf("workers = %d", m.Get().Workers)
	}
}

func TestBadEnvValue(t *testing.T) {
	chdir(t)
	t.Setenv("NEXTPORT_WORKERS", "many")

	err := NewManager().Load("")
	if !nperrors.IsCode(err, nperrors.CodeConfigParse) {
		t.Fatalf("err = %v, want %s", err, nperrors.CodeConfigParse)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero bulk insert", func(c *Config) { c.Constants.BulkInsert = 0 }, "constants.bulk_insert"},
		{"negative coefficient", func(c *Config) { c.Constants.SDCoefficient = -1 }, "constants.sd_coefficient"},
		{"negative sample size", func(c *Config) { c.Constants.ShipSampleSize = -1 }, "constants.ship_sample_size"},
		{"unknown source driver", func(c *Config) { c.Source.Driver = "mysql" }, "source.driver"},
		{"unknown sink", func(c *Config) { c.Sink.Kind = "csv" }, "sink.kind"},
		{"unknown scheduler", func(c *Config) { c.Scheduler.Kind = "kafka" }, "scheduler.kind"},
		{"upload without bucket", func(c *Config) { c.Upload.Enabled = true }, "upload.bucket"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if !nperrors.IsCode(err, nperrors.CodeConfigInvalid) {
				t.Fatalf("err = %v, want %s", err, nperrors.CodeConfigInvalid)
			}
			e := err.(*nperrors.Error)
			if e.Context["field"] != tt.field {
				t.Errorf("field = %v, want %s", e.Context["field"], tt.field)
			}
		})
	}
}

func TestValidateSQLDrivers(t *testing.T) {
	for _, driver := range []string{"sqlite3", "duckdb", "mysql"} {
		c := Default()
		c.Sink.Driver = driver
		if err := c.Validate(); err != nil {
			t.Errorf("sink.driver %s: %v", driver, err)
		}
	}

	c := Default()
	c.Sink.Driver = "postgres"
	if !nperrors.IsCode(c.Validate(), nperrors.CodeConfigInvalid) {
		t.Error("postgres sink driver accepted")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := chdir(t)

	m := NewManager()
	m.Get().Constants.BulkInsert = 77
	m.Get().Sink.Kind = "xlsx"

	for _, name := range []string{"out.yaml", "out.toml"} {
		path := filepath.Join(dir, name)
		if err := m.Save(path); err != nil {
			t.Fatalf("Save(%s): %v", name, err)
		}

		other := NewManager()
		if err := other.Load(path); err != nil {
			t.Fatalf("Load(%s): %v", name, err)
		}
		if other.Get().Constants.BulkInsert != 77 || other.Get().Sink.Kind != "xlsx" {
			t.Errorf("%s: got %+v", name, other.Get())
		}
	}
}
