// Package sink persists stay and next-port result rows.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	"github.com/niksan004/nextport/internal/model"
	nperrors "github.com/niksan004/nextport/pkg/errors"
)

// Sink accepts result rows. A Sink belongs to one worker and is not safe
// for concurrent use.
type Sink interface {
	// WriteStays persists stay-time rows.
	WriteStays(ctx context.Context, rows []model.StayRow) error

	// WriteVoyages persists next-port rows.
	WriteVoyages(ctx context.Context, rows []model.VoyageRow) error

	// Close flushes and releases the sink.
	Close() error
}

// Kind selects a sink implementation.
type Kind string

const (
	KindSQL     Kind = "sql"
	KindParquet Kind = "parquet"
	KindXLSX    Kind = "xlsx"
)

// Config holds sink configuration.
type Config struct {
	Kind Kind

	// Driver and DSN are used by KindSQL.
	Driver string
	DSN    string

	// OutputDir receives the files of KindParquet and KindXLSX.
	OutputDir   string
	Compression Compression

	StayTable   string
	VoyageTable string

	// BulkInsert caps the rows of one INSERT statement.
	BulkInsert int

	// Replace empties the result tables when the factory opens them.
	// File sinks always overwrite their files.
	Replace bool
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c Config) validate() error {
	if !identRe.MatchString(c.StayTable) {
		return nperrors.InvalidConfig("tables.stay_time_table", c.StayTable)
	}
	if !identRe.MatchString(c.VoyageTable) {
		return nperrors.InvalidConfig("tables.next_port_percent", c.VoyageTable)
	}
	if c.BulkInsert <= 0 {
		return nperrors.InvalidConfig("constants.bulk_insert", c.BulkInsert)
	}
	return nil
}

// Factory opens one sink per worker. State that workers must share, such as
// the SQL connection pool, lives in the Factory.
type Factory struct {
	cfg Config
	db  *sql.DB

	mu    sync.Mutex
	files []string
}

// NewFactory prepares sinks of the configured kind. For KindSQL it opens the
// result database and creates the result tables.
func NewFactory(ctx context.Context, cfg Config) (*Factory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	f := &Factory{cfg: cfg}
	switch cfg.Kind {
	case KindSQL:
		db, err := openSQL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		f.db = db
	case KindParquet, KindXLSX:
		if cfg.OutputDir == "" {
			return nil, nperrors.InvalidConfig("sink.output_dir", cfg.OutputDir)
		}
	default:
		return nil, nperrors.InvalidConfig("sink.kind", cfg.Kind)
	}
	return f, nil
}

// Open returns the sink for one worker.
func (f *Factory) Open(workerID int) (Sink, error) {
	switch f.cfg.Kind {
	case KindSQL:
		return &SQLSink{db: f.db, cfg: f.cfg}, nil
	case KindParquet:
		s, err := NewParquetSink(f.cfg, workerID)
		if err != nil {
			return nil, err
		}
		f.track(s.Files()...)
		return s, nil
	case KindXLSX:
		s, err := NewXLSXSink(f.cfg, workerID)
		if err != nil {
			return nil, err
		}
		f.track(s.Files()...)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", f.cfg.Kind)
	}
}

func (f *Factory) track(paths ...string) {
	f.mu.Lock()
	f.files = append(f.files, paths...)
	f.mu.Unlock()
}

// Files returns the paths of every file produced by the sinks opened so far.
func (f *Factory) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.files))
	copy(out, f.files)
	return out
}

// Close releases shared resources. Call it after every worker sink is closed.
func (f *Factory) Close() error {
	if f.db != nil {
		return f.db.Close()
	}
	return nil
}
