package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"

	"github.com/niksan004/nextport/internal/model"
	nperrors "github.com/niksan004/nextport/pkg/errors"
)

// maxParams keeps one statement under SQLite's bound-parameter limit
// (MySQL allows 65535).
const maxParams = 32000

var (
	stayColumns   = []string{"imo", "locode", "stay_time", "data_points", "standard_dev"}
	voyageColumns = []string{"imo", "from_locode", "to_locode", "percentage", "data_points"}
)

const (
	stayDDL = `CREATE TABLE IF NOT EXISTS %s (
		imo          BIGINT NOT NULL,
		locode       VARCHAR(32) NOT NULL,
		stay_time    BIGINT,
		data_points  INTEGER,
		standard_dev BIGINT
	)`
	voyageDDL = `CREATE TABLE IF NOT EXISTS %s (
		imo         BIGINT NOT NULL,
		from_locode VARCHAR(32) NOT NULL,
		to_locode   VARCHAR(32) NOT NULL,
		percentage  DOUBLE,
		data_points INTEGER
	)`
)

// openSQL opens the pool shared by every worker's SQLSink and creates the
// result tables.
func openSQL(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn := cfg.DSN
	switch cfg.Driver {
	case "sqlite3":
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000"
		}
	case "duckdb", "mysql":
	default:
		return nil, nperrors.InvalidConfig("sink.driver", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, nperrors.Wrap(err, nperrors.CodeSinkOpen, "open result database").
			WithContext("driver", cfg.Driver)
	}
	// SQLite has a single writer; let database/sql serialize the workers.
	if cfg.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	for _, ddl := range []string{
		fmt.Sprintf(stayDDL, cfg.StayTable),
		fmt.Sprintf(voyageDDL, cfg.VoyageTable),
	} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return nil, nperrors.Wrap(err, nperrors.CodeSinkOpen, "create result table").
				WithContext("driver", cfg.Driver)
		}
	}

	if cfg.Replace {
		for _, table := range []string{cfg.StayTable, cfg.VoyageTable} {
			if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				db.Close()
				return nil, nperrors.Wrap(err, nperrors.CodeSinkOpen, "clear result table").
					WithContext("table", table)
			}
		}
	}

	return db, nil
}

// DisplayDSN returns dsn with a MySQL password masked, for logs and the
// run plan. File DSNs are returned unchanged.
func DisplayDSN(driver, dsn string) string {
	if driver != "mysql" {
		return dsn
	}
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "mysql (unparsable dsn)"
	}
	if c.Passwd != "" {
		c.Passwd = "xxxxx"
	}
	return c.FormatDSN()
}

// SQLSink inserts rows with multi-row INSERT statements of at most
// BulkInsert rows, one transaction per write call.
type SQLSink struct {
	db    *sql.DB
	cfg   Config
	execs int
}

// WriteStays implements Sink.
func (s *SQLSink) WriteStays(ctx context.Context, rows []model.StayRow) error {
	return s.insert(ctx, s.cfg.StayTable, stayColumns, len(rows), func(i int, args []any) []any {
		r := rows[i]
		return append(args, r.EntityID, r.Locode, r.StayTime, r.DataPoints, r.StandardDev)
	})
}

// WriteVoyages implements Sink.
func (s *SQLSink) WriteVoyages(ctx context.Context, rows []model.VoyageRow) error {
	return s.insert(ctx, s.cfg.VoyageTable, voyageColumns, len(rows), func(i int, args []any) []any {
		r := rows[i]
		return append(args, r.EntityID, r.FromLocode, r.ToLocode, r.Percentage, r.DataPoints)
	})
}

func (s *SQLSink) insert(ctx context.Context, table string, cols []string, n int, row func(int, []any) []any) error {
	if n == 0 {
		return nil
	}

	per := min(s.cfg.BulkInsert, maxParams/len(cols))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nperrors.SinkWrite(err, table, n)
	}

	args := make([]any, 0, min(per, n)*len(cols))
	for start := 0; start < n; start += per {
		end := min(start+per, n)

		args = args[:0]
		for i := start; i < end; i++ {
			args = row(i, args)
		}

		if _, err := tx.ExecContext(ctx, insertStatement(table, cols, end-start), args...); err != nil {
			tx.Rollback()
			return nperrors.SinkWrite(err, table, end-start)
		}
		s.execs++
	}

	if err := tx.Commit(); err != nil {
		return nperrors.SinkWrite(err, table, n)
	}
	return nil
}

// insertStatement builds "INSERT INTO t (a, b) VALUES (?, ?), (?, ?)".
func insertStatement(table string, cols []string, rows int) string {
	group := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))
	for i := 0; i < rows; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(group)
	}
	return sb.String()
}

// Close implements Sink. The shared pool is closed by the Factory.
func (s *SQLSink) Close() error {
	return nil
}
