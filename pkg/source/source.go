// Package source reads per-entity event streams from the event store.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"

	"github.com/niksan004/nextport/internal/model"
	nperrors "github.com/niksan004/nextport/pkg/errors"
)

// Source yields entity ids and their ordered event streams.
type Source interface {
	// Entities returns the distinct entity ids in the store.
	Entities(ctx context.Context) ([]int64, error)

	// Events returns one entity's relevant events in timestamp order.
	Events(ctx context.Context, entityID int64) (EventIterator, error)

	Close() error
}

// EventIterator is a forward-only cursor over event records.
type EventIterator interface {
	Next() bool
	Record() model.EventRecord
	Err() error
	Close() error
}

// schema holds the event store DDL, one statement per entry.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS zones (
		id     INTEGER PRIMARY KEY,
		LOCODE VARCHAR,
		TYPE   VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS event_log (
		IMO        BIGINT,
		LOCODE     VARCHAR,
		OLD_STATE  VARCHAR,
		STATE      VARCHAR,
		VALUE_INT  BIGINT,
		TSTAMP     BIGINT,
		EVENT_TYPE VARCHAR,
		EVENT_TS   BIGINT
	)`,
}

// CreateSchema creates the event store tables in db if they are missing.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create event store schema: %w", err)
		}
	}
	return nil
}

const entitiesQuery = `SELECT DISTINCT IMO FROM event_log WHERE IMO IS NOT NULL ORDER BY IMO`

const eventsQuery = `
SELECT
	event_log.IMO,
	event_log.LOCODE,
	zones.LOCODE,
	event_log.OLD_STATE,
	event_log.STATE,
	event_log.VALUE_INT,
	event_log.TSTAMP,
	event_log.EVENT_TYPE,
	zones.TYPE
FROM event_log
LEFT JOIN zones ON event_log.VALUE_INT = zones.id
WHERE
	event_log.EVENT_TYPE IN ('ENTER_ZONE', 'EXIT_ZONE', 'STATE_CHANGED') AND
	event_log.IMO = ?
ORDER BY event_log.EVENT_TS`

// SQLSource reads events through database/sql. Each worker opens its own.
type SQLSource struct {
	db     *sql.DB
	driver string
	path   string
}

// Open opens the event store at path. The file must already exist.
func Open(driver, path string) (*SQLSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nperrors.Wrap(err, nperrors.CodeSourceOpen, "event store not found").
			WithContext("path", path)
	}

	var dsn string
	switch driver {
	case "sqlite3":
		dsn = "file:" + path + "?mode=ro"
	case "duckdb":
		dsn = path + "?access_mode=read_only"
	default:
		return nil, nperrors.New(nperrors.CodeSourceOpen, "unsupported source driver").
			WithContext("driver", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nperrors.Wrap(err, nperrors.CodeSourceOpen, "open event store").
			WithContext("path", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nperrors.Wrap(err, nperrors.CodeSourceOpen, "connect to event store").
			WithContext("path", path)
	}

	return &SQLSource{db: db, driver: driver, path: path}, nil
}

// Entities implements Source.
func (s *SQLSource) Entities(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, entitiesQuery)
	if err != nil {
		return nil, nperrors.Wrap(err, nperrors.CodeSourceQuery, "list entities")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, nperrors.Wrap(err, nperrors.CodeSourceScan, "scan entity id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nperrors.Wrap(err, nperrors.CodeSourceQuery, "list entities")
	}
	return ids, nil
}

// Events implements Source.
func (s *SQLSource) Events(ctx context.Context, entityID int64) (EventIterator, error) {
	rows, err := s.db.QueryContext(ctx, eventsQuery, entityID)
	if err != nil {
		return nil, nperrors.SourceQuery(err, entityID)
	}
	return &Rows{rows: rows, entityID: entityID}, nil
}

// Close implements Source.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// String describes the store for logs.
func (s *SQLSource) String() string {
	return fmt.Sprintf("%s:%s", s.driver, s.path)
}

// Rows adapts *sql.Rows to EventIterator. NULL columns become zero values.
type Rows struct {
	rows     *sql.Rows
	entityID int64
	rec      model.EventRecord
	err      error
}

// Next advances to the next record. It returns false at the end of the
// stream or on error; check Err afterwards.
func (r *Rows) Next() bool {
	if r.err != nil {
		return false
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			r.err = nperrors.SourceQuery(err, r.entityID)
		}
		return false
	}

	var (
		entity                       sql.NullInt64
		own, target, oldState, state sql.NullString
		valueInt, ts                 sql.NullInt64
		eventType, zoneType          sql.NullString
	)
	if err := r.rows.Scan(&entity, &own, &target, &oldState, &state, &valueInt, &ts, &eventType, &zoneType); err != nil {
		r.err = nperrors.Wrap(err, nperrors.CodeSourceScan, "scan event").WithContext("entity", r.entityID)
		return false
	}

	r.rec = model.EventRecord{
		EntityID:     entity.Int64,
		OwnLocode:    own.String,
		TargetLocode: target.String,
		OldState:     model.ParseMovementState(oldState.String),
		NewState:     model.ParseMovementState(state.String),
		ValueInt:     valueInt.Int64,
		Timestamp:    ts.Int64,
		EventType:    model.ParseEventType(eventType.String),
		ZoneType:     model.ParseZoneType(zoneType.String),
	}
	return true
}

// Record returns the current record.
func (r *Rows) Record() model.EventRecord { return r.rec }

// Err returns the first error met while iterating.
func (r *Rows) Err() error { return r.err }

// Close releases the cursor.
func (r *Rows) Close() error { return r.rows.Close() }
