package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/niksan004/nextport/internal/model"
	nperrors "github.com/niksan004/nextport/pkg/errors"
)

func staySchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "imo", Type: arrow.PrimitiveTypes.Int64},
		{Name: "locode", Type: arrow.BinaryTypes.String},
		{Name: "stay_time", Type: arrow.PrimitiveTypes.Int64},
		{Name: "data_points", Type: arrow.PrimitiveTypes.Int64},
		{Name: "standard_dev", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
}

func voyageSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "imo", Type: arrow.PrimitiveTypes.Int64},
		{Name: "from_locode", Type: arrow.BinaryTypes.String},
		{Name: "to_locode", Type: arrow.BinaryTypes.String},
		{Name: "percentage", Type: arrow.PrimitiveTypes.Float64},
		{Name: "data_points", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
}

// parquetFile is one open Parquet output.
type parquetFile struct {
	path   string
	file   *os.File
	writer *pqarrow.FileWriter
	rows   int64
}

func createParquet(path string, schema *arrow.Schema, codec Compression) (*parquetFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec.codec()),
		parquet.WithDictionaryDefault(true),
	)
	w, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	return &parquetFile{path: path, file: f, writer: w}, nil
}

func (p *parquetFile) write(rec arrow.Record) error {
	defer rec.Release()
	if err := p.writer.Write(rec); err != nil {
		return err
	}
	p.rows += rec.NumRows()
	return nil
}

func (p *parquetFile) close() error {
	if err := p.writer.Close(); err != nil {
		p.file.Close()
		return err
	}
	// The writer normally closes the file itself.
	if err := p.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// ParquetSink writes one stay file and one voyage file per worker. Every
// write call becomes one row group.
type ParquetSink struct {
	alloc  memory.Allocator
	stay   *parquetFile
	voyage *parquetFile
	closed bool
}

// NewParquetSink creates the worker's two Parquet files under cfg.OutputDir.
func NewParquetSink(cfg Config, workerID int) (*ParquetSink, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, nperrors.Wrap(err, nperrors.CodeSinkOpen, "create output dir").
			WithContext("dir", cfg.OutputDir)
	}

	stayPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("%s-%03d.parquet", cfg.StayTable, workerID))
	stay, err := createParquet(stayPath, staySchema(), cfg.Compression)
	if err != nil {
		return nil, nperrors.Wrap(err, nperrors.CodeSinkOpen, "create parquet file").
			WithContext("path", stayPath)
	}

	voyagePath := filepath.Join(cfg.OutputDir, fmt.Sprintf("%s-%03d.parquet", cfg.VoyageTable, workerID))
	voyage, err := createParquet(voyagePath, voyageSchema(), cfg.Compression)
	if err != nil {
		stay.close()
		return nil, nperrors.Wrap(err, nperrors.CodeSinkOpen, "create parquet file").
			WithContext("path", voyagePath)
	}

	return &ParquetSink{
		alloc:  memory.NewGoAllocator(),
		stay:   stay,
		voyage: voyage,
	}, nil
}

// Files returns the paths this sink writes.
func (s *ParquetSink) Files() []string {
	return []string{s.stay.path, s.voyage.path}
}

// WriteStays implements Sink.
func (s *ParquetSink) WriteStays(ctx context.Context, rows []model.StayRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b := array.NewRecordBuilder(s.alloc, staySchema())
	defer b.Release()

	imo := b.Field(0).(*array.Int64Builder)
	locode := b.Field(1).(*array.StringBuilder)
	stayTime := b.Field(2).(*array.Int64Builder)
	points := b.Field(3).(*array.Int64Builder)
	sd := b.Field(4).(*array.Int64Builder)

	for _, r := range rows {
		imo.Append(r.EntityID)
		locode.Append(r.Locode)
		stayTime.Append(r.StayTime)
		points.Append(int64(r.DataPoints))
		sd.Append(r.StandardDev)
	}

	if err := s.stay.write(b.NewRecord()); err != nil {
		return nperrors.SinkWrite(err, s.stay.path, len(rows))
	}
	return nil
}

// WriteVoyages implements Sink.
func (s *ParquetSink) WriteVoyages(ctx context.Context, rows []model.VoyageRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b := array.NewRecordBuilder(s.alloc, voyageSchema())
	defer b.Release()

	imo := b.Field(0).(*array.Int64Builder)
	from := b.Field(1).(*array.StringBuilder)
	to := b.Field(2).(*array.StringBuilder)
	pct := b.Field(3).(*array.Float64Builder)
	points := b.Field(4).(*array.Int64Builder)

	for _, r := range rows {
		imo.Append(r.EntityID)
		from.Append(r.FromLocode)
		to.Append(r.ToLocode)
		pct.Append(r.Percentage)
		points.Append(int64(r.DataPoints))
	}

	if err := s.voyage.write(b.NewRecord()); err != nil {
		return nperrors.SinkWrite(err, s.voyage.path, len(rows))
	}
	return nil
}

// Close writes the Parquet footers.
func (s *ParquetSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs nperrors.MultiError
	if err := s.stay.close(); err != nil {
		errs.Add(nperrors.Wrap(err, nperrors.CodeSinkClose, "close parquet file").WithContext("path", s.stay.path))
	}
	if err := s.voyage.close(); err != nil {
		errs.Add(nperrors.Wrap(err, nperrors.CodeSinkClose, "close parquet file").WithContext("path", s.voyage.path))
	}
	return errs.Combined()
}
