package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/niksan004/nextport/internal/model"
	nperrors "github.com/niksan004/nextport/pkg/errors"
)

// xlsxSheet streams rows into one worksheet. Rows must arrive in order.
type xlsxSheet struct {
	name string
	sw   *excelize.StreamWriter
	next int
}

func (s *xlsxSheet) append(values ...interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, s.next)
	if err != nil {
		return err
	}
	if err := s.sw.SetRow(cell, values); err != nil {
		return err
	}
	s.next++
	return nil
}

// XLSXSink writes one workbook per worker with a stay sheet and a next-port
// sheet, each named after its result table.
type XLSXSink struct {
	path   string
	file   *excelize.File
	stay   *xlsxSheet
	voyage *xlsxSheet
	closed bool
}

// NewXLSXSink creates the worker's workbook under cfg.OutputDir. Nothing is
// written to disk until Close.
func NewXLSXSink(cfg Config, workerID int) (*XLSXSink, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, nperrors.Wrap(err, nperrors.CodeSinkOpen, "create output dir").
			WithContext("dir", cfg.OutputDir)
	}

	f := excelize.NewFile()
	fail := func(err error) (*XLSXSink, error) {
		f.Close()
		return nil, nperrors.Wrap(err, nperrors.CodeSinkOpen, "create workbook")
	}

	if err := f.SetSheetName(f.GetSheetName(0), cfg.StayTable); err != nil {
		return fail(err)
	}
	if _, err := f.NewSheet(cfg.VoyageTable); err != nil {
		return fail(err)
	}

	stay, err := newXLSXSheet(f, cfg.StayTable, stayColumns)
	if err != nil {
		return fail(err)
	}
	voyage, err := newXLSXSheet(f, cfg.VoyageTable, voyageColumns)
	if err != nil {
		return fail(err)
	}

	return &XLSXSink{
		path:   filepath.Join(cfg.OutputDir, fmt.Sprintf("nextport-%03d.xlsx", workerID)),
		file:   f,
		stay:   stay,
		voyage: voyage,
	}, nil
}

func newXLSXSheet(f *excelize.File, name string, header []string) (*xlsxSheet, error) {
	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return nil, err
	}
	s := &xlsxSheet{name: name, sw: sw, next: 1}

	values := make([]interface{}, len(header))
	for i, h := range header {
		values[i] = h
	}
	if err := s.append(values...); err != nil {
		return nil, err
	}
	return s, nil
}

// Files returns the path this sink writes.
func (s *XLSXSink) Files() []string {
	return []string{s.path}
}

// WriteStays implements Sink.
func (s *XLSXSink) WriteStays(ctx context.Context, rows []model.StayRow) error {
	for i, r := range rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := s.stay.append(r.EntityID, r.Locode, r.StayTime, r.DataPoints, r.StandardDev); err != nil {
			return nperrors.SinkWrite(err, s.stay.name, len(rows))
		}
	}
	return nil
}

// WriteVoyages implements Sink.
func (s *XLSXSink) WriteVoyages(ctx context.Context, rows []model.VoyageRow) error {
	for i, r := range rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := s.voyage.append(r.EntityID, r.FromLocode, r.ToLocode, r.Percentage, r.DataPoints); err != nil {
			return nperrors.SinkWrite(err, s.voyage.name, len(rows))
		}
	}
	return nil
}

// Close flushes both sheets and saves the workbook.
func (s *XLSXSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.file.Close()

	for _, sh := range []*xlsxSheet{s.stay, s.voyage} {
		if err := sh.sw.Flush(); err != nil {
			return nperrors.Wrap(err, nperrors.CodeSinkClose, "flush sheet").WithContext("sheet", sh.name)
		}
	}
	if err := s.file.SaveAs(s.path); err != nil {
		return nperrors.Wrap(err, nperrors.CodeSinkClose, "save workbook").WithContext("path", s.path)
	}
	return nil
}
