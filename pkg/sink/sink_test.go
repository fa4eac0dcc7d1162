package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/xuri/excelize/v2"

	"github.com/niksan004/nextport/internal/model"
	nperrors "github.com/niksan004/nextport/pkg/errors"
)

func testConfig(kind Kind) Config {
	return Config{
		Kind:        kind,
		StayTable:   "port_stay_time",
		VoyageTable: "next_port_percent",
		BulkInsert:  2,
		Compression: CompressionSnappy,
	}
}

var (
	testStays = []model.StayRow{
		{EntityID: 1, Locode: "NLRTM", StayTime: 3600, DataPoints: 4, StandardDev: 120},
		{EntityID: 1, Locode: "DEHAM", StayTime: 7200, DataPoints: 1, StandardDev: 0},
		{EntityID: 2, Locode: "BEANR", StayTime: 45, DataPoints: 2, StandardDev: 7},
		{EntityID: 2, Locode: "NLRTM", StayTime: 1800, DataPoints: 3, StandardDev: 60},
		{EntityID: 3, Locode: "SGSIN", StayTime: 900, DataPoints: 9, StandardDev: 30},
	}
	testVoyages = []model.VoyageRow{
		{EntityID: 1, FromLocode: "NLRTM", ToLocode: "DEHAM", Percentage: 0.75, DataPoints: 3},
		{EntityID: 1, FromLocode: "NLRTM", ToLocode: "BEANR", Percentage: 0.25, DataPoints: 1},
	}
)

func TestInsertStatement(t *testing.T) {
	got := insertStatement("t", []string{"a", "b"}, 3)
	want := "INSERT INTO t (a, b) VALUES (?, ?), (?, ?), (?, ?)"
	if got != want {
		t.Errorf("insertStatement = %q, want %q", got, want)
	}
}

func TestNewFactoryRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"table name", func(c *Config) { c.StayTable = "stays; DROP TABLE x" }},
		{"bulk insert", func(c *Config) { c.BulkInsert = 0 }},
		{"kind", func(c *Config) { c.Kind = "csv" }},
		{"driver", func(c *Config) { c.Driver = "postgres" }},
		{"output dir", func(c *Config) { c.Kind = KindParquet; c.OutputDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(KindSQL)
			cfg.Driver = "sqlite3"
			cfg.DSN = filepath.Join(t.TempDir(), "out.db")
			tt.mutate(&cfg)

			_, err := NewFactory(context.Background(), cfg)
			if !nperrors.IsCode(err, nperrors.CodeConfigInvalid) {
				t.Fatalf("err = %v, want %s", err, nperrors.CodeConfigInvalid)
			}
		})
	}
}

func testSQLSink(t *testing.T, driver, dsn string) {
	ctx := context.Background()
	cfg := testConfig(KindSQL)
	cfg.Driver = driver
	cfg.DSN = dsn
	cfg.Replace = true

	f, err := NewFactory(ctx, cfg)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	defer f.Close()

	s, err := f.Open(0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.WriteStays(ctx, testStays); err != nil {
		t.Fatalf("WriteStays: %v", err)
	}
	if err := s.WriteVoyages(ctx, testVoyages); err != nil {
		t.Fatalf("WriteVoyages: %v", err)
	}
	if err := s.WriteStays(ctx, nil); err != nil {
		t.Fatalf("WriteStays(nil): %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// 5 stay rows in statements of at most 2, then 2 voyage rows in one.
	if got := s.(*SQLSink).execs; got != 4 {
		t.Errorf("statements = %d, want 4", got)
	}

	var n int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM port_stay_time`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != len(testStays) {
		t.Errorf("stay rows = %d, want %d", n, len(testStays))
	}

	var stay int64
	var sd int64
	err = f.db.QueryRow(`SELECT stay_time, standard_dev FROM port_stay_time WHERE imo = 2 AND locode = 'BEANR'`).Scan(&stay, &sd)
	if err != nil {
		t.Fatal(err)
	}
	if stay != 45 || sd != 7 {
		t.Errorf("BEANR row = %d, %d", stay, sd)
	}

	var pct float64
	var points int
	err = f.db.QueryRow(`SELECT percentage, data_points FROM next_port_percent WHERE to_locode = 'DEHAM'`).Scan(&pct, &points)
	if err != nil {
		t.Fatal(err)
	}
	if pct != 0.75 || points != 3 {
		t.Errorf("DEHAM row = %v, %d", pct, points)
	}
}

func TestSQLSinkSQLite(t *testing.T) {
	testSQLSink(t, "sqlite3", filepath.Join(t.TempDir(), "results.db"))
}

func TestSQLSinkDuckDB(t *testing.T) {
	testSQLSink(t, "duckdb", filepath.Join(t.TempDir(), "results.duckdb"))
}

// NEXTPORT_TEST_MYSQL='user:pass@tcp(localhost:3306)/nextport' go test ./pkg/sink
func TestSQLSinkMySQL(t *testing.T) {
	dsn := os.Getenv("NEXTPORT_TEST_MYSQL")
	if dsn == "" {
		t.Skip("NEXTPORT_TEST_MYSQL not set")
	}
	testSQLSink(t, "mysql", dsn)
}

func TestSQLSinkMySQLUnreachable(t *testing.T) {
	cfg := testConfig(KindSQL)
	cfg.Driver = "mysql"
	cfg.DSN = "nextport:secret@tcp(127.0.0.1:1)/nextport?timeout=1s"

	_, err := NewFactory(context.Background(), cfg)
	if !nperrors.IsCode(err, nperrors.CodeSinkOpen) {
		t.Fatalf("err = %v, want %s", err, nperrors.CodeSinkOpen)
	}
}

func TestResultTableDDL(t *testing.T) {
	for _, ddl := range []string{stayDDL, voyageDDL} {
		// MySQL rejects VARCHAR without a length.
		if n, sized := strings.Count(ddl, "VARCHAR"), strings.Count(ddl, "VARCHAR("); n != sized {
			t.Errorf("unsized VARCHAR in:\n%s", ddl)
		}
	}
}

func TestDisplayDSN(t *testing.T) {
	got := DisplayDSN("mysql", "nextport:secret@tcp(db:3306)/ports")
	if strings.Contains(got, "secret") || !strings.Contains(got, "xxxxx") || !strings.Contains(got, "tcp(db:3306)/ports") {
		t.Errorf("DisplayDSN(mysql) = %q", got)
	}
	if got := DisplayDSN("sqlite3", "results.db"); got != "results.db" {
		t.Errorf("DisplayDSN(sqlite3) = %q", got)
	}
}

func TestSQLSinkSharedAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(KindSQL)
	cfg.Driver = "sqlite3"
	cfg.DSN = filepath.Join(t.TempDir(), "results.db")

	f, err := NewFactory(ctx, cfg)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	defer f.Close()

	done := make(chan error, 4)
	for w := 0; w < 4; w++ {
		go func(w int) {
			s, err := f.Open(w)
			if err != nil {
				done <- err
				return
			}
			defer s.Close()
			done <- s.WriteStays(ctx, testStays)
		}(w)
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("worker: %v", err)
		}
	}

	var n int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM port_stay_time`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 4*len(testStays) {
		t.Errorf("rows = %d, want %d", n, 4*len(testStays))
	}
}

func TestParquetSink(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(KindParquet)
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")

	f, err := NewFactory(ctx, cfg)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	s, err := f.Open(7)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.WriteStays(ctx, testStays[:3]); err != nil {
		t.Fatalf("WriteStays: %v", err)
	}
	if err := s.WriteStays(ctx, testStays[3:]); err != nil {
		t.Fatalf("WriteStays: %v", err)
	}
	if err := s.WriteVoyages(ctx, testVoyages); err != nil {
		t.Fatalf("WriteVoyages: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	files := f.Files()
	if len(files) != 2 {
		t.Fatalf("files = %v", files)
	}
	if filepath.Base(files[0]) != "port_stay_time-007.parquet" {
		t.Errorf("stay file = %s", files[0])
	}

	stays := readParquet(t, files[0])
	defer stays.Release()
	if stays.NumRows() != int64(len(testStays)) {
		t.Errorf("stay rows = %d", stays.NumRows())
	}
	if name := stays.Schema().Field(1).Name; name != "locode" {
		t.Errorf("column 1 = %s", name)
	}
	locodes := stays.Column(1).Data().Chunk(0).(*array.String)
	if locodes.Value(0) != "NLRTM" {
		t.Errorf("first locode = %s", locodes.Value(0))
	}

	voyages := readParquet(t, files[1])
	defer voyages.Release()
	if voyages.NumRows() != int64(len(testVoyages)) {
		t.Errorf("voyage rows = %d", voyages.NumRows())
	}
	pct := voyages.Column(3).Data().Chunk(0).(*array.Float64)
	if pct.Value(0) != 0.75 {
		t.Errorf("first percentage = %v", pct.Value(0))
	}
}

func readParquet(t *testing.T, path string) arrow.Table {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tbl, err := pqarrow.ReadTable(context.Background(), f,
		parquet.NewReaderProperties(memory.DefaultAllocator),
		pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return tbl
}

func TestXLSXSink(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(KindXLSX)
	cfg.OutputDir = t.TempDir()

	f, err := NewFactory(ctx, cfg)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	s, err := f.Open(1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.WriteStays(ctx, testStays); err != nil {
		t.Fatalf("WriteStays: %v", err)
	}
	if err := s.WriteVoyages(ctx, testVoyages); err != nil {
		t.Fatalf("WriteVoyages: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files := f.Files()
	if len(files) != 1 || filepath.Base(files[0]) != "nextport-001.xlsx" {
		t.Fatalf("files = %v", files)
	}

	wb, err := excelize.OpenFile(files[0])
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()

	stays, err := wb.GetRows("port_stay_time")
	if err != nil {
		t.Fatal(err)
	}
	if len(stays) != len(testStays)+1 {
		t.Fatalf("stay sheet rows = %d", len(stays))
	}
	if stays[0][0] != "imo" || stays[0][4] != "standard_dev" {
		t.Errorf("header = %v", stays[0])
	}
	if stays[3][1] != "BEANR" || stays[3][2] != "45" {
		t.Errorf("row 3 = %v", stays[3])
	}

	voyages, err := wb.GetRows("next_port_percent")
	if err != nil {
		t.Fatal(err)
	}
	if len(voyages) != len(testVoyages)+1 {
		t.Fatalf("voyage sheet rows = %d", len(voyages))
	}
	if voyages[1][2] != "DEHAM" || voyages[1][3] != "0.75" {
		t.Errorf("row 1 = %v", voyages[1])
	}
}

func TestParseCompression(t *testing.T) {
	tests := map[string]Compression{
		"snappy": CompressionSnappy,
		"ZSTD":   CompressionZstd,
		"gzip":   CompressionGzip,
		"lz4":    CompressionLZ4,
		"none":   CompressionNone,
		"brotli": CompressionNone,
	}
	for in, want := range tests {
		if got := ParseCompression(in); got != want {
			t.Errorf("ParseCompression(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSQLSinkReplace(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(KindSQL)
	cfg.Driver = "sqlite3"
	cfg.DSN = filepath.Join(t.TempDir(), "results.db")

	write := func(replace bool) int {
		cfg.Replace = replace
		f, err := NewFactory(ctx, cfg)
		if err != nil {
			t.Fatalf("NewFactory: %v", err)
		}
		defer f.Close()

		s, _ := f.Open(0)
		if err := s.WriteStays(ctx, testStays); err != nil {
			t.Fatalf("WriteStays: %v", err)
		}
		var n int
		if err := f.db.QueryRow(`SELECT COUNT(*) FROM port_stay_time`).Scan(&n); err != nil {
			t.Fatal(err)
		}
		return n
	}

	if n := write(false); n != len(testStays) {
		t.Fatalf("first run rows = %d", n)
	}
	if n := write(false); n != 2*len(testStays) {
		t.Fatalf("appending run rows = %d", n)
	}
	if n := write(true); n != len(testStays) {
		t.Fatalf("replacing run rows = %d, want %d", n, len(testStays))
	}
}
