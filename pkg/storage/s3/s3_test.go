package s3

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	nperrors "github.com/niksan004/nextport/pkg/errors"
)

type fakeAPI struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	fail    string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if key == f.fail {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+key] = body
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func writeFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("data:"+n), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, run, file, want string
	}{
		{"results", "r1", "/tmp/out/port_stay_time-000.parquet", "results/r1/port_stay_time-000.parquet"},
		{"", "r1", "nextport-001.xlsx", "r1/nextport-001.xlsx"},
		{"/a/b/", "r2", "x.duckdb", "a/b/r2/x.duckdb"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.run, tt.file); got != tt.want {
			t.Errorf("ObjectKey(%q, %q, %q) = %q, want %q", tt.prefix, tt.run, tt.file, got, tt.want)
		}
	}
}

func TestUploadFiles(t *testing.T) {
	api := newFakeAPI()
	cfg := DefaultConfig("vessels", "eu-west-1")
	cfg.Prefix = "nextport"
	c := newClient(cfg, api)

	files := writeFiles(t, "port_stay_time-000.parquet", "next_port_percent-000.parquet", "nextport-000.xlsx")
	objs, err := c.UploadFiles(context.Background(), "run-1", files)
	if err != nil {
		t.Fatalf("UploadFiles: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("objects = %d", len(objs))
	}
	for i, o := range objs {
		if o.Path != files[i] {
			t.Errorf("object %d path = %s", i, o.Path)
		}
	}
	if uri := objs[0].URI(c.Bucket()); uri != "s3://vessels/nextport/run-1/port_stay_time-000.parquet" {
		t.Errorf("uri = %s", uri)
	}

	var keys []string
	for k := range api.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{
		"vessels/nextport/run-1/next_port_percent-000.parquet",
		"vessels/nextport/run-1/nextport-000.xlsx",
		"vessels/nextport/run-1/port_stay_time-000.parquet",
	}
	for i := range want {
		if i >= len(keys) || keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
	if got := string(api.objects[want[1]]); got != "data:nextport-000.xlsx" {
		t.Errorf("body = %q", got)
	}
	if ct := api.types["nextport/run-1/port_stay_time-000.parquet"]; ct != "application/vnd.apache.parquet" {
		t.Errorf("content type = %s", ct)
	}
}

func TestUploadFailure(t *testing.T) {
	api := newFakeAPI()
	api.fail = "run-2/b.parquet"
	c := newClient(DefaultConfig("vessels", ""), api)

	files := writeFiles(t, "a.parquet", "b.parquet")
	_, err := c.UploadFiles(context.Background(), "run-2", files)
	if !nperrors.IsCode(err, nperrors.CodeUpload) {
		t.Fatalf("err = %v, want %s", err, nperrors.CodeUpload)
	}

	_, err = c.Upload(context.Background(), "k", filepath.Join(t.TempDir(), "missing"))
	if !nperrors.IsCode(err, nperrors.CodeUpload) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	if !nperrors.IsCode(err, nperrors.CodeConfigInvalid) {
		t.Fatalf("err = %v", err)
	}
}
