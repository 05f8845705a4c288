package sqlite

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kozaktomas/face-sorter/internal/database"
	"github.com/kozaktomas/face-sorter/internal/database/storetest"
	"github.com/kozaktomas/face-sorter/internal/logging"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), database.Options{MaxOpenConns: 8})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestOpenViaRegistry(t *testing.T) {
	url := "sqlite://" + filepath.Join(t.TempDir(), "nested", "faces.db")
	s, err := database.Open(context.Background(), database.Options{URL: url})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	defer s.Close()

	if _, err := s.ResolvePath(context.Background(), "/x.jpg"); err != nil {
		t.Errorf("ResolvePath: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := Open(ctx, path, database.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := s.ResolveContent(ctx, "hash", 1)
	if err != nil {
		t.Fatalf("ResolveContent: %v", err)
	}
	s.Close()

	s, err = Open(ctx, path, database.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	img, err := s.FindImageByHash(ctx, "hash")
	if err != nil {
		t.Fatalf("FindImageByHash: %v", err)
	}
	if img == nil || img.ID != id {
		t.Errorf("expected image %d after reopen, got %+v", id, img)
	}
}

func TestMigrationsLogToInjectedLogger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "logged.db")
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	s, err := Open(ctx, path, database.Options{Logger: logger})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	out := buf.String()
	for _, want := range []string{`"msg":"applied migration"`, `"component":"database"`, `"backend":"sqlite"`, `"version":"001_initial.sql"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log output to contain %s, got %q", want, out)
		}
	}

	buf.Reset()
	s, err = Open(ctx, path, database.Options{Logger: logger})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s.Close()
	if strings.Contains(buf.String(), "applied migration") {
		t.Errorf("expected no migration on reopen, got %q", buf.String())
	}
}

func TestPathFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"sqlite:///var/lib/faces.db", "/var/lib/faces.db"},
		{"sqlite://faces.db", "faces.db"},
		{"sqlite:///tmp/x.db?mode=rwc", "/tmp/x.db"},
		{"/plain/path.db", "/plain/path.db"},
	}
	for _, tt := range tests {
		if got := PathFromURL(tt.url); got != tt.want {
			t.Errorf("PathFromURL(%q): expected %q, got %q", tt.url, tt.want, got)
		}
	}
}

func TestIsBusy(t *testing.T) {
	if isBusy(nil) {
		t.Error("nil is not busy")
	}
	if !isBusy(errString("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("expected busy message to be retryable")
	}
	if isBusy(errString("no such table: x")) {
		t.Error("expected schema error not to be retryable")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
