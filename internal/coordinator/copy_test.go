package coordinator

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "dst.jpg")
	if err := os.WriteFile(src, []byte("image bytes"), 0o644); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}

	copied, err := copyOutput(src, dst)
	if err != nil || !copied {
		t.Fatalf("expected copy, got copied=%v err=%v", copied, err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "image bytes" {
		t.Errorf("expected copied content, got %q (%v)", data, err)
	}

	if err := os.WriteFile(src, []byte("changed"), 0o644); err != nil {
		t.Fatalf("failed to rewrite source: %v", err)
	}
	copied, err = copyOutput(src, dst)
	if err != nil || copied {
		t.Errorf("expected existing destination to be skipped, got copied=%v err=%v", copied, err)
	}
	data, _ = os.ReadFile(dst)
	if string(data) != "image bytes" {
		t.Errorf("expected destination untouched, got %q", data)
	}

	if _, err := copyOutput(filepath.Join(dir, "missing.jpg"), filepath.Join(dir, "x.jpg")); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Idle:       "idle",
		Scanning:   "scanning",
		Queuing:    "queuing",
		Processing: "processing",
		Cancelling: "cancelling",
		Finalizing: "finalizing",
	}
	for s, expected := range tests {
		if s.String() != expected {
			t.Errorf("expected %q, got %q", expected, s.String())
		}
	}
}
