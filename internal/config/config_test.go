package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultWorkers(t *testing.T) {
	tests := []struct {
		cpus     int
		expected int
	}{
		{1, 1},
		{2, 1},
		{4, 3},
		{5, 3},
		{8, 6},
		{0, 1},
	}
	for _, tt := range tests {
		if got := DefaultWorkers(tt.cpus); got != tt.expected {
			t.Errorf("DefaultWorkers(%d) = %d, want %d", tt.cpus, got, tt.expected)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FACESORT_DATA_DIR", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "sqlite://"+filepath.Join(dir, "face-sorter.db") {
		t.Errorf("unexpected database URL %q", cfg.Database.URL)
	}
	if cfg.Database.MaxOpenConns != 25 || cfg.Database.MaxIdleConns != 5 {
		t.Errorf("unexpected pool sizes %+v", cfg.Database)
	}
	if cfg.Matching.Tolerance != 0.5 || cfg.Matching.Metric != "euclidean" {
		t.Errorf("unexpected matching config %+v", cfg.Matching)
	}
	if cfg.Run.CheckpointInterval != 5*time.Minute {
		t.Errorf("expected 5m checkpoint interval, got %v", cfg.Run.CheckpointInterval)
	}
	if cfg.Run.QueueFile != filepath.Join(dir, "image_queue.txt") {
		t.Errorf("unexpected queue file %q", cfg.Run.QueueFile)
	}
	if cfg.Settings.OutputFolder != filepath.Join(dir, "matched_faces") {
		t.Errorf("unexpected output folder %q", cfg.Settings.OutputFolder)
	}
	if cfg.Workers() < 1 {
		t.Errorf("expected at least one worker, got %d", cfg.Workers())
	}
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FACESORT_DATA_DIR", dir)

	err := SaveSettings(filepath.Join(dir, "settings.yaml"), Settings{
		RootFolder:   "/photos",
		FolderFilter: "2019",
		OutputFolder: "/from/settings",
		Workers:      3,
	})
	if err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	t.Setenv("FACESORT_OUTPUT_FOLDER", "/from/env")
	t.Setenv("FACESORT_TOLERANCE", "0.6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Settings.RootFolder != "/photos" || cfg.Settings.FolderFilter != "2019" {
		t.Errorf("expected selections from the settings file, got %+v", cfg.Settings)
	}
	if cfg.Settings.OutputFolder != "/from/env" {
		t.Errorf("expected environment to override settings, got %q", cfg.Settings.OutputFolder)
	}
	if cfg.Workers() != 3 {
		t.Errorf("expected 3 workers from settings, got %d", cfg.Workers())
	}
	if cfg.Matching.Tolerance != 0.6 {
		t.Errorf("expected tolerance 0.6, got %v", cfg.Matching.Tolerance)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    string
	}{
		{"FACESORT_TOLERANCE", "0", "tolerance"},
		{"FACESORT_METRIC", "hamming", "metric"},
		{"FACESORT_CHECKPOINT_INTERVAL", "notaduration", "CHECKPOINT_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv("FACESORT_DATA_DIR", t.TempDir())
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	missing, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings on missing file: %v", err)
	}
	if missing != (Settings{}) {
		t.Errorf("expected zero settings, got %+v", missing)
	}

	want := Settings{KnownFacesDir: "/faces", RootFolder: "/photos", Recursive: true}
	if err := SaveSettings(path, want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected temp file to be renamed away")
	}
}

func TestLoadSettingsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("workers: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Error("expected parse error")
	}
}
