package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"autopilot/internal/config"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		debug bool
		want  slog.Level
	}{
		{"", false, slog.LevelInfo},
		{"debug", false, slog.LevelDebug},
		{"WARN", false, slog.LevelWarn},
		{"error", false, slog.LevelError},
		{"error", true, slog.LevelDebug},
	}
	for _, tt := range tests {
		lg, err := newLogger(config.LoggingConfig{Level: tt.level}, tt.debug)
		if err != nil {
			t.Fatal(err)
		}
		if !lg.Enabled(context.Background(), tt.want) {
			t.Errorf("level %q debug=%v: %v should be enabled", tt.level, tt.debug, tt.want)
		}
		if tt.want > slog.LevelDebug && lg.Enabled(context.Background(), tt.want-4) {
			t.Errorf("level %q: %v should be disabled", tt.level, tt.want-4)
		}
	}
}

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "autopilot.log")
	lg, err := newLogger(config.LoggingConfig{Level: "info", Format: "json", File: path}, false)
	if err != nil {
		t.Fatal(err)
	}
	lg.Info("hello", "k", "v")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Fatalf("expected a JSON record, got %q", data)
	}
}

func TestLeaseOwner(t *testing.T) {
	cfg := config.Defaults()
	if got := leaseOwner(cfg); got != "default" {
		t.Fatalf("expected default, got %q", got)
	}
	cfg.General.OwnerID = "42"
	if got := leaseOwner(cfg); got != "42" {
		t.Fatalf("expected owner id, got %q", got)
	}
	cfg.General.InstanceID = "laptop"
	if got := leaseOwner(cfg); got != "laptop" {
		t.Fatalf("expected instance id, got %q", got)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	src := t.TempDir()
	cfgPath := filepath.Join(src, "config.json")
	dbPath := filepath.Join(src, "autopilot.db")
	os.WriteFile(cfgPath, []byte(`{"general":{}}`), 0o600)
	os.WriteFile(dbPath, []byte("db"), 0o600)
	os.WriteFile(dbPath+"-wal", []byte("wal"), 0o600)

	files := backupFiles(cfgPath, dbPath)
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %v", files)
	}
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, files); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	newCfg := filepath.Join(dst, "config.json")
	newDB := filepath.Join(dst, "data", "memory.db")
	restored, err := extractTarGz(archive, newDB, newCfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 3 {
		t.Fatalf("expected 3 restored files, got %v", restored)
	}
	for path, want := range map[string]string{newCfg: `{"general":{}}`, newDB: "db", newDB + "-wal": "wal"} {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Errorf("%s: got %q, want %q", path, got, want)
		}
	}
}

func TestRenderService(t *testing.T) {
	unit := renderService(systemdTemplate, map[string]string{"EXEC": "/usr/bin/autopilot", "CONFIG": "/etc/a.json"})
	if !strings.Contains(unit, "ExecStart=/usr/bin/autopilot run --config /etc/a.json") {
		t.Fatalf("unexpected unit:\n%s", unit)
	}
	if strings.Contains(unit, "{{") {
		t.Fatal("unfilled placeholder")
	}
}

func TestHumanSize(t *testing.T) {
	tests := map[int64]string{
		12:              "12 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range tests {
		if got := humanSize(in); got != want {
			t.Errorf("humanSize(%d) = %q, want %q", in, got, want)
		}
	}
}
