package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.PageSize != 50 || s.DebounceWindow != 300*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if s.AnchorRetryAttempts != 10 || s.AnchorRetryInterval != 50*time.Millisecond {
		t.Fatalf("unexpected anchor defaults: %+v", s)
	}
	if s.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", s.Location())
	}
}

func TestLoadOverridesAndMerges(t *testing.T) {
	base := writeFile(t, "base.yml", "page_size: 20\ndebounce_window: 1s\n")
	override := writeFile(t, "override.yml", "page_size: 30\n")

	s, err := Load(base + "," + override)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.PageSize != 30 {
		t.Fatalf("expected page size 30, got %d", s.PageSize)
	}
	if s.DebounceWindow != time.Second {
		t.Fatalf("expected 1s debounce, got %v", s.DebounceWindow)
	}
	if s.QueueSize != 256 {
		t.Fatalf("expected default queue size, got %d", s.QueueSize)
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	p := writeFile(t, "tz.yml", "timezone: Mars/Olympus\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected timezone error")
	}
}
