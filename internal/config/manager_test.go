package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"loop": {"enabled": true, "force_timer": true, "interval": "10ms"},
		"journal": {"enabled": true, "path": "./j.db", "retention_days": 7}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level = %q", cfg.Logging.Level)
	}
	if !cfg.Loop.ForceTimer {
		t.Fatal("loop.force_timer not parsed")
	}
	if cfg.Journal == nil || cfg.Journal.RetentionDays != 7 {
		t.Fatalf("journal not parsed: %+v", cfg.Journal)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
loop:
  enabled: true
  interval: 16.666ms
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Loop.Enabled {
		t.Fatal("loop.enabled not parsed from yaml")
	}
	d, err := ParseDurationField("loop.interval", cfg.Loop.Interval)
	if err != nil {
		t.Fatalf("interval: %v", err)
	}
	if d <= 16*time.Millisecond || d >= 17*time.Millisecond {
		t.Fatalf("interval = %v", d)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"loop": {"enabled": true, "typo_field": 1}, "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}, "loop": {"enabled": true}}{}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 250ms "); err != nil || d != 250*time.Millisecond {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "bogus"); err == nil {
		t.Fatal("bogus duration accepted")
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}, "loop": {"enabled": true}}`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	m.publish(cfg)

	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("subscriber received different config")
		}
	default:
		t.Fatal("publish did not deliver")
	}
}
