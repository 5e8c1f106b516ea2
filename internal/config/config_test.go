package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slamon.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[remote]
url = "https://ingest.example.com/v1/events"
dataset = "support-monitoring"
token = "file-token"
timeout = "5s"

[remote.tls]
skip_verify = true

[breaker]
failure_threshold = 4
cooldown = "10s"
max_cooldown = "45s"

[retry]
base_delay = "500ms"
max_attempts = 2

[backlog]
dir = "/var/lib/slamon/backlog"
max_file_mb = 16
retention_days = 14

[resync]
interval = "45s"

[sla]
default_threshold = 5.0

[sla.channels]
chat = 5.0
voice = 10.0
email = 120.0

[alertlog]
file = "/var/log/slamon/alerts.log"

[archive]
dsn = "sqlite:///var/lib/slamon/archive.db"

[server]
listen = ":9090"
metrics = true

[log]
level = "debug"
`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fc.Remote.URL != "https://ingest.example.com/v1/events" || fc.Remote.Token != "file-token" {
		t.Fatalf("remote section: %+v", fc.Remote)
	}
	if !fc.Remote.TLS.SkipVerify {
		t.Fatalf("tls section not parsed")
	}
	if fc.Breaker.FailureThreshold != 4 || fc.Breaker.Cooldown != 10*time.Second {
		t.Fatalf("breaker section: %+v", fc.Breaker)
	}
	if fc.Retry.BaseDelay != 500*time.Millisecond || fc.Retry.MaxAttempts != 2 {
		t.Fatalf("retry section: %+v", fc.Retry)
	}
	if fc.Resync.Interval != 45*time.Second {
		t.Fatalf("resync section: %+v", fc.Resync)
	}
	if fc.SLA.Channels["voice"] != 10.0 {
		t.Fatalf("sla channels: %+v", fc.SLA)
	}
	if got := fc.RotationOptions().MaxFileBytes; got != 16*1024*1024 {
		t.Fatalf("rotation bytes = %d", got)
	}
	if fc.Server.Listen != ":9090" || !fc.Server.Metrics {
		t.Fatalf("server section: %+v", fc.Server)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[remote]
url = "https://ingest.example.com/v1/events"
`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fc.Backlog.Dir != "backlog" {
		t.Fatalf("backlog dir default = %q", fc.Backlog.Dir)
	}
	if fc.Server.Listen != ":8080" {
		t.Fatalf("listen default = %q", fc.Server.Listen)
	}
}

func TestLoadTokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnv, "env-token")
	path := writeConfig(t, `
[remote]
url = "https://ingest.example.com/v1/events"
`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fc.Remote.Token != "env-token" {
		t.Fatalf("token = %q, want env-token", fc.Remote.Token)
	}
}

func TestLoadRequiresRemoteURL(t *testing.T) {
	path := writeConfig(t, `
[breaker]
failure_threshold = 3
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("missing remote url accepted")
	}
}
