package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayprograms/objecthub/bus"
	"github.com/vinayprograms/objecthub/config"
	"github.com/vinayprograms/objecthub/logging"
)

// parse applies args to a fresh root command and resolves its config.
func parse(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	cmd, opts := newCommand()
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	return resolveConfig(cmd, opts)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "objecthub.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveDefaults(t *testing.T) {
	cfg, err := parse(t)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.Addr() != "localhost:3193" || cfg.WSAddr() != "localhost:3194" {
		t.Errorf("addrs = %s %s", cfg.Addr(), cfg.WSAddr())
	}
	if cfg.Persistent() || cfg.Store.ReadOnly {
		t.Errorf("store = %+v, want transient and writable", cfg.Store)
	}
	if cfg.Query.Window.Duration != 2*time.Second {
		t.Errorf("window = %v, want 2s", cfg.Query.Window.Duration)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
[server]
base_port = 4000
[store]
persist = "/var/lib/objecthub"
[query]
window = "5s"
[logging]
level = "warn"
`)

	tests := []struct {
		name   string
		args   []string
		port   int
		dir    string
		window time.Duration
		level  string
		any    bool
		ro     bool
	}{
		{
			name:   "file only",
			args:   []string{"--config", path},
			port:   4000,
			dir:    "/var/lib/objecthub",
			window: 5 * time.Second,
			level:  "warn",
		},
		{
			name:   "flags win",
			args:   []string{"--config", path, "--base-port", "5000", "--persist", "/tmp/hub", "--query-window", "750ms", "--log-level", "debug"},
			port:   5000,
			dir:    "/tmp/hub",
			window: 750 * time.Millisecond,
			level:  "debug",
		},
		{
			name:   "booleans",
			args:   []string{"--config", path, "--any", "--read-only"},
			port:   4000,
			dir:    "/var/lib/objecthub",
			window: 5 * time.Second,
			level:  "warn",
			any:    true,
			ro:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parse(t, tt.args...)
			if err != nil {
				t.Fatalf("resolveConfig: %v", err)
			}
			if cfg.Server.BasePort != tt.port {
				t.Errorf("port = %d, want %d", cfg.Server.BasePort, tt.port)
			}
			if cfg.Store.Persist != tt.dir {
				t.Errorf("persist = %q, want %q", cfg.Store.Persist, tt.dir)
			}
			if cfg.Query.Window.Duration != tt.window {
				t.Errorf("window = %v, want %v", cfg.Query.Window.Duration, tt.window)
			}
			if cfg.Logging.Level != tt.level {
				t.Errorf("level = %q, want %q", cfg.Logging.Level, tt.level)
			}
			if cfg.Server.Any != tt.any || cfg.Store.ReadOnly != tt.ro {
				t.Errorf("any=%v read_only=%v", cfg.Server.Any, cfg.Store.ReadOnly)
			}
			if tt.any && cfg.ListenHost() != "0.0.0.0" {
				t.Errorf("ListenHost = %q", cfg.ListenHost())
			}
		})
	}
}

func TestResolveRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad level", []string{"--log-level", "loud"}},
		{"zero window", []string{"--query-window", "0s"}},
		{"port out of range", []string{"--base-port", "70000"}},
		{"missing file", []string{"--config", "/does/not/exist.toml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parse(t, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestWebSocketConfigFromFile(t *testing.T) {
	cfg, err := parse(t, "--config", writeConfig(t, `
[transport]
send_buffer = 8
ping_interval = "0s"
write_timeout = "1s"
max_message_size = 4096
`))
	if err != nil {
		t.Fatal(err)
	}
	ws := webSocketConfig(cfg)
	if ws.SendBufferSize != 8 || ws.PingInterval != 0 || ws.WriteTimeout != time.Second || ws.MaxMessageSize != 4096 {
		t.Errorf("websocket config = %+v", ws)
	}
	if ws.RecvBufferSize == 0 {
		t.Error("recv buffer should keep its default")
	}
}

func TestNATSConfig(t *testing.T) {
	cfg, err := parse(t, "--nats-url", "nats://example:4222")
	if err != nil {
		t.Fatal(err)
	}
	nc := natsConfig(cfg)
	if nc.URL != "nats://example:4222" || nc.Name != "objecthub" {
		t.Errorf("nats config = %+v", nc)
	}
}

func TestOpenMirrors(t *testing.T) {
	cfg, err := parse(t)
	if err != nil {
		t.Fatal(err)
	}
	mirror, err := openMirrors(cfg, logging.Discard())
	if err != nil || mirror != nil {
		t.Fatalf("no mirrors configured: got %v, %v", mirror, err)
	}

	cfg.Mirror.Journal = filepath.Join(t.TempDir(), "notifications.jsonl")
	mirror, err = openMirrors(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("openMirrors: %v", err)
	}
	defer mirror.Close()
	if _, ok := mirror.(*bus.JournalMirror); !ok {
		t.Errorf("mirror = %T, want *bus.JournalMirror", mirror)
	}

	cfg.Mirror.Journal = filepath.Join(t.TempDir(), "missing", "j.jsonl")
	if _, err := openMirrors(cfg, logging.Discard()); err == nil {
		t.Error("expected error for unwritable journal")
	}
}
