package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
trello:
  key: "k"
  token: "t"
  board_id: "B"
  lists:
    requests: "L1"
    in_progress: "L2"
    complete: "L3"
    timed_out: "L4"
webhook:
  addr: ":8080"
  path: "/trello"
storage:
  path: "./relay.db"
logging:
  level: "info"
  console: true
  file:
    enabled: false
    path: ""
sweep:
  enabled: true
  schedule: "@daily"
  max_age: "336h"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("telegram token = %q", cfg.Telegram.Token)
	}
	if cfg.Trello.Lists.TimedOut != "L4" {
		t.Fatalf("timed_out list = %q", cfg.Trello.Lists.TimedOut)
	}
	if cfg.Webhook.Path != "/trello" || cfg.Storage.Path != "./relay.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	js := `{
	  "telegram": {"token": "123:abc"},
	  "trello": {"key": "k", "token": "t", "board_id": "B",
	    "lists": {"requests": "L1", "in_progress": "L2", "complete": "L3", "timed_out": "L4"}},
	  "webhook": {"addr": ":8080"},
	  "storage": {"path": "./relay.db"},
	  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}
	}`
	cfg, err := Load(writeConfig(t, "config.json", js))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Trello.Lists.Complete != "L3" {
		t.Fatalf("complete list = %q", cfg.Trello.Lists.Complete)
	}
}

func TestLoadYMLExtension(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yml", validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Webhook.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Webhook.Addr)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "config.yaml", "telegram: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", validYAML+"\nbogus_section:\n  x: 1\n"))
	if err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", strings.Replace(validYAML, `token: "123:abc"`, `token: ""`, 1)))
	if err == nil || !strings.Contains(err.Error(), "telegram.token") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", strings.Replace(validYAML, `max_age: "336h"`, `max_age: "two weeks"`, 1)))
	if err == nil || !strings.Contains(err.Error(), "sweep.max_age") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := ParseDuration("x", "", 5); err != nil || d != 5 {
		t.Fatalf("empty: d=%v err=%v", d, err)
	}
	if _, err := ParseDuration("x", "-1s", 0); err == nil {
		t.Fatal("negative duration accepted")
	}
}
