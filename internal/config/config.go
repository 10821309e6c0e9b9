// Package config loads and watches the relay configuration.
//
// Files may be JSON or YAML; YAML is coerced to JSON so both formats go
// through the same strict decoder (unknown fields are rejected early).
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Trello   TrelloConfig   `json:"trello"`
	Webhook  WebhookConfig  `json:"webhook"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Sweep    SweepConfig    `json:"sweep,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type TrelloConfig struct {
	Key     string      `json:"key"`
	Token   string      `json:"token"`
	BoardID string      `json:"board_id"`
	Lists   ListsConfig `json:"lists"`
}

// ListsConfig names the four lifecycle stages on the board.
type ListsConfig struct {
	Requests   string `json:"requests"`
	InProgress string `json:"in_progress"`
	Complete   string `json:"complete"`
	TimedOut   string `json:"timed_out"`
}

type WebhookConfig struct {
	Addr string `json:"addr"`
	Path string `json:"path,omitempty"` // default "/trello"
	// RatePerSec bounds outbound notification sends.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SweepConfig controls the stale-request sweeper.
type SweepConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "@daily"
	MaxAge   string `json:"max_age,omitempty"`  // Go duration string, default 336h
}

// Load reads, decodes, and validates the config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := jsonConfigBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	require := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	require("telegram.token", c.Telegram.Token)
	require("trello.key", c.Trello.Key)
	require("trello.token", c.Trello.Token)
	require("trello.lists.requests", c.Trello.Lists.Requests)
	require("trello.lists.in_progress", c.Trello.Lists.InProgress)
	require("trello.lists.complete", c.Trello.Lists.Complete)
	require("trello.lists.timed_out", c.Trello.Lists.TimedOut)
	require("webhook.addr", c.Webhook.Addr)
	require("storage.path", c.Storage.Path)
	if len(missing) > 0 {
		return errors.New("config: missing required fields: " + strings.Join(missing, ", "))
	}

	for _, d := range []struct{ name, v string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"sweep.max_age", c.Sweep.MaxAge},
	} {
		if _, err := ParseDuration(d.name, d.v, 0); err != nil {
			return err
		}
	}
	return nil
}

// jsonConfigBytes returns data ready for the strict JSON decoder. YAML files
// are round-tripped through yaml.Unmarshal and json.Marshal; anything else is
// assumed to be JSON already and passed through untouched.
func jsonConfigBytes(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filepath.Base(path), err)
	}
	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("config: convert %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// stringifyKeys rewrites map keys to strings; json.Marshal rejects the
// map[any]any nodes the YAML decoder can produce.
func stringifyKeys(v any) any {
	switch node := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(node))
		for k, val := range node {
			m[fmt.Sprint(k)] = stringifyKeys(val)
		}
		return m
	case map[string]any:
		for k, val := range node {
			node[k] = stringifyKeys(val)
		}
		return node
	case []any:
		for i, val := range node {
			node[i] = stringifyKeys(val)
		}
		return node
	default:
		return v
	}
}

// ParseDuration parses a Go duration string config field, returning def when
// the field is empty.
func ParseDuration(name, v string, def time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid duration %q: %w", name, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s: duration must be >= 0", name)
	}
	return d, nil
}
