package config

import (
	"strings"
	"testing"
)

func TestGetByPath(t *testing.T) {
	cfg := Defaults()
	cfg.Provider.Model = "test/model"
	cfg.Memory.Window = 12

	tests := []struct {
		path string
		want any
	}{
		{"provider.model", "test/model"},
		{"memory.window", float64(12)}, // numbers come back as JSON floats
		{"channels.cli.enabled", true},
	}
	for _, tc := range tests {
		got, err := GetByPath(cfg, tc.path)
		if err != nil {
			t.Errorf("%s: %v", tc.path, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %v (%T), want %v", tc.path, got, got, tc.want)
		}
	}
}

func TestGetByPath_Errors(t *testing.T) {
	cfg := Defaults()

	if _, err := GetByPath(cfg, "no.such.key"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := GetByPath(cfg, "provider.model.deeper"); err == nil {
		t.Error("expected error when traversing into a leaf")
	}
}

func TestSetByPath(t *testing.T) {
	cfg := Defaults()

	if err := SetByPath(cfg, "provider.model", "new/model"); err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "new/model" {
		t.Errorf("model: %q", cfg.Provider.Model)
	}

	// Strings that parse as other types are coerced before assignment.
	if err := SetByPath(cfg, "memory.window", "8"); err != nil {
		t.Fatal(err)
	}
	if cfg.Memory.Window != 8 {
		t.Errorf("window: %d", cfg.Memory.Window)
	}
	if err := SetByPath(cfg, "channels.telegram.enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("enabled should be true")
	}
	if err := SetByPath(cfg, "provider.temperature", "0.3"); err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Temperature != 0.3 {
		t.Errorf("temperature: %v", cfg.Provider.Temperature)
	}
}

func TestSetByPath_LeafIsNotASection(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "provider.model.nested", "x"); err == nil {
		t.Error("expected error when a path segment is a leaf")
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Provider.APIKey = "sk-or-v1-abcdef123456"
	cfg.Channels.Telegram.Token = "110201543:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"
	cfg.Channels.Slack.BotToken = "short"
	cfg.Tools.Web.SearchAPIKey = "BSAbrave0987654321"

	clean := Sanitize(cfg)

	if clean.Provider.APIKey == cfg.Provider.APIKey {
		t.Error("api key not masked")
	}
	if !strings.HasPrefix(clean.Provider.APIKey, "sk-o") || !strings.HasSuffix(clean.Provider.APIKey, "3456") {
		t.Errorf("mask should keep the edges: %q", clean.Provider.APIKey)
	}
	if clean.Channels.Slack.BotToken != "***" {
		t.Errorf("short secret should be fully masked: %q", clean.Channels.Slack.BotToken)
	}
	if clean.Channels.Slack.AppToken != "" {
		t.Errorf("empty secret should stay empty: %q", clean.Channels.Slack.AppToken)
	}
	if strings.Contains(clean.Channels.Telegram.Token, "AAHdqTcvCH1vGW") {
		t.Error("telegram token leaked")
	}
	if strings.Contains(clean.Tools.Web.SearchAPIKey, "brave0987") {
		t.Error("search key leaked")
	}

	// The original must be untouched.
	if cfg.Provider.APIKey != "sk-or-v1-abcdef123456" {
		t.Error("Sanitize mutated its input")
	}
}
