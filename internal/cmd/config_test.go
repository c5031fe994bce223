package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func TestWriteSettings(t *testing.T) {
	var buf bytes.Buffer
	settings := map[string]any{
		"health":  map[string]any{"stale_threshold_ms": 900000},
		"gateway": map[string]any{"socket": "fleetwatch"},
	}
	if err := writeSettings(&buf, settings); err != nil {
		t.Fatalf("writeSettings: %v", err)
	}
	if !strings.Contains(buf.String(), "  stale_threshold_ms: 900000") {
		t.Errorf("output not indented by two spaces:\n%s", buf.String())
	}

	var back map[string]map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if back["gateway"]["socket"] != "fleetwatch" {
		t.Errorf("gateway.socket = %v", back["gateway"]["socket"])
	}
}

func TestParseValue(t *testing.T) {
	viper.Set("test.parse.int", 5)
	viper.Set("test.parse.bool", false)
	viper.Set("test.parse.string", "x")
	t.Cleanup(func() {
		viper.Set("test.parse.int", nil)
		viper.Set("test.parse.bool", nil)
		viper.Set("test.parse.string", nil)
	})

	tests := []struct {
		key, raw string
		want     any
		wantErr  bool
	}{
		{"test.parse.int", "42", 42, false},
		{"test.parse.int", "forty", nil, true},
		{"test.parse.bool", "true", true, false},
		{"test.parse.bool", "maybe", nil, true},
		{"test.parse.string", "fw-", "fw-", false},
	}
	for _, tt := range tests {
		got, err := parseValue(tt.key, tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseValue(%q, %q) error = %v, wantErr %v", tt.key, tt.raw, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseValue(%q, %q) = %v, want %v", tt.key, tt.raw, got, tt.want)
		}
	}
}
