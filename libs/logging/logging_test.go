package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLoggerAddsServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "idauth", "test")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected single json line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "idauth" || entry["env"] != "test" || entry["msg"] != "shown" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("DEBUG") != slog.LevelDebug || parseLevel("warning") != slog.LevelWarn || parseLevel("nope") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"+254700123456": "*********3456",
		"abc":           "***",
		"":              "",
	}
	for in, want := range cases {
		if got := Mask(in, 4); got != want {
			t.Fatalf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
