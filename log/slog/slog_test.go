package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"testing"

	"github.com/unkn0wn-root/lateral"
)

func TestSlogLoggerGroupsFields(t *testing.T) {
	var buf bytes.Buffer
	h := stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo})
	l := New(stdslog.New(h))

	l.Debug("dropped", lateral.Fields{"k": 1}) // below level
	l.Info("region created", lateral.Fields{"region": "users", "peers": 2})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("want 1 line, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if rec["msg"] != "region created" {
		t.Fatalf("msg = %v", rec["msg"])
	}
	grp, ok := rec["lateral"].(map[string]any)
	if !ok {
		t.Fatalf("fields should be grouped under lateral: %v", rec)
	}
	if grp["region"] != "users" || grp["peers"] != float64(2) {
		t.Fatalf("group = %v", grp)
	}
}
