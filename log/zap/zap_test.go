package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/lateral"
)

func TestZapLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("d", nil)
	l.Info("i", lateral.Fields{"region": "users"})
	l.Warn("w", lateral.Fields{"peer": "a:1", "region": "users"})
	l.Error("e", lateral.Fields{"err": errors.New("boom")})

	all := logs.All()
	if len(all) != 4 {
		t.Fatalf("want 4 entries, got %d", len(all))
	}
	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range all {
		if e.Level != wantLevels[i] {
			t.Fatalf("entry %d level %v, want %v", i, e.Level, wantLevels[i])
		}
		if e.LoggerName != "lateral" {
			t.Fatalf("entry %d logger name %q", i, e.LoggerName)
		}
	}

	ctx := all[2].ContextMap()
	if ctx["peer"] != "a:1" || ctx["region"] != "users" {
		t.Fatalf("fields not carried: %v", ctx)
	}
	if all[2].Context[0].Key != "peer" {
		t.Fatalf("fields should be key-ordered, first is %q", all[2].Context[0].Key)
	}
	if got := all[3].ContextMap()["error"]; got != "boom" {
		t.Fatalf("err field should map to zap.Error, got %v", all[3].ContextMap())
	}
}
