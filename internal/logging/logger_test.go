package logging

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize_SilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger should be a no-op when no level is configured")
	}
}

func TestInitialize_FromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	core := GetLogger().Core()
	if core.Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !core.Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestLogControl_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	LogControl("10.0.0.2:49153", "GetBinaryState", nil, 5*time.Millisecond)
	LogControl("10.0.0.2:49153", "SetBinaryState", errors.New("refused"), time.Millisecond)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "Control request completed" {
		t.Errorf("entry[0].Message = %q", entries[0].Message)
	}
	if entries[1].ContextMap()["error"] != "refused" {
		t.Errorf("entry[1] error field = %v, want refused", entries[1].ContextMap()["error"])
	}
}

func TestDumps(t *testing.T) {
	data := []byte("OK\r\n")
	if got := hexDump(data); got != "4f4b0d0a" {
		t.Errorf("hexDump() = %q", got)
	}
	if got := asciiDump(data); got != "OK.." {
		t.Errorf("asciiDump() = %q", got)
	}

	long := []byte(strings.Repeat("a", maxDump+10))
	if got := hexDump(long); !strings.HasSuffix(got, "...") || len(got) != maxDump*2+3 {
		t.Errorf("hexDump(long) length = %d", len(got))
	}
	if got := asciiDump(long); len(got) != maxDump {
		t.Errorf("asciiDump(long) length = %d", len(got))
	}
}
