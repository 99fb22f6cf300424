package logging

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestNewWritesJSONToConfiguredWriter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Writer: &buf})

	log.With(String("component", "monitor")).Debug(context.Background(), "applied notification",
		Int64("seq", 7),
		Err(errors.New("boom")),
	)

	out := buf.String()
	for _, want := range []string{`"msg":"applied notification"`, `"component":"monitor"`, `"seq":7`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q missing %s", out, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Writer: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info message leaked at warn level: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn message missing: %s", buf.String())
	}
}

func TestEnsureRequestIDIsStable(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRequestID returned empty id")
	}
	ctx2, id2 := EnsureRequestID(ctx)
	if id2 != id || RequestIDFromContext(ctx2) != id {
		t.Fatalf("request id changed: %q -> %q", id, id2)
	}
}

func TestFromContextFallback(t *testing.T) {
	if FromContext(context.Background(), nil) == nil {
		t.Fatalf("FromContext returned nil logger")
	}
	stored := New(Config{Writer: io.Discard})
	ctx := ContextWithLogger(context.Background(), stored)
	if FromContext(ctx, nil) != stored {
		t.Fatalf("FromContext did not return stored logger")
	}
}
