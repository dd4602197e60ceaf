//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"bookbrief-billing/internal/config"

	"github.com/rs/zerolog"
)

func TestWith(t *testing.T) {
	t.Run("should attach ids from the context", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)
		ctx := WithEventID(WithUserID(WithTraceID(context.Background(), "tr1"), "u1"), "evt_1")

		With(ctx, &base).Info().Msg("hello")

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("expected json line, got %q: %v", buf.String(), err)
		}
		for k, want := range map[string]string{"trace_id": "tr1", "user_id": "u1", "event_id": "evt_1"} {
			if line[k] != want {
				t.Errorf("expected %s=%q, got %v", k, want, line[k])
			}
		}
	})

	t.Run("should add nothing for an empty context", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)

		With(context.Background(), &base).Info().Msg("hello")

		if bytes.Contains(buf.Bytes(), []byte("trace_id")) {
			t.Errorf("expected no trace_id, got %s", buf.String())
		}
	})
}

func TestRedact(t *testing.T) {
	if got := Redact("cus_ABCDEFGH12", false); got != "cus_...12" {
		t.Errorf("unexpected redaction %q", got)
	}
	if got := Redact("short", false); got != "***" {
		t.Errorf("expected short values fully hidden, got %q", got)
	}
	if got := Redact("cus_ABCDEFGH12", true); got != "cus_ABCDEFGH12" {
		t.Errorf("expected dev mode to keep the value, got %q", got)
	}
}

func TestPII_FollowsLoggerMode(t *testing.T) {
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
		showPII.Store(false)
	})
	New(config.LogConfig{Level: "error"}, true)
	if got := PII("reader@uni.edu"); got != "reader@uni.edu" {
		t.Errorf("expected dev logger to keep values, got %q", got)
	}
	New(config.LogConfig{Level: "error"}, false)
	if got := PII("reader@uni.edu"); got != "read...du" {
		t.Errorf("expected prod logger to redact, got %q", got)
	}
}

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if len(a) != 26 || a == b {
		t.Errorf("expected distinct 26-char ids, got %q and %q", a, b)
	}
}
