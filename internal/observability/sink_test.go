package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/danmuck/wirectl/internal/conn"
	"github.com/danmuck/wirectl/internal/testutil/testlog"
)

func TestSinkEmitsOneErrorEvent(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	sink := NewSink(zerolog.New(&buf), "conn-7")
	before := testutil.ToFloat64(diagnostics.WithLabelValues("decode"))

	sink.Error(conn.DecodeFailureMessage, errors.New("bad magic"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["level"] != "error" {
		t.Fatalf("unexpected level %v", entry["level"])
	}
	if entry["message"] != conn.DecodeFailureMessage {
		t.Fatalf("unexpected message %v", entry["message"])
	}
	if entry["error"] != "bad magic" || entry["conn_id"] != "conn-7" {
		t.Fatalf("unexpected fields %v", entry)
	}
	if got := testutil.ToFloat64(diagnostics.WithLabelValues("decode")); got != before+1 {
		t.Fatalf("expected decode diagnostics=%v, got %v", before+1, got)
	}
}

func TestDiagnosticKind(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		conn.DecodeFailureMessage:    "decode",
		conn.ExecutionFailureMessage: "execution",
		conn.CloseFailureMessage:     "close",
		"something else":             "other",
	}
	for msg, want := range cases {
		if got := diagnosticKind(msg); got != want {
			t.Fatalf("diagnosticKind(%q)=%q want %q", msg, got, want)
		}
	}
}
