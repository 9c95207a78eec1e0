package audit

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

// Tests use logger.Close() to drain entries instead of time.Sleep,
// ensuring deterministic behavior with the race detector.

func TestLogAndQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(100, &buf)

	logger.Log("Sign", "slot:a", StatusOK, "", nil)
	logger.Log("Connect", "example.org:443", StatusOK, "", nil)
	logger.Log("Sign", "slot:b", StatusOK, "", nil)

	logger.Close()

	entries := logger.Query(Filter{Subject: "slot:a"})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry for slot:a, got %d", len(entries))
	}

	entries = logger.Query(Filter{Operation: "Sign"})
	if len(entries) != 2 {
		t.Fatalf("expected 2 Sign entries, got %d", len(entries))
	}
	if entries[0].Subject != "slot:b" {
		t.Fatal("query should return newest first")
	}

	if !strings.Contains(buf.String(), "example.org:443") {
		t.Fatal("expected connect entry in output")
	}
}

func TestQueryLimit(t *testing.T) {
	logger := NewLogger(100, nil)

	for i := range 10 {
		logger.Log("Random", "", StatusOK, "", map[string]string{"i": string(rune('0' + i))})
	}
	logger.Close()

	entries := logger.Query(Filter{Limit: 3})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestQueryTimeWindow(t *testing.T) {
	logger := NewLogger(10, nil)
	logger.Log("Sign", "k", StatusOK, "", nil)
	logger.Close()

	future := time.Now().Add(time.Hour)
	if got := logger.Query(Filter{Start: future}); len(got) != 0 {
		t.Fatalf("expected no entries after %v, got %d", future, len(got))
	}
	past := time.Now().Add(-time.Hour)
	if got := logger.Query(Filter{End: past}); len(got) != 0 {
		t.Fatalf("expected no entries before %v, got %d", past, len(got))
	}
}

func TestRetentionBounded(t *testing.T) {
	logger := NewLogger(2, nil)
	for range 50 {
		logger.Log("Random", "", StatusOK, "", nil)
		// keep the tiny buffer from overflowing
		time.Sleep(time.Millisecond)
	}
	logger.Close()

	if got := len(logger.Query(Filter{})); got > 20 {
		t.Fatalf("expected at most 20 retained entries, got %d", got)
	}
}

func TestResult(t *testing.T) {
	logger := NewLogger(10, nil)
	logger.Result("Sign", "k", nil, nil)
	logger.Result("Sign", "k", errors.New("boom"), map[string]string{"curve": "P256"})
	logger.Close()

	entries := logger.Query(Filter{})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	failed := entries[0]
	if failed.Status != StatusError || failed.Metadata["error"] != "boom" || failed.Metadata["curve"] != "P256" {
		t.Fatalf("unexpected error entry: %+v", failed)
	}
	if entries[1].Status != StatusOK {
		t.Fatalf("unexpected ok entry: %+v", entries[1])
	}
}

func TestSubscribeReceivesEntries(t *testing.T) {
	logger := NewLogger(100, nil)
	defer logger.Close()

	sub := logger.Subscribe()
	defer logger.Unsubscribe(sub)

	logger.Log("Sign", "slot:a", StatusOK, "", nil)

	select {
	case entry := <-sub.C:
		if entry.Operation != "Sign" {
			t.Fatalf("expected Sign, got %s", entry.Operation)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive entry")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	logger := NewLogger(100, nil)
	defer logger.Close()

	sub := logger.Subscribe()
	logger.Unsubscribe(sub)
	logger.Unsubscribe(sub)

	_, ok := <-sub.C
	if ok {
		t.Fatal("expected closed channel")
	}
}

func TestLogEntryHasID(t *testing.T) {
	logger := NewLogger(100, nil)

	logger.Log("Close", "session", StatusOK, "", nil)
	logger.Close()

	entries := logger.Query(Filter{})
	if len(entries) != 1 {
		t.Fatal("expected 1 entry")
	}
	if entries[0].ID == "" {
		t.Fatal("entry should have an ID")
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var logger *Logger
	logger.Log("Sign", "k", StatusOK, "", nil)
	logger.Result("Sign", "k", errors.New("x"), nil)
	logger.Close()
}

func TestCloseTwice(t *testing.T) {
	logger := NewLogger(1, nil)
	logger.Close()
	logger.Close()
}

func TestLogAfterClose(t *testing.T) {
	logger := NewLogger(4, nil)
	logger.Log("Sign", "k", StatusOK, "", nil)
	logger.Close()
	logger.Log("Sign", "late", StatusOK, "", nil)

	if got := logger.Query(Filter{Subject: "late"}); len(got) != 0 {
		t.Fatalf("expected entry after close to be discarded, got %d", len(got))
	}
}
