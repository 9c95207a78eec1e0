package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Entry records one platform operation: a signature, a random draw, a
// transport state change or a key lifecycle event.
type Entry struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Operation   string            `json:"operation"`
	Subject     string            `json:"subject,omitempty"`
	Status      string            `json:"status"`
	PeerAddress string            `json:"peer_address,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Filter narrows Query results. Zero fields match everything.
type Filter struct {
	Subject   string
	Operation string
	Start     time.Time
	End       time.Time
	Limit     int
}

// Match reports whether e passes the subject, operation and time window
// constraints. Limit is not considered.
func (f Filter) Match(e Entry) bool {
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}

// Subscriber receives audit entries via a channel.
type Subscriber struct {
	C  chan Entry
	id string
}

// Logger is an async audit logger that keeps writes off the signing and I/O
// paths. A nil *Logger discards everything, so components can take one
// optionally.
type Logger struct {
	entries chan Entry
	out     io.Writer

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	store       []Entry
	maxStored   int

	// sendMu orders Log sends against Close.
	sendMu sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewLogger creates a logger with the given buffer size and output writer.
// At most 10x bufferSize entries are retained for Query.
func NewLogger(bufferSize int, out io.Writer) *Logger {
	l := &Logger{
		entries:     make(chan Entry, bufferSize),
		out:         out,
		subscribers: make(map[string]*Subscriber),
		maxStored:   bufferSize * 10,
		done:        make(chan struct{}),
	}
	go l.processLoop()
	return l
}

// Log sends an entry to the async pipeline. Non-blocking: entries are
// dropped with a warning when the buffer is full.
func (l *Logger) Log(operation, subject, status, peerAddr string, metadata map[string]string) {
	if l == nil {
		return
	}

	entry := Entry{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Operation:   operation,
		Subject:     subject,
		Status:      status,
		PeerAddress: peerAddr,
		Metadata:    metadata,
	}

	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.entries <- entry:
	default:
		slog.Warn("audit log buffer full, dropping entry", "operation", operation)
	}
}

// Result logs StatusOK when err is nil and StatusError with the error text otherwise.
func (l *Logger) Result(operation, subject string, err error, metadata map[string]string) {
	if l == nil {
		return
	}
	if err == nil {
		l.Log(operation, subject, StatusOK, "", metadata)
		return
	}
	md := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md["error"] = err.Error()
	l.Log(operation, subject, StatusError, "", md)
}

// Subscribe creates a new subscriber that receives entries via a buffered channel.
func (l *Logger) Subscribe() *Subscriber {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub := &Subscriber{
		C:  make(chan Entry, 64),
		id: uuid.NewString(),
	}
	l.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (l *Logger) Unsubscribe(sub *Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.subscribers[sub.id]; !ok {
		return
	}
	delete(l.subscribers, sub.id)
	close(sub.C)
}

// Query returns stored entries matching f, newest first.
func (l *Logger) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []Entry
	for i := len(l.store) - 1; i >= 0; i-- {
		if !f.Match(l.store[i]) {
			continue
		}
		results = append(results, l.store[i])
		if f.Limit > 0 && len(results) >= f.Limit {
			break
		}
	}
	return results
}

// Close drains pending entries and waits for the loop to finish. Safe to
// call more than once; entries logged afterwards are discarded.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.sendMu.Lock()
	if !l.closed {
		l.closed = true
		close(l.entries)
	}
	l.sendMu.Unlock()
	<-l.done
}

func (l *Logger) processLoop() {
	defer close(l.done)

	for entry := range l.entries {
		l.mu.Lock()
		l.store = append(l.store, entry)
		if l.maxStored > 0 && len(l.store) > l.maxStored {
			l.store = l.store[len(l.store)-l.maxStored:]
		}
		l.mu.Unlock()

		if l.out != nil {
			data, err := json.Marshal(entry)
			if err != nil {
				slog.Error("audit marshal", "error", err)
				continue
			}
			fmt.Fprintf(l.out, "%s\n", data)
		}

		// Fan-out to subscribers (non-blocking)
		l.mu.RLock()
		for _, sub := range l.subscribers {
			select {
			case sub.C <- entry:
			default:
				// subscriber too slow, drop
			}
		}
		l.mu.RUnlock()
	}
}
