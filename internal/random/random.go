package random

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

var ErrEntropyUnavailable = errors.New("entropy unavailable")

// Source fills buffers with cryptographically uniform random bytes.
type Source interface {
	// Fill fills all of p or fails with ErrEntropyUnavailable.
	Fill(p []byte) error
}

// Generate allocates n bytes and fills them from src.
func Generate(src Source, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative length %d", n)
	}
	buf := make([]byte, n)
	if err := src.Fill(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReaderSource draws from an io.Reader. A failed read is retried at most
// Retries times, sleeping Backoff (doubling) between attempts.
type ReaderSource struct {
	r       io.Reader
	Retries int
	Backoff time.Duration
}

// NewSystemSource reads from crypto/rand.
func NewSystemSource() *ReaderSource {
	return NewReaderSource(rand.Reader)
}

func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{
		r:       r,
		Retries: 2,
		Backoff: 10 * time.Millisecond,
	}
}

func (s *ReaderSource) Fill(p []byte) error {
	if len(p) == 0 {
		return nil
	}

	backoff := s.Backoff
	var lastErr error
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			slog.Warn("entropy read failed, retrying", "attempt", attempt, "error", lastErr)
			time.Sleep(backoff)
			backoff *= 2
		}
		if _, err := io.ReadFull(s.r, p); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	clear(p)
	return fmt.Errorf("%w: %v", ErrEntropyUnavailable, lastErr)
}

// Func adapts a backend primitive, such as a secure element's RNG, to Source.
type Func func(p []byte) error

func (f Func) Fill(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := f(p); err != nil {
		clear(p)
		if errors.Is(err, ErrEntropyUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return nil
}
