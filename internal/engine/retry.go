package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/whalefall/accountsync/internal/database/adapter"
)

// retryBase is the first backoff delay; each attempt doubles it and adds up
// to 50% jitter.
const (
	retryBase = 500 * time.Millisecond
	retryCap  = 10 * time.Second
)

var (
	jitterMu  sync.Mutex
	jitterRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func backoffDelay(attempt int) time.Duration {
	d := retryBase << (attempt - 1)
	if d > retryCap {
		d = retryCap
	}
	jitterMu.Lock()
	jitter := time.Duration(jitterRng.Int63n(int64(d) / 2))
	jitterMu.Unlock()
	return d + jitter
}

// withRetry runs fn, retrying per the taxonomy policy of whatever kind the
// failure classifies as. Non-retryable kinds surface immediately.
func withRetry(ctx context.Context, fn func() error) error {
	attempt := 1
	for {
		err := fn()
		if err == nil {
			return nil
		}

		kind := adapter.KindOf(err)
		if !kind.Retryable() || attempt >= kind.MaxAttempts() {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoffDelay(attempt)):
		}
		attempt++
	}
}
