// Per-connector sliding-window rate limiting. One RateWindow instance is
// owned by each connector; concurrent tasks sharing a connector go through
// the same window, so all state is mutex-guarded.
package llm

import (
	"sync"
	"time"
)

// windowLength is the fixed accounting window shared by all backends.
const windowLength = 60 * time.Second

// RateWindow tracks request and token counts inside the current 60s window.
// Counters never go negative. The zero limits disable the dimension.
type RateWindow struct {
	mu sync.Mutex

	rpmLimit int // max requests per window; 0 = unlimited
	tpmLimit int // max tokens per window; 0 = unlimited

	requests    int
	tokens      int
	windowStart time.Time

	now func() time.Time // injectable clock for tests
}

// NewRateWindow creates a window with the given per-minute limits.
func NewRateWindow(rpmLimit, tpmLimit int) *RateWindow {
	return newRateWindow(rpmLimit, tpmLimit, time.Now)
}

func newRateWindow(rpmLimit, tpmLimit int, clock func() time.Time) *RateWindow {
	return &RateWindow{
		rpmLimit:    rpmLimit,
		tpmLimit:    tpmLimit,
		windowStart: clock(),
		now:         clock,
	}
}

// Check admits or rejects a call before it is made, based on the estimated
// token cost. An admitted call reserves one request slot immediately; token
// counters are settled later via Update with the backend-reported usage.
//
// Returns nil on admission, or a *RateLimitError whose RetryAfter is the
// number of whole seconds until the window rolls over (always in (0, 60]).
func (w *RateWindow) Check(estimatedTokens int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	elapsed := now.Sub(w.windowStart)
	if elapsed >= windowLength {
		w.reset(now)
		w.requests++
		return nil
	}

	if w.rpmLimit > 0 && w.requests >= w.rpmLimit {
		return &RateLimitError{RetryAfter: retryAfterSeconds(elapsed)}
	}
	if w.tpmLimit > 0 && w.tokens+estimatedTokens > w.tpmLimit {
		return &RateLimitError{RetryAfter: retryAfterSeconds(elapsed)}
	}

	w.requests++
	return nil
}

// Update settles the token count after a completed call. If the window
// rolled over while the call was in flight, counters are reset and the
// call is accounted to the fresh window.
func (w *RateWindow) Update(actualTokens int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if now.Sub(w.windowStart) >= windowLength {
		w.reset(now)
		w.requests = 1
	}
	if actualTokens > 0 {
		w.tokens += actualTokens
	}
}

// Snapshot returns the current counters. Diagnostic only.
func (w *RateWindow) Snapshot() (requests, tokens int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests, w.tokens
}

// reset must be called with the mutex held.
func (w *RateWindow) reset(now time.Time) {
	w.requests = 0
	w.tokens = 0
	w.windowStart = now
}

// retryAfterSeconds is ceil((windowLength - elapsed) / 1s).
func retryAfterSeconds(elapsed time.Duration) int {
	remaining := windowLength - elapsed
	secs := int((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
