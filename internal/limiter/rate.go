package limiter

import (
	"context"
	"sync"
	"time"
)

// SleepFunc suspends the caller for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WindowCounter is a fixed-window request budget shared by every concurrent
// fetch of one scan. The count and the window start are only touched under mu.
type WindowCounter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time
	sleep       SleepFunc

	mu    sync.Mutex
	count int
	start time.Time
}

type Option func(*WindowCounter)

func WithClock(now func() time.Time) Option {
	return func(w *WindowCounter) { w.now = now }
}

func WithSleep(sleep SleepFunc) Option {
	return func(w *WindowCounter) { w.sleep = sleep }
}

func NewWindowCounter(maxRequests int, window time.Duration, opts ...Option) *WindowCounter {
	w := &WindowCounter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		sleep:       Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.start = w.now()
	return w
}

// Acquire reserves n request slots. When the window's ceiling is reached it
// sleeps for the rest of the window without holding the lock, then checks
// again. The first caller to find the window expired starts a new one; the
// rest count against it.
func (w *WindowCounter) Acquire(ctx context.Context, n int) error {
	for {
		remaining, ok := w.reserve(n)
		if ok {
			return nil
		}
		if err := w.sleep(ctx, remaining); err != nil {
			return err
		}
	}
}

// reserve takes n slots if the current window allows it, or returns how long
// is left in the window.
func (w *WindowCounter) reserve(n int) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count > 0 && w.count+n > w.maxRequests {
		remaining := w.window - w.now().Sub(w.start)
		if remaining > 0 {
			return remaining, false
		}
		w.count = 0
		w.start = w.now()
	}

	w.count += n
	return 0, true
}

// Preset forces the counter state. Tests use it to start at the ceiling.
func (w *WindowCounter) Preset(count int, start time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count = count
	w.start = start
}

// Count returns the number of slots used in the current window.
func (w *WindowCounter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
