package broker

import (
	"context"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is the pairing liveness poll period.
const DefaultHeartbeatInterval = 1000 * time.Millisecond

// Heartbeat drives a fixed-interval polling loop. Each tick runs in its own
// goroutine, so a slow round trip does not delay or suppress the next tick;
// tick functions must tolerate overlap. The loop runs until Stop, which is
// idempotent, and a stopped heartbeat never restarts on its own.
type Heartbeat struct {
	interval time.Duration
	tick     func(ctx context.Context)

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewHeartbeat returns an unstarted heartbeat firing tick every interval.
func NewHeartbeat(interval time.Duration, tick func(ctx context.Context)) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		interval: interval,
		tick:     tick,
		done:     make(chan struct{}),
	}
}

// Start begins the polling loop. Starting twice, or starting after Stop,
// is a no-op.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return
	}
	select {
	case <-h.done:
		return
	default:
	}
	h.started = true

	go h.loop(ctx)
}

func (h *Heartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			go h.tick(ctx)
		case <-h.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the loop. Safe to call multiple times and before Start.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Running reports whether the loop has started and not been stopped.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
