package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/finbase/stockpulse/pkg/types"
)

// ErrStopped is returned from wait points once the stop latch has fired
var ErrStopped = errors.New("task stopped")

// DefaultPollInterval bounds how long a paused worker waits before
// re-checking its control state
const DefaultPollInterval = 500 * time.Millisecond

// Handle carries the control state of one running task. Stop is a one-shot
// latch; pause is a gate the worker blocks on until resumed or stopped.
type Handle struct {
	taskID string
	poll   time.Duration

	mu       sync.Mutex
	stopped  bool
	stopCh   chan struct{}
	paused   bool
	resumeCh chan struct{}
}

// NewHandle creates a running (unpaused, unstopped) handle. A zero poll
// interval selects DefaultPollInterval.
func NewHandle(taskID string, poll time.Duration) *Handle {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Handle{
		taskID: taskID,
		poll:   poll,
		stopCh: make(chan struct{}),
	}
}

// TaskID returns the task this handle controls
func (h *Handle) TaskID() string { return h.taskID }

// Stop fires the stop latch. Idempotent; returns true on the first call.
// Stop overrides pause: a worker blocked at a pause gate unblocks with
// ErrStopped.
func (h *Handle) Stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.stopped = true
	close(h.stopCh)
	return true
}

// Stopped reports whether the stop latch has fired
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// StopChan returns the channel closed when the stop latch fires
func (h *Handle) StopChan() <-chan struct{} { return h.stopCh }

// Pause closes the gate. Returns false when already paused or stopped.
func (h *Handle) Pause() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || h.paused {
		return false
	}
	h.paused = true
	h.resumeCh = make(chan struct{})
	return true
}

// Resume opens the gate. Returns false when not paused or already stopped.
func (h *Handle) Resume() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || !h.paused {
		return false
	}
	h.paused = false
	close(h.resumeCh)
	h.resumeCh = nil
	return true
}

// Paused reports whether the gate is closed
func (h *Handle) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// State reduces the handle to the coarse control state
func (h *Handle) State() types.ControlState {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.stopped:
		return types.ControlStopped
	case h.paused:
		return types.ControlPaused
	default:
		return types.ControlRunning
	}
}

// CheckStop returns ErrStopped when the latch has fired, else nil.
// Workers call this between steps.
func (h *Handle) CheckStop() error {
	if h.Stopped() {
		return ErrStopped
	}
	return nil
}

// WaitIfPaused blocks while the gate is closed. It returns nil once
// running, ErrStopped when the stop latch fires, or the context error on
// cancellation. The poll interval bounds the wait between state re-checks
// so a missed resume signal cannot wedge a worker.
func (h *Handle) WaitIfPaused(ctx context.Context) error {
	for {
		h.mu.Lock()
		if h.stopped {
			h.mu.Unlock()
			return ErrStopped
		}
		if !h.paused {
			h.mu.Unlock()
			return nil
		}
		resume := h.resumeCh
		h.mu.Unlock()

		timer := time.NewTimer(h.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-h.stopCh:
			timer.Stop()
			return ErrStopped
		case <-resume:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Sleep waits for d, waking early when the stop latch fires or the
// context is cancelled. The pause gate is honored throughout: the wait
// runs in poll-interval slices and a pause issued mid-sleep parks the
// sleeper at the gate until resumed.
func (h *Handle) Sleep(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		if err := h.WaitIfPaused(ctx); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		slice := remaining
		if slice > h.poll {
			slice = h.poll
		}
		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-h.stopCh:
			timer.Stop()
			return ErrStopped
		case <-timer.C:
		}
	}
}
