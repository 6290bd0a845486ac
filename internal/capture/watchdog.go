package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tapdeck/tapdeck/internal/types"
	"github.com/tapdeck/tapdeck/internal/util"
)

// Watchdog restarts the capture session when the subprocess dies
// unexpectedly. Restart attempts are paced by exponential backoff and
// capped; a session that survives the success threshold resets the
// counter. Stops requested through the controller never trigger a
// restart.
type Watchdog struct {
	ctrl    *Controller
	backoff *util.Backoff

	mu        sync.Mutex
	enabled   bool
	retries   int
	lastStart time.Time
	timer     *time.Timer
}

// NewWatchdog creates a watchdog for the controller. The caller routes
// the controller's stop callback to HandleStopped.
func NewWatchdog(ctrl *Controller) *Watchdog {
	return &Watchdog{
		ctrl:    ctrl,
		backoff: util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay),
	}
}

// SetEnabled turns automatic restarts on or off. Disabling cancels any
// pending restart.
func (w *Watchdog) SetEnabled(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = enabled
	if !enabled {
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.retries = 0
		w.backoff.Reset()
	}
}

// NoteStart records a session start so run duration can be measured.
func (w *Watchdog) NoteStart() {
	w.mu.Lock()
	w.lastStart = time.Now()
	w.mu.Unlock()
}

// Retries returns the current restart attempt count.
func (w *Watchdog) Retries() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.retries
}

// HandleStopped processes a session end. A deliberate stop clears the
// restart state; an unexpected death schedules a restart when enabled.
func (w *Watchdog) HandleStopped(died bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !died {
		// Deliberate stop: forget any restart state.
		w.retries = 0
		w.backoff.Reset()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		return
	}
	if !w.enabled {
		return
	}

	if !w.lastStart.IsZero() && time.Since(w.lastStart) >= types.SuccessThreshold {
		w.retries = 0
		w.backoff.Reset()
	}
	if w.retries >= types.MaxRetries {
		slog.Error("capture restart limit reached, giving up", "retries", w.retries)
		return
	}

	w.retries++
	delay := w.backoff.Next()
	slog.Warn("capture subprocess died, scheduling restart",
		"attempt", w.retries, "max", types.MaxRetries, "delay", delay)
	w.timer = time.AfterFunc(delay, w.restart)
}

func (w *Watchdog) restart() {
	w.mu.Lock()
	enabled := w.enabled
	w.mu.Unlock()
	if !enabled {
		return
	}

	mode := w.ctrl.Status().Mode
	if mode == "" {
		return
	}
	w.NoteStart()
	if err := w.ctrl.Start(mode); err != nil {
		slog.Error("capture restart failed", "mode", mode, "error", err)
		// Feed the failure back through the same pacing path.
		w.HandleStopped(true)
	}
}
