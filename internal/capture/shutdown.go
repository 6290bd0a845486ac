package capture

import (
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/tapdeck/tapdeck/internal/types"
)

// ShutdownPhase is one step of the subprocess shutdown sequence.
type ShutdownPhase string

// Shutdown phases, in order of progression.
const (
	PhaseRunning        ShutdownPhase = "running"
	PhaseSignalSent     ShutdownPhase = "signal_sent"
	PhaseWaitingForExit ShutdownPhase = "waiting_for_exit"
	PhaseCleanExit      ShutdownPhase = "clean_exit"
	PhaseForcedKill     ShutdownPhase = "forced_kill"
	PhaseSettleDelay    ShutdownPhase = "settle_delay"
	PhaseStopped        ShutdownPhase = "stopped"
)

// ShutdownSequencer runs the ordered, timed teardown of the capture
// subprocess. The sequence matters: the subprocess must get a chance to
// detach its OS capture outputs before it is killed, and the settle delay
// after process death lets the OS reclaim the audio tap. Skipping either
// step can leave the tap in a state that blocks every other application
// from capturing audio until the system audio service restarts.
type ShutdownSequencer struct {
	// Timeout bounds the wait for a voluntary exit after signaling.
	Timeout time.Duration
	// Settle is the pause after confirmed process death.
	Settle time.Duration
	// Signal sends the graceful termination signal.
	Signal func() error
	// Kill force-terminates the subprocess. The kill is not considered
	// complete until the exit event is observed.
	Kill func()

	mu    sync.Mutex
	phase ShutdownPhase
}

// NewShutdownSequencer returns a sequencer with the standard timing.
func NewShutdownSequencer(signal func() error, kill func()) *ShutdownSequencer {
	return &ShutdownSequencer{
		Timeout: types.ShutdownTimeout,
		Settle:  types.SettleDelay,
		Signal:  signal,
		Kill:    kill,
		phase:   PhaseRunning,
	}
}

// Phase returns the current shutdown phase.
func (s *ShutdownSequencer) Phase() ShutdownPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *ShutdownSequencer) setPhase(p ShutdownPhase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Run executes the shutdown sequence. exited must be closed when the
// subprocess death has been observed; a closed channel is a broadcast,
// so any number of waiters can watch the same exit event safely. Run
// reports whether a forced kill was needed and returns only after the
// settle delay, when the OS audio resource can be considered free.
func (s *ShutdownSequencer) Run(exited <-chan struct{}) (forced bool) {
	s.setPhase(PhaseSignalSent)
	if err := s.Signal(); err != nil {
		slog.Warn("failed to signal capture subprocess", "error", err)
	}

	s.setPhase(PhaseWaitingForExit)
	select {
	case <-exited:
		s.setPhase(PhaseCleanExit)
	case <-time.After(s.Timeout):
		slog.Warn("capture subprocess did not exit in time, forcing kill")
		s.setPhase(PhaseForcedKill)
		forced = true
		s.Kill()
		<-exited
	}

	s.setPhase(PhaseSettleDelay)
	time.Sleep(s.Settle)
	s.setPhase(PhaseStopped)

	return forced
}

// exitWatch publishes a subprocess's exit to any number of waiters: done
// closes exactly once, after which err holds the Wait result.
type exitWatch struct {
	done chan struct{}
	err  error
}

// watchExit starts waiting on a started command. Exactly one exitWatch
// may wait per command.
func watchExit(cmd *exec.Cmd) *exitWatch {
	w := &exitWatch{done: make(chan struct{})}
	go func() {
		w.err = cmd.Wait()
		close(w.done)
	}()
	return w
}

func (w *exitWatch) exited() <-chan struct{} { return w.done }

// exitErr is valid only after exited is closed.
func (w *exitWatch) exitErr() error { return w.err }
