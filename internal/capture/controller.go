// Package capture manages the audio capture subprocess: spawning it,
// decoding its frame stream, relaying its status lines, and running the
// ordered shutdown sequence that keeps the OS audio tap healthy.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tapdeck/tapdeck/internal/audio"
	"github.com/tapdeck/tapdeck/internal/config"
	"github.com/tapdeck/tapdeck/internal/types"
	"github.com/tapdeck/tapdeck/internal/util"
	"github.com/tapdeck/tapdeck/internal/wire"
)

var (
	// ErrAlreadyRunning is returned when Start is called while a session is active.
	ErrAlreadyRunning = errors.New("capture session already active")
	// ErrInvalidMode is returned for an unrecognized capture mode.
	ErrInvalidMode = errors.New("invalid capture mode")
	// ErrBinaryNotFound is returned when no capture binary could be located.
	ErrBinaryNotFound = errors.New("capture binary not found")
	// ErrStartTimeout is returned when the subprocess never reports readiness.
	ErrStartTimeout = errors.New("timed out waiting for capture subprocess")
	// ErrStartAborted is returned when Stop arrives before startup completes.
	ErrStartAborted = errors.New("capture start aborted by stop request")
)

// Frame is one decoded audio frame delivered to consumers. Samples are
// mono float32 PCM at the target sample rate. Muted frames are still
// delivered so consumers keep a continuous timeline; they decide whether
// to zero or skip the payload.
type Frame struct {
	Channel wire.Channel
	Samples []float32
	Muted   bool
}

// Controller owns the capture subprocess lifecycle. At most one session
// is active at a time; Start fails fast when one already is. All methods
// are safe for concurrent use.
type Controller struct {
	cfg    *config.Config
	binary string

	mu        sync.Mutex
	state     types.CaptureState
	mode      types.CaptureMode
	cmd       *exec.Cmd
	watch     *exitWatch
	endOnce   *sync.Once
	endDone   chan struct{}
	startTime time.Time
	lastError string
	died      bool
	forced    bool
	stopping  bool
	micMuted  bool
	sysMuted  bool
	onStopped func(died bool)

	frames   chan Frame
	micMeter *audio.Meter
	sysMeter *audio.Meter

	startTimeout    time.Duration
	shutdownTimeout time.Duration
	settleDelay     time.Duration

	// newCommand builds the subprocess command, replaceable in tests.
	newCommand func(mode types.CaptureMode) *exec.Cmd
}

// New creates a controller that spawns the given capture binary.
func New(cfg *config.Config, binary string) *Controller {
	c := &Controller{
		cfg:             cfg,
		binary:          binary,
		state:           types.StateIdle,
		frames:          make(chan Frame, types.DeliveryQueueDepth),
		micMeter:        audio.NewMeter(),
		sysMeter:        audio.NewMeter(),
		startTimeout:    types.StartTimeout,
		shutdownTimeout: types.ShutdownTimeout,
		settleDelay:     types.SettleDelay,
	}
	c.newCommand = c.defaultCommand
	return c
}

func (c *Controller) defaultCommand(mode types.CaptureMode) *exec.Cmd {
	args := make([]string, 0, 8)
	if c.cfg != nil {
		cfg := c.cfg.Snapshot()
		if cfg.Audio.MicDevice != "" {
			args = append(args, "-mic-device", cfg.Audio.MicDevice)
		}
		if cfg.Audio.SystemDevice != "" {
			args = append(args, "-system-device", cfg.Audio.SystemDevice)
		}
		if cfg.Audio.VoiceIsolation {
			args = append(args, "-voice-isolation")
		}
	}
	args = append(args, string(mode))
	return exec.Command(c.binary, args...)
}

// SetOnStopped registers a callback invoked after every session ends.
// died reports whether the subprocess exited without a stop request.
func (c *Controller) SetOnStopped(fn func(died bool)) {
	c.mu.Lock()
	c.onStopped = fn
	c.mu.Unlock()
}

// Frames returns the frame delivery queue. The channel is owned by the
// controller and stays open across sessions; a slow consumer eventually
// stalls the subprocess's writes rather than growing memory unbounded.
func (c *Controller) Frames() <-chan Frame {
	return c.frames
}

// Start spawns the capture subprocess in the given mode and blocks until
// it reports readiness, fails, or the start timeout elapses. It returns
// ErrAlreadyRunning when a session is already active.
func (c *Controller) Start(mode types.CaptureMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	c.mu.Lock()
	switch c.state {
	case types.StateStarting, types.StateRunning, types.StateStopping:
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.binary == "" {
		c.mu.Unlock()
		return ErrBinaryNotFound
	}

	cmd := c.newCommand(mode)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return util.WrapError("create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return util.WrapError("create stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		c.lastError = err.Error()
		c.mu.Unlock()
		return util.WrapError("start capture subprocess", err)
	}

	watch := watchExit(cmd)

	c.state = types.StateStarting
	c.mode = mode
	c.cmd = cmd
	c.watch = watch
	c.endOnce = new(sync.Once)
	c.endDone = make(chan struct{})
	c.died = false
	c.forced = false
	c.stopping = false
	c.lastError = ""
	c.mu.Unlock()

	slog.Info("starting capture subprocess", "mode", mode, "pid", cmd.Process.Pid)

	ready := make(chan struct{})
	markReady := sync.OnceFunc(func() { close(ready) })
	fail := make(chan string, 1)

	go c.readStatus(stderr, markReady, fail)
	go c.readFrames(stdout, markReady)

	select {
	case <-ready:
		c.mu.Lock()
		if c.state != types.StateStarting {
			// Stop arrived during the handshake and owns the teardown.
			c.mu.Unlock()
			c.finishSession(endAborted, false)
			return ErrStartAborted
		}
		c.state = types.StateRunning
		c.startTime = time.Now()
		c.mu.Unlock()
		slog.Info("capture subprocess ready", "mode", mode)
		return nil

	case msg := <-fail:
		c.finishSession(endAborted, false)
		return fmt.Errorf("capture subprocess failed to start: %s", msg)

	case <-watch.exited():
		// During Starting only a Stop call moves the state, so Stopping
		// or Stopped here means the teardown belongs to it.
		st := c.State()
		stopRequested := st == types.StateStopping || st == types.StateStopped
		c.finishSession(endAborted, false)
		if stopRequested {
			return ErrStartAborted
		}
		c.mu.Lock()
		lastErr := c.lastError
		c.mu.Unlock()
		if lastErr != "" {
			return fmt.Errorf("capture subprocess exited during startup: %s", lastErr)
		}
		return fmt.Errorf("capture subprocess exited during startup: %v", watch.exitErr())

	case <-time.After(c.startTimeout):
		st := c.State()
		stopRequested := st == types.StateStopping || st == types.StateStopped
		c.finishSession(endAborted, true)
		if stopRequested {
			return ErrStartAborted
		}
		return ErrStartTimeout
	}
}

// sessionEnd describes how a capture session terminated.
type sessionEnd int

const (
	endRequested sessionEnd = iota // Stop was called
	endDied                        // the stream broke while running
	endAborted                     // startup never completed
)

// finishSession runs the shutdown sequence exactly once per session and
// blocks every caller until it has completed, settle delay included. The
// first caller decides how the end is recorded and whether the graceful
// signal is sent; latecomers only wait. The settle delay applies on
// every path: even a subprocess that failed during startup may have
// opened OS capture devices.
func (c *Controller) finishSession(end sessionEnd, sendSignal bool) {
	c.mu.Lock()
	once := c.endOnce
	done := c.endDone
	watch := c.watch
	c.mu.Unlock()

	once.Do(func() {
		c.mu.Lock()
		c.stopping = true
		proc := c.cmd.Process
		c.mu.Unlock()

		seq := NewShutdownSequencer(
			func() error {
				if !sendSignal {
					return nil
				}
				return util.GracefulSignal(proc)
			},
			func() { _ = proc.Kill() },
		)
		seq.Timeout = c.shutdownTimeout
		seq.Settle = c.settleDelay
		forced := seq.Run(watch.exited())
		exitErr := watch.exitErr()

		c.mu.Lock()
		c.state = types.StateStopped
		c.died = end == endDied
		c.forced = forced
		c.cmd = nil
		c.micMeter.Reset()
		c.sysMeter.Reset()
		if end == endDied && exitErr != nil {
			c.lastError = exitErr.Error()
		}
		cb := c.onStopped
		c.mu.Unlock()

		switch {
		case forced:
			slog.Warn("capture subprocess force-killed", "exit", exitErr)
		case end == endDied:
			slog.Error("capture subprocess died", "exit", exitErr)
		default:
			slog.Info("capture subprocess stopped")
		}
		if cb != nil && end != endAborted {
			cb(end == endDied)
		}
		close(done)
	})
	<-done
}

// Stop signals the subprocess and runs the ordered shutdown sequence:
// graceful signal, bounded wait, forced kill if needed, then the settle
// delay after confirmed death. Stop is valid while the session is still
// starting; the pending Start then returns ErrStartAborted. It is a
// no-op when no session is active.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != types.StateRunning && c.state != types.StateStarting {
		c.mu.Unlock()
		return nil
	}
	c.state = types.StateStopping
	pid := c.cmd.Process.Pid
	c.mu.Unlock()

	slog.Info("stopping capture subprocess", "pid", pid)
	c.finishSession(endRequested, true)
	return nil
}

// readStatus consumes the subprocess's stderr line protocol: a READY line
// marks the session running, ERROR lines carry failure detail, and
// anything else is diagnostic output.
func (c *Controller) readStatus(r io.Reader, markReady func(), fail chan<- string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "READY"):
			markReady()
		case strings.HasPrefix(line, "ERROR:"):
			msg := strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
			c.setLastError(msg)
			slog.Error("capture subprocess error", "message", msg)
			select {
			case fail <- msg:
			default:
			}
		default:
			slog.Debug("capture subprocess", "line", line)
		}
	}
}

// readFrames decodes the stdout frame stream until it ends. Malformed
// frames are skipped; a clean EOF or transport error ends the session.
func (c *Controller) readFrames(r io.Reader, markReady func()) {
	fr := wire.NewReader(r)
	for {
		ch, samples, err := fr.Next()
		if err != nil {
			if wire.Recoverable(err) {
				slog.Warn("skipping malformed capture frame", "error", err)
				continue
			}
			if !errors.Is(err, io.EOF) {
				c.setLastError(err.Error())
			}
			c.handleStreamEnd(err)
			return
		}
		// A flowing stream implies the subprocess is up even if the
		// READY line was lost.
		markReady()
		c.routeFrame(ch, samples)
	}
}

func (c *Controller) routeFrame(ch wire.Channel, samples []float32) {
	c.mu.Lock()
	var muted bool
	switch ch {
	case wire.ChannelMicrophone:
		muted = c.micMuted
	case wire.ChannelSystem:
		muted = c.sysMuted
	}
	c.mu.Unlock()

	// Meters follow the live input so the UI still shows levels on a
	// muted channel.
	switch ch {
	case wire.ChannelMicrophone:
		c.micMeter.Process(samples)
	case wire.ChannelSystem:
		c.sysMeter.Process(samples)
	}

	c.frames <- Frame{Channel: ch, Samples: samples, Muted: muted}
}

// handleStreamEnd runs when the frame stream ends without a stop request:
// the subprocess died or its stdout broke. The settle delay still applies
// before the controller reports stopped.
func (c *Controller) handleStreamEnd(cause error) {
	c.mu.Lock()
	// Only a running session is handled here: the startup path owns
	// teardown until the READY handshake completes, and a requested
	// stop owns it afterwards.
	if c.stopping || c.state != types.StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = types.StateStopping
	c.mu.Unlock()

	slog.Error("capture subprocess stream ended unexpectedly", "error", cause)
	c.finishSession(endDied, false)
}

// SetChannelMute updates the mute flag for one logical channel. The flag
// takes effect on the next delivered frame and persists across sessions.
func (c *Controller) SetChannelMute(ch wire.Channel, muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ch {
	case wire.ChannelMicrophone:
		c.micMuted = muted
	case wire.ChannelSystem:
		c.sysMuted = muted
	default:
		return fmt.Errorf("%w: %#x", wire.ErrUnknownChannel, byte(ch))
	}
	slog.Info("channel mute updated", "channel", ch.String(), "muted", muted)
	return nil
}

// IsRunning reports whether a session is starting or running.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == types.StateStarting || c.state == types.StateRunning
}

// State returns the current session state.
func (c *Controller) State() types.CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Died reports whether the last session ended without a stop request.
func (c *Controller) Died() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.died
}

// Status returns a snapshot of the session's operational state.
func (c *Controller) Status() types.CaptureStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := types.CaptureStatus{
		State:       c.state,
		Mode:        c.mode,
		Died:        c.died,
		LastError:   c.lastError,
		MicMuted:    c.micMuted,
		SystemMuted: c.sysMuted,
		ForcedKill:  c.forced,
	}
	if c.state == types.StateRunning {
		status.Uptime = time.Since(c.startTime).Round(time.Second).String()
	}
	return status
}

// Levels snapshots the per-channel meters, closing the current
// measurement window.
func (c *Controller) Levels() types.AudioLevels {
	now := time.Now()
	mic := c.micMeter.Snapshot(now)
	sys := c.sysMeter.Snapshot(now)
	return types.AudioLevels{
		Mic:    types.ChannelLevels{RMS: mic.RMS, Peak: mic.Peak, Clip: mic.Clip},
		System: types.ChannelLevels{RMS: sys.RMS, Peak: sys.Peak, Clip: sys.Clip},
	}
}

func (c *Controller) setLastError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}
