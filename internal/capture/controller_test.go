package capture

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapdeck/tapdeck/internal/types"
	"github.com/tapdeck/tapdeck/internal/wire"
)

// TestHelperProcess is not a real test: it is re-executed as the fake
// capture subprocess. FAKE_CAPTURE_BEHAVIOR selects how it acts.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	mode := "system"
	args := os.Args
	for i, a := range args {
		if a == "--" && i+1 < len(args) {
			mode = args[i+1]
		}
	}

	switch os.Getenv("FAKE_CAPTURE_BEHAVIOR") {
	case "stream":
		runFakeStream(mode, false)
	case "ignore-sigint":
		runFakeStream(mode, true)
	case "fail":
		fmt.Fprintln(os.Stderr, "ERROR: no capture device available")
		os.Exit(1)
	case "exit-early":
		os.Exit(3)
	case "silent":
		time.Sleep(30 * time.Second)
	case "die-after-ready":
		fmt.Fprintf(os.Stderr, "READY mode=%s\n", mode)
		w := wire.NewWriter(os.Stdout)
		_ = w.WriteFrame(wire.ChannelSystem, make([]float32, 480))
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}
	os.Exit(0)
}

// runFakeStream emits frames until interrupted. When ignoreSignal is set
// it keeps streaming after SIGINT and must be force-killed.
func runFakeStream(mode string, ignoreSignal bool) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	fmt.Fprintf(os.Stderr, "READY mode=%s\n", mode)

	w := wire.NewWriter(os.Stdout)
	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = 0.25
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sigCh:
			if ignoreSignal {
				continue
			}
			os.Exit(0)
		case <-ticker.C:
			if mode == "system" || mode == "both" {
				if err := w.WriteFrame(wire.ChannelSystem, samples); err != nil {
					os.Exit(1)
				}
			}
			if mode == "mic" || mode == "both" {
				if err := w.WriteFrame(wire.ChannelMicrophone, samples); err != nil {
					os.Exit(1)
				}
			}
		}
	}
}

func newTestController(t *testing.T, behavior string) *Controller {
	t.Helper()
	c := New(nil, "fake-capture")
	c.startTimeout = 2 * time.Second
	c.shutdownTimeout = 500 * time.Millisecond
	c.settleDelay = 20 * time.Millisecond
	c.newCommand = func(mode types.CaptureMode) *exec.Cmd {
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--", string(mode))
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"FAKE_CAPTURE_BEHAVIOR="+behavior,
		)
		return cmd
	}
	return c
}

func TestStartStopCleanExit(t *testing.T) {
	c := newTestController(t, "stream")

	require.NoError(t, c.Start(types.ModeSystem))
	assert.True(t, c.IsRunning())
	assert.Equal(t, types.StateRunning, c.State())

	select {
	case frame := <-c.Frames():
		assert.Equal(t, wire.ChannelSystem, frame.Channel)
		assert.Len(t, frame.Samples, 480)
		assert.False(t, frame.Muted)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	require.NoError(t, c.Stop())
	assert.Equal(t, types.StateStopped, c.State())
	assert.False(t, c.Died())
	assert.False(t, c.Status().ForcedKill)
}

func TestStartWhileRunningFails(t *testing.T) {
	c := newTestController(t, "stream")

	require.NoError(t, c.Start(types.ModeSystem))
	err := c.Start(types.ModeMic)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, c.Stop())
}

func TestStartInvalidMode(t *testing.T) {
	c := newTestController(t, "stream")
	err := c.Start(types.CaptureMode("bogus"))
	require.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, types.StateIdle, c.State())
}

func TestStartNoBinary(t *testing.T) {
	c := New(nil, "")
	err := c.Start(types.ModeSystem)
	require.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestStartSubprocessError(t *testing.T) {
	c := newTestController(t, "fail")

	err := c.Start(types.ModeSystem)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capture device available")
	assert.Equal(t, types.StateStopped, c.State())
	assert.False(t, c.IsRunning())
}

func TestStartSubprocessExitsEarly(t *testing.T) {
	c := newTestController(t, "exit-early")

	err := c.Start(types.ModeSystem)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited during startup")
	assert.Equal(t, types.StateStopped, c.State())
}

func TestStartTimeout(t *testing.T) {
	c := newTestController(t, "silent")
	c.startTimeout = 200 * time.Millisecond

	err := c.Start(types.ModeSystem)
	require.ErrorIs(t, err, ErrStartTimeout)
	assert.Equal(t, types.StateStopped, c.State())
}

func TestStopWhileStartingBothReturn(t *testing.T) {
	// The subprocess is spawned but READY never arrives; a Stop issued
	// mid-handshake must tear the session down without stranding either
	// caller.
	c := newTestController(t, "silent")
	c.startTimeout = 5 * time.Second

	startErr := make(chan error, 1)
	go func() { startErr <- c.Start(types.ModeSystem) }()

	require.Eventually(t, func() bool {
		return c.State() == types.StateStarting
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	stopErr := make(chan error, 1)
	go func() { stopErr <- c.Stop() }()

	bound := c.startTimeout + c.shutdownTimeout + c.settleDelay + time.Second
	select {
	case err := <-stopErr:
		require.NoError(t, err)
	case <-time.After(bound):
		t.Fatal("Stop never returned")
	}
	select {
	case err := <-startErr:
		require.ErrorIs(t, err, ErrStartAborted)
	case <-time.After(bound):
		t.Fatalf("Start never returned (state=%s)", c.State())
	}

	assert.Equal(t, types.StateStopped, c.State())
	assert.False(t, c.Died())
	assert.False(t, c.IsRunning())
}

func TestStopTimingIncludesSettle(t *testing.T) {
	c := newTestController(t, "stream")
	c.settleDelay = 150 * time.Millisecond

	require.NoError(t, c.Start(types.ModeSystem))
	begin := time.Now()
	require.NoError(t, c.Stop())
	elapsed := time.Since(begin)

	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.False(t, c.Status().ForcedKill)
}

func TestForcedKillWhenSignalIgnored(t *testing.T) {
	c := newTestController(t, "ignore-sigint")

	require.NoError(t, c.Start(types.ModeSystem))

	// Drain so the fake's writes never stall during shutdown.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-c.Frames():
			case <-done:
				return
			}
		}
	}()

	begin := time.Now()
	require.NoError(t, c.Stop())
	close(done)

	assert.GreaterOrEqual(t, time.Since(begin), c.shutdownTimeout)
	assert.True(t, c.Status().ForcedKill)
	assert.False(t, c.Died())
}

func TestDiedDetection(t *testing.T) {
	c := newTestController(t, "die-after-ready")

	require.NoError(t, c.Start(types.ModeSystem))

	require.Eventually(t, func() bool {
		return c.State() == types.StateStopped
	}, 3*time.Second, 20*time.Millisecond)
	assert.True(t, c.Died())
}

func TestOnStoppedCallback(t *testing.T) {
	c := newTestController(t, "die-after-ready")

	diedCh := make(chan bool, 1)
	c.SetOnStopped(func(died bool) { diedCh <- died })

	require.NoError(t, c.Start(types.ModeSystem))

	select {
	case died := <-diedCh:
		assert.True(t, died)
	case <-time.After(3 * time.Second):
		t.Fatal("stop callback never fired")
	}
}

func TestMuteFlagsFramesWithoutDropping(t *testing.T) {
	c := newTestController(t, "stream")

	require.NoError(t, c.Start(types.ModeSystem))
	require.NoError(t, c.SetChannelMute(wire.ChannelSystem, true))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-c.Frames():
			if !frame.Muted {
				continue // frame routed before the flag flipped
			}
			assert.Len(t, frame.Samples, 480)
			require.NoError(t, c.Stop())
			return
		case <-deadline:
			t.Fatal("no muted frame delivered")
		}
	}
}

func TestBothModeDeliversBothChannels(t *testing.T) {
	c := newTestController(t, "stream")

	require.NoError(t, c.Start(types.ModeBoth))

	seen := map[wire.Channel]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case frame := <-c.Frames():
			seen[frame.Channel] = true
		case <-deadline:
			t.Fatalf("missing channel, saw %v", seen)
		}
	}

	require.NoError(t, c.Stop())
	status := c.Status()
	assert.Equal(t, types.ModeBoth, status.Mode)
}

func TestSetChannelMuteUnknownChannel(t *testing.T) {
	c := newTestController(t, "stream")
	err := c.SetChannelMute(wire.Channel('X'), true)
	require.ErrorIs(t, err, wire.ErrUnknownChannel)
}

func TestStopWithoutSessionIsNoop(t *testing.T) {
	c := newTestController(t, "stream")
	require.NoError(t, c.Stop())
	assert.Equal(t, types.StateIdle, c.State())
}

func TestLevelsFollowStream(t *testing.T) {
	c := newTestController(t, "stream")

	require.NoError(t, c.Start(types.ModeSystem))

	// Wait for some frames to pass through the meter.
	for i := 0; i < 5; i++ {
		select {
		case <-c.Frames():
		case <-time.After(2 * time.Second):
			t.Fatal("no frames delivered")
		}
	}

	levels := c.Levels()
	// The fake streams 0.25 full scale, about -12 dBFS.
	assert.InDelta(t, -12.0, levels.System.RMS, 1.0)

	require.NoError(t, c.Stop())
}
