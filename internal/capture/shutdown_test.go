package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSequencerCleanExit(t *testing.T) {
	exited := make(chan struct{})
	signaled := false

	seq := NewShutdownSequencer(
		func() error {
			signaled = true
			close(exited) // exits promptly on signal
			return nil
		},
		func() { t.Fatal("kill must not run on a clean exit") },
	)
	seq.Timeout = 500 * time.Millisecond
	seq.Settle = 10 * time.Millisecond

	forced := seq.Run(exited)
	assert.False(t, forced)
	assert.True(t, signaled)
	assert.Equal(t, PhaseStopped, seq.Phase())
}

func TestSequencerForcedKill(t *testing.T) {
	exited := make(chan struct{})
	killed := make(chan struct{})

	seq := NewShutdownSequencer(
		func() error { return nil }, // signal ignored by the process
		func() {
			close(killed)
			close(exited)
		},
	)
	seq.Timeout = 50 * time.Millisecond
	seq.Settle = 10 * time.Millisecond

	forced := seq.Run(exited)
	assert.True(t, forced)

	select {
	case <-killed:
	default:
		t.Fatal("kill was never invoked")
	}
	assert.Equal(t, PhaseStopped, seq.Phase())
}

func TestSequencerKillWaitsForDeath(t *testing.T) {
	// The exit event arrives a while after the kill; Run must not return
	// before it has been observed plus the settle delay.
	exited := make(chan struct{})

	seq := NewShutdownSequencer(
		func() error { return nil },
		func() {
			go func() {
				time.Sleep(80 * time.Millisecond)
				close(exited)
			}()
		},
	)
	seq.Timeout = 20 * time.Millisecond
	seq.Settle = 30 * time.Millisecond

	begin := time.Now()
	forced := seq.Run(exited)
	elapsed := time.Since(begin)

	assert.True(t, forced)
	// timeout + delayed death + settle
	assert.GreaterOrEqual(t, elapsed, 130*time.Millisecond)
}

func TestSequencerAppliesSettleDelay(t *testing.T) {
	exited := make(chan struct{})
	close(exited)

	seq := NewShutdownSequencer(func() error { return nil }, func() {})
	seq.Timeout = time.Second
	seq.Settle = 100 * time.Millisecond

	begin := time.Now()
	_ = seq.Run(exited)
	assert.GreaterOrEqual(t, time.Since(begin), 100*time.Millisecond)
}

func TestSequencerExitEventIsBroadcast(t *testing.T) {
	// Several waiters can observe the same exit without stealing it from
	// each other: none may block once the channel is closed.
	exited := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		seq := NewShutdownSequencer(func() error { return nil }, func() {})
		seq.Timeout = time.Second
		seq.Settle = time.Millisecond
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.False(t, seq.Run(exited))
		}()
	}
	close(exited)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a sequencer run never observed the exit")
	}
}
