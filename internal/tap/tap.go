// Package tap implements the capture subprocess: it opens the OS audio
// sources for the requested mode, converts everything to mono float32 at
// the target sample rate, and streams framed PCM on stdout. Stderr
// carries the line protocol (READY, ERROR) plus diagnostics.
//
// The process runs in its own binary so a capture-side crash or a wedged
// OS audio call can never take the host down, and so the host can
// force-kill it as a last resort without corrupting its own state.
package tap

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tapdeck/tapdeck/internal/audio"
	"github.com/tapdeck/tapdeck/internal/types"
	"github.com/tapdeck/tapdeck/internal/wire"
)

// Options configures a capture engine.
type Options struct {
	// Mode selects which sources to open.
	Mode types.CaptureMode
	// MicDevice optionally names the microphone (substring match).
	MicDevice string
	// SystemDevice optionally names the loopback device (substring match).
	SystemDevice string
	// VoiceIsolation requests the OS microphone voice-isolation mode
	// where the platform supports it.
	VoiceIsolation bool
	// Out receives the frame stream. Defaults to os.Stdout.
	Out io.Writer
	// Status receives protocol lines. Defaults to os.Stderr.
	Status io.Writer
}

// source is one started audio input. The indirection keeps the teardown
// ordering testable without real devices.
type source interface {
	Start() error
	Stop() error
	Uninit()
	Name() string
}

// deviceSource wraps a malgo capture device.
type deviceSource struct {
	label  string
	device *malgo.Device
}

func (s *deviceSource) Start() error { return s.device.Start() }
func (s *deviceSource) Stop() error  { return s.device.Stop() }
func (s *deviceSource) Uninit()      { s.device.Uninit() }
func (s *deviceSource) Name() string { return s.label }

// Engine owns the audio sources and the outgoing frame stream for one
// capture run.
type Engine struct {
	opts   Options
	status io.Writer

	out   *wire.Writer
	outMu sync.Mutex

	// accepting gates the device callbacks; inflight counts callbacks
	// already past the gate so shutdown can wait them out before
	// touching the devices.
	accepting atomic.Bool
	inflight  sync.WaitGroup

	sources []source
	cleanup func()
	fatal   chan error

	settle time.Duration

	// open prepares the sources, replaceable in tests.
	open func() error
}

// New creates an engine. Sources are opened by Run.
func New(opts Options) *Engine {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Status == nil {
		opts.Status = os.Stderr
	}
	e := &Engine{
		opts:   opts,
		status: opts.Status,
		out:    wire.NewWriter(opts.Out),
		fatal:  make(chan error, 1),
		settle: types.SettleDelay,
	}
	e.open = e.openSources
	return e
}

// Run opens the sources, reports readiness, then streams until a signal
// arrives on sig or the output breaks. It returns only after the full
// ordered teardown, including the settle delay; a nil error means the OS
// audio tap has been released cleanly.
func (e *Engine) Run(sig <-chan os.Signal) error {
	if !e.opts.Mode.Valid() {
		return fmt.Errorf("invalid capture mode %q", e.opts.Mode)
	}

	if err := e.open(); err != nil {
		return err
	}

	e.accepting.Store(true)
	for i, s := range e.sources {
		if err := s.Start(); err != nil {
			e.accepting.Store(false)
			for _, started := range e.sources[:i] {
				_ = started.Stop()
			}
			e.teardown()
			return fmt.Errorf("start %s capture: %w", s.Name(), err)
		}
		slog.Info("capture source started", "source", s.Name())
	}

	fmt.Fprintf(e.status, "READY mode=%s\n", e.opts.Mode)

	var runErr error
	select {
	case <-sig:
		slog.Info("shutdown signal received")
	case runErr = <-e.fatal:
		slog.Error("frame output failed", "error", runErr)
	}

	e.shutdown()
	return runErr
}

// openSources initializes the audio context and the devices for the
// requested mode, without starting them.
func (e *Engine) openSources() error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	e.cleanup = func() {
		_ = ctx.Uninit()
		ctx.Free()
	}

	mode := e.opts.Mode
	if mode == types.ModeMic || mode == types.ModeBoth {
		if err := e.openMicrophone(ctx); err != nil {
			e.teardown()
			return err
		}
	}
	if mode == types.ModeSystem || mode == types.ModeBoth {
		if err := e.openSystem(ctx); err != nil {
			e.teardown()
			return err
		}
	}
	return nil
}

// openMicrophone opens the mic at its native rate; the callback resamples
// to the target rate on the way out.
func (e *Engine) openMicrophone(ctx *malgo.AllocatedContext) error {
	id, err := audio.FindDevice(ctx, malgo.Capture, e.opts.MicDevice)
	if err != nil {
		return fmt.Errorf("microphone: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = 0 // device native rate
	cfg.Alsa.NoMMap = 1
	if id != nil {
		cfg.Capture.DeviceID = id.Pointer()
	}

	if e.opts.VoiceIsolation {
		noteVoiceIsolation()
	}

	// rate is written once before Start and only read by the callback.
	rate := types.TargetSampleRate
	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			e.ingest(wire.ChannelMicrophone, in, 1, rate)
		},
	})
	if err != nil {
		return fmt.Errorf("init microphone device: %w", err)
	}
	if r := dev.SampleRate(); r != 0 {
		rate = int(r)
	}
	slog.Info("microphone opened", "rate", rate)

	e.sources = append(e.sources, &deviceSource{label: "microphone", device: dev})
	return nil
}

// openSystem opens the platform's loopback source for the mixed system
// output, stereo at the target rate, down-mixed to mono in the callback.
func (e *Engine) openSystem(ctx *malgo.AllocatedContext) error {
	cfg, err := systemCaptureConfig(ctx, e.opts.SystemDevice)
	if err != nil {
		return fmt.Errorf("system capture: %w", err)
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			e.ingest(wire.ChannelSystem, in, types.SystemChannels, types.TargetSampleRate)
		},
	})
	if err != nil {
		return fmt.Errorf("init system capture device: %w", err)
	}

	e.sources = append(e.sources, &deviceSource{label: "system", device: dev})
	return nil
}

// ingest runs on the audio callback thread: gate, convert, emit. The
// inflight counter is incremented before the gate check so shutdown's
// Wait can never miss a callback that already passed the gate.
func (e *Engine) ingest(ch wire.Channel, in []byte, channels, rate int) {
	e.inflight.Add(1)
	defer e.inflight.Done()
	if !e.accepting.Load() {
		return
	}

	samples := decodePCM(in)
	if len(samples) == 0 {
		return
	}
	if channels > 1 {
		samples = audio.DownmixInterleaved(samples, channels)
	}
	if rate > 0 && rate != types.TargetSampleRate {
		samples = audio.Resample(samples, rate, types.TargetSampleRate)
	}
	e.emit(ch, samples)
}

func (e *Engine) emit(ch wire.Channel, samples []float32) {
	e.outMu.Lock()
	err := e.out.WriteFrame(ch, samples)
	e.outMu.Unlock()
	if err != nil {
		select {
		case e.fatal <- err:
		default:
		}
	}
}

// shutdown runs the ordered teardown. The order is load-bearing: new
// buffers are refused first, in-flight callbacks drain, then streams
// stop, then devices and the context are released, and finally the
// settle delay gives the OS time to reclaim the tap.
func (e *Engine) shutdown() {
	e.accepting.Store(false)
	e.inflight.Wait()

	for _, s := range e.sources {
		if err := s.Stop(); err != nil {
			slog.Warn("failed to stop capture source", "source", s.Name(), "error", err)
		}
	}
	e.teardown()

	slog.Info("capture sources released, settling")
	time.Sleep(e.settle)
}

// teardown releases devices and the context without the stream-stop and
// settle steps; used both by shutdown and by open failures.
func (e *Engine) teardown() {
	for _, s := range e.sources {
		s.Uninit()
	}
	e.sources = nil
	if e.cleanup != nil {
		e.cleanup()
		e.cleanup = nil
	}
}

// decodePCM converts little-endian float32 PCM bytes to samples. A
// trailing partial sample is dropped.
func decodePCM(in []byte) []float32 {
	n := len(in) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(in[i*4]) | uint32(in[i*4+1])<<8 | uint32(in[i*4+2])<<16 | uint32(in[i*4+3])<<24
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
