// Package main implements the capture subprocess. It opens the OS audio
// sources for the requested mode and streams framed float32 PCM on
// stdout until it receives SIGINT.
//
// Usage:
//
//	tapdeck-capture [flags] [mode]
//
// mode is one of system, mic, or both (default: system). Stderr carries
// a READY line once all sources are streaming, ERROR: lines on failure,
// and structured diagnostics otherwise.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/tapdeck/tapdeck/internal/tap"
	"github.com/tapdeck/tapdeck/internal/types"
	"github.com/tapdeck/tapdeck/internal/util"
)

func main() {
	micDevice := flag.String("mic-device", "", "Microphone device name (substring match, default: system default)")
	systemDevice := flag.String("system-device", "", "Loopback device name (substring match, default: platform pick)")
	voiceIsolation := flag.Bool("voice-isolation", false, "Request the OS voice-isolation microphone mode where supported")
	flag.Parse()

	// Stdout is the frame stream; diagnostics must stay on stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	mode := types.ModeSystem
	if flag.NArg() > 0 {
		mode = types.CaptureMode(flag.Arg(0))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)

	engine := tap.New(tap.Options{
		Mode:           mode,
		MicDevice:      *micDevice,
		SystemDevice:   *systemDevice,
		VoiceIsolation: *voiceIsolation,
	})
	if err := engine.Run(sigChan); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
