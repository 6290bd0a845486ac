// Package main provides the capture daemon: it supervises the audio
// capture subprocess, meters the decoded frame stream, and exposes a
// WebSocket/REST control surface.
//
// Usage:
//
//	tapdeck [-config path/to/config.json]
//
// If -config is not specified, the daemon looks for config.json in the
// same directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/tapdeck/tapdeck/internal/capture"
	"github.com/tapdeck/tapdeck/internal/config"
	"github.com/tapdeck/tapdeck/internal/notify"
	"github.com/tapdeck/tapdeck/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Check capture binary availability
	binary := util.ResolveCaptureBinary(cfg.Snapshot().System.CaptureBinary, config.DefaultCaptureName)
	if binary == "" {
		slog.Warn("capture binary not found - sessions cannot be started",
			"configured_path", cfg.Snapshot().System.CaptureBinary)
	} else {
		slog.Info("capture binary found", "path", binary)
	}

	ctrl := capture.New(cfg, binary)
	wd := capture.NewWatchdog(ctrl)
	wd.SetEnabled(cfg.Snapshot().Capture.AutoRestart)

	// Session-end fanout: notify on unexpected death, then let the
	// watchdog decide about a restart.
	ctrl.SetOnStopped(func(died bool) {
		if died {
			snapshot := cfg.Snapshot()
			mode := ctrl.Status().Mode
			lastErr := ctrl.Status().LastError
			go util.LogNotifyResult(func() error {
				return notify.SendCaptureDied(snapshot.Notifications.WebhookURL, mode, lastErr)
			}, "webhook")
		}
		wd.HandleStopped(died)
	})

	// Drain the delivery queue; meters are fed upstream and no other
	// consumer is attached yet.
	go func() {
		for range ctrl.Frames() {
		}
	}()

	srv := NewServer(cfg, ctrl, wd)
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	// Stop version checker goroutine
	srv.version.Stop()

	// Shut down HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := ctrl.Stop(); err != nil {
		slog.Error("error stopping capture", "error", err)
	}

	slog.Info("shutdown complete")
}
