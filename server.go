package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/tapdeck/tapdeck/internal/audio"
	"github.com/tapdeck/tapdeck/internal/capture"
	"github.com/tapdeck/tapdeck/internal/config"
	"github.com/tapdeck/tapdeck/internal/server"
	"github.com/tapdeck/tapdeck/internal/types"
)

// deviceCacheTTL bounds how often device enumeration hits the OS audio
// service for the periodic status pushes. Explicit devices/get commands
// bypass the cache.
const deviceCacheTTL = 60 * time.Second

// Server is the HTTP and WebSocket control surface of the capture daemon.
type Server struct {
	config     *config.Config
	controller *capture.Controller
	watchdog   *capture.Watchdog
	commands   *server.CommandHandler
	version    *VersionChecker

	devMu      sync.Mutex
	devices    []types.Device
	devFetched time.Time
}

// NewServer returns a new Server wired to the controller and watchdog.
func NewServer(cfg *config.Config, ctrl *capture.Controller, wd *capture.Watchdog) *Server {
	return &Server{
		config:     cfg,
		controller: ctrl,
		watchdog:   wd,
		commands:   server.NewCommandHandler(cfg, ctrl, wd),
		version:    NewVersionChecker(),
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Create buffered send channel for thread-safe writes.
	// Only the writer goroutine writes to the connection, preventing race conditions.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	// Writer goroutine - sole writer to the connection
	go s.runWebSocketWriter(conn, send)

	// Reader goroutine - handles incoming commands
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop handles periodic status and level updates.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(100 * time.Millisecond)  // 10 fps for VU meters
	statusTicker := time.NewTicker(3000 * time.Millisecond) // Status updates every 3s
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	// Send initial status
	if !trySend(s.buildWSStatus()) {
		close(send)
		return
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		case <-levelsTicker.C:
			if !trySend(types.WSLevelsResponse{Type: "levels", Levels: s.controller.Levels()}) {
				close(send)
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()
	status := s.captureStatus()

	return types.WSStatusResponse{
		Type:    "status",
		Capture: status,
		Devices: s.cachedDevices(),
		Settings: types.WSSettings{
			MicDevice:    cfg.Audio.MicDevice,
			SystemDevice: cfg.Audio.SystemDevice,
			Platform:     runtime.GOOS,
		},
		Version: s.version.Info(),
	}
}

// captureStatus merges the controller snapshot with watchdog counters.
func (s *Server) captureStatus() types.CaptureStatus {
	status := s.controller.Status()
	if s.watchdog != nil {
		status.RetryCount = s.watchdog.Retries()
		status.MaxRetries = types.MaxRetries
	}
	return status
}

// cachedDevices returns the device list, re-enumerating at most once per
// cache window.
func (s *Server) cachedDevices() []types.Device {
	s.devMu.Lock()
	defer s.devMu.Unlock()

	if time.Since(s.devFetched) < deviceCacheTTL {
		return s.devices
	}

	devices, err := audio.ListCaptureDevices()
	if err != nil {
		slog.Warn("device enumeration failed", "error", err)
		return s.devices
	}
	s.devices = devices
	s.devFetched = time.Now()
	return s.devices
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// WebSocket control channel (API key via header or query parameter;
	// browsers cannot set headers on WebSocket requests).
	mux.HandleFunc("/ws", s.apiKeyAuth(s.handleWebSocket))

	// REST API (API key auth)
	mux.HandleFunc("/api/status", s.apiKeyAuth(s.handleAPIStatus))
	mux.HandleFunc("/api/devices", s.apiKeyAuth(s.handleAPIDevices))
	mux.HandleFunc("/api/capture/start", s.apiKeyAuth(s.handleAPICaptureStart))
	mux.HandleFunc("/api/capture/stop", s.apiKeyAuth(s.handleAPICaptureStop))

	// Health probe (no auth)
	mux.HandleFunc("/healthz", s.handleHealth)

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().System.Port)
	slog.Info("starting control server", "addr", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.SetupRoutes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
