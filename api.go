package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/tapdeck/tapdeck/internal/audio"
	"github.com/tapdeck/tapdeck/internal/capture"
	"github.com/tapdeck/tapdeck/internal/types"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// apiKeyAuth returns middleware for API key authentication. The key is
// read from the X-API-Key header or, for WebSocket clients, the "key"
// query parameter.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.APIKey()
		if apiKey == "" {
			http.Error(w, "API key not configured", http.StatusServiceUnavailable)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// handleAPIStatus handles GET /api/status.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"capture": s.captureStatus(),
		"levels":  s.controller.Levels(),
		"version": s.version.Info(),
	})
}

// handleAPIDevices handles GET /api/devices. This always re-enumerates.
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	devices, err := audio.ListCaptureDevices()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices":  devices,
		"platform": runtime.GOOS,
	})
}

// handleAPICaptureStart handles POST /api/capture/start?mode=both.
func (s *Server) handleAPICaptureStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	mode := s.config.Snapshot().Capture.DefaultMode
	if m := r.URL.Query().Get("mode"); m != "" {
		mode = types.CaptureMode(m)
	}
	if !mode.Valid() {
		s.writeError(w, http.StatusBadRequest, "mode must be one of system, mic, both")
		return
	}

	if s.watchdog != nil {
		s.watchdog.NoteStart()
	}
	if err := s.controller.Start(mode); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, capture.ErrAlreadyRunning) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "capture_started",
		"capture": s.captureStatus(),
	})
}

// handleAPICaptureStop handles POST /api/capture/stop. It returns after
// the full shutdown sequence, settle delay included.
func (s *Server) handleAPICaptureStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.controller.Stop(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "capture_stopped",
		"capture": s.captureStatus(),
	})
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.controller.State(),
	})
}
