package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapdeck/tapdeck/internal/types"
)

func TestSendCaptureStarted(t *testing.T) {
	var received WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, SendCaptureStarted(srv.URL, types.ModeBoth))
	assert.Equal(t, "capture_started", received.Event)
	assert.Equal(t, types.ModeBoth, received.Mode)
	assert.NotEmpty(t, received.Timestamp)
}

func TestSendCaptureDiedCarriesMessage(t *testing.T) {
	var received WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
	}))
	defer srv.Close()

	require.NoError(t, SendCaptureDied(srv.URL, types.ModeSystem, "exit status 1"))
	assert.Equal(t, "capture_died", received.Event)
	assert.Equal(t, "exit status 1", received.Message)
}

func TestSendWebhookSkipsWhenUnconfigured(t *testing.T) {
	require.NoError(t, SendCaptureStopped("", types.ModeMic))
}

func TestSendWebhookRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := SendCaptureStopped(srv.URL, types.ModeMic)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestSendTestWebhookRequiresURL(t *testing.T) {
	require.Error(t, SendTestWebhook(""))
}
