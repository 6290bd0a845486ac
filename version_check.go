package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tapdeck/tapdeck/internal/types"
	"github.com/tapdeck/tapdeck/internal/util"
	"golang.org/x/mod/semver"
)

const (
	githubRepo           = "tapdeck/tapdeck"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30 * time.Second // keep startup unblocked
	versionCheckTimeout  = 30 * time.Second
	versionMaxAttempts   = 3
)

// VersionChecker polls GitHub releases and reports update availability.
// It is safe for concurrent use.
type VersionChecker struct {
	mu     sync.RWMutex
	latest string
	etag   string // conditional requests, 304 means nothing changed
	stopCh chan struct{}
}

// NewVersionChecker starts the background release poll and returns the checker.
func NewVersionChecker() *VersionChecker {
	vc := &VersionChecker{stopCh: make(chan struct{})}
	go vc.run()
	return vc
}

// Stop terminates the background poll.
func (vc *VersionChecker) Stop() {
	close(vc.stopCh)
}

func (vc *VersionChecker) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	if !vc.sleep(versionCheckDelay) {
		return
	}
	vc.checkWithRetry()

	ticker := time.NewTicker(versionCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			vc.checkWithRetry()
		case <-vc.stopCh:
			return
		}
	}
}

// sleep waits for d and reports false when the checker was stopped meanwhile.
func (vc *VersionChecker) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-vc.stopCh:
		return false
	}
}

func (vc *VersionChecker) checkWithRetry() {
	backoff := util.NewBackoff(time.Minute, 10*time.Minute)
	for attempt := 1; ; attempt++ {
		if vc.check() || attempt == versionMaxAttempts {
			return
		}
		if !vc.sleep(backoff.Next()) {
			return
		}
	}
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check queries the latest release once and reports whether the attempt is
// settled (either it succeeded or retrying cannot help).
func (vc *VersionChecker) check() bool {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		versionCheckTimeout,
		errors.New("github API request timeout"),
	)
	defer cancel()

	url := "https://api.github.com/repos/" + githubRepo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "tapdeck/"+Version)

	vc.mu.RLock()
	etag := vc.etag
	vc.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return true
	case resp.StatusCode == http.StatusNotFound:
		// no releases published yet
		return true
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		// rate limited
		return false
	case resp.StatusCode >= 500:
		return false
	case resp.StatusCode != http.StatusOK:
		return true
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return false
	}
	if release.Draft || release.Prerelease {
		return true
	}
	if release.TagName == "" {
		return false
	}

	vc.mu.Lock()
	vc.latest = strings.TrimPrefix(release.TagName, "v")
	if newEtag := resp.Header.Get("ETag"); newEtag != "" {
		vc.etag = newEtag
	}
	vc.mu.Unlock()
	return true
}

// Info returns the current version info for clients.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	current := strings.TrimPrefix(Version, "v")
	info := types.VersionInfo{
		Current:   current,
		Latest:    vc.latest,
		Commit:    Commit,
		BuildTime: util.FormatHumanTime(BuildTime),
	}
	if vc.latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = semver.Compare("v"+vc.latest, "v"+current) > 0
	}
	return info
}
