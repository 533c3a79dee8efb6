package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sigap-ai/sigapd/pkg/session"
	"github.com/sigap-ai/sigapd/pkg/storage"
	"github.com/sigap-ai/sigapd/pkg/traffic"
)

type staticSource struct {
	snap traffic.Snapshot
}

func (s *staticSource) Fetch(ctx context.Context) (traffic.Snapshot, error) {
	return s.snap, nil
}

type noopBackend struct{}

func (noopBackend) Apply(ctx context.Context, action string) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func idleSession() *session.Session {
	return session.New(session.Config{
		Intersection: "jl-sudirman",
		Source:       &staticSource{},
		Backend:      noopBackend{},
		Logger:       discardLogger(),
	})
}

// liveSession runs a session against a static reading until the first
// snapshot lands, then returns it. The loop keeps running until the test ends.
func liveSession(t *testing.T) *session.Session {
	t.Helper()

	src := &staticSource{snap: traffic.Snapshot{
		Timestamp:               "14:30:02",
		Status:                  traffic.StatusDanger,
		Volume:                  520,
		PredictedVolume:         560,
		RiskLevel:               85,
		RecommendedAction:       "Extend Green Light Duration +20s",
		CurrentGreenSeconds:     45,
		RecommendedGreenSeconds: 65,
	}}
	sess := session.New(session.Config{
		Intersection: "jl-sudirman",
		Source:       src,
		Backend:      noopBackend{},
		Interval:     5 * time.Millisecond,
		Logger:       discardLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sess.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := sess.Snapshot(); ok {
			return sess
		}
		if time.Now().After(deadline) {
			t.Fatal("session produced no snapshot")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSetupRoutes(t *testing.T) {
	mux := SetupRoutes(idleSession(), storage.NewMemoryStore(), "jl-sudirman", time.Minute, nil, discardLogger())
	if mux == nil {
		t.Fatal("SetupRoutes() returned nil")
	}
}

func TestHealthEndpoint(t *testing.T) {
	mux := SetupRoutes(idleSession(), storage.NewMemoryStore(), "jl-sudirman", time.Minute, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); body != "OK" {
		t.Errorf("body = %q, want %q", body, "OK")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := SetupRoutes(idleSession(), storage.NewMemoryStore(), "jl-sudirman", time.Minute, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Content-Type header should be set for metrics endpoint")
	}
}

func TestGetSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	snap := storage.SessionSnapshot{
		Intersection: "jl-sudirman",
		GeneratedAt:  time.Now(),
		Connectivity: "live",
		Current:      traffic.Snapshot{Timestamp: "14:30:02", Volume: 480},
		YDomainMax:   600,
	}
	if err := store.Put(context.Background(), snap); err != nil {
		t.Fatalf("Put(): %v", err)
	}

	mux := SetupRoutes(idleSession(), store, "jl-sudirman", time.Minute, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/session/current", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Sigap-Stale") != "" {
		t.Error("fresh snapshot carried the stale header")
	}

	var got storage.SessionSnapshot
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Intersection != "jl-sudirman" || got.Current.Volume != 480 {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestGetSnapshot_ExplicitIntersection(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.Put(context.Background(), storage.SessionSnapshot{
		Intersection: "jl-thamrin",
		GeneratedAt:  time.Now(),
	}); err != nil {
		t.Fatalf("Put(): %v", err)
	}

	mux := SetupRoutes(idleSession(), store, "jl-sudirman", time.Minute, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/session/current?intersection=jl-thamrin", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestGetSnapshot_NotFound(t *testing.T) {
	mux := SetupRoutes(idleSession(), storage.NewMemoryStore(), "jl-sudirman", time.Minute, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/session/current", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetSnapshot_InvalidIntersection(t *testing.T) {
	mux := SetupRoutes(idleSession(), storage.NewMemoryStore(), "jl-sudirman", time.Minute, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/session/current?intersection=bad%20name", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetSnapshot_StaleHeader(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.Put(context.Background(), storage.SessionSnapshot{
		Intersection: "jl-sudirman",
		GeneratedAt:  time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Put(): %v", err)
	}

	mux := SetupRoutes(idleSession(), store, "jl-sudirman", 4*time.Second, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/session/current", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Sigap-Stale") != "true" {
		t.Error("old snapshot missing X-Sigap-Stale header")
	}
}

func TestGetHistory_EmptySession(t *testing.T) {
	mux := SetupRoutes(idleSession(), storage.NewMemoryStore(), "jl-sudirman", time.Minute, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/session/history", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		YDomainMax int `json:"yDomainMax"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.YDomainMax != 600 {
		t.Errorf("yDomainMax = %d for empty session, want floor 600", resp.YDomainMax)
	}
}

func TestActionBeforeFirstReading(t *testing.T) {
	mux := SetupRoutes(idleSession(), storage.NewMemoryStore(), "jl-sudirman", time.Minute, nil, discardLogger())

	for _, path := range []string{"/api/action/apply", "/api/action/reject"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("POST %s status = %d before first reading, want %d", path, w.Code, http.StatusConflict)
		}
	}
}

func TestApply(t *testing.T) {
	sess := liveSession(t)
	mux := SetupRoutes(sess, storage.NewMemoryStore(), "jl-sudirman", time.Minute, nil, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/action/apply", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Alert struct {
			Dismissed bool `json:"dismissed"`
		} `json:"alert"`
		Notification *struct {
			Level string `json:"level"`
		} `json:"notification"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Alert.Dismissed {
		t.Error("alert not dismissed in apply response")
	}
	if resp.Notification == nil || resp.Notification.Level != "success" {
		t.Errorf("notification = %+v, want success level", resp.Notification)
	}
}

func TestOverride(t *testing.T) {
	sess := liveSession(t)
	mux := SetupRoutes(sess, storage.NewMemoryStore(), "jl-sudirman", time.Minute, nil, discardLogger())

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "valid duration", body: `{"durationSeconds": 70}`, wantCode: http.StatusOK},
		{name: "below range", body: `{"durationSeconds": 5}`, wantCode: http.StatusBadRequest},
		{name: "above range", body: `{"durationSeconds": 500}`, wantCode: http.StatusBadRequest},
		{name: "missing field", body: `{}`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/action/override", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestSaveOnly(t *testing.T) {
	sess := liveSession(t)
	mux := SetupRoutes(sess, storage.NewMemoryStore(), "jl-sudirman", time.Minute, nil, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/action/save", strings.NewReader(`{"durationSeconds": 80}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestDismissNotification(t *testing.T) {
	mux := SetupRoutes(idleSession(), storage.NewMemoryStore(), "jl-sudirman", time.Minute, nil, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/notification/dismiss", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNoContent)
	}
}
