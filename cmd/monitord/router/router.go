// Package router configures HTTP routes for the monitord API.
//
// The daemon exposes an HTTP server on port 8091 (configurable) serving the
// dashboard's data needs: the published session snapshot, the history and
// forecast series, operator decision endpoints, health checks, Prometheus
// metrics, and a websocket change feed.
//
// Routes configured:
//   - GET  /api/session/current?intersection=<name> - Latest published snapshot
//   - GET  /api/session/history                     - Buffered readings plus chart domain
//   - GET  /api/session/forecast                    - Projected curve plus chart domain
//   - POST /api/action/apply                        - Accept the AI recommendation
//   - POST /api/action/reject                       - Decline the AI recommendation
//   - POST /api/action/override                     - Activate a manual duration
//   - POST /api/action/save                         - Store a duration without activating
//   - POST /api/notification/dismiss                - Clear the transient notification
//   - GET  /ws                                      - Websocket change feed
//   - GET  /healthz                                 - Health check endpoint
//   - GET  /metrics                                 - Prometheus metrics endpoint
//
// Snapshots older than the stale threshold include an X-Sigap-Stale header so
// dashboards can flag a stalled monitoring loop.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"

	"github.com/sigap-ai/sigapd/cmd/monitord/ws"
	"github.com/sigap-ai/sigapd/pkg/action"
	"github.com/sigap-ai/sigapd/pkg/forecast"
	"github.com/sigap-ai/sigapd/pkg/httpx"
	"github.com/sigap-ai/sigapd/pkg/session"
	"github.com/sigap-ai/sigapd/pkg/storage"
)

var intersectionNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)

// SetupRoutes configures HTTP endpoints for monitord. intersection is the
// locally monitored intersection, used as the default for snapshot lookups.
// wsMetrics may be nil.
func SetupRoutes(sess *session.Session, store storage.Store, intersection string, staleAfter time.Duration, wsMetrics ws.Metrics, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/session/current", handleGetSnapshot(store, intersection, staleAfter, logger))
	mux.HandleFunc("GET /api/session/history", handleGetHistory(sess, logger))
	mux.HandleFunc("GET /api/session/forecast", handleGetForecast(sess, logger))

	mux.HandleFunc("POST /api/action/apply", handleApply(sess, logger))
	mux.HandleFunc("POST /api/action/reject", handleReject(sess, logger))
	mux.HandleFunc("POST /api/action/override", handleOverride(sess, logger, false))
	mux.HandleFunc("POST /api/action/save", handleOverride(sess, logger, true))
	mux.HandleFunc("POST /api/notification/dismiss", handleDismissNotification(sess))

	mux.HandleFunc("GET /ws", ws.Handler(sess, wsMetrics, logger))

	return mux
}

// handleGetSnapshot returns a handler for GET /api/session/current.
// Lookups go through the store so any replica can answer for any published
// intersection, not only the one it monitors itself.
func handleGetSnapshot(store storage.Store, defaultIntersection string, staleAfter time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intersection := r.URL.Query().Get("intersection")
		if intersection == "" {
			intersection = defaultIntersection
		}

		if !intersectionNameRegex.MatchString(intersection) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid intersection name format")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot, found, err := store.GetLatest(ctx, intersection)
		if err != nil {
			logger.Error("failed to get snapshot", "intersection", intersection, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("no session snapshot for intersection %q", intersection))
			return
		}

		if time.Since(snapshot.GeneratedAt) > staleAfter {
			w.Header().Set("X-Sigap-Stale", "true")
		}

		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleGetHistory serves the live buffer of the local session.
func handleGetHistory(sess *session.Session, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hist := sess.History()
		points := sess.Forecast()

		resp := map[string]any{
			"history":    hist,
			"yDomainMax": forecast.YDomainMax(hist, points),
		}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleGetForecast serves the latest projected curve of the local session.
func handleGetForecast(sess *session.Session, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hist := sess.History()
		points := sess.Forecast()

		resp := map[string]any{
			"forecast":   points,
			"yDomainMax": forecast.YDomainMax(hist, points),
		}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleApply(sess *session.Session, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Apply(r.Context()); err != nil {
			writeActionError(w, err, logger)
			return
		}
		writeDecision(w, sess, logger)
	}
}

func handleReject(sess *session.Session, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Reject(r.Context()); err != nil {
			writeActionError(w, err, logger)
			return
		}
		writeDecision(w, sess, logger)
	}
}

// handleOverride serves both override and save-only; the two differ only in
// whether the chosen duration is activated.
func handleOverride(sess *session.Session, logger *slog.Logger, saveOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		duration := gjson.GetBytes(body, "durationSeconds")
		if !duration.Exists() {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "durationSeconds is required")
			return
		}

		if saveOnly {
			err = sess.SaveOnly(r.Context(), int(duration.Int()))
		} else {
			err = sess.Override(r.Context(), int(duration.Int()))
		}
		if err != nil {
			writeActionError(w, err, logger)
			return
		}
		writeDecision(w, sess, logger)
	}
}

func handleDismissNotification(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess.DismissNotification()
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeDecision responds to a successful operator decision with the state
// the dashboard needs to refresh: alert, notification, and pending action.
func writeDecision(w http.ResponseWriter, sess *session.Session, logger *slog.Logger) {
	resp := map[string]any{
		"alert": sess.Alert(),
	}
	if n, ok := sess.Notification(); ok {
		resp["notification"] = n
	}

	if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
		logger.Error("failed to write JSON response", "error", err)
	}
}

func writeActionError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, action.ErrDurationOutOfRange):
		httpx.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, action.ErrApplyInFlight):
		httpx.WriteError(w, http.StatusConflict, err)
	case errors.Is(err, action.ErrNoSnapshot):
		httpx.WriteError(w, http.StatusConflict, err)
	default:
		logger.Error("operator action failed", "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
