// Package feed retrieves live traffic readings from the external inference
// service and normalizes them into traffic.Snapshot values.
//
// The fetcher performs a single GET round-trip per call and holds no state;
// cadence, retries, and failure handling belong to the session's polling
// scheduler. Responses are extracted with gjson paths so the fetcher
// tolerates extra fields the service may add.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sigap-ai/sigapd/pkg/traffic"
)

// ErrDecode marks a response that arrived but could not be interpreted as a
// snapshot. The session treats it the same as a network failure (transient,
// recoverable), but metrics distinguish the two reasons.
var ErrDecode = errors.New("feed: malformed snapshot payload")

// Fetcher fetches the current traffic reading from the live endpoint.
type Fetcher struct {
	// URL is the live snapshot endpoint (required).
	URL string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

// Fetch performs one round-trip and returns the decoded snapshot.
// A cache-busting query parameter is appended on every call so intermediate
// proxies never serve a stale reading.
func (f *Fetcher) Fetch(ctx context.Context) (traffic.Snapshot, error) {
	if f.URL == "" {
		return traffic.Snapshot{}, errors.New("feed: URL is required")
	}

	u, err := url.Parse(f.URL)
	if err != nil {
		return traffic.Snapshot{}, fmt.Errorf("feed: parse URL: %w", err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(time.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return traffic.Snapshot{}, fmt.Errorf("feed: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	cli := f.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return traffic.Snapshot{}, fmt.Errorf("feed: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return traffic.Snapshot{}, fmt.Errorf("feed: http status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return traffic.Snapshot{}, fmt.Errorf("feed: read response: %w", err)
	}

	return decodeSnapshot(body)
}

// decodeSnapshot extracts a Snapshot from the live endpoint's JSON shape.
func decodeSnapshot(body []byte) (traffic.Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return traffic.Snapshot{}, fmt.Errorf("%w: not valid JSON", ErrDecode)
	}

	root := gjson.ParseBytes(body)

	ts := root.Get("timestamp")
	status := root.Get("status")
	if !ts.Exists() || !status.Exists() {
		return traffic.Snapshot{}, fmt.Errorf("%w: missing timestamp or status", ErrDecode)
	}

	snap := traffic.Snapshot{
		Timestamp:         ts.String(),
		Status:            traffic.Status(status.String()),
		Volume:            int(root.Get("current_conditions.volume").Int()),
		SpeedKmh:          root.Get("current_conditions.speed_kmh").Float(),
		PredictedVolume:   int(root.Get("prediction_15_mins.predicted_volume").Int()),
		RiskLevel:         int(root.Get("prediction_15_mins.risk_level").Int()),
		RecommendedAction: root.Get("prediction_15_mins.recommended_action").String(),

		CurrentGreenSeconds:     int(root.Get("current_green_duration").Int()),
		RecommendedGreenSeconds: int(root.Get("recommended_green_duration").Int()),

		QueueLength:      int(root.Get("queue_length").Int()),
		WaitTimeMins:     int(root.Get("wait_time_mins").Int()),
		AvgSpeedKmh:      root.Get("avg_speed_kmh").Float(),
		Accidents:        int(root.Get("accidents").Int()),
		SystemConfidence: int(root.Get("system_confidence").Int()),
		PeakForecast:     root.Get("peak_forecast").String(),
		Weather: traffic.Weather{
			TempCelsius: int(root.Get("weather.temp").Int()),
			Condition:   root.Get("weather.condition").String(),
		},
	}

	if err := snap.Validate(); err != nil {
		return traffic.Snapshot{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return snap, nil
}
