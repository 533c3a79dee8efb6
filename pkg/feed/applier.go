package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Applier confirms operator decisions to the signal control endpoint.
// It implements the backend interface the action controller expects.
type Applier struct {
	// URL is the apply-recommendation endpoint (required).
	URL string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

type applyRequest struct {
	Action string `json:"action"`
}

// Apply posts the accepted recommendation. The caller decides what a
// failure means; confirmation errors here are advisory.
func (a *Applier) Apply(ctx context.Context, recommendedAction string) error {
	if a.URL == "" {
		return errors.New("feed: apply URL is required")
	}

	payload, err := json.Marshal(applyRequest{Action: recommendedAction})
	if err != nil {
		return fmt.Errorf("feed: encode apply request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("feed: create apply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := a.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("feed: apply request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("feed: apply endpoint returned status %d: %s", resp.StatusCode, excerpt)
	}

	return nil
}
