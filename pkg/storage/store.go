package storage

import (
	"context"
	"time"

	"github.com/sigap-ai/sigapd/pkg/action"
	"github.com/sigap-ai/sigapd/pkg/alert"
	"github.com/sigap-ai/sigapd/pkg/forecast"
	"github.com/sigap-ai/sigapd/pkg/history"
	"github.com/sigap-ai/sigapd/pkg/notify"
	"github.com/sigap-ai/sigapd/pkg/traffic"
)

// SessionSnapshot is the published state of one monitoring session: the
// latest reading plus the derived views the dashboard renders. A new
// snapshot replaces the previous one on every successful poll cycle.
type SessionSnapshot struct {
	Intersection string    `json:"intersection"`
	GeneratedAt  time.Time `json:"generatedAt"`

	// Connectivity is "connecting", "live", or "degraded".
	Connectivity string `json:"connectivity"`

	Current    traffic.Snapshot `json:"current"`
	History    []history.Entry  `json:"history"`
	Forecast   []forecast.Point `json:"forecast"`
	YDomainMax int              `json:"yDomainMax"`

	// TrendPct is the recent volume trend as a percentage of the current
	// volume per reading; positive means rising traffic.
	TrendPct float64 `json:"trendPct"`

	// SavedDurationSeconds is a duration stored via save-only, 0 if none.
	SavedDurationSeconds int `json:"savedDurationSeconds,omitempty"`

	Alert        alert.State          `json:"alert"`
	Notification *notify.Notification `json:"notification,omitempty"`
	Pending      *action.Pending      `json:"pending,omitempty"`
}

type Store interface {
	Put(ctx context.Context, snapshot SessionSnapshot) error
	GetLatest(ctx context.Context, intersection string) (SessionSnapshot, bool, error)
}
