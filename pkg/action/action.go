// Package action implements the operator decision flow for a signal-timing
// recommendation: applying it, rejecting it, or overriding the green
// duration manually.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sigap-ai/sigapd/pkg/notify"
	"github.com/sigap-ai/sigapd/pkg/traffic"
)

// Valid manual-override bounds, in seconds of green time.
const (
	MinOverrideSeconds = 10
	MaxOverrideSeconds = 120
)

var (
	// ErrApplyInFlight is returned when an Apply is invoked while a prior
	// Apply has not completed. Only one Apply may be in flight at a time;
	// Reject and Override are not gated.
	ErrApplyInFlight = errors.New("action: apply already in flight")

	// ErrDurationOutOfRange is returned for override durations outside the
	// valid bounds. Out-of-range input is rejected, never silently clamped.
	ErrDurationOutOfRange = fmt.Errorf("action: override duration must be %d-%d seconds", MinOverrideSeconds, MaxOverrideSeconds)

	// ErrNoSnapshot is returned when an operation needs a current reading
	// and none has arrived yet.
	ErrNoSnapshot = errors.New("action: no current snapshot")
)

// Kind identifies the operator decision.
type Kind string

const (
	KindApply    Kind = "apply"
	KindReject   Kind = "reject"
	KindOverride Kind = "override"
	KindSaveOnly Kind = "save-only"
)

// Pending describes the in-flight or last-issued operator decision.
type Pending struct {
	Kind            Kind      `json:"kind"`
	DeltaSeconds    int       `json:"deltaSeconds"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
	IssuedAt        time.Time `json:"issuedAt"`
}

// Backend pushes an accepted recommendation to the signal-timing system.
type Backend interface {
	Apply(ctx context.Context, recommendedAction string) error
}

// Controller owns the operator decision state for one session.
// Safe for concurrent use.
type Controller struct {
	backend  Backend
	notifier *notify.Center
	dismiss  func()
	logger   *slog.Logger

	mu       sync.Mutex
	applying bool
	pending  *Pending
	saved    int // duration stored via SaveOnly; 0 means none
}

// NewController creates a controller. dismiss is invoked whenever an
// operation dismisses the active alert; the session wires it to its alert
// machine.
func NewController(backend Backend, notifier *notify.Center, dismiss func(), logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if dismiss == nil {
		dismiss = func() {}
	}
	return &Controller{
		backend:  backend,
		notifier: notifier,
		dismiss:  dismiss,
		logger:   logger,
	}
}

// Apply accepts the AI recommendation carried by snap and pushes it to the
// signal backend.
//
// The operation is fail-open: the operator's decision is confirmed whether
// or not the backend call succeeds, because the physical signal controller
// is the source of truth and a transient confirmation failure must not be
// surfaced as a failed decision. Backend errors are logged for diagnostics
// only. Do not "fix" this into a failure path without a product decision.
func (c *Controller) Apply(ctx context.Context, snap traffic.Snapshot) error {
	if snap.Timestamp == "" {
		return ErrNoSnapshot
	}

	c.mu.Lock()
	if c.applying {
		c.mu.Unlock()
		return ErrApplyInFlight
	}
	c.applying = true
	c.mu.Unlock()

	delta := snap.GreenDelta()

	if err := c.backend.Apply(ctx, snap.RecommendedAction); err != nil {
		c.logger.Warn("apply confirmation failed, keeping optimistic state",
			"action", snap.RecommendedAction,
			"error", err,
		)
	}

	c.mu.Lock()
	c.applying = false
	c.pending = &Pending{
		Kind:            KindApply,
		DeltaSeconds:    delta,
		DurationSeconds: snap.RecommendedGreenSeconds,
		IssuedAt:        time.Now(),
	}
	c.mu.Unlock()

	c.dismiss()
	c.notifier.Post(fmt.Sprintf(
		"AI adjustment applied: green light %+ds (%ds to %ds), signal updated",
		delta, snap.CurrentGreenSeconds, snap.RecommendedGreenSeconds,
	), notify.LevelSuccess)

	return nil
}

// Reject dismisses the recommendation without contacting the backend. The
// current signal timing is retained.
func (c *Controller) Reject(snap traffic.Snapshot) error {
	if snap.Timestamp == "" {
		return ErrNoSnapshot
	}

	c.mu.Lock()
	c.pending = &Pending{
		Kind:            KindReject,
		DurationSeconds: snap.CurrentGreenSeconds,
		IssuedAt:        time.Now(),
	}
	c.mu.Unlock()

	c.dismiss()
	c.notifier.Post(fmt.Sprintf(
		"AI recommendation rejected, maintaining current signal timing at %ds",
		snap.CurrentGreenSeconds,
	), notify.LevelWarning)

	return nil
}

// Override activates a manually chosen green duration. The duration must be
// within the valid bounds.
func (c *Controller) Override(snap traffic.Snapshot, duration int) error {
	if snap.Timestamp == "" {
		return ErrNoSnapshot
	}
	if duration < MinOverrideSeconds || duration > MaxOverrideSeconds {
		return ErrDurationOutOfRange
	}

	delta := duration - snap.CurrentGreenSeconds

	c.mu.Lock()
	c.pending = &Pending{
		Kind:            KindOverride,
		DeltaSeconds:    delta,
		DurationSeconds: duration,
		IssuedAt:        time.Now(),
	}
	c.saved = 0
	c.mu.Unlock()

	c.dismiss()
	c.notifier.Post(fmt.Sprintf(
		"Manual override activated: green light set to %ds (%+ds), applied immediately",
		duration, delta,
	), notify.LevelSuccess)

	return nil
}

// SaveOnly stores a chosen duration without activating it and without
// dismissing the alert; the session stays in its prior dismissal state.
func (c *Controller) SaveOnly(duration int) error {
	if duration < MinOverrideSeconds || duration > MaxOverrideSeconds {
		return ErrDurationOutOfRange
	}

	c.mu.Lock()
	c.saved = duration
	c.pending = &Pending{
		Kind:            KindSaveOnly,
		DurationSeconds: duration,
		IssuedAt:        time.Now(),
	}
	c.mu.Unlock()

	c.notifier.Post(fmt.Sprintf(
		"Adjustment saved: %ds stored but not activated",
		duration,
	), notify.LevelInfo)

	return nil
}

// Pending returns the last-issued decision, if any.
func (c *Controller) Pending() (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Pending{}, false
	}
	return *c.pending, true
}

// SavedDuration returns a duration stored via SaveOnly that has not been
// activated yet.
func (c *Controller) SavedDuration() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved, c.saved != 0
}
