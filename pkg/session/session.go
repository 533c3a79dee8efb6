// Package session implements the live monitoring loop for one intersection.
//
// A Session polls the inference feed at a fixed interval, folds each reading
// into the bounded history buffer, reprojects the forecast curve, drives the
// alert state machine, and publishes the combined state as a snapshot. Each
// poll runs in its own goroutine so a slow feed never blocks the schedule;
// completions are sequence-tagged and late results that arrive after a newer
// reading has landed are dropped.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sigap-ai/sigapd/pkg/action"
	"github.com/sigap-ai/sigapd/pkg/alert"
	"github.com/sigap-ai/sigapd/pkg/feed"
	"github.com/sigap-ai/sigapd/pkg/forecast"
	"github.com/sigap-ai/sigapd/pkg/history"
	"github.com/sigap-ai/sigapd/pkg/notify"
	"github.com/sigap-ai/sigapd/pkg/storage"
	"github.com/sigap-ai/sigapd/pkg/traffic"
)

// DefaultInterval is the poll cadence of a live session.
const DefaultInterval = 2 * time.Second

// degradedAfter is the number of consecutive fetch failures before the
// session reports degraded connectivity. Data already on screen stays.
const degradedAfter = 3

// trendWindow is how many recent readings feed the volume trend estimate.
const trendWindow = 30

// Connectivity describes the feed link as the dashboard should present it.
type Connectivity string

const (
	Connecting Connectivity = "connecting"
	Live       Connectivity = "live"
	Degraded   Connectivity = "degraded"
)

// Source produces one traffic reading per call.
// *feed.Fetcher is the production implementation.
type Source interface {
	Fetch(ctx context.Context) (traffic.Snapshot, error)
}

// Metrics receives instrumentation callbacks from the session loop.
// All methods must be safe for concurrent use. A nil Metrics is allowed.
type Metrics interface {
	ObserveFetch(outcome string, duration time.Duration)
	RecordStaleDrop()
	RecordAction(kind string)
	SetConnectivity(state string)
	ObserveReading(snap traffic.Snapshot)
	SetAlertActive(active bool)
}

// EventKind names a slice of session state that changed.
type EventKind string

const (
	EventHistory      EventKind = "history"
	EventForecast     EventKind = "forecast"
	EventAlert        EventKind = "alert"
	EventNotification EventKind = "notification"
	EventConnectivity EventKind = "connectivity"
)

// Event is a change signal pushed to subscribers. It carries no payload;
// subscribers re-read the session state they care about.
type Event struct {
	Kind EventKind `json:"kind"`
}

// Config assembles a Session.
type Config struct {
	Intersection string
	Source       Source
	Backend      action.Backend
	Store        storage.Store // optional snapshot publication
	Interval     time.Duration
	NotifyTTL    time.Duration
	Logger       *slog.Logger
	Metrics      Metrics
	Noise        forecast.Noise // optional, tests inject a deterministic one
}

// Session owns all mutable monitoring state for one intersection.
// Safe for concurrent use.
type Session struct {
	intersection string
	source       Source
	interval     time.Duration
	projector    *forecast.Projector
	notifier     *notify.Center
	controller   *action.Controller
	store        storage.Store
	logger       *slog.Logger
	metrics      Metrics

	mu           sync.Mutex
	buffer       *history.Buffer
	alerts       *alert.Machine
	current      traffic.Snapshot
	hasCurrent   bool
	points       []forecast.Point
	connectivity Connectivity
	failures     int
	nextSeq      uint64
	lastSeq      uint64
	started      bool
	stopped      bool

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// New creates a Session from cfg. cfg.Intersection and cfg.Source are
// required; everything else has a usable default.
func New(cfg Config) *Session {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.NotifyTTL <= 0 {
		cfg.NotifyTTL = notify.DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		intersection: cfg.Intersection,
		source:       cfg.Source,
		interval:     cfg.Interval,
		projector:    forecast.NewProjector(cfg.Noise),
		store:        cfg.Store,
		logger:       cfg.Logger.With("intersection", cfg.Intersection),
		metrics:      cfg.Metrics,
		buffer:       history.New(),
		alerts:       alert.NewMachine(),
		connectivity: Connecting,
		subs:         make(map[chan Event]struct{}),
	}

	s.notifier = notify.NewCenter(cfg.NotifyTTL, func(*notify.Notification) {
		s.emit(EventNotification)
	})
	s.controller = action.NewController(cfg.Backend, s.notifier, s.dismissAlert, s.logger)

	return s
}

// Run executes the poll loop until ctx is canceled. The first poll fires
// immediately; later polls follow the configured interval. Blocks.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.logger.Info("starting monitoring session", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			s.logger.Info("monitoring session stopped")
			return ctx.Err()
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll launches one fetch cycle in its own goroutine. The sequence number
// taken here decides later whether the completion is still fresh.
func (s *Session) poll(ctx context.Context) {
	s.mu.Lock()
	s.nextSeq++
	seq := s.nextSeq
	s.mu.Unlock()

	go func() {
		start := time.Now()
		snap, err := s.source.Fetch(ctx)
		s.complete(ctx, seq, snap, err, time.Since(start))
	}()
}

// complete folds one finished fetch into the session state. Completions can
// arrive in any order; a reading is dropped only when a newer one has
// already been applied. Failures do not advance the applied sequence, so a
// slow success issued before a failed poll still lands.
func (s *Session) complete(ctx context.Context, seq uint64, snap traffic.Snapshot, fetchErr error, elapsed time.Duration) {
	s.mu.Lock()

	if s.stopped || seq <= s.lastSeq {
		s.mu.Unlock()
		s.logger.Debug("dropping stale fetch completion", "seq", seq, "latest", s.lastSeq)
		if s.metrics != nil {
			s.metrics.RecordStaleDrop()
		}
		return
	}

	if fetchErr != nil {
		s.failures++
		degraded := s.failures >= degradedAfter && s.connectivity != Degraded
		if degraded {
			s.connectivity = Degraded
		}
		s.mu.Unlock()

		s.logger.Warn("fetch failed", "seq", seq, "consecutive", s.failures, "error", fetchErr)
		if s.metrics != nil {
			outcome := "network_error"
			if errors.Is(fetchErr, feed.ErrDecode) {
				outcome = "decode_error"
			}
			s.metrics.ObserveFetch(outcome, elapsed)
			if degraded {
				s.metrics.SetConnectivity(string(Degraded))
			}
		}
		if degraded {
			s.emit(EventConnectivity)
		}
		return
	}

	s.lastSeq = seq
	s.failures = 0
	reconnected := s.connectivity != Live
	s.connectivity = Live
	s.current = snap
	s.hasCurrent = true

	prevAlert := s.alerts.State()
	appended := s.buffer.Append(snap)
	rearmed := s.alerts.Observe(snap.Status)
	if appended {
		points, err := s.projector.Project(s.buffer)
		if err != nil {
			s.logger.Warn("forecast projection failed", "error", err)
		} else {
			s.points = points
		}
	}
	alertChanged := s.alerts.State() != prevAlert
	alertActive := s.alerts.State().Active()

	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveFetch("success", elapsed)
		s.metrics.ObserveReading(snap)
		s.metrics.SetAlertActive(alertActive)
		if reconnected {
			s.metrics.SetConnectivity(string(Live))
		}
	}
	if rearmed {
		s.logger.Info("alert re-armed", "status", snap.Status)
	}

	if reconnected {
		s.emit(EventConnectivity)
	}
	if appended {
		s.emit(EventHistory)
		s.emit(EventForecast)
	}
	if alertChanged {
		s.emit(EventAlert)
	}

	s.publish(ctx)
}

// dismissAlert is handed to the action controller; operator decisions that
// dismiss the active alert land here.
func (s *Session) dismissAlert() {
	s.mu.Lock()
	s.alerts.Dismiss()
	s.mu.Unlock()
	s.emit(EventAlert)
}

// publish pushes the current state to the configured store, if any.
func (s *Session) publish(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Put(ctx, s.Export()); err != nil {
		s.logger.Warn("snapshot publish failed", "error", err)
	}
}

// Apply accepts the current recommendation and confirms it to the signal
// backend. Returns action.ErrNoSnapshot before the first reading and
// action.ErrApplyInFlight while a prior Apply is still pending.
func (s *Session) Apply(ctx context.Context) error {
	snap, ok := s.Snapshot()
	if !ok {
		return action.ErrNoSnapshot
	}
	if err := s.controller.Apply(ctx, snap); err != nil {
		return err
	}
	s.recordAction("apply")
	s.publish(ctx)
	return nil
}

// Reject declines the current recommendation, keeping the signal timing.
func (s *Session) Reject(ctx context.Context) error {
	snap, ok := s.Snapshot()
	if !ok {
		return action.ErrNoSnapshot
	}
	if err := s.controller.Reject(snap); err != nil {
		return err
	}
	s.recordAction("reject")
	s.publish(ctx)
	return nil
}

// Override activates a manually chosen green duration.
func (s *Session) Override(ctx context.Context, duration int) error {
	snap, ok := s.Snapshot()
	if !ok {
		return action.ErrNoSnapshot
	}
	if err := s.controller.Override(snap, duration); err != nil {
		return err
	}
	s.recordAction("override")
	s.publish(ctx)
	return nil
}

// SaveOnly stores a duration without activating it.
func (s *Session) SaveOnly(ctx context.Context, duration int) error {
	if err := s.controller.SaveOnly(duration); err != nil {
		return err
	}
	s.recordAction("save")
	s.publish(ctx)
	return nil
}

// recordAction counts a completed operator decision.
func (s *Session) recordAction(kind string) {
	if s.metrics != nil {
		s.metrics.RecordAction(kind)
	}
}

// DismissNotification clears the transient notification immediately.
func (s *Session) DismissNotification() {
	s.notifier.Dismiss()
}

// Snapshot returns the latest reading. ok is false before the first
// successful fetch.
func (s *Session) Snapshot() (traffic.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasCurrent
}

// History returns a copy of the buffered readings, oldest first.
func (s *Session) History() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Snapshot()
}

// Forecast returns a copy of the latest projected curve.
func (s *Session) Forecast() []forecast.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.points == nil {
		return nil
	}
	out := make([]forecast.Point, len(s.points))
	copy(out, s.points)
	return out
}

// Alert returns the current alert state.
func (s *Session) Alert() alert.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts.State()
}

// Connectivity reports the feed link state.
func (s *Session) Connectivity() Connectivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectivity
}

// Notification returns the active transient notification, if any.
func (s *Session) Notification() (notify.Notification, bool) {
	return s.notifier.Current()
}

// Export assembles the full published state of the session.
func (s *Session) Export() storage.SessionSnapshot {
	s.mu.Lock()
	hist := s.buffer.Snapshot()
	var points []forecast.Point
	if s.points != nil {
		points = make([]forecast.Point, len(s.points))
		copy(points, s.points)
	}
	out := storage.SessionSnapshot{
		Intersection: s.intersection,
		GeneratedAt:  time.Now(),
		Connectivity: string(s.connectivity),
		Current:      s.current,
		History:      hist,
		Forecast:     points,
		YDomainMax:   forecast.YDomainMax(hist, points),
		Alert:        s.alerts.State(),
	}
	if slope, ok := s.buffer.Trend(trendWindow); ok && s.current.Volume > 0 {
		out.TrendPct = slope / float64(s.current.Volume) * 100
	}
	s.mu.Unlock()

	if saved, ok := s.controller.SavedDuration(); ok {
		out.SavedDurationSeconds = saved
	}

	if n, ok := s.notifier.Current(); ok {
		out.Notification = &n
	}
	if p, ok := s.controller.Pending(); ok {
		out.Pending = &p
	}
	return out
}

// Subscribe registers a change listener. The returned cancel function must
// be called to release it. Events are dropped rather than block the loop
// when a subscriber falls behind.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Session) emit(kind EventKind) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- Event{Kind: kind}:
		default:
		}
	}
}
