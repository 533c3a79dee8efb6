package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sigap-ai/sigapd/pkg/action"
	"github.com/sigap-ai/sigapd/pkg/feed"
	"github.com/sigap-ai/sigapd/pkg/notify"
	"github.com/sigap-ai/sigapd/pkg/storage"
	"github.com/sigap-ai/sigapd/pkg/traffic"
)

// scriptedSource returns snapshots from a queue, signaling each fetch.
type scriptedSource struct {
	mu      sync.Mutex
	queue   []traffic.Snapshot
	err     error
	fetched chan struct{}
}

func (s *scriptedSource) Fetch(ctx context.Context) (traffic.Snapshot, error) {
	s.mu.Lock()
	var snap traffic.Snapshot
	if len(s.queue) > 0 {
		snap = s.queue[0]
		if len(s.queue) > 1 {
			s.queue = s.queue[1:]
		}
	}
	err := s.err
	s.mu.Unlock()

	if s.fetched != nil {
		select {
		case s.fetched <- struct{}{}:
		default:
		}
	}
	return snap, err
}

type fakeMetrics struct {
	mu         sync.Mutex
	fetches    map[string]int
	actions    map[string]int
	staleDrops int
	states     []string
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		fetches: make(map[string]int),
		actions: make(map[string]int),
	}
}

func (m *fakeMetrics) ObserveFetch(outcome string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[outcome]++
}

func (m *fakeMetrics) RecordStaleDrop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleDrops++
}

func (m *fakeMetrics) RecordAction(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[kind]++
}

func (m *fakeMetrics) SetConnectivity(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}

func (m *fakeMetrics) ObserveReading(traffic.Snapshot) {}
func (m *fakeMetrics) SetAlertActive(bool)             {}

type noopBackend struct{ err error }

func (b *noopBackend) Apply(ctx context.Context, action string) error { return b.err }

type zeroNoise struct{}

func (zeroNoise) NextJitter() float64 { return 0 }

func reading(ts string, volume int, status traffic.Status) traffic.Snapshot {
	return traffic.Snapshot{
		Timestamp:               ts,
		Status:                  status,
		Volume:                  volume,
		PredictedVolume:         volume + 40,
		RiskLevel:               50,
		RecommendedAction:       "Extend Green Light Duration +20s",
		CurrentGreenSeconds:     45,
		RecommendedGreenSeconds: 65,
	}
}

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.Intersection == "" {
		cfg.Intersection = "jl-sudirman"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Noise == nil {
		cfg.Noise = zeroNoise{}
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour // tests drive completions directly
	}
	return New(cfg)
}

func TestSession_Run_FirstPollImmediate(t *testing.T) {
	src := &scriptedSource{
		queue:   []traffic.Snapshot{reading("14:30:00", 400, traffic.StatusNormal)},
		fetched: make(chan struct{}, 1),
	}
	s := newTestSession(t, Config{Source: src})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-src.fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("first poll did not fire immediately")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func TestSession_Complete_AppendsAndProjects(t *testing.T) {
	s := newTestSession(t, Config{Source: &scriptedSource{}})

	s.complete(context.Background(), 1, reading("14:30:00", 400, traffic.StatusNormal), nil, time.Millisecond)
	s.complete(context.Background(), 2, reading("14:30:02", 440, traffic.StatusNormal), nil, time.Millisecond)

	hist := s.History()
	if len(hist) != 2 {
		t.Fatalf("len(History()) = %d, want 2", len(hist))
	}
	if hist[1].Volume != 440 {
		t.Errorf("History()[1].Volume = %d, want 440", hist[1].Volume)
	}

	points := s.Forecast()
	if len(points) != 8 {
		t.Fatalf("len(Forecast()) = %d, want 8", len(points))
	}
	// Zero noise: the final point reaches the reading's predicted volume.
	if points[7].Predicted != 480 {
		t.Errorf("Forecast()[7].Predicted = %d, want 480", points[7].Predicted)
	}

	if got := s.Connectivity(); got != Live {
		t.Errorf("Connectivity() = %q, want %q", got, Live)
	}
}

func TestSession_Complete_DuplicateTimestampIgnored(t *testing.T) {
	s := newTestSession(t, Config{Source: &scriptedSource{}})

	s.complete(context.Background(), 1, reading("14:30:00", 400, traffic.StatusNormal), nil, time.Millisecond)
	s.complete(context.Background(), 2, reading("14:30:00", 999, traffic.StatusNormal), nil, time.Millisecond)

	hist := s.History()
	if len(hist) != 1 {
		t.Fatalf("len(History()) = %d after duplicate timestamp, want 1", len(hist))
	}
	if hist[0].Volume != 400 {
		t.Errorf("History()[0].Volume = %d, want the first reading's 400", hist[0].Volume)
	}
}

func TestSession_Complete_StaleCompletionDropped(t *testing.T) {
	metrics := newFakeMetrics()
	s := newTestSession(t, Config{Source: &scriptedSource{}, Metrics: metrics})

	s.complete(context.Background(), 1, reading("14:30:00", 400, traffic.StatusNormal), nil, time.Millisecond)
	s.complete(context.Background(), 3, reading("14:30:04", 480, traffic.StatusNormal), nil, time.Millisecond)
	// Sequence 2 finishes after 3 already landed; it must be discarded.
	s.complete(context.Background(), 2, reading("14:30:02", 440, traffic.StatusNormal), nil, time.Millisecond)

	snap, ok := s.Snapshot()
	if !ok || snap.Volume != 480 {
		t.Errorf("Snapshot() = %+v, %v; want the seq-3 reading", snap, ok)
	}
	hist := s.History()
	if len(hist) != 2 {
		t.Fatalf("len(History()) = %d, want 2 (stale reading excluded)", len(hist))
	}
	if hist[0].Time != "14:30:00" || hist[1].Time != "14:30:04" {
		t.Errorf("History times = %q, %q; want 14:30:00, 14:30:04", hist[0].Time, hist[1].Time)
	}
	if metrics.staleDrops != 1 {
		t.Errorf("stale drops = %d, want 1", metrics.staleDrops)
	}
}

func TestSession_Complete_DegradedAfterConsecutiveFailures(t *testing.T) {
	metrics := newFakeMetrics()
	s := newTestSession(t, Config{Source: &scriptedSource{}, Metrics: metrics})

	s.complete(context.Background(), 1, reading("14:30:00", 400, traffic.StatusNormal), nil, time.Millisecond)

	failure := errors.New("connection refused")
	s.complete(context.Background(), 2, traffic.Snapshot{}, failure, time.Millisecond)
	s.complete(context.Background(), 3, traffic.Snapshot{}, failure, time.Millisecond)
	if got := s.Connectivity(); got != Live {
		t.Fatalf("Connectivity() = %q after 2 failures, want still %q", got, Live)
	}

	s.complete(context.Background(), 4, traffic.Snapshot{}, failure, time.Millisecond)
	if got := s.Connectivity(); got != Degraded {
		t.Fatalf("Connectivity() = %q after 3 failures, want %q", got, Degraded)
	}

	// Stale data stays on screen while degraded.
	if len(s.History()) != 1 {
		t.Errorf("history was cleared while degraded")
	}

	// One success recovers the link.
	s.complete(context.Background(), 5, reading("14:30:08", 420, traffic.StatusNormal), nil, time.Millisecond)
	if got := s.Connectivity(); got != Live {
		t.Errorf("Connectivity() = %q after recovery, want %q", got, Live)
	}
	if metrics.fetches["network_error"] != 3 || metrics.fetches["success"] != 2 {
		t.Errorf("fetch outcomes = %v, want 3 network errors and 2 successes", metrics.fetches)
	}
}

func TestSession_Complete_FetchErrorOutcomeByReason(t *testing.T) {
	metrics := newFakeMetrics()
	s := newTestSession(t, Config{Source: &scriptedSource{}, Metrics: metrics})

	s.complete(context.Background(), 1, traffic.Snapshot{}, errors.New("connection refused"), time.Millisecond)
	s.complete(context.Background(), 2, traffic.Snapshot{},
		fmt.Errorf("parse live feed: %w", feed.ErrDecode), time.Millisecond)

	if metrics.fetches["network_error"] != 1 {
		t.Errorf("network_error count = %d, want 1 (%v)", metrics.fetches["network_error"], metrics.fetches)
	}
	if metrics.fetches["decode_error"] != 1 {
		t.Errorf("decode_error count = %d, want 1 (%v)", metrics.fetches["decode_error"], metrics.fetches)
	}
}

func TestSession_Complete_SlowSuccessAfterFailureApplied(t *testing.T) {
	metrics := newFakeMetrics()
	s := newTestSession(t, Config{Source: &scriptedSource{}, Metrics: metrics})

	// The seq-2 poll fails fast; the seq-1 fetch is still in flight and its
	// reading must land because no newer reading has been applied.
	s.complete(context.Background(), 2, traffic.Snapshot{}, errors.New("connection refused"), time.Millisecond)
	s.complete(context.Background(), 1, reading("14:30:00", 400, traffic.StatusNormal), nil, time.Millisecond)

	snap, ok := s.Snapshot()
	if !ok || snap.Volume != 400 {
		t.Fatalf("Snapshot() = %+v, %v; want the seq-1 reading", snap, ok)
	}
	if got := s.Connectivity(); got != Live {
		t.Errorf("Connectivity() = %q, want %q", got, Live)
	}
	if metrics.staleDrops != 0 {
		t.Errorf("stale drops = %d, want 0", metrics.staleDrops)
	}

	// But a failure older than the applied reading is stale.
	s.complete(context.Background(), 3, reading("14:30:02", 440, traffic.StatusNormal), nil, time.Millisecond)
	s.complete(context.Background(), 2, traffic.Snapshot{}, errors.New("connection refused"), time.Millisecond)
	if metrics.staleDrops != 1 {
		t.Errorf("stale drops = %d after pre-reading failure, want 1", metrics.staleDrops)
	}
}

func TestSession_ActionsRecorded(t *testing.T) {
	metrics := newFakeMetrics()
	s := newTestSession(t, Config{Source: &scriptedSource{}, Backend: &noopBackend{}, Metrics: metrics})
	ctx := context.Background()

	s.complete(ctx, 1, reading("14:30:00", 400, traffic.StatusNormal), nil, time.Millisecond)

	if err := s.Apply(ctx); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := s.Reject(ctx); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if err := s.Override(ctx, 60); err != nil {
		t.Fatalf("Override() error = %v", err)
	}
	if err := s.SaveOnly(ctx, 75); err != nil {
		t.Fatalf("SaveOnly(75) error = %v", err)
	}
	// A rejected duration must not count.
	if err := s.Override(ctx, 5); err == nil {
		t.Fatal("Override(5) error = nil, want out-of-range rejection")
	}

	want := map[string]int{"apply": 1, "reject": 1, "override": 1, "save": 1}
	for kind, n := range want {
		if metrics.actions[kind] != n {
			t.Errorf("actions[%q] = %d, want %d", kind, metrics.actions[kind], n)
		}
	}
	if len(metrics.actions) != len(want) {
		t.Errorf("actions = %v, want exactly %v", metrics.actions, want)
	}
}

func TestSession_OpsBeforeFirstReading(t *testing.T) {
	s := newTestSession(t, Config{Source: &scriptedSource{}, Backend: &noopBackend{}})

	if err := s.Apply(context.Background()); !errors.Is(err, action.ErrNoSnapshot) {
		t.Errorf("Apply() = %v, want ErrNoSnapshot", err)
	}
	if err := s.Reject(context.Background()); !errors.Is(err, action.ErrNoSnapshot) {
		t.Errorf("Reject() = %v, want ErrNoSnapshot", err)
	}
	if err := s.Override(context.Background(), 60); !errors.Is(err, action.ErrNoSnapshot) {
		t.Errorf("Override() = %v, want ErrNoSnapshot", err)
	}
}

// TestSession_AlertLifecycle walks the full operator flow: escalation,
// fail-open apply, dismissal persistence, recovery, and re-arm.
func TestSession_AlertLifecycle(t *testing.T) {
	backend := &noopBackend{err: errors.New("backend unreachable")}
	s := newTestSession(t, Config{Source: &scriptedSource{}, Backend: backend})
	ctx := context.Background()

	seq := uint64(0)
	feed := func(ts string, volume int, status traffic.Status) {
		seq++
		s.complete(ctx, seq, reading(ts, volume, status), nil, time.Millisecond)
	}

	feed("14:30:00", 300, traffic.StatusNormal)
	if st := s.Alert(); st.Active() {
		t.Fatal("alert active on a normal reading")
	}

	feed("14:30:02", 520, traffic.StatusDanger)
	if st := s.Alert(); !st.Active() {
		t.Fatal("alert not active after escalation to danger")
	}

	// Fail-open: backend down, yet the decision is confirmed.
	if err := s.Apply(ctx); err != nil {
		t.Fatalf("Apply() = %v, want nil despite backend failure", err)
	}
	if st := s.Alert(); !st.Dismissed {
		t.Fatal("alert not dismissed after Apply")
	}
	n, ok := s.Notification()
	if !ok || n.Level != notify.LevelSuccess {
		t.Fatalf("notification = %+v, %v; want success", n, ok)
	}

	// Sustained danger must not resurface the dismissed alert.
	feed("14:30:04", 530, traffic.StatusDanger)
	feed("14:30:06", 540, traffic.StatusDanger)
	if st := s.Alert(); st.Active() {
		t.Fatal("sustained danger resurfaced a dismissed alert")
	}

	// Recovery keeps the dismissal; a fresh escalation re-arms it.
	feed("14:30:08", 280, traffic.StatusNormal)
	if st := s.Alert(); st.Active() {
		t.Fatal("alert active after recovery to normal")
	}
	feed("14:30:10", 560, traffic.StatusDanger)
	if st := s.Alert(); !st.Active() {
		t.Fatal("fresh escalation did not re-arm the alert")
	}
}

func TestSession_SubscribeEvents(t *testing.T) {
	s := newTestSession(t, Config{Source: &scriptedSource{}})

	ch, cancel := s.Subscribe()
	defer cancel()

	s.complete(context.Background(), 1, reading("14:30:00", 400, traffic.StatusNormal), nil, time.Millisecond)

	got := make(map[EventKind]bool)
	timeout := time.After(time.Second)
	for len(got) < 3 {
		select {
		case ev := <-ch:
			got[ev.Kind] = true
		case <-timeout:
			t.Fatalf("events received = %v, want connectivity, history, and forecast", got)
		}
	}

	for _, want := range []EventKind{EventConnectivity, EventHistory, EventForecast} {
		if !got[want] {
			t.Errorf("missing %q event", want)
		}
	}

	cancel()
	cancel() // cancel is idempotent
}

func TestSession_PublishToStore(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newTestSession(t, Config{Source: &scriptedSource{}, Store: store, Backend: &noopBackend{}})
	ctx := context.Background()

	s.complete(ctx, 1, reading("14:30:00", 400, traffic.StatusNormal), nil, time.Millisecond)
	s.complete(ctx, 2, reading("14:30:02", 440, traffic.StatusDanger), nil, time.Millisecond)

	snap, found, err := store.GetLatest(ctx, "jl-sudirman")
	if err != nil || !found {
		t.Fatalf("GetLatest() = found %v, err %v", found, err)
	}
	if snap.Current.Volume != 440 {
		t.Errorf("published Current.Volume = %d, want 440", snap.Current.Volume)
	}
	if len(snap.History) != 2 {
		t.Errorf("published len(History) = %d, want 2", len(snap.History))
	}
	if snap.Connectivity != string(Live) {
		t.Errorf("published Connectivity = %q, want %q", snap.Connectivity, Live)
	}
	if snap.YDomainMax < 600 {
		t.Errorf("published YDomainMax = %d, want >= 600", snap.YDomainMax)
	}

	// Operator decisions republish with the pending action attached.
	if err := s.Apply(ctx); err != nil {
		t.Fatalf("Apply() = %v", err)
	}
	snap, _, _ = store.GetLatest(ctx, "jl-sudirman")
	if snap.Pending == nil || snap.Pending.Kind != action.KindApply {
		t.Errorf("published Pending = %+v, want an apply record", snap.Pending)
	}
	if !snap.Alert.Dismissed {
		t.Error("published Alert.Dismissed = false after Apply")
	}
}

func TestSession_Export(t *testing.T) {
	s := newTestSession(t, Config{Source: &scriptedSource{}})
	ctx := context.Background()

	out := s.Export()
	if out.Connectivity != string(Connecting) {
		t.Errorf("Export().Connectivity = %q before first reading, want %q", out.Connectivity, Connecting)
	}
	if len(out.History) != 0 || out.Notification != nil || out.Pending != nil {
		t.Errorf("Export() before first reading carries state: %+v", out)
	}

	s.complete(ctx, 1, reading("14:30:00", 400, traffic.StatusNormal), nil, time.Millisecond)
	out = s.Export()
	if out.Intersection != "jl-sudirman" {
		t.Errorf("Export().Intersection = %q", out.Intersection)
	}
	if out.Current.Volume != 400 {
		t.Errorf("Export().Current.Volume = %d, want 400", out.Current.Volume)
	}

	if err := s.SaveOnly(ctx, 75); err != nil {
		t.Fatalf("SaveOnly(75) error = %v", err)
	}
	out = s.Export()
	if out.SavedDurationSeconds != 75 {
		t.Errorf("Export().SavedDurationSeconds = %d, want 75", out.SavedDurationSeconds)
	}
}

func TestSession_Export_TrendPct(t *testing.T) {
	s := newTestSession(t, Config{Source: &scriptedSource{}})
	ctx := context.Background()

	// Strictly rising volume by 10 vehicles per reading.
	for i := 0; i < 10; i++ {
		snap := reading(fmt.Sprintf("09:%02d:00", i), 400+i*10, traffic.StatusNormal)
		s.complete(ctx, uint64(i+1), snap, nil, time.Millisecond)
	}

	out := s.Export()
	if out.TrendPct <= 0 {
		t.Errorf("Export().TrendPct = %v for rising volume, want > 0", out.TrendPct)
	}
	// Slope is 10 per reading against a volume of 490, roughly 2%.
	if out.TrendPct > 5 {
		t.Errorf("Export().TrendPct = %v, want about 2", out.TrendPct)
	}
}
