// Package history implements the bounded rolling window of accepted traffic
// readings that backs the prediction timeline.
//
// The buffer is deliberately not safe for concurrent use: the monitoring
// session owns it and serializes all access under its own lock, and every
// external consumer sees copies published through the session snapshot.
package history

import (
	"iter"

	"gonum.org/v1/gonum/stat"

	"github.com/sigap-ai/sigapd/pkg/traffic"
)

// MaxPoints caps the buffer length. At the 2-second polling cadence this is
// roughly a 4-minute rolling window.
const MaxPoints = 120

// Entry is the chart-facing projection of an accepted snapshot.
type Entry struct {
	Time      string `json:"time"`
	Volume    int    `json:"volume"`
	Predicted int    `json:"predicted"`
	Risk      int    `json:"risk"`
}

// Buffer is a bounded, timestamp-deduplicated, chronological sequence of
// entries. Oldest entries are evicted first once MaxPoints is exceeded.
type Buffer struct {
	entries []Entry
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{entries: make([]Entry, 0, MaxPoints)}
}

// Append derives an entry from snap and appends it, evicting from the front
// to stay within MaxPoints. It is a no-op returning false when the snapshot's
// timestamp equals the most recently stored entry's timestamp, which makes
// repeated polls returning the same reading idempotent.
func (b *Buffer) Append(snap traffic.Snapshot) bool {
	if n := len(b.entries); n > 0 && b.entries[n-1].Time == snap.Timestamp {
		return false
	}

	b.entries = append(b.entries, Entry{
		Time:      snap.Timestamp,
		Volume:    snap.Volume,
		Predicted: snap.PredictedVolume,
		Risk:      snap.RiskLevel,
	})

	if len(b.entries) > MaxPoints {
		b.entries = append(b.entries[:0:0], b.entries[len(b.entries)-MaxPoints:]...)
	}

	return true
}

// Len returns the number of stored entries.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Latest returns the most recent entry, or false when the buffer is empty.
func (b *Buffer) Latest() (Entry, bool) {
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// All returns a restartable view over the entries in insertion order, which
// is chronological. The view reads the buffer live; callers that need a
// stable copy across appends should use Snapshot.
func (b *Buffer) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range b.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Snapshot returns a copy of the entries in chronological order.
func (b *Buffer) Snapshot() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Trend fits a least-squares line through the volumes of the last n entries
// and returns its slope in vehicles per sample. It reports false when fewer
// than two entries are available.
func (b *Buffer) Trend(n int) (float64, bool) {
	if n > len(b.entries) {
		n = len(b.entries)
	}
	if n < 2 {
		return 0, false
	}

	tail := b.entries[len(b.entries)-n:]
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, e := range tail {
		xs[i] = float64(i)
		ys[i] = float64(e.Volume)
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope, true
}
