// Package forecast projects the short-range synthetic curve that extends the
// prediction timeline past the last real reading.
//
// The projection is a pure function of the anchor entry: it interpolates from
// the anchor's measured volume toward the service's 15-minute-ahead estimate
// and recomputes fully on every accepted snapshot. The jitter added to each
// point is cosmetic only, there to keep the rendered curve from looking
// machine-straight; it is not an uncertainty band and must never be read as
// one.
package forecast

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sigap-ai/sigapd/pkg/history"
	"github.com/sigap-ai/sigapd/pkg/traffic"
)

const (
	// Points is the fixed number of projected points.
	Points = 8

	// StepMinutes is the wall-clock spacing between projected points,
	// giving a 16-minute horizon across the full curve.
	StepMinutes = 2

	// jitterRange bounds the cosmetic perturbation: uniform in
	// [-jitterRange/2, +jitterRange/2] vehicles.
	jitterRange = 10.0

	// domainFloor is the minimum Y-axis ceiling any consuming chart must
	// cover, regardless of observed values.
	domainFloor = 600
)

// Point is one synthetic timeline entry appended after the last real
// reading. Volume is nil: nothing has been measured in the future.
type Point struct {
	Time       string `json:"time"`
	Volume     *int   `json:"volume"`
	Predicted  int    `json:"predicted"`
	Risk       int    `json:"risk"`
	IsForecast bool   `json:"isForecast"`
}

// Noise supplies the per-point perturbation. Production uses an unseeded
// uniform source; tests inject a deterministic stub.
type Noise interface {
	NextJitter() float64
}

// uniformNoise draws from the process-wide rand/v2 generator. Deliberately
// unseeded: consecutive projections of the same anchor differ.
type uniformNoise struct{}

func (uniformNoise) NextJitter() float64 {
	return rand.Float64()*jitterRange - jitterRange/2
}

// Projector derives forecast curves from the history buffer.
type Projector struct {
	noise Noise
}

// NewProjector creates a projector. A nil noise source selects the default
// uniform jitter.
func NewProjector(noise Noise) *Projector {
	if noise == nil {
		noise = uniformNoise{}
	}
	return &Projector{noise: noise}
}

// Project returns the synthetic curve extending buf, or an empty curve when
// the buffer holds fewer than two entries (a single reading gives the chart
// nothing to project from).
func (p *Projector) Project(buf *history.Buffer) ([]Point, error) {
	if buf.Len() < 2 {
		return nil, nil
	}

	anchor, _ := buf.Latest()

	base, err := traffic.ParseTimeOfDay(anchor.Time)
	if err != nil {
		return nil, fmt.Errorf("forecast: anchor timestamp: %w", err)
	}

	current := float64(anchor.Volume)
	diff := float64(anchor.Predicted - anchor.Volume)

	points := make([]Point, 0, Points)
	for i := 1; i <= Points; i++ {
		t := float64(i) / Points
		projected := int(math.Round(current + diff*t + p.noise.NextJitter()))
		if projected < 0 {
			projected = 0
		}

		at := base.Add(time.Duration(i*StepMinutes) * time.Minute)

		points = append(points, Point{
			Time:       at.String(),
			Predicted:  projected,
			Risk:       anchor.Risk,
			IsForecast: true,
		})
	}

	return points, nil
}

// YDomainMax returns the Y-axis ceiling a chart rendering hist and points
// must honor: at least domainFloor, and at least the largest plotted value
// rounded up to the next multiple of 100. This is a presentation contract of
// the projector's consumers, not a property of the projection itself.
func YDomainMax(hist []history.Entry, points []Point) int {
	max := domainFloor
	for _, e := range hist {
		if e.Volume > max {
			max = e.Volume
		}
		if e.Predicted > max {
			max = e.Predicted
		}
	}
	for _, pt := range points {
		if pt.Predicted > max {
			max = pt.Predicted
		}
	}
	return ((max + 99) / 100) * 100
}
