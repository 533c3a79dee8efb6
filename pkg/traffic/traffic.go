// Package traffic defines the data model shared by every sigapd component:
// the live Snapshot returned by the inference service, the congestion Status
// tiers, and the TimeOfDay type used for timestamp arithmetic.
package traffic

import "fmt"

// Status is the congestion tier assigned to a snapshot by the inference
// service.
type Status string

const (
	StatusNormal  Status = "NORMAL"
	StatusWarning Status = "WARNING"
	StatusDanger  Status = "DANGER"
)

// Valid reports whether s is one of the known tiers.
func (s Status) Valid() bool {
	switch s {
	case StatusNormal, StatusWarning, StatusDanger:
		return true
	}
	return false
}

// Congested reports whether the tier calls for operator attention.
// Both WARNING and DANGER count as congested, matching the alert
// classification used by the dashboard.
func (s Status) Congested() bool {
	return s == StatusWarning || s == StatusDanger
}

// Weather carries the ambient conditions reported alongside a snapshot.
type Weather struct {
	TempCelsius int    `json:"temp"`
	Condition   string `json:"condition"`
}

// Snapshot is one live reading from the inference service.
//
// Timestamp is the source-of-truth ordering key: two snapshots with equal
// timestamps are the same reading, regardless of how many polls returned
// them. It is a zero-padded HH:MM:SS wall-clock label.
type Snapshot struct {
	Timestamp         string  `json:"timestamp"`
	Status            Status  `json:"status"`
	Volume            int     `json:"volume"`
	SpeedKmh          float64 `json:"speedKmh"`
	PredictedVolume   int     `json:"predictedVolume"`
	RiskLevel         int     `json:"riskLevel"`
	RecommendedAction string  `json:"recommendedAction"`

	CurrentGreenSeconds     int `json:"currentGreenSeconds"`
	RecommendedGreenSeconds int `json:"recommendedGreenSeconds"`

	// Derived dashboard metrics. The inference service computes these from
	// the same reading; they are carried through untouched.
	QueueLength      int     `json:"queueLength"`
	WaitTimeMins     int     `json:"waitTimeMins"`
	AvgSpeedKmh      float64 `json:"avgSpeedKmh"`
	Accidents        int     `json:"accidents"`
	SystemConfidence int     `json:"systemConfidence"`
	PeakForecast     string  `json:"peakForecast"`
	Weather          Weather `json:"weather"`
}

// GreenDelta returns the signed signal-timing change implied by the
// recommendation, in seconds.
func (s Snapshot) GreenDelta() int {
	return s.RecommendedGreenSeconds - s.CurrentGreenSeconds
}

// Validate checks the invariants a snapshot must satisfy before it enters
// the monitoring session.
func (s Snapshot) Validate() error {
	if s.Timestamp == "" {
		return fmt.Errorf("snapshot timestamp cannot be empty")
	}
	if _, err := ParseTimeOfDay(s.Timestamp); err != nil {
		return fmt.Errorf("snapshot timestamp: %w", err)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("unknown status %q", s.Status)
	}
	if s.Volume < 0 {
		return fmt.Errorf("volume must be non-negative, got %d", s.Volume)
	}
	if s.PredictedVolume < 0 {
		return fmt.Errorf("predicted volume must be non-negative, got %d", s.PredictedVolume)
	}
	if s.RiskLevel < 0 || s.RiskLevel > 100 {
		return fmt.Errorf("risk level must be 0-100, got %d", s.RiskLevel)
	}
	if s.CurrentGreenSeconds <= 0 {
		return fmt.Errorf("current green duration must be positive, got %d", s.CurrentGreenSeconds)
	}
	if s.RecommendedGreenSeconds <= 0 {
		return fmt.Errorf("recommended green duration must be positive, got %d", s.RecommendedGreenSeconds)
	}
	return nil
}
