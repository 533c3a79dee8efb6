package traffic

import (
	"fmt"
	"time"
)

// secondsPerDay is the wraparound modulus for time-of-day arithmetic.
const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock instant expressed as seconds since midnight.
// All arithmetic wraps modulo 24 hours, so adding a duration to 23:59:00
// lands in the next day's early minutes rather than overflowing the label.
type TimeOfDay int

// ParseTimeOfDay parses a zero-padded HH:MM:SS label.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%2d:%2d:%2d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if len(s) != 8 || s[2] != ':' || s[5] != ':' {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM:SS", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return TimeOfDay(h*3600 + m*60 + sec), nil
}

// Add returns t shifted by d, wrapping at midnight.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	shifted := (int(t) + int(d.Seconds())) % secondsPerDay
	if shifted < 0 {
		shifted += secondsPerDay
	}
	return TimeOfDay(shifted)
}

// String formats t as zero-padded HH:MM:SS.
func (t TimeOfDay) String() string {
	s := int(t) % secondsPerDay
	if s < 0 {
		s += secondsPerDay
	}
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
