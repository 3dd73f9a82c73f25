package tracking

import (
	"fmt"
	"time"

	"backend-bravely/internal/shared/geo"
)

// Summarize reports a session's progress. Open sessions are measured up to
// now.
func Summarize(s SessionSnapshot, now time.Time) Summary {
	duration := now.Sub(s.StartedAt)
	if !s.EndedAt.IsZero() {
		duration = s.EndedAt.Sub(s.StartedAt)
	}
	if duration < 0 {
		duration = 0
	}
	avgSpeed := 0.0
	if duration.Seconds() > 0 {
		avgSpeed = s.TotalDistanceMeters / duration.Seconds()
	}
	return Summary{
		SessionID:     s.ID,
		PointCount:    len(s.Route),
		DistanceM:     s.TotalDistanceMeters,
		DistanceMiles: geo.MetersToMiles(s.TotalDistanceMeters),
		DurationSec:   int64(duration.Seconds()),
		AverageSpeedM: avgSpeed,
	}
}

// FormatElapsed renders d as HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
