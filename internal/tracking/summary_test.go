package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatElapsed(t *testing.T) {
	require.Equal(t, "00:00:00", FormatElapsed(0))
	require.Equal(t, "00:01:05", FormatElapsed(65*time.Second))
	require.Equal(t, "26:03:09", FormatElapsed(26*time.Hour+3*time.Minute+9*time.Second+400*time.Millisecond))
	require.Equal(t, "00:00:00", FormatElapsed(-time.Second))
}

func TestSummarize(t *testing.T) {
	snap := SessionSnapshot{
		ID:                  "s",
		StartedAt:           t0,
		Route:               []RoutePoint{{}, {}, {}},
		TotalDistanceMeters: 1609.344,
	}

	open := Summarize(snap, t0.Add(100*time.Second))
	require.Equal(t, 3, open.PointCount)
	require.InDelta(t, 1.0, open.DistanceMiles, 1e-9)
	require.Equal(t, int64(100), open.DurationSec)
	require.InDelta(t, 16.09344, open.AverageSpeedM, 1e-9)

	snap.EndedAt = t0.Add(50 * time.Second)
	closed := Summarize(snap, t0.Add(time.Hour))
	require.Equal(t, int64(50), closed.DurationSec)

	empty := Summarize(SessionSnapshot{StartedAt: t0}, t0)
	require.Zero(t, empty.AverageSpeedM)
}
