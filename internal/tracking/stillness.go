package tracking

import "time"

// StillnessDetector reports when a session has gone without an accepted
// point for a full window. It fires once per episode; an episode ends when a
// new point is accepted or the prompt is acknowledged.
type StillnessDetector struct {
	window   time.Duration
	since    time.Time
	prompted bool
}

func NewStillnessDetector(window time.Duration) *StillnessDetector {
	return &StillnessDetector{window: window}
}

// Reset starts a new episode measured from t, normally the time of the
// latest accepted point.
func (d *StillnessDetector) Reset(t time.Time) {
	d.since = t
	d.prompted = false
}

// Acknowledge re-arms the detector after the user answered a prompt; the
// next prompt needs another full window of stillness from now.
func (d *StillnessDetector) Acknowledge(now time.Time) {
	d.Reset(now)
}

// Check reports whether an end prompt should be emitted at now.
func (d *StillnessDetector) Check(now time.Time) bool {
	if d.window <= 0 || d.prompted || d.since.IsZero() {
		return false
	}
	if now.Sub(d.since) < d.window {
		return false
	}
	d.prompted = true
	return true
}

func (d *StillnessDetector) Prompted() bool { return d.prompted }
