package tracking

import (
	"time"

	"backend-bravely/internal/shared/geo"
)

// GeoFix is one raw sample from the positioning source.
type GeoFix struct {
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	AccuracyMeters float64   `json:"accuracy_m"`
	CapturedAt     time.Time `json:"captured_at"`
}

func (f GeoFix) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: f.Lat, Lon: f.Lng}
}

// RoutePoint is a fix accepted into a session's route.
type RoutePoint struct {
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	AccuracyMeters float64   `json:"accuracy_m"`
	CapturedAt     time.Time `json:"captured_at"`
}

func (p RoutePoint) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: p.Lat, Lon: p.Lng}
}

func pointFromFix(f GeoFix) RoutePoint {
	return RoutePoint{Lat: f.Lat, Lng: f.Lng, AccuracyMeters: f.AccuracyMeters, CapturedAt: f.CapturedAt}
}

// State is the persisted lifecycle state of a checkpointed session.
type State string

const (
	StateActive      State = "active"
	StateInterrupted State = "interrupted"
	StateEnding      State = "ending"
)

func (s State) valid() bool {
	switch s {
	case StateActive, StateInterrupted, StateEnding:
		return true
	}
	return false
}

// Phase is the engine's in-memory lifecycle position. Only Active,
// Interrupted and Ending are ever written to the checkpoint.
type Phase string

const (
	PhasePendingRecovery Phase = "pending_recovery"
	PhaseIdle            Phase = "idle"
	PhaseStarting        Phase = "starting"
	PhaseActive          Phase = "active"
	PhaseInterrupted     Phase = "interrupted"
	PhaseEnding          Phase = "ending"
	PhaseClosed          Phase = "closed"
	PhaseDiscarded       Phase = "discarded"
)

// tracking reports whether fixes may be ingested.
func (p Phase) tracking() bool {
	return p == PhaseActive || p == PhaseInterrupted
}

// canStart reports whether no session is held. Closed and Discarded only
// linger when clearing the checkpoint failed; a new start overwrites it.
func (p Phase) canStart() bool {
	return p == PhaseIdle || p == PhaseClosed || p == PhaseDiscarded
}

func phaseFor(s State) Phase {
	switch s {
	case StateInterrupted:
		return PhaseInterrupted
	case StateEnding:
		return PhaseEnding
	}
	return PhaseActive
}

// SessionSnapshot is the unit of persistence for an in-progress session.
type SessionSnapshot struct {
	ID                  string       `json:"session_id"`
	SessionType         string       `json:"session_type"`
	StartedAt           time.Time    `json:"started_at"`
	State               State        `json:"state"`
	Route               []RoutePoint `json:"route"`
	TotalDistanceMeters float64      `json:"total_distance_m"`
	LastAcceptedAt      time.Time    `json:"last_accepted_at"`
	WasInterrupted      bool         `json:"was_interrupted"`
	FearLevelBefore     int          `json:"fear_level_before,omitempty"`
	MoodBefore          int          `json:"mood_before,omitempty"`
	EndedAt             time.Time    `json:"ended_at,omitempty"`
}

// Clone returns a copy that shares no route storage with s.
func (s SessionSnapshot) Clone() SessionSnapshot {
	out := s
	out.Route = make([]RoutePoint, len(s.Route))
	copy(out.Route, s.Route)
	return out
}

func (s SessionSnapshot) lastPoint() *RoutePoint {
	if len(s.Route) == 0 {
		return nil
	}
	p := s.Route[len(s.Route)-1]
	return &p
}

// FinishedSession is handed to the session-recording API when a session ends.
type FinishedSession struct {
	ID                  string       `json:"id"`
	SessionType         string       `json:"session_type"`
	StartedAt           time.Time    `json:"started_at"`
	EndedAt             time.Time    `json:"ended_at"`
	Route               []RoutePoint `json:"route"`
	TotalDistanceMeters float64      `json:"total_distance_m"`
	FearLevelBefore     int          `json:"fear_level_before,omitempty"`
	MoodBefore          int          `json:"mood_before,omitempty"`
	WasInterrupted      bool         `json:"was_interrupted"`
}

func finish(s SessionSnapshot) FinishedSession {
	c := s.Clone()
	return FinishedSession{
		ID:                  c.ID,
		SessionType:         c.SessionType,
		StartedAt:           c.StartedAt,
		EndedAt:             c.EndedAt,
		Route:               c.Route,
		TotalDistanceMeters: c.TotalDistanceMeters,
		FearLevelBefore:     c.FearLevelBefore,
		MoodBefore:          c.MoodBefore,
		WasInterrupted:      c.WasInterrupted,
	}
}

// StartOptions describe a new session. FirstFix is optional; when present it
// is run through the accuracy gate and becomes the anchor if accepted.
type StartOptions struct {
	SessionType     string  `json:"session_type"`
	FearLevelBefore int     `json:"fear_level_before"`
	MoodBefore      int     `json:"mood_before"`
	FirstFix        *GeoFix `json:"first_fix,omitempty"`
}

type Summary struct {
	SessionID     string  `json:"session_id"`
	PointCount    int     `json:"point_count"`
	DistanceM     float64 `json:"distance_m"`
	DistanceMiles float64 `json:"distance_miles"`
	DurationSec   int64   `json:"duration_sec"`
	AverageSpeedM float64 `json:"average_speed_mps"`
}
