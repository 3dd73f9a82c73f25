package tracking

import (
	"math"
	"time"

	"backend-bravely/internal/shared/geo"
)

type RejectReason string

const (
	RejectLowAccuracy          RejectReason = "low_accuracy"
	RejectInsufficientMovement RejectReason = "insufficient_movement"
	RejectOutOfOrder           RejectReason = "out_of_order"
	RejectInvalid              RejectReason = "invalid_fix"
)

// FilterConfig holds the movement filter thresholds.
//
// The required movement grows with the reported accuracy radius in three
// steps: fixes at or under ExcellentAccuracyMeters need MinMoveExcellent,
// fixes at or under GoodAccuracyMeters need MinMoveGood, anything else that
// passes the accuracy gate needs MinMoveFair.
type FilterConfig struct {
	MaxAccuracyMeters       float64
	ExcellentAccuracyMeters float64
	GoodAccuracyMeters      float64
	MinMoveExcellent        float64
	MinMoveGood             float64
	MinMoveFair             float64
	// LongGap is the time since the last accepted point after which the next
	// acceptable fix re-anchors the route instead of adding a leg. Rejected
	// fixes in between do not shorten it.
	LongGap time.Duration
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MaxAccuracyMeters:       30,
		ExcellentAccuracyMeters: 10,
		GoodAccuracyMeters:      20,
		MinMoveExcellent:        8,  // ~25 ft
		MinMoveGood:             12, // ~40 ft
		MinMoveFair:             18, // ~60 ft
		LongGap:                 2 * time.Minute,
	}
}

// MinMovement returns the distance a fix with the given accuracy must move
// from the anchor to be accepted.
func (c FilterConfig) MinMovement(accuracy float64) float64 {
	switch {
	case accuracy <= c.ExcellentAccuracyMeters:
		return c.MinMoveExcellent
	case accuracy <= c.GoodAccuracyMeters:
		return c.MinMoveGood
	}
	return c.MinMoveFair
}

// FilterDecision is the outcome of evaluating one fix. There is no partial
// acceptance.
type FilterDecision struct {
	Accepted       bool
	Reason         RejectReason
	DistanceMeters float64
	// Reanchored is set when the fix follows a long gap: it becomes the new
	// anchor with zero added distance and the session is flagged as
	// interrupted.
	Reanchored bool
}

type Filter struct {
	cfg FilterConfig
}

func NewFilter(cfg FilterConfig) Filter {
	return Filter{cfg: cfg}
}

func (f Filter) Config() FilterConfig { return f.cfg }

// Evaluate decides whether fix extends the route. last is the most recent
// route point (nil for an empty route) and lastSeen the capture time of the
// newest fix observed so far, accepted or not. lastSeen only orders fixes;
// the long gap is measured from last.
func (f Filter) Evaluate(fix GeoFix, last *RoutePoint, lastSeen time.Time) FilterDecision {
	if !validFix(fix) {
		return FilterDecision{Reason: RejectInvalid}
	}
	if fix.AccuracyMeters > f.cfg.MaxAccuracyMeters {
		return FilterDecision{Reason: RejectLowAccuracy}
	}
	if !lastSeen.IsZero() && fix.CapturedAt.Before(lastSeen) {
		return FilterDecision{Reason: RejectOutOfOrder}
	}
	if last == nil {
		return FilterDecision{Accepted: true}
	}
	if fix.CapturedAt.Before(last.CapturedAt) {
		return FilterDecision{Reason: RejectOutOfOrder}
	}

	if f.cfg.LongGap > 0 && fix.CapturedAt.Sub(last.CapturedAt) > f.cfg.LongGap {
		return FilterDecision{Accepted: true, Reanchored: true}
	}

	d := geo.HaversineMeters(last.Coordinate(), fix.Coordinate())
	if d < f.cfg.MinMovement(fix.AccuracyMeters) {
		return FilterDecision{Reason: RejectInsufficientMovement, DistanceMeters: d}
	}
	return FilterDecision{Accepted: true, DistanceMeters: d}
}

func validFix(fix GeoFix) bool {
	if math.IsNaN(fix.Lat) || math.IsNaN(fix.Lng) || math.IsNaN(fix.AccuracyMeters) {
		return false
	}
	if fix.Lat < -90 || fix.Lat > 90 || fix.Lng < -180 || fix.Lng > 180 {
		return false
	}
	return fix.AccuracyMeters >= 0 && !fix.CapturedAt.IsZero()
}
