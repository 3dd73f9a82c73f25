package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-bravely/internal/shared/geo"
)

type DecisionKind string

const (
	DecisionNoSession    DecisionKind = "no_session"
	DecisionResumable    DecisionKind = "resumable"
	DecisionStaleDiscard DecisionKind = "stale_discard"
)

// RecoveryDecision is the outcome of reconciling the stored checkpoint with
// the clock at launch. For Resumable decisions the UI must call exactly one
// of Continue or Discard before a new session can start.
type RecoveryDecision struct {
	Kind                  DecisionKind     `json:"kind"`
	Snapshot              *SessionSnapshot `json:"snapshot,omitempty"`
	Gap                   time.Duration    `json:"gap"`
	WasLikelyBackgrounded bool             `json:"was_likely_backgrounded"`
	PointCount            int              `json:"point_count"`
	DistanceMeters        float64          `json:"distance_m"`
	DistanceMiles         float64          `json:"distance_miles"`
	ElapsedSeconds        int64            `json:"elapsed_sec"`
}

// Recover loads the checkpoint and decides what to do with it. It must run
// once before Start is accepted. A corrupt checkpoint is reported as an
// error and left in place; Discard clears it.
func (e *Engine) Recover(ctx context.Context) (RecoveryDecision, error) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	if e.phase != PhasePendingRecovery {
		defer e.mu.Unlock()
		if e.decision != nil {
			return e.decision.clone(), nil
		}
		return RecoveryDecision{}, &TransitionError{Op: "recover", From: e.phase}
	}
	if e.decision != nil {
		d := e.decision.clone()
		e.mu.Unlock()
		return d, nil
	}
	e.mu.Unlock()

	snap, err := e.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrCorruptCheckpoint) {
			e.log.Error("checkpoint failed validation", "error", err)
			return RecoveryDecision{}, err
		}
		return RecoveryDecision{}, &PersistenceError{Op: "load", Err: err}
	}

	now := e.now()
	if snap == nil {
		d := RecoveryDecision{Kind: DecisionNoSession}
		e.resolve(d, PhaseIdle)
		return d, nil
	}

	gap := now.Sub(snap.LastAcceptedAt)
	if gap > e.settings.StalenessCeiling {
		d := RecoveryDecision{Kind: DecisionStaleDiscard, Gap: gap}
		fillDecision(&d, *snap, now)
		if err := e.clearStore(ctx); err != nil {
			return d, err
		}
		e.log.Info("discarded stale session", "session_id", snap.ID, "gap", gap)
		e.observer.SessionClosed("stale")
		e.resolve(d, PhaseIdle)
		e.bus.Publish(Event{Kind: EventSessionDiscarded, SessionID: snap.ID, At: now, Reason: "stale"})
		return d, nil
	}

	d := RecoveryDecision{
		Kind:                  DecisionResumable,
		Gap:                   gap,
		WasLikelyBackgrounded: gap > e.settings.BackgroundGap,
	}
	fillDecision(&d, *snap, now)

	e.mu.Lock()
	e.pending = snap
	stored := d.clone()
	e.decision = &stored
	e.mu.Unlock()
	e.log.Info("found resumable session", "session_id", snap.ID, "gap", gap, "points", len(snap.Route))
	e.bus.Publish(Event{Kind: EventRecoveryDecided, SessionID: snap.ID, At: now, Decision: &d})
	return d, nil
}

// RecoveryDecision returns the decision made by Recover, if any.
func (e *Engine) RecoveryDecision() (RecoveryDecision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.decision == nil {
		return RecoveryDecision{}, false
	}
	return e.decision.clone(), true
}

// Continue resumes the session offered by a Resumable decision.
func (e *Engine) Continue(ctx context.Context) (SessionSnapshot, error) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	if e.phase != PhasePendingRecovery || e.pending == nil || e.decision == nil || e.decision.Kind != DecisionResumable {
		p := e.phase
		e.mu.Unlock()
		if p == PhasePendingRecovery {
			return SessionSnapshot{}, ErrNotResumable
		}
		return SessionSnapshot{}, fmt.Errorf("continue from %s: %w", p, ErrNotResumable)
	}
	snap := e.pending.Clone()
	backgrounded := e.decision.WasLikelyBackgrounded
	gen := e.gen
	e.mu.Unlock()

	if backgrounded && snap.State == StateActive {
		snap.WasInterrupted = true
		snap.State = StateInterrupted
	}
	if err := e.save(ctx, "continue", snap); err != nil {
		return SessionSnapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return SessionSnapshot{}, fmt.Errorf("continue: %w", ErrNoActiveSession)
	}
	e.adopt(snap)
	e.pending = nil
	now := e.now()
	e.log.Info("session continued", "session_id", snap.ID, "phase", e.phase)
	if e.phase == PhaseInterrupted {
		e.bus.Publish(Event{Kind: EventInterrupted, SessionID: snap.ID, At: now, TotalDistanceMeters: snap.TotalDistanceMeters})
	}
	return snap.Clone(), nil
}

// adopt makes snap the current session. Callers hold e.mu.
func (e *Engine) adopt(snap SessionSnapshot) {
	e.current = &snap
	e.phase = phaseFor(snap.State)
	var anchor *geo.Coordinate
	if last := snap.lastPoint(); last != nil {
		c := last.Coordinate()
		anchor = &c
	}
	e.acc = geo.NewAccumulator(anchor, snap.TotalDistanceMeters)
	e.lastSeenAt = lastFixTime(snap)
	e.stillness.Reset(snap.LastAcceptedAt)
}

func (e *Engine) resolve(d RecoveryDecision, next Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decision = &d
	e.pending = nil
	e.phase = next
}

func (d RecoveryDecision) clone() RecoveryDecision {
	if d.Snapshot != nil {
		c := d.Snapshot.Clone()
		d.Snapshot = &c
	}
	return d
}

func fillDecision(d *RecoveryDecision, snap SessionSnapshot, now time.Time) {
	c := snap.Clone()
	d.Snapshot = &c
	d.PointCount = len(snap.Route)
	d.DistanceMeters = snap.TotalDistanceMeters
	d.DistanceMiles = geo.MetersToMiles(snap.TotalDistanceMeters)
	d.ElapsedSeconds = int64(now.Sub(snap.StartedAt).Seconds())
}
