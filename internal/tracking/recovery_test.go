package tracking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seeded(lastAccepted time.Time, state State) *memStore {
	snap := SessionSnapshot{
		ID:          "stored",
		SessionType: "walk",
		StartedAt:   lastAccepted.Add(-10 * time.Minute),
		State:       state,
		Route: []RoutePoint{
			{Lat: 40, Lng: -74, AccuracyMeters: 5, CapturedAt: lastAccepted.Add(-time.Minute)},
			{Lat: 40.001, Lng: -74, AccuracyMeters: 5, CapturedAt: lastAccepted},
		},
		TotalDistanceMeters: 111.19,
		LastAcceptedAt:      lastAccepted,
	}
	return &memStore{snap: &snap}
}

func TestRecoverNoSession(t *testing.T) {
	e := NewEngine(&memStore{}, DefaultSettings(), WithClock(newClock(t0).Now))
	d, err := e.Recover(context.Background())
	require.NoError(t, err)
	require.Equal(t, DecisionNoSession, d.Kind)
	require.Equal(t, PhaseIdle, e.Phase())

	again, err := e.Recover(context.Background())
	require.NoError(t, err)
	require.Equal(t, d, again)
}

func TestRecoverResumableAndContinue(t *testing.T) {
	store := seeded(t0.Add(-30*time.Second), StateActive)
	e := NewEngine(store, DefaultSettings(), WithClock(newClock(t0).Now))
	ctx := context.Background()

	d, err := e.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, DecisionResumable, d.Kind)
	require.False(t, d.WasLikelyBackgrounded)
	require.Equal(t, 30*time.Second, d.Gap)
	require.Equal(t, 2, d.PointCount)
	require.InDelta(t, 0.0691, d.DistanceMiles, 0.001)
	require.Equal(t, int64(630), d.ElapsedSeconds)
	require.Equal(t, PhasePendingRecovery, e.Phase())

	_, err = e.Start(ctx, StartOptions{SessionType: "walk"})
	require.ErrorIs(t, err, ErrRecoveryPending)
	_, err = e.Ingest(ctx, fix(40, -74, 5, t0))
	require.ErrorIs(t, err, ErrRecoveryPending)

	snap, err := e.Continue(ctx)
	require.NoError(t, err)
	require.Equal(t, "stored", snap.ID)
	require.False(t, snap.WasInterrupted)
	require.Equal(t, PhaseActive, e.Phase())

	res, err := e.Ingest(ctx, fix(40.002, -74, 5, t0))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.InDelta(t, 111.19+111.19, res.TotalDistanceMeters, 0.1)

	_, err = e.Continue(ctx)
	require.ErrorIs(t, err, ErrNotResumable)
}

func TestContinueAfterBackgroundGap(t *testing.T) {
	store := seeded(t0.Add(-10*time.Minute), StateActive)
	e := NewEngine(store, DefaultSettings(), WithClock(newClock(t0).Now))
	ctx := context.Background()

	d, err := e.Recover(ctx)
	require.NoError(t, err)
	require.True(t, d.WasLikelyBackgrounded)

	snap, err := e.Continue(ctx)
	require.NoError(t, err)
	require.True(t, snap.WasInterrupted)
	require.Equal(t, PhaseInterrupted, e.Phase())
	require.Equal(t, StateInterrupted, store.stored().State)

	// the next fix follows a long silence and re-anchors
	res, err := e.Ingest(ctx, fix(40.05, -74, 5, t0))
	require.NoError(t, err)
	require.True(t, res.Reanchored)
	require.InDelta(t, 111.19, res.TotalDistanceMeters, 0.01)
	require.Equal(t, PhaseActive, e.Phase())
}

func TestRecoverStaleDiscard(t *testing.T) {
	store := seeded(t0.Add(-48*time.Hour), StateActive)
	rec := &fakeRecorder{}
	e := NewEngine(store, DefaultSettings(), WithClock(newClock(t0).Now), WithRecorder(rec))
	ctx := context.Background()

	d, err := e.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, DecisionStaleDiscard, d.Kind)
	require.Nil(t, store.stored())
	require.Empty(t, rec.sessions)
	require.Equal(t, PhaseIdle, e.Phase())

	_, err = e.Start(ctx, StartOptions{SessionType: "walk"})
	require.NoError(t, err)
}

func TestRecoverStaleBoundary(t *testing.T) {
	store := seeded(t0.Add(-24*time.Hour), StateActive)
	e := NewEngine(store, DefaultSettings(), WithClock(newClock(t0).Now))
	d, err := e.Recover(context.Background())
	require.NoError(t, err)
	require.Equal(t, DecisionResumable, d.Kind)
}

func TestDiscardPendingRecovery(t *testing.T) {
	store := seeded(t0.Add(-time.Minute), StateActive)
	rec := &fakeRecorder{}
	e := NewEngine(store, DefaultSettings(), WithClock(newClock(t0).Now), WithRecorder(rec))
	ctx := context.Background()

	_, err := e.Recover(ctx)
	require.NoError(t, err)
	require.NoError(t, e.Discard(ctx))
	require.Nil(t, store.stored())
	require.Empty(t, rec.sessions)
	require.Equal(t, PhaseIdle, e.Phase())

	_, err = e.Continue(ctx)
	require.ErrorIs(t, err, ErrNotResumable)
}

func TestRecoverCorruptCheckpoint(t *testing.T) {
	store := &memStore{loadErr: fmt.Errorf("%w: bad bytes", ErrCorruptCheckpoint)}
	e := NewEngine(store, DefaultSettings(), WithClock(newClock(t0).Now))
	ctx := context.Background()

	_, err := e.Recover(ctx)
	require.ErrorIs(t, err, ErrCorruptCheckpoint)
	require.Equal(t, PhasePendingRecovery, e.Phase())

	_, err = e.Continue(ctx)
	require.ErrorIs(t, err, ErrNotResumable)

	store.loadErr = nil
	require.NoError(t, e.Discard(ctx))
	require.Equal(t, PhaseIdle, e.Phase())
	_, err = e.Start(ctx, StartOptions{SessionType: "walk"})
	require.NoError(t, err)
}

func TestRecoverLoadFailure(t *testing.T) {
	e := NewEngine(&memStore{loadErr: errors.New("io")}, DefaultSettings())
	_, err := e.Recover(context.Background())
	require.ErrorIs(t, err, ErrPersistenceWrite)
	require.Equal(t, PhasePendingRecovery, e.Phase())
}

func TestContinueEndingSessionRetriesHandoff(t *testing.T) {
	store := seeded(t0.Add(-time.Minute), StateEnding)
	rec := &fakeRecorder{}
	e := NewEngine(store, DefaultSettings(), WithClock(newClock(t0).Now), WithRecorder(rec))
	ctx := context.Background()

	_, err := e.Recover(ctx)
	require.NoError(t, err)
	_, err = e.Continue(ctx)
	require.NoError(t, err)
	require.Equal(t, PhaseEnding, e.Phase())

	finished, err := e.End(ctx)
	require.NoError(t, err)
	require.Equal(t, "stored", finished.ID)
	require.Len(t, rec.sessions, 1)
	require.Nil(t, store.stored())
}

func TestKillAndRelaunchReproducesSession(t *testing.T) {
	store := &memStore{}
	clock := newClock(t0)
	ctx := context.Background()

	first := newTestEngine(store, clock)
	startWalk(t, first)
	for i, lat := range []float64{40, 40.0002, 40.0004, 40.0006} {
		_, err := first.Ingest(ctx, fix(lat, -74, 5, t0.Add(time.Duration(i+1)*5*time.Second)))
		require.NoError(t, err)
	}
	before, _ := first.Snapshot()

	// relaunch: a fresh engine on the same store
	clock.Advance(time.Minute)
	second := NewEngine(store, DefaultSettings(), WithClock(clock.Now))
	d, err := second.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, DecisionResumable, d.Kind)

	after, err := second.Continue(ctx)
	require.NoError(t, err)
	require.Equal(t, before.ID, after.ID)
	require.Equal(t, before.Route, after.Route)
	require.Equal(t, before.TotalDistanceMeters, after.TotalDistanceMeters)
	require.Equal(t, before.LastAcceptedAt, after.LastAcceptedAt)
}
