package tracking

import (
	"context"
	"errors"
	"sync"
	"time"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore is a checkpoint slot that can be told to fail.
type memStore struct {
	mu       sync.Mutex
	snap     *SessionSnapshot
	saves    int
	saveErr  error
	loadErr  error
	clearErr error
}

func (s *memStore) Save(_ context.Context, snap SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	c := snap.Clone()
	s.snap = &c
	s.saves++
	return nil
}

func (s *memStore) Load(_ context.Context) (*SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.snap == nil {
		return nil, nil
	}
	c := s.snap.Clone()
	return &c, nil
}

func (s *memStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearErr != nil {
		return s.clearErr
	}
	s.snap = nil
	return nil
}

func (s *memStore) stored() *SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil
	}
	c := s.snap.Clone()
	return &c
}

func (s *memStore) failSaves(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

type fakeRecorder struct {
	mu       sync.Mutex
	sessions []FinishedSession
	err      error
}

func (r *fakeRecorder) Record(_ context.Context, s FinishedSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sessions = append(r.sessions, s)
	return nil
}

var errDisk = errors.New("disk full")

func fix(lat, lng, acc float64, at time.Time) GeoFix {
	return GeoFix{Lat: lat, Lng: lng, AccuracyMeters: acc, CapturedAt: at}
}

// newTestEngine returns an engine that has already run recovery against an
// empty store.
func newTestEngine(store *memStore, clock *fakeClock, opts ...Option) *Engine {
	n := 0
	base := []Option{
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			n++
			return "session-" + string(rune('0'+n))
		}),
	}
	e := NewEngine(store, DefaultSettings(), append(base, opts...)...)
	if _, err := e.Recover(context.Background()); err != nil {
		panic(err)
	}
	return e
}
