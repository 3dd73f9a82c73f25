package tracking

import (
	"context"
	"fmt"
	"math"
	"time"
)

// CheckpointStore is a single-slot durable record of the active session.
// Save must not return until the write is durable. Load returns nil when the
// slot is empty.
type CheckpointStore interface {
	Save(ctx context.Context, snap SessionSnapshot) error
	Load(ctx context.Context) (*SessionSnapshot, error)
	Clear(ctx context.Context) error
}

// Recorder is the downstream session-recording API that receives finished
// sessions.
type Recorder interface {
	Record(ctx context.Context, session FinishedSession) error
}

// Observer receives engine measurements. internal/metrics implements it.
type Observer interface {
	FixProcessed(outcome string)
	CheckpointWritten(op string, d time.Duration, err error)
	SessionClosed(outcome string)
}

type nopObserver struct{}

func (nopObserver) FixProcessed(string)                          {}
func (nopObserver) CheckpointWritten(string, time.Duration, error) {}
func (nopObserver) SessionClosed(string)                         {}

// Validate checks the invariants a loaded checkpoint must satisfy before it
// can be resumed.
func (s SessionSnapshot) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: missing session id", ErrCorruptCheckpoint)
	case !s.State.valid():
		return fmt.Errorf("%w: unknown state %q", ErrCorruptCheckpoint, s.State)
	case s.StartedAt.IsZero():
		return fmt.Errorf("%w: missing start time", ErrCorruptCheckpoint)
	case s.TotalDistanceMeters < 0 || math.IsNaN(s.TotalDistanceMeters) || math.IsInf(s.TotalDistanceMeters, 0):
		return fmt.Errorf("%w: bad distance %v", ErrCorruptCheckpoint, s.TotalDistanceMeters)
	case s.LastAcceptedAt.IsZero():
		return fmt.Errorf("%w: missing last accepted time", ErrCorruptCheckpoint)
	}
	for i := 1; i < len(s.Route); i++ {
		if s.Route[i].CapturedAt.Before(s.Route[i-1].CapturedAt) {
			return fmt.Errorf("%w: route point %d out of order", ErrCorruptCheckpoint, i)
		}
	}
	if n := len(s.Route); n > 0 && !s.Route[n-1].CapturedAt.Equal(s.LastAcceptedAt) {
		return fmt.Errorf("%w: last accepted time does not match route", ErrCorruptCheckpoint)
	}
	if len(s.Route) == 0 && s.LastAcceptedAt.Before(s.StartedAt) {
		return fmt.Errorf("%w: last accepted time before start", ErrCorruptCheckpoint)
	}
	return nil
}
