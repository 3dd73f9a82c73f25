package tracking

import (
	"context"
	"errors"
	"io"
)

// Source supplies raw position fixes. Next blocks until a fix is available,
// the source fails, or ctx is done. It returns io.EOF when the source is
// exhausted.
type Source interface {
	Next(ctx context.Context) (GeoFix, error)
}

// ChannelSource adapts push-style delivery to Source.
type ChannelSource struct {
	Fixes  <-chan GeoFix
	Errors <-chan error
}

func (s ChannelSource) Next(ctx context.Context) (GeoFix, error) {
	select {
	case <-ctx.Done():
		return GeoFix{}, ctx.Err()
	case fix, ok := <-s.Fixes:
		if !ok {
			return GeoFix{}, io.EOF
		}
		return fix, nil
	case err, ok := <-s.Errors:
		if !ok {
			return GeoFix{}, io.EOF
		}
		return GeoFix{}, err
	}
}

// Track feeds fixes from src into the engine one at a time until the source
// ends, the session ends, or ctx is cancelled. Source failures are published
// as events; a denied permission stops tracking but leaves the session open.
func (e *Engine) Track(ctx context.Context, src Source) error {
	for {
		fix, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			}
			id := e.sessionID()
			e.log.Warn("location source error", "session_id", id, "error", err)
			e.bus.Publish(Event{Kind: EventSourceError, SessionID: id, At: e.now(), Error: err.Error()})
			if errors.Is(err, ErrPermissionDenied) {
				return err
			}
			continue
		}

		if _, err := e.Ingest(ctx, fix); err != nil {
			var perr *PersistenceError
			if errors.As(err, &perr) {
				// Tracking is degraded but the session stays open.
				continue
			}
			if errors.Is(err, ErrNoActiveSession) || errors.Is(err, ErrIllegalTransition) {
				return nil
			}
			return err
		}
	}
}

func (e *Engine) sessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return ""
	}
	return e.current.ID
}
