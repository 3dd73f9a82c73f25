package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"backend-bravely/internal/shared/geo"

	"github.com/google/uuid"
)

// Settings configures the engine's timing rules and movement filter.
type Settings struct {
	Filter           FilterConfig
	StillnessWindow  time.Duration
	StalenessCeiling time.Duration
	BackgroundGap    time.Duration
	TickInterval     time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Filter:           DefaultFilterConfig(),
		StillnessWindow:  5 * time.Minute,
		StalenessCeiling: 24 * time.Hour,
		BackgroundGap:    2 * time.Minute,
		TickInterval:     time.Second,
	}
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithBus(b *Bus) Option {
	return func(e *Engine) { e.bus = b }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// Engine is the session state machine. It is the only writer of the current
// session and of the checkpoint store.
//
// persistMu serialises every store operation together with the decision that
// produced it, so no two ingests are ever in flight. mu guards the in-memory
// state and is never held across I/O, which lets End and Discard flip the
// phase while an ingest write is still running; the ingest then notices the
// generation change and does not commit.
type Engine struct {
	store    CheckpointStore
	recorder Recorder
	bus      *Bus
	log      *slog.Logger
	observer Observer
	now      func() time.Time
	newID    func() string
	settings Settings
	filter   Filter

	persistMu sync.Mutex

	mu         sync.Mutex
	phase      Phase
	gen        uint64
	current    *SessionSnapshot
	acc        geo.Accumulator
	lastSeenAt time.Time
	stillness  *StillnessDetector
	decision   *RecoveryDecision
	pending    *SessionSnapshot
	clearing   bool
	// handoffGen is the generation of the End currently recording, zero when
	// none is.
	handoffGen uint64
}

func NewEngine(store CheckpointStore, settings Settings, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		bus:      NewBus(),
		log:      slog.Default(),
		observer: nopObserver{},
		now:      time.Now,
		newID:    uuid.NewString,
		settings: settings,
		filter:   NewFilter(settings.Filter),
		phase:    PhasePendingRecovery,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.stillness = NewStillnessDetector(settings.StillnessWindow)
	return e
}

func (e *Engine) Bus() *Bus { return e.bus }

func (e *Engine) Settings() Settings { return e.settings }

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Snapshot returns a copy of the current session.
func (e *Engine) Snapshot() (SessionSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return SessionSnapshot{}, false
	}
	return e.current.Clone(), true
}

// Summary describes the current session as of now.
func (e *Engine) Summary() (Summary, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Summary{}, false
	}
	return Summarize(*e.current, e.now()), true
}

// Start creates a new session and persists it before reporting success.
func (e *Engine) Start(ctx context.Context, opts StartOptions) (SessionSnapshot, error) {
	if err := validateStart(opts); err != nil {
		return SessionSnapshot{}, err
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	if !e.phase.canStart() {
		err := opError("start", e.phase)
		e.mu.Unlock()
		return SessionSnapshot{}, err
	}
	if e.clearing {
		e.mu.Unlock()
		return SessionSnapshot{}, &TransitionError{Op: "start", From: e.phase}
	}
	now := e.now().UTC()
	snap := SessionSnapshot{
		ID:              e.newID(),
		SessionType:     opts.SessionType,
		StartedAt:       now,
		State:           StateActive,
		Route:           []RoutePoint{},
		LastAcceptedAt:  now,
		FearLevelBefore: opts.FearLevelBefore,
		MoodBefore:      opts.MoodBefore,
	}
	var acc geo.Accumulator
	if opts.FirstFix != nil {
		fix := normalize(*opts.FirstFix)
		d := e.filter.Evaluate(fix, nil, time.Time{})
		if d.Accepted {
			p := pointFromFix(fix)
			snap.Route = append(snap.Route, p)
			snap.LastAcceptedAt = p.CapturedAt
			acc.Add(p.Coordinate())
		} else {
			e.log.Debug("first fix rejected", "reason", d.Reason, "accuracy_m", fix.AccuracyMeters)
			e.observer.FixProcessed(string(d.Reason))
		}
	}
	prev := e.phase
	e.phase = PhaseStarting
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	err := e.save(ctx, "start", snap)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return SessionSnapshot{}, fmt.Errorf("start: discarded while starting: %w", ErrNoActiveSession)
	}
	if err != nil {
		e.phase = prev
		return SessionSnapshot{}, err
	}
	e.current = &snap
	e.acc = acc
	e.phase = PhaseActive
	e.lastSeenAt = lastFixTime(snap)
	e.stillness.Reset(snap.LastAcceptedAt)
	if len(snap.Route) > 0 {
		e.observer.FixProcessed("accepted")
	}

	e.log.Info("session started", "session_id", snap.ID, "type", snap.SessionType, "anchored", len(snap.Route) > 0)
	e.bus.Publish(Event{Kind: EventSessionStarted, SessionID: snap.ID, At: now})
	return snap.Clone(), nil
}

// IngestResult reports what happened to one fix. A rejected fix is not an
// error.
type IngestResult struct {
	Accepted            bool         `json:"accepted"`
	Reason              RejectReason `json:"reason,omitempty"`
	Reanchored          bool         `json:"reanchored,omitempty"`
	DistanceMeters      float64      `json:"distance_m"`
	TotalDistanceMeters float64      `json:"total_distance_m"`
	PointCount          int          `json:"point_count"`
}

// Ingest runs fix through the movement filter. An accepted fix is reported
// only after its checkpoint write has been acknowledged; if the write fails
// the point is dropped and a *PersistenceError is returned.
func (e *Engine) Ingest(ctx context.Context, fix GeoFix) (IngestResult, error) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	fix = normalize(fix)

	e.mu.Lock()
	if !e.phase.tracking() {
		err := opError("ingest", e.phase)
		e.mu.Unlock()
		return IngestResult{}, err
	}
	cur := e.current
	d := e.filter.Evaluate(fix, cur.lastPoint(), e.lastSeenAt)
	if !d.Accepted {
		if d.Reason != RejectOutOfOrder && d.Reason != RejectInvalid {
			e.observe(fix.CapturedAt)
		}
		res := IngestResult{Reason: d.Reason, DistanceMeters: d.DistanceMeters, TotalDistanceMeters: cur.TotalDistanceMeters, PointCount: len(cur.Route)}
		id := cur.ID
		e.mu.Unlock()
		e.log.Debug("fix rejected", "session_id", id, "reason", d.Reason, "accuracy_m", fix.AccuracyMeters, "moved_m", d.DistanceMeters)
		e.observer.FixProcessed(string(d.Reason))
		e.bus.Publish(Event{Kind: EventFixRejected, SessionID: id, At: fix.CapturedAt, Reason: string(d.Reason), DistanceMeters: d.DistanceMeters})
		return res, nil
	}

	p := pointFromFix(fix)
	acc := e.acc
	added := 0.0
	if d.Reanchored || len(cur.Route) == 0 {
		acc.Anchor(p.Coordinate())
	} else {
		added = acc.Add(p.Coordinate())
	}

	next := *cur
	// The route is append-only and only this goroutine appends, so the
	// backing array may be shared with cur without cur observing the new
	// element.
	next.Route = append(cur.Route, p)
	next.TotalDistanceMeters = acc.Total()
	next.LastAcceptedAt = p.CapturedAt
	next.State = StateActive
	if d.Reanchored {
		next.WasInterrupted = true
	}
	gen := e.gen
	e.mu.Unlock()

	if err := e.save(ctx, "ingest", next); err != nil {
		return IngestResult{}, err
	}

	e.mu.Lock()
	if e.gen != gen {
		phase := e.phase
		e.mu.Unlock()
		return IngestResult{}, fmt.Errorf("ingest: session %s while writing: %w", phase, ErrNoActiveSession)
	}
	e.current = &next
	e.acc = acc
	e.phase = PhaseActive
	e.observe(p.CapturedAt)
	e.stillness.Reset(p.CapturedAt)
	e.mu.Unlock()

	outcome := "accepted"
	if d.Reanchored {
		outcome = "reanchored"
		e.log.Info("re-anchored after gap", "session_id", next.ID)
		e.bus.Publish(Event{Kind: EventInterrupted, SessionID: next.ID, At: p.CapturedAt, Reason: "gap", TotalDistanceMeters: next.TotalDistanceMeters})
	}
	e.observer.FixProcessed(outcome)
	e.bus.Publish(Event{Kind: EventFixAccepted, SessionID: next.ID, At: p.CapturedAt, Point: &p, DistanceMeters: added, TotalDistanceMeters: next.TotalDistanceMeters})

	return IngestResult{
		Accepted:            true,
		Reanchored:          d.Reanchored,
		DistanceMeters:      added,
		TotalDistanceMeters: next.TotalDistanceMeters,
		PointCount:          len(next.Route),
	}, nil
}

// observe advances the newest capture time seen. Callers hold mu.
func (e *Engine) observe(at time.Time) {
	if at.After(e.lastSeenAt) {
		e.lastSeenAt = at
	}
}

// MarkInterrupted flags the session as resumed after a background gap. The
// next accepted fix returns the phase to Active; the flag stays set.
func (e *Engine) MarkInterrupted(ctx context.Context) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	if !e.phase.tracking() {
		err := opError("mark interrupted", e.phase)
		e.mu.Unlock()
		return err
	}
	next := *e.current
	next.WasInterrupted = true
	next.State = StateInterrupted
	gen := e.gen
	e.mu.Unlock()

	if err := e.save(ctx, "interrupt", next); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return fmt.Errorf("mark interrupted: %w", ErrNoActiveSession)
	}
	e.current = &next
	e.phase = PhaseInterrupted
	e.log.Info("session interrupted", "session_id", next.ID)
	e.bus.Publish(Event{Kind: EventInterrupted, SessionID: next.ID, At: e.now(), Reason: "signal", TotalDistanceMeters: next.TotalDistanceMeters})
	return nil
}

// End finalises the session, hands it to the recorder and clears the
// checkpoint. If recording fails the session stays in Ending with its
// checkpoint intact so End can be retried or the session discarded. A second
// End while the first is still handing off fails with a *TransitionError.
func (e *Engine) End(ctx context.Context) (FinishedSession, error) {
	e.mu.Lock()
	if !e.phase.tracking() && e.phase != PhaseEnding {
		err := opError("end", e.phase)
		e.mu.Unlock()
		return FinishedSession{}, err
	}
	if e.handoffGen != 0 && e.handoffGen == e.gen {
		e.mu.Unlock()
		return FinishedSession{}, &TransitionError{Op: "end", From: PhaseEnding}
	}
	ending := *e.current
	ending.State = StateEnding
	if ending.EndedAt.IsZero() {
		ending.EndedAt = e.now().UTC()
	}
	e.phase = PhaseEnding
	e.gen++
	gen := e.gen
	e.handoffGen = gen
	e.current = &ending
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.handoffGen == gen {
			e.handoffGen = 0
		}
		e.mu.Unlock()
	}()

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	if err := e.save(ctx, "end", ending); err != nil {
		// The previous checkpoint still holds the session; recording can go ahead.
		e.log.Warn("could not checkpoint ending session", "session_id", ending.ID, "error", err)
	}

	finished := finish(ending)
	if e.recorder != nil {
		if err := e.recorder.Record(ctx, finished); err != nil {
			e.log.Error("recording finished session failed", "session_id", ending.ID, "error", err)
			return FinishedSession{}, fmt.Errorf("%w: %v", ErrRecordingFailed, err)
		}
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return FinishedSession{}, fmt.Errorf("end: %w", ErrNoActiveSession)
	}
	e.phase = PhaseClosed
	e.current = nil
	e.mu.Unlock()

	e.observer.SessionClosed("ended")
	e.bus.Publish(Event{Kind: EventSessionEnded, SessionID: ending.ID, At: ending.EndedAt, TotalDistanceMeters: ending.TotalDistanceMeters})

	if err := e.clearStore(ctx); err != nil {
		e.log.Error("clearing checkpoint after end failed", "session_id", ending.ID, "error", err)
		return finished, err
	}

	e.mu.Lock()
	if e.phase == PhaseClosed {
		e.phase = PhaseIdle
	}
	e.mu.Unlock()
	e.log.Info("session ended", "session_id", ending.ID, "points", len(ending.Route), "distance_m", ending.TotalDistanceMeters)
	return finished, nil
}

// Discard drops the current or pending session without recording it.
func (e *Engine) Discard(ctx context.Context) error {
	e.mu.Lock()
	if e.phase == PhaseIdle {
		e.mu.Unlock()
		return fmt.Errorf("discard: %w", ErrNoActiveSession)
	}
	id := ""
	if e.current != nil {
		id = e.current.ID
	} else if e.pending != nil {
		id = e.pending.ID
	}
	e.phase = PhaseDiscarded
	e.gen++
	e.current = nil
	e.pending = nil
	e.clearing = true
	e.mu.Unlock()

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	err := e.clearStore(ctx)
	e.mu.Lock()
	e.clearing = false
	if err != nil {
		e.mu.Unlock()
		e.log.Error("clearing discarded checkpoint failed", "session_id", id, "error", err)
		return err
	}
	if e.phase == PhaseDiscarded {
		e.phase = PhaseIdle
	}
	e.mu.Unlock()

	e.observer.SessionClosed("discarded")
	e.log.Info("session discarded", "session_id", id)
	e.bus.Publish(Event{Kind: EventSessionDiscarded, SessionID: id, At: e.now(), Reason: "user"})
	return nil
}

// AcknowledgeEndPrompt records that the user answered an end prompt by
// choosing to keep going.
func (e *Engine) AcknowledgeEndPrompt() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.phase.tracking() {
		return opError("acknowledge prompt", e.phase)
	}
	e.stillness.Acknowledge(e.now())
	return nil
}

// Tick evaluates the stillness rule and publishes elapsed time. It is driven
// by Run but may be called directly.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	if !e.phase.tracking() || e.current == nil {
		e.mu.Unlock()
		return
	}
	id := e.current.ID
	elapsed := now.Sub(e.current.StartedAt)
	total := e.current.TotalDistanceMeters
	prompt := e.stillness.Check(now)
	e.mu.Unlock()

	if prompt {
		e.log.Info("stillness window elapsed", "session_id", id)
		e.bus.Publish(Event{Kind: EventEndPrompt, SessionID: id, At: now, TotalDistanceMeters: total, ElapsedSeconds: int64(elapsed.Seconds()), Elapsed: FormatElapsed(elapsed)})
	}
	e.bus.Publish(Event{Kind: EventTick, SessionID: id, At: now, TotalDistanceMeters: total, ElapsedSeconds: int64(elapsed.Seconds()), Elapsed: FormatElapsed(elapsed)})
}

// Run drives Tick on the configured interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	interval := e.settings.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(e.now())
		}
	}
}

func (e *Engine) save(ctx context.Context, op string, snap SessionSnapshot) error {
	start := time.Now()
	err := e.store.Save(ctx, snap)
	e.observer.CheckpointWritten(op, time.Since(start), err)
	if err != nil {
		e.log.Error("checkpoint write failed", "op", op, "session_id", snap.ID, "error", err)
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (e *Engine) clearStore(ctx context.Context) error {
	start := time.Now()
	err := e.store.Clear(ctx)
	e.observer.CheckpointWritten("clear", time.Since(start), err)
	if err != nil {
		return &PersistenceError{Op: "clear", Err: err}
	}
	return nil
}

func validateStart(opts StartOptions) error {
	if opts.SessionType == "" {
		return fmt.Errorf("%w: session type required", ErrInvalidStart)
	}
	if opts.FearLevelBefore < 0 || opts.FearLevelBefore > 10 {
		return fmt.Errorf("%w: fear level must be 1-10", ErrInvalidStart)
	}
	if opts.MoodBefore < 0 || opts.MoodBefore > 10 {
		return fmt.Errorf("%w: mood must be 1-10", ErrInvalidStart)
	}
	return nil
}

// lastFixTime is the ordering reference for the next fix. An empty route has
// none, so a fix captured just before the session started is still usable.
func lastFixTime(snap SessionSnapshot) time.Time {
	if last := snap.lastPoint(); last != nil {
		return last.CapturedAt
	}
	return time.Time{}
}

func normalize(fix GeoFix) GeoFix {
	fix.CapturedAt = fix.CapturedAt.UTC()
	return fix
}
