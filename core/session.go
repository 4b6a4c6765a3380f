package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SessionState is the tracker state: idle or inside an active focus session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionActive
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionActive:
		return "active"
	default:
		return "unknown"
	}
}

// Session is one bounded period of tracked focus activity.
type Session struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
	// EndTime is the zero value while the session is active.
	EndTime  time.Time `json:"endTime,omitempty"`
	EarnedXP int       `json:"earnedXP"`
}

// SessionStats is the collaborator's aggregate over past sessions.
type SessionStats struct {
	TotalSessions      int   `json:"totalSessions"`
	TotalDuration      int64 `json:"totalDuration"`
	TotalXPEarned      int   `json:"totalXPEarned"`
	TotalInactiveTime  int64 `json:"totalInactiveTime"`
	TotalPomodoroCount int   `json:"totalPomodoroCount"`
	AverageDuration    int64 `json:"averageDuration"`
}

// SessionAPI is the collaborator contract for the session lifecycle.
type SessionAPI interface {
	// StartSession opens a session and returns its ID.
	StartSession(ctx context.Context, startTime time.Time) (string, error)
	// EndSession finalizes the session record with its end time and XP.
	EndSession(ctx context.Context, sessionID string, endTime time.Time, earnedXP int) error
	Stats(ctx context.Context) (*SessionStats, error)
	// Privileges returns the XP-derived caps, replacing the client-side
	// formula when reachable.
	Privileges(ctx context.Context) (*Privileges, error)
}

// ActivityKind is the class of user input observed by the tracker.
type ActivityKind string

const (
	ActivityPointerMove ActivityKind = "pointer_move"
	ActivityKeyPress    ActivityKind = "key_press"
	ActivityScroll      ActivityKind = "scroll"
	ActivityClick       ActivityKind = "click"
)

// ActivityEvent is one observed user input. Events raised from interactive
// form controls (inputs, buttons, selects) do not count as focus activity.
type ActivityEvent struct {
	Kind            ActivityKind
	FromFormControl bool
}

const (
	// ActivityDebounce collapses bursts of input into one activity update.
	ActivityDebounce = 100 * time.Millisecond
	// AccrualInterval is the cadence of XP grants during an active session.
	AccrualInterval = 5 * time.Minute
	// AccrualXP is granted per accrual interval.
	AccrualXP = 10
	// WatchdogInterval is how often inactivity is evaluated.
	WatchdogInterval = time.Minute
	// InactivityLimitMinutes of no qualifying input force the session to end.
	InactivityLimitMinutes = 10
)

// TrackerState is a snapshot for the UI.
type TrackerState struct {
	State           SessionState `json:"state"`
	SessionID       string       `json:"sessionId,omitempty"`
	EarnedXP        int          `json:"earnedXP"`
	InactiveMinutes int          `json:"inactiveMinutes"`
	LastActivity    time.Time    `json:"lastActivity"`
}

// Tracker owns the focus-session lifecycle: it opens and closes sessions
// against the collaborator API, converts wall-clock time into XP on a fixed
// cadence, and force-ends the session after prolonged inactivity. All
// periodic work hangs off Tick(now); Run drives Tick from a real ticker.
//
// Accrual failures against the XP sink are logged and skipped; the running
// total still advances. Only StartSession and EndSession surface errors.
type Tracker struct {
	mu sync.Mutex

	api    SessionAPI
	sink   XPSink
	clock  Clock
	logger *slog.Logger
	ctx    context.Context

	state           SessionState
	session         Session
	lastActivity    time.Time
	lastAccrual     time.Time
	lastWatchdog    time.Time
	inactiveMinutes int
	debounce        *Debouncer

	summaries chan Session
}

type TrackerOption func(*Tracker)

func WithTrackerClock(c Clock) TrackerOption {
	return func(t *Tracker) { t.clock = c }
}

func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

func NewTracker(ctx context.Context, api SessionAPI, sink XPSink, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		api:       api,
		sink:      sink,
		clock:     SystemClock,
		logger:    slog.Default(),
		ctx:       ctx,
		state:     SessionIdle,
		summaries: make(chan Session, 4),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.debounce = NewDebouncer(ActivityDebounce, t.flushActivity)
	return t
}

// Summaries delivers each ended session so the UI can show the XP summary.
func (t *Tracker) Summaries() <-chan Session {
	return t.summaries
}

// StartSession opens a new focus session. Fails with ErrSessionActive when
// one is already running.
func (t *Tracker) StartSession(ctx context.Context) error {
	t.mu.Lock()
	if t.state == SessionActive {
		t.mu.Unlock()
		return ErrSessionActive
	}
	t.mu.Unlock()

	now := t.clock.Now()
	id, err := t.api.StartSession(ctx, now)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == SessionActive {
		// lost the race to a concurrent start
		return ErrSessionActive
	}
	t.state = SessionActive
	t.session = Session{ID: id, StartTime: now}
	t.lastActivity = now
	t.lastAccrual = now
	t.lastWatchdog = now
	t.inactiveMinutes = 0
	t.debounce.Cancel()
	return nil
}

// EndSession closes the active session: it finalizes the record, pushes the
// earned XP to the sink (skipped at zero), and emits a summary. Fails with
// ErrNoSession when idle. The local transition to idle always completes;
// collaborator failures are reported but do not resurrect the session.
func (t *Tracker) EndSession(ctx context.Context) error {
	t.mu.Lock()
	if t.state != SessionActive {
		t.mu.Unlock()
		return ErrNoSession
	}
	t.state = SessionIdle
	ended := t.session
	ended.EndTime = t.clock.Now()
	t.session = Session{}
	t.inactiveMinutes = 0
	t.debounce.Cancel()
	t.mu.Unlock()

	var apiErr error
	if err := t.api.EndSession(ctx, ended.ID, ended.EndTime, ended.EarnedXP); err != nil {
		apiErr = fmt.Errorf("end session: %w", err)
	}
	if ended.EarnedXP > 0 {
		report := XPReport{XP: ended.EarnedXP, Source: XPSourceSession, SessionID: ended.ID}
		if err := t.sink.AddXP(ctx, report); err != nil {
			t.logger.Error(fmt.Sprintf("session xp: %v", err))
		}
	}

	select {
	case t.summaries <- ended:
	default:
		t.logger.Warn("session summary dropped")
	}
	return apiErr
}

// Observe records a user input event. Qualifying input resets the inactivity
// clock after the debounce window; input from form controls is ignored.
func (t *Tracker) Observe(ev ActivityEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SessionActive || ev.FromFormControl {
		return
	}
	t.debounce.Signal(t.clock.Now())
}

// flushActivity runs inside the tracker lock via Tick.
func (t *Tracker) flushActivity(now time.Time) {
	t.lastActivity = now
	t.inactiveMinutes = 0
}

// Tick advances the debouncer, the XP accrual schedule, and the inactivity
// watchdog to now.
func (t *Tracker) Tick(now time.Time) {
	t.mu.Lock()
	if t.state != SessionActive {
		t.mu.Unlock()
		return
	}

	t.debounce.Tick(now)

	grants := 0
	for !t.lastAccrual.Add(AccrualInterval).After(now) {
		t.lastAccrual = t.lastAccrual.Add(AccrualInterval)
		t.session.EarnedXP += AccrualXP
		grants++
	}
	sessionID := t.session.ID

	forceEnd := false
	for !t.lastWatchdog.Add(WatchdogInterval).After(now) {
		t.lastWatchdog = t.lastWatchdog.Add(WatchdogInterval)
		inactive := int(now.Sub(t.lastActivity) / time.Minute)
		if inactive >= InactivityLimitMinutes {
			forceEnd = true
			break
		}
		t.inactiveMinutes = inactive
	}
	t.mu.Unlock()

	for i := 0; i < grants; i++ {
		report := XPReport{XP: AccrualXP, Source: XPSourceSession, SessionID: sessionID}
		if err := t.sink.AddXP(t.ctx, report); err != nil {
			t.logger.Error(fmt.Sprintf("accrue xp: %v", err))
		}
	}

	if forceEnd {
		// Same path as a manual end. EndSession re-checks state, so a later
		// watchdog tick after the session ended is a no-op.
		if err := t.EndSession(t.ctx); err != nil && err != ErrNoSession {
			t.logger.Error(fmt.Sprintf("inactivity end: %v", err))
		}
	}
}

// State returns a snapshot of the tracker.
func (t *Tracker) State() TrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackerState{
		State:           t.state,
		SessionID:       t.session.ID,
		EarnedXP:        t.session.EarnedXP,
		InactiveMinutes: t.inactiveMinutes,
		LastActivity:    t.lastActivity,
	}
}

// Stats proxies the collaborator's session aggregate.
func (t *Tracker) Stats(ctx context.Context) (*SessionStats, error) {
	stats, err := t.api.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

// Run drives Tick off the wall clock until ctx is done. The tick period is
// well under the debounce window so coalesced activity flushes promptly.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Tick(now)
		}
	}
}
