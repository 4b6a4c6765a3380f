package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TimerMode is the pomodoro state: idle, counting down work, or counting
// down break.
type TimerMode int

const (
	TimerIdle TimerMode = iota
	TimerWork
	TimerBreak
)

func (m TimerMode) String() string {
	switch m {
	case TimerIdle:
		return "idle"
	case TimerWork:
		return "work"
	case TimerBreak:
		return "break"
	default:
		return "unknown"
	}
}

const (
	// BreakBonusXP is granted when a full work+break cycle completes while a
	// study session is active.
	BreakBonusXP = 30

	DefaultWorkMinutes  = 25
	DefaultBreakMinutes = 5
)

const (
	NoticeWorkComplete  = "Work session completed! Starting break..."
	NoticeBreakComplete = "Break completed! Ready for next session."
	NoticeTimerStopped  = "Timer stopped. No XP earned."
)

// TimerNotification is delivered when a countdown phase completes or the
// timer is stopped.
type TimerNotification struct {
	Mode    TimerMode `json:"mode"`
	Message string    `json:"message"`
}

// TimerState is a snapshot of the countdown for the UI.
type TimerState struct {
	Mode             TimerMode `json:"mode"`
	RemainingSeconds int       `json:"remainingSeconds"`
	WorkMinutes      int       `json:"workMinutes"`
	BreakMinutes     int       `json:"breakMinutes"`
}

// Timer is the pomodoro work/break countdown state machine:
// idle -> work -> break -> idle. It is driven by Tick(now); each whole
// elapsed second decrements the countdown. Completing the break grants a
// flat XP bonus through the sink when a session is active. The break does
// not restart work automatically; the user starts the next cycle.
type Timer struct {
	mu sync.Mutex

	mode         TimerMode
	remaining    int
	workMinutes  int
	breakMinutes int
	lastTick     time.Time

	sink          XPSink
	sessionActive func() bool
	clock         Clock
	logger        *slog.Logger
	ctx           context.Context

	notifications chan TimerNotification
}

type TimerOption func(*Timer)

func WithTimerClock(c Clock) TimerOption {
	return func(t *Timer) { t.clock = c }
}

func WithTimerLogger(l *slog.Logger) TimerOption {
	return func(t *Timer) { t.logger = l }
}

// NewTimer builds an idle timer. sessionActive reports whether a study
// session is running at break completion; it gates the XP bonus.
func NewTimer(ctx context.Context, sink XPSink, sessionActive func() bool, opts ...TimerOption) *Timer {
	t := &Timer{
		mode:          TimerIdle,
		sink:          sink,
		sessionActive: sessionActive,
		clock:         SystemClock,
		logger:        slog.Default(),
		ctx:           ctx,
		notifications: make(chan TimerNotification, 8),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Notifications delivers phase-completion and stop notices. The channel is
// buffered; notices are dropped with a log line if the consumer lags.
func (t *Timer) Notifications() <-chan TimerNotification {
	return t.notifications
}

// Start begins a work countdown. It is valid only from idle; starting a
// running timer returns ErrTimerRunning rather than stacking a second
// countdown.
func (t *Timer) Start(workMinutes, breakMinutes int) error {
	if workMinutes <= 0 || breakMinutes <= 0 {
		return NewValidationError("work and break minutes must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode != TimerIdle {
		return ErrTimerRunning
	}
	t.workMinutes = workMinutes
	t.breakMinutes = breakMinutes
	t.remaining = workMinutes * 60
	t.mode = TimerWork
	t.lastTick = t.clock.Now()
	return nil
}

// Stop cancels the countdown from work or break and returns to idle without
// granting the break bonus.
func (t *Timer) Stop() error {
	t.mu.Lock()
	if t.mode == TimerIdle {
		t.mu.Unlock()
		return ErrTimerIdle
	}
	t.mode = TimerIdle
	t.remaining = 0
	t.mu.Unlock()
	t.notify(TimerNotification{Mode: TimerIdle, Message: NoticeTimerStopped})
	return nil
}

// Tick advances the countdown to now, stepping one second at a time so
// phase transitions land on their exact offsets even when ticks arrive late.
func (t *Timer) Tick(now time.Time) {
	t.mu.Lock()
	if t.mode == TimerIdle {
		t.lastTick = now
		t.mu.Unlock()
		return
	}

	var notices []TimerNotification
	grantBonus := false
	for !t.lastTick.Add(time.Second).After(now) {
		t.lastTick = t.lastTick.Add(time.Second)
		if t.mode == TimerIdle {
			continue
		}
		t.remaining--
		if t.remaining > 0 {
			continue
		}
		switch t.mode {
		case TimerWork:
			notices = append(notices, TimerNotification{Mode: TimerWork, Message: NoticeWorkComplete})
			t.mode = TimerBreak
			t.remaining = t.breakMinutes * 60
		case TimerBreak:
			notices = append(notices, TimerNotification{Mode: TimerBreak, Message: NoticeBreakComplete})
			t.mode = TimerIdle
			t.remaining = 0
			if t.sessionActive != nil && t.sessionActive() {
				grantBonus = true
			}
		}
	}
	t.mu.Unlock()

	for _, n := range notices {
		t.notify(n)
	}
	if grantBonus {
		t.grantBonus()
	}
}

// grantBonus pushes the pomodoro bonus to the sink. Best effort: a sink
// failure is logged, never surfaced.
func (t *Timer) grantBonus() {
	if t.sink == nil {
		return
	}
	report := XPReport{XP: BreakBonusXP, Source: XPSourcePomodoro}
	if err := t.sink.AddXP(t.ctx, report); err != nil {
		t.logger.Error(fmt.Sprintf("pomodoro bonus: %v", err))
	}
}

func (t *Timer) notify(n TimerNotification) {
	select {
	case t.notifications <- n:
	default:
		t.logger.Warn(fmt.Sprintf("timer notification dropped: %s", n.Message))
	}
}

// State returns a snapshot of the countdown.
func (t *Timer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TimerState{
		Mode:             t.mode,
		RemainingSeconds: t.remaining,
		WorkMinutes:      t.workMinutes,
		BreakMinutes:     t.breakMinutes,
	}
}

// Run drives the countdown off the wall clock until ctx is done.
func (t *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
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

// FormatClock renders seconds as MM:SS for the countdown display.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
