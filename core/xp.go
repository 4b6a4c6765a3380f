package core

import "context"

const (
	// BaseParticipants is the room capacity every user gets regardless of XP.
	BaseParticipants = 4
	// ParticipantXPStep is the XP needed for each participant beyond the base.
	ParticipantXPStep = 300
)

// MaxAllowedParticipants returns the largest room capacity a user with the
// given XP may request: 4 + floor(xp/300). The collaborator's privileges
// endpoint takes precedence when it is reachable; this is the shared
// client-side fallback, also used by the UI to render the threshold hint.
func MaxAllowedParticipants(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return BaseParticipants + xp/ParticipantXPStep
}

// RequiredXPForParticipants returns the minimum XP total that allows a room
// with the given capacity. Used to populate capacity errors.
func RequiredXPForParticipants(n int) int {
	if n <= BaseParticipants {
		return 0
	}
	return (n - BaseParticipants) * ParticipantXPStep
}

// Privileges is the collaborator's XP-derived privilege set. When available
// it replaces the client-computed formula.
type Privileges struct {
	MaxParticipants int `json:"maxParticipants"`
	MaxSharedRooms  int `json:"maxSharedRooms"`
}

const (
	XPSourceSession  = "session"
	XPSourcePomodoro = "pomodoro"
)

// XPReport is one XP grant applied to the user's total.
type XPReport struct {
	XP        int    `json:"xp"`
	Source    string `json:"source"`
	SessionID string `json:"sessionId,omitempty"`
}

// XPSink applies earned XP to the user's total. Accrual paths treat sink
// failures as best-effort: logged and skipped, never surfaced.
type XPSink interface {
	AddXP(ctx context.Context, report XPReport) error
}
