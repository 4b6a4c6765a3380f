package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeClock is a manually advanced clock shared by the timer and tracker
// tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type fakeSink struct {
	mu      sync.Mutex
	reports []XPReport
	err     error
}

func (s *fakeSink) AddXP(_ context.Context, report XPReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, report)
	return nil
}

func (s *fakeSink) Reports() []XPReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]XPReport, len(s.reports))
	copy(out, s.reports)
	return out
}

func (s *fakeSink) TotalBySource(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, r := range s.reports {
		if r.Source == source {
			total += r.XP
		}
	}
	return total
}

type endedSession struct {
	ID       string
	EndTime  time.Time
	EarnedXP int
}

type fakeSessionAPI struct {
	mu         sync.Mutex
	counter    int
	started    []string
	ended      []endedSession
	startErr   error
	endErr     error
	stats      SessionStats
	privileges *Privileges
	privErr    error
}

func (a *fakeSessionAPI) StartSession(_ context.Context, _ time.Time) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return "", a.startErr
	}
	a.counter++
	id := fmt.Sprintf("session-%d", a.counter)
	a.started = append(a.started, id)
	return id, nil
}

func (a *fakeSessionAPI) EndSession(_ context.Context, sessionID string, endTime time.Time, earnedXP int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.endErr != nil {
		return a.endErr
	}
	a.ended = append(a.ended, endedSession{ID: sessionID, EndTime: endTime, EarnedXP: earnedXP})
	return nil
}

func (a *fakeSessionAPI) Stats(_ context.Context) (*SessionStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := a.stats
	return &stats, nil
}

func (a *fakeSessionAPI) Privileges(_ context.Context) (*Privileges, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.privErr != nil {
		return nil, a.privErr
	}
	if a.privileges == nil {
		return nil, NewTransportError("privileges unavailable", nil)
	}
	p := *a.privileges
	return &p, nil
}

func (a *fakeSessionAPI) Ended() []endedSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]endedSession, len(a.ended))
	copy(out, a.ended)
	return out
}

// fakeRoomAPI is an in-memory RoomAPI for registry tests that do not need the
// full HTTP stack.
type fakeRoomAPI struct {
	mu      sync.Mutex
	counter int
	rooms   map[string]Room
	codes   map[string]string
	userID  string
}

func newFakeRoomAPI(userID string) *fakeRoomAPI {
	return &fakeRoomAPI{
		rooms:  make(map[string]Room),
		codes:  make(map[string]string),
		userID: userID,
	}
}

func (a *fakeRoomAPI) CreateRoom(_ context.Context, input RoomCreateInput) (*Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counter++
	room := Room{
		ID:               fmt.Sprintf("room-%d", a.counter),
		Name:             input.Name,
		Description:      input.Description,
		OwnerID:          a.userID,
		MaxParticipants:  input.MaxParticipants,
		ParticipantCount: 1,
		Participants:     []string{a.userID},
	}
	a.rooms[room.ID] = room
	return &room, nil
}

func (a *fakeRoomAPI) GetRooms(_ context.Context) ([]Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rooms := make([]Room, 0, len(a.rooms))
	for _, room := range a.rooms {
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (a *fakeRoomAPI) GetRoom(_ context.Context, roomID string) (*Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	room, ok := a.rooms[roomID]
	if !ok {
		return nil, NewNotFoundError("room not found")
	}
	return &room, nil
}

func (a *fakeRoomAPI) UpdateRoom(_ context.Context, roomID string, input RoomUpdateInput) (*Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	room, ok := a.rooms[roomID]
	if !ok {
		return nil, NewNotFoundError("room not found")
	}
	room.Name = input.Name
	room.Description = input.Description
	a.rooms[roomID] = room
	return &room, nil
}

func (a *fakeRoomAPI) DeleteRoom(_ context.Context, roomID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rooms[roomID]; !ok {
		return NewNotFoundError("room not found")
	}
	delete(a.rooms, roomID)
	return nil
}

func (a *fakeRoomAPI) JoinRoomByCode(_ context.Context, code string) (*Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	roomID, ok := a.codes[code]
	if !ok {
		return nil, NewNotFoundError("invalid invitation code")
	}
	room := a.rooms[roomID]
	return &room, nil
}

func (a *fakeRoomAPI) GenerateInvitationCode(_ context.Context, roomID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	code := fmt.Sprintf("code-%s", roomID)
	a.codes[code] = roomID
	return code, nil
}

func (a *fakeRoomAPI) InviteUser(_ context.Context, _, _ string) error { return nil }

func (a *fakeRoomAPI) AcceptInvitation(_ context.Context, _ string) error { return nil }

func (a *fakeRoomAPI) LeaveRoom(_ context.Context, roomID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.rooms, roomID)
	return nil
}

func (a *fakeRoomAPI) EnterRoom(_ context.Context, roomID string) (*Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	room, ok := a.rooms[roomID]
	if !ok {
		return nil, NewNotFoundError("room not found")
	}
	return &room, nil
}

// media fakes for the call session manager tests.

type fakeTrack struct {
	kind TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
	onEnded func()
}

func newFakeTrack(kind TrackKind) *fakeTrack {
	return &fakeTrack{kind: kind, enabled: true}
}

func (t *fakeTrack) Kind() TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTrack) OnEnded(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = f
}

// End simulates the source stopping the track externally.
func (t *fakeTrack) End() {
	t.mu.Lock()
	f := t.onEnded
	t.mu.Unlock()
	if f != nil {
		f()
	}
}

type fakeStream struct {
	tracks []*fakeTrack
}

func newFakeStream(kinds ...TrackKind) *fakeStream {
	s := &fakeStream{}
	for _, k := range kinds {
		s.tracks = append(s.tracks, newFakeTrack(k))
	}
	return s
}

func (s *fakeStream) Tracks() []MediaTrack {
	tracks := make([]MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		tracks[i] = t
	}
	return tracks
}

func (s *fakeStream) allStopped() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}

type fakeDevices struct {
	mu         sync.Mutex
	userErr    error
	displayErr error
	userStream *fakeStream
	display    *fakeStream
}

func (d *fakeDevices) GetUserMedia(_ context.Context, c MediaConstraints) (MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.userErr != nil {
		return nil, d.userErr
	}
	kinds := []TrackKind{}
	if c.Video {
		kinds = append(kinds, TrackVideo)
	}
	if c.Audio {
		kinds = append(kinds, TrackAudio)
	}
	d.userStream = newFakeStream(kinds...)
	return d.userStream, nil
}

func (d *fakeDevices) GetDisplayMedia(_ context.Context) (MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.displayErr != nil {
		return nil, d.displayErr
	}
	d.display = newFakeStream(TrackVideo)
	return d.display, nil
}
