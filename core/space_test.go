package core_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putto11262002/studyroom/core"
	"github.com/putto11262002/studyroom/pkg/collabtest"
)

type spaceFixture struct {
	t       *testing.T
	service *collabtest.Service
	server  *httptest.Server
	wsURL   string
	spaces  []*core.Space
}

func setUpSpaceFixture(t *testing.T) *spaceFixture {
	f := &spaceFixture{t: t}
	f.service = collabtest.New(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	f.server = httptest.NewServer(f.service.Handler())
	f.wsURL = strings.Replace(f.server.URL, "http://", "ws://", 1) + "/ws"
	t.Cleanup(func() {
		for _, s := range f.spaces {
			s.Dispose()
		}
		f.service.Close()
		f.server.Close()
	})
	return f
}

func (f *spaceFixture) openSpace(roomID, userID, username string) *core.Space {
	s := core.NewSpace(core.SpaceConfig{
		RoomID:      roomID,
		UserID:      userID,
		Username:    username,
		RealtimeURL: f.wsURL,
	})
	require.NoError(f.t, s.Connect(context.Background()))
	f.spaces = append(f.spaces, s)
	return s
}

func (f *spaceFixture) waitForMembers(roomID string, n int) {
	require.Eventually(f.t, func() bool {
		return len(f.service.Hub().RoomMembers(roomID)) == n
	}, baseTimeout, baseTimeout/40, "timeout waiting for %d members in %s", n, roomID)
}

func TestSpaceChatLog(t *testing.T) {
	f := setUpSpaceFixture(t)

	alice := f.openSpace("room-1", "alice", "Alice")
	bob := f.openSpace("room-1", "bob", "Bob")
	f.waitForMembers("room-1", 2)

	require.NoError(t, alice.SendChat("hello"))
	require.Eventually(t, func() bool {
		return len(alice.Messages()) == 1 && len(bob.Messages()) == 1
	}, baseTimeout, baseTimeout/40, "first message did not land in both logs")

	require.NoError(t, bob.SendChat("hi back"))
	require.Eventually(t, func() bool {
		return len(alice.Messages()) == 2 && len(bob.Messages()) == 2
	}, baseTimeout, baseTimeout/40, "second message did not land in both logs")

	for _, s := range []*core.Space{alice, bob} {
		msgs := s.Messages()
		assert.Equal(t, "alice", msgs[0].SenderID)
		assert.Equal(t, "hello", msgs[0].Content)
		assert.Equal(t, "bob", msgs[1].SenderID)
		assert.Equal(t, "hi back", msgs[1].Content)
	}

	assert.True(t, core.IsKind(alice.SendChat(""), core.KindValidation))
}

func TestSpacePresence(t *testing.T) {
	f := setUpSpaceFixture(t)

	alice := f.openSpace("room-1", "alice", "Alice")
	f.waitForMembers("room-1", 1)

	bob := f.openSpace("room-1", "bob", "Bob")
	f.waitForMembers("room-1", 2)

	// alice sees bob arrive; bob gets the existing members replayed
	require.Eventually(t, func() bool {
		_, ok := alice.Online()["bob"]
		return ok
	}, baseTimeout, baseTimeout/40, "alice never saw bob online")
	require.Eventually(t, func() bool {
		return bob.Online()["alice"] == "Alice"
	}, baseTimeout, baseTimeout/40, "bob never saw alice online")

	bob.Dispose()
	require.Eventually(t, func() bool {
		_, ok := alice.Online()["bob"]
		return !ok
	}, baseTimeout, baseTimeout/40, "alice never saw bob go offline")
}

func TestSpaceTyping(t *testing.T) {
	f := setUpSpaceFixture(t)

	alice := f.openSpace("room-1", "alice", "Alice")
	bob := f.openSpace("room-1", "bob", "Bob")
	f.waitForMembers("room-1", 2)

	require.NoError(t, alice.SetTyping(true))
	// repeats with unchanged state are collapsed locally
	require.NoError(t, alice.SetTyping(true))

	require.Eventually(t, func() bool {
		typing := bob.Typing()
		return len(typing) == 1 && typing[0] == "alice"
	}, baseTimeout, baseTimeout/40, "bob never saw alice typing")

	// the typer's own set stays empty
	assert.Empty(t, alice.Typing())

	require.NoError(t, alice.SetTyping(false))
	require.Eventually(t, func() bool {
		return len(bob.Typing()) == 0
	}, baseTimeout, baseTimeout/40, "typing indicator never cleared")
}

func TestSpaceCallAnnouncements(t *testing.T) {
	f := setUpSpaceFixture(t)

	alice := f.openSpace("room-1", "alice", "Alice")
	bob := f.openSpace("room-1", "bob", "Bob")
	f.waitForMembers("room-1", 2)

	// announcements ride the same channel the call manager sends on
	require.NoError(t, alice.Channel().Send(core.CallStartedEvent, core.CallPayload{RoomID: "room-1"}))
	require.Eventually(t, func() bool {
		return bob.CallActive()
	}, baseTimeout, baseTimeout/40, "bob never saw the call start")

	require.NoError(t, alice.Channel().Send(core.CallEndedEvent, core.CallPayload{RoomID: "room-1"}))
	require.Eventually(t, func() bool {
		return !bob.CallActive()
	}, baseTimeout, baseTimeout/40, "bob never saw the call end")
}

func TestSpaceDisposeIdempotent(t *testing.T) {
	f := setUpSpaceFixture(t)

	alice := f.openSpace("room-1", "alice", "Alice")
	f.waitForMembers("room-1", 1)

	alice.Dispose()
	alice.Dispose()
	f.waitForMembers("room-1", 0)

	assert.ErrorIs(t, alice.SendChat("late"), core.ErrChannelClosed)
}
