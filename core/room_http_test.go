package core_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putto11262002/studyroom/core"
	"github.com/putto11262002/studyroom/pkg/collabtest"
)

type apiFixture struct {
	service *collabtest.Service
	server  *httptest.Server
	alice   *core.APIClient
	bob     *core.APIClient
}

func setUpAPIFixture(t *testing.T) *apiFixture {
	f := &apiFixture{}
	f.service = collabtest.New(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	f.server = httptest.NewServer(f.service.Handler())
	t.Cleanup(func() {
		f.service.Close()
		f.server.Close()
	})

	f.service.AddUser("alice", "Alice", 900)
	f.service.AddUser("bob", "Bob", 0)
	f.alice = core.NewAPIClient(f.server.URL, "alice")
	f.bob = core.NewAPIClient(f.server.URL, "bob")
	return f
}

func TestAPIClientRoomRoundtrip(t *testing.T) {
	f := setUpAPIFixture(t)
	ctx := context.Background()

	room, err := f.alice.CreateRoom(ctx, core.RoomCreateInput{
		Name:            "algebra study",
		Description:     "weekly problem sets",
		MaxParticipants: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", room.OwnerID)
	assert.Equal(t, 1, room.ParticipantCount)

	got, err := f.alice.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.Name, got.Name)

	updated, err := f.alice.UpdateRoom(ctx, room.ID, core.RoomUpdateInput{Name: "algebra II"})
	require.NoError(t, err)
	assert.Equal(t, "algebra II", updated.Name)

	rooms, err := f.alice.GetRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	require.NoError(t, f.alice.DeleteRoom(ctx, room.ID))
	_, err = f.alice.GetRoom(ctx, room.ID)
	assert.True(t, core.IsKind(err, core.KindNotFound))
}

func TestAPIClientErrorClassification(t *testing.T) {
	f := setUpAPIFixture(t)
	ctx := context.Background()

	room, err := f.alice.CreateRoom(ctx, core.RoomCreateInput{Name: "study", MaxParticipants: 4})
	require.NoError(t, err)

	// non-owner mutation -> permission
	_, err = f.bob.UpdateRoom(ctx, room.ID, core.RoomUpdateInput{Name: "renamed"})
	assert.True(t, core.IsKind(err, core.KindPermission))

	// unknown room -> not found
	_, err = f.alice.GetRoom(ctx, "no-such-room")
	assert.True(t, core.IsKind(err, core.KindNotFound))

	// short name -> validation
	_, err = f.alice.CreateRoom(ctx, core.RoomCreateInput{Name: "ab", MaxParticipants: 4})
	assert.True(t, core.IsKind(err, core.KindValidation))

	// over the XP cap -> capacity with the threshold attached
	_, err = f.bob.CreateRoom(ctx, core.RoomCreateInput{Name: "big room", MaxParticipants: 6})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindCapacity))
	var capErr *core.Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 600, capErr.RequiredXP)

	// bad token -> permission
	stranger := core.NewAPIClient(f.server.URL, "mallory")
	_, err = stranger.GetRooms(ctx)
	assert.True(t, core.IsKind(err, core.KindPermission))
}

func TestAPIClientInvitationFlow(t *testing.T) {
	f := setUpAPIFixture(t)
	ctx := context.Background()

	room, err := f.alice.CreateRoom(ctx, core.RoomCreateInput{Name: "study", MaxParticipants: 4})
	require.NoError(t, err)

	code, err := f.alice.GenerateInvitationCode(ctx, room.ID)
	require.NoError(t, err)
	require.NotEmpty(t, code)

	joined, err := f.bob.JoinRoomByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, room.ID, joined.ID)
	assert.Equal(t, 2, joined.ParticipantCount)

	_, err = f.bob.JoinRoomByCode(ctx, "bogus")
	assert.True(t, core.IsKind(err, core.KindNotFound))

	// regenerating invalidates the old code
	fresh, err := f.alice.GenerateInvitationCode(ctx, room.ID)
	require.NoError(t, err)
	require.NotEqual(t, code, fresh)
	_, err = f.bob.JoinRoomByCode(ctx, code)
	assert.True(t, core.IsKind(err, core.KindNotFound))

	require.NoError(t, f.bob.LeaveRoom(ctx, room.ID))
	got, ok := f.service.Room(room.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.ParticipantCount)
}

func TestAPIClientDirectInvitation(t *testing.T) {
	f := setUpAPIFixture(t)
	ctx := context.Background()

	room, err := f.alice.CreateRoom(ctx, core.RoomCreateInput{Name: "study", MaxParticipants: 4})
	require.NoError(t, err)

	require.NoError(t, f.alice.InviteUser(ctx, room.ID, "bob"))
	require.NoError(t, f.bob.AcceptInvitation(ctx, room.ID))

	rooms, err := f.bob.GetRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	// accepting without a pending invitation fails
	err = f.bob.AcceptInvitation(ctx, room.ID)
	assert.True(t, core.IsKind(err, core.KindNotFound))
}

func TestAPIClientSessionsAndXP(t *testing.T) {
	f := setUpAPIFixture(t)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Second)
	id, err := f.bob.StartSession(ctx, start)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, f.bob.EndSession(ctx, id, start.Add(10*time.Minute), 20))
	require.NoError(t, f.bob.AddXP(ctx, core.XPReport{XP: 20, Source: core.XPSourceSession, SessionID: id}))

	stats, err := f.bob.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, int64(600), stats.TotalDuration)
	assert.Equal(t, 20, stats.TotalXPEarned)

	// privileges move with XP
	priv, err := f.bob.Privileges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, priv.MaxParticipants)

	require.NoError(t, f.bob.AddXP(ctx, core.XPReport{XP: 280, Source: core.XPSourcePomodoro}))
	priv, err = f.bob.Privileges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, priv.MaxParticipants)

	stats, err = f.bob.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPomodoroCount)
}

func TestArtifactClientRoundtrip(t *testing.T) {
	f := setUpAPIFixture(t)
	ctx := context.Background()
	artifacts := core.NewArtifactClient(f.alice)

	room, err := f.alice.CreateRoom(ctx, core.RoomCreateInput{Name: "study", MaxParticipants: 4})
	require.NoError(t, err)

	require.NoError(t, artifacts.CreateRoomItem(ctx, room.ID, core.ShareableItem{
		Type: core.ItemTodo, Content: "read chapter 3",
	}))
	require.NoError(t, artifacts.CreateRoomItem(ctx, room.ID, core.ShareableItem{
		Type: core.ItemMaterial, Title: "lecture-notes.pdf",
	}))
	require.NoError(t, artifacts.CreateRoomItem(ctx, room.ID, core.ShareableItem{
		Type: core.ItemNote, Title: "summary", Content: "v1",
	}))

	todos, err := artifacts.ListRoomItems(ctx, room.ID, core.ItemTodo)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, "read chapter 3", todos[0].Content)
	assert.NotEmpty(t, todos[0].ID)

	materials, err := artifacts.ListRoomItems(ctx, room.ID, core.ItemMaterial)
	require.NoError(t, err)
	require.Len(t, materials, 1)
	assert.Equal(t, "lecture-notes.pdf", materials[0].Title)

	notes, err := artifacts.ListRoomItems(ctx, room.ID, core.ItemNote)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "v1", notes[0].Content)
}
