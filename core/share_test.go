package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArtifactStore struct {
	mu        sync.Mutex
	items     map[ItemType][]ShareableItem
	createErr map[string]error
	creates   int
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{
		items:     make(map[ItemType][]ShareableItem),
		createErr: make(map[string]error),
	}
}

func (s *fakeArtifactStore) ListRoomItems(_ context.Context, _ string, t ItemType) ([]ShareableItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ShareableItem, len(s.items[t]))
	copy(out, s.items[t])
	return out, nil
}

func (s *fakeArtifactStore) CreateRoomItem(_ context.Context, _ string, item ShareableItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if err := s.createErr[item.NaturalKey()]; err != nil {
		return err
	}
	s.items[item.Type] = append(s.items[item.Type], item)
	return nil
}

type sharerFixture struct {
	store    *fakeArtifactStore
	registry *registryFixture
	sharer   *Sharer
	roomID   string
}

func setUpSharerFixture(t *testing.T) *sharerFixture {
	f := &sharerFixture{
		store:    newFakeArtifactStore(),
		registry: setUpRegistryFixture(t, "alice"),
	}
	room, err := f.registry.registry.CreateRoom(context.Background(),
		RoomCreateInput{Name: "study", MaxParticipants: 4})
	require.NoError(t, err)
	f.roomID = room.ID
	f.sharer = NewSharer(f.store, f.registry.registry)
	return f
}

func TestNaturalKeys(t *testing.T) {
	todo := ShareableItem{Type: ItemTodo, Content: "read chapter 3"}
	assert.Equal(t, "read chapter 3", todo.NaturalKey())

	material := ShareableItem{Type: ItemMaterial, Title: "lecture-notes.pdf"}
	assert.Equal(t, "lecture-notes.pdf", material.NaturalKey())

	// notes with the same title but different content are distinct
	a := ShareableItem{Type: ItemNote, Title: "summary", Content: "v1"}
	b := ShareableItem{Type: ItemNote, Title: "summary", Content: "v2"}
	assert.NotEqual(t, a.NaturalKey(), b.NaturalKey())
}

func TestShareItemsSkipsExistingDuplicates(t *testing.T) {
	f := setUpSharerFixture(t)
	ctx := context.Background()

	f.store.items[ItemTodo] = []ShareableItem{{Type: ItemTodo, Content: "read chapter 3"}}

	shared, err := f.sharer.ShareItems(ctx, f.roomID, []ShareableItem{
		{Type: ItemTodo, Content: "read chapter 3"},
		{Type: ItemTodo, Content: "solve problem set"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, shared)
	assert.Len(t, f.store.items[ItemTodo], 2)
}

func TestShareItemsSkipsDuplicatesWithinBatch(t *testing.T) {
	f := setUpSharerFixture(t)
	ctx := context.Background()

	shared, err := f.sharer.ShareItems(ctx, f.roomID, []ShareableItem{
		{Type: ItemTodo, Content: "read chapter 3"},
		{Type: ItemTodo, Content: "read chapter 3"},
		{Type: ItemNote, Title: "summary", Content: "v1"},
		{Type: ItemNote, Title: "summary", Content: "v2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, shared)
	assert.Len(t, f.store.items[ItemTodo], 1)
	assert.Len(t, f.store.items[ItemNote], 2)
}

func TestShareItemsBestEffort(t *testing.T) {
	f := setUpSharerFixture(t)
	ctx := context.Background()

	f.store.createErr["flaky"] = NewTransportError("collaborator hiccup", nil)

	shared, err := f.sharer.ShareItems(ctx, f.roomID, []ShareableItem{
		{Type: ItemTodo, Content: "flaky"},
		{Type: ItemTodo, Content: "stable"},
	})
	// the failed item is reported, the rest of the batch still lands
	require.Error(t, err)
	assert.Equal(t, 1, shared)
	assert.Len(t, f.store.items[ItemTodo], 1)
	assert.Equal(t, "stable", f.store.items[ItemTodo][0].Content)
}

func TestShareItemsUnknownRoom(t *testing.T) {
	f := setUpSharerFixture(t)

	_, err := f.sharer.ShareItems(context.Background(), "no-such-room",
		[]ShareableItem{{Type: ItemTodo, Content: "read chapter 3"}})
	assert.True(t, IsKind(err, KindNotFound))
}

func TestShareItemsEmptyBatch(t *testing.T) {
	f := setUpSharerFixture(t)

	shared, err := f.sharer.ShareItems(context.Background(), f.roomID, nil)
	require.NoError(t, err)
	assert.Zero(t, shared)
	assert.Zero(t, f.store.creates)
}
