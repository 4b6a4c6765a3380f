package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ItemType classifies a shareable artifact.
type ItemType string

const (
	ItemTodo     ItemType = "todo"
	ItemMaterial ItemType = "material"
	ItemNote     ItemType = "note"
)

// ShareableItem is one artifact to copy into a room. Exactly the fields for
// its type are meaningful: Content for todos, Title for materials, Title and
// Content for notes.
type ShareableItem struct {
	ID      string   `json:"id,omitempty"`
	Type    ItemType `json:"type"`
	Title   string   `json:"title,omitempty"`
	Content string   `json:"content,omitempty"`
}

// NaturalKey is the identity used for duplicate suppression within a room:
// todos by text, materials by name, notes by title and content together.
func (it ShareableItem) NaturalKey() string {
	switch it.Type {
	case ItemTodo:
		return it.Content
	case ItemNote:
		return it.Title + "\x00" + it.Content
	default:
		return it.Title
	}
}

// ArtifactStore is the collaborator contract for a room's shared artifacts.
type ArtifactStore interface {
	ListRoomItems(ctx context.Context, roomID string, t ItemType) ([]ShareableItem, error)
	CreateRoomItem(ctx context.Context, roomID string, item ShareableItem) error
}

// Sharer copies personal artifacts into a room, skipping ones the room
// already holds. Sharing is a copy: later edits to the original do not
// propagate.
type Sharer struct {
	store    ArtifactStore
	registry *Registry
	logger   *slog.Logger
}

type SharerOption func(*Sharer)

func WithSharerLogger(l *slog.Logger) SharerOption {
	return func(s *Sharer) { s.logger = l }
}

func NewSharer(store ArtifactStore, registry *Registry, opts ...SharerOption) *Sharer {
	s := &Sharer{
		store:    store,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShareItems copies the given items into the room, suppressing duplicates by
// natural key against both the room's existing items and earlier items in the
// same batch. Best effort: a failed item is logged and skipped, the rest of
// the batch proceeds. Returns the number of items actually created and the
// joined per-item errors, if any. The room's state is refreshed afterwards so
// the caller sees the additions.
func (s *Sharer) ShareItems(ctx context.Context, roomID string, items []ShareableItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	if _, ok := s.registry.Room(roomID); !ok {
		return 0, NewNotFoundError("room not found")
	}

	// seen carries the room's existing natural keys per type, fetched lazily,
	// plus keys written earlier in this batch.
	seen := make(map[ItemType]map[string]struct{})
	shared := 0
	var errs []error
	for _, item := range items {
		keys, ok := seen[item.Type]
		if !ok {
			existing, err := s.store.ListRoomItems(ctx, roomID, item.Type)
			if err != nil {
				errs = append(errs, fmt.Errorf("list %ss: %w", item.Type, err))
				s.logger.Error(fmt.Sprintf("list room %ss: %v", item.Type, err))
				seen[item.Type] = make(map[string]struct{})
				keys = seen[item.Type]
			} else {
				keys = make(map[string]struct{}, len(existing))
				for _, e := range existing {
					keys[e.NaturalKey()] = struct{}{}
				}
				seen[item.Type] = keys
			}
		}
		key := item.NaturalKey()
		if _, dup := keys[key]; dup {
			s.logger.Debug(fmt.Sprintf("skipping duplicate %s in room %s", item.Type, roomID))
			continue
		}
		if err := s.store.CreateRoomItem(ctx, roomID, item); err != nil {
			errs = append(errs, fmt.Errorf("share %s: %w", item.Type, err))
			s.logger.Error(fmt.Sprintf("share %s into room %s: %v", item.Type, roomID, err))
			continue
		}
		keys[key] = struct{}{}
		shared++
	}

	if err := s.registry.Refresh(ctx); err != nil {
		s.logger.Error(fmt.Sprintf("refresh after sharing: %v", err))
	}
	return shared, errors.Join(errs...)
}
