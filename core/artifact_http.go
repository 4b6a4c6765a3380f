package core

import (
	"context"
	"fmt"
	"net/http"
)

// ArtifactClient is the HTTP ArtifactStore. Todos, materials, and notes each
// keep their own wire shape; this client folds them into ShareableItem.
type ArtifactClient struct {
	api *APIClient
}

func NewArtifactClient(api *APIClient) *ArtifactClient {
	return &ArtifactClient{api: api}
}

type todoWire struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	RoomID    string `json:"roomId,omitempty"`
	IsShared  bool   `json:"isShared"`
	Completed bool   `json:"completed"`
}

type materialWire struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	RoomID   string `json:"roomId,omitempty"`
	IsShared bool   `json:"isShared"`
}

type noteWire struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	RoomID   string `json:"roomId,omitempty"`
	IsShared bool   `json:"isShared"`
}

func (c *ArtifactClient) ListRoomItems(ctx context.Context, roomID string, t ItemType) ([]ShareableItem, error) {
	switch t {
	case ItemTodo:
		var res struct {
			Todos []todoWire `json:"todos"`
		}
		if err := c.api.do(ctx, http.MethodGet, "/rooms/"+roomID+"/todos", nil, &res); err != nil {
			return nil, err
		}
		items := make([]ShareableItem, 0, len(res.Todos))
		for _, td := range res.Todos {
			items = append(items, ShareableItem{ID: td.ID, Type: ItemTodo, Content: td.Text})
		}
		return items, nil
	case ItemMaterial:
		var res struct {
			Materials []materialWire `json:"materials"`
		}
		if err := c.api.do(ctx, http.MethodGet, "/rooms/"+roomID+"/materials", nil, &res); err != nil {
			return nil, err
		}
		items := make([]ShareableItem, 0, len(res.Materials))
		for _, m := range res.Materials {
			items = append(items, ShareableItem{ID: m.ID, Type: ItemMaterial, Title: m.Name})
		}
		return items, nil
	case ItemNote:
		var res struct {
			Notes []noteWire `json:"notes"`
		}
		if err := c.api.do(ctx, http.MethodGet, "/rooms/"+roomID+"/notes", nil, &res); err != nil {
			return nil, err
		}
		items := make([]ShareableItem, 0, len(res.Notes))
		for _, n := range res.Notes {
			items = append(items, ShareableItem{ID: n.ID, Type: ItemNote, Title: n.Title, Content: n.Content})
		}
		return items, nil
	default:
		return nil, NewValidationError(fmt.Sprintf("unknown item type %q", t))
	}
}

func (c *ArtifactClient) CreateRoomItem(ctx context.Context, roomID string, item ShareableItem) error {
	switch item.Type {
	case ItemTodo:
		return c.api.do(ctx, http.MethodPost, "/todos", todoWire{
			Text:     item.Content,
			RoomID:   roomID,
			IsShared: true,
		}, nil)
	case ItemMaterial:
		return c.api.do(ctx, http.MethodPost, "/materials", materialWire{
			Name:     item.Title,
			RoomID:   roomID,
			IsShared: true,
		}, nil)
	case ItemNote:
		return c.api.do(ctx, http.MethodPost, "/notes", noteWire{
			Title:    item.Title,
			Content:  item.Content,
			RoomID:   roomID,
			IsShared: true,
		}, nil)
	default:
		return NewValidationError(fmt.Sprintf("unknown item type %q", item.Type))
	}
}
