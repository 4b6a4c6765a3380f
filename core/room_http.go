package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIClient talks to the collaborator's REST surface. It implements RoomAPI,
// SessionAPI, and XPSink; the collaborator stays the source of truth and this
// client only translates calls and classifies failures.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

type APIClientOption func(*APIClient)

func WithHTTPClient(c *http.Client) APIClientOption {
	return func(a *APIClient) { a.http = c }
}

func NewAPIClient(baseURL, token string, opts ...APIClientOption) *APIClient {
	a := &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type apiErrorBody struct {
	Error      string `json:"error"`
	RequiredXP int    `json:"requiredXP"`
}

// do issues one authenticated request and decodes the response into out when
// out is non-nil. Non-2xx statuses map onto the classified error kinds.
func (a *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := a.http.Do(req)
	if err != nil {
		return NewTransportError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return classifyStatus(res)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func classifyStatus(res *http.Response) error {
	var body apiErrorBody
	json.NewDecoder(res.Body).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = res.Status
	}
	switch res.StatusCode {
	case http.StatusBadRequest:
		return NewValidationError(msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewPermissionError(msg)
	case http.StatusNotFound:
		return NewNotFoundError(msg)
	case http.StatusConflict:
		return NewCapacityError(msg, body.RequiredXP)
	default:
		return NewTransportError(msg, nil)
	}
}

type roomResponse struct {
	Room Room `json:"room"`
}

type roomsResponse struct {
	Rooms []Room `json:"rooms"`
}

func (a *APIClient) CreateRoom(ctx context.Context, input RoomCreateInput) (*Room, error) {
	var res roomResponse
	if err := a.do(ctx, http.MethodPost, "/rooms", input, &res); err != nil {
		return nil, err
	}
	return &res.Room, nil
}

func (a *APIClient) GetRooms(ctx context.Context) ([]Room, error) {
	var res roomsResponse
	if err := a.do(ctx, http.MethodGet, "/rooms", nil, &res); err != nil {
		return nil, err
	}
	return res.Rooms, nil
}

func (a *APIClient) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	var res roomResponse
	if err := a.do(ctx, http.MethodGet, "/rooms/"+roomID, nil, &res); err != nil {
		return nil, err
	}
	return &res.Room, nil
}

func (a *APIClient) UpdateRoom(ctx context.Context, roomID string, input RoomUpdateInput) (*Room, error) {
	var res roomResponse
	if err := a.do(ctx, http.MethodPut, "/rooms/"+roomID, input, &res); err != nil {
		return nil, err
	}
	return &res.Room, nil
}

func (a *APIClient) DeleteRoom(ctx context.Context, roomID string) error {
	return a.do(ctx, http.MethodDelete, "/rooms/"+roomID, nil, nil)
}

func (a *APIClient) JoinRoomByCode(ctx context.Context, code string) (*Room, error) {
	var res roomResponse
	body := map[string]string{"invitationCode": code}
	if err := a.do(ctx, http.MethodPost, "/rooms/join", body, &res); err != nil {
		return nil, err
	}
	return &res.Room, nil
}

func (a *APIClient) GenerateInvitationCode(ctx context.Context, roomID string) (string, error) {
	var res struct {
		InvitationCode string `json:"invitationCode"`
	}
	if err := a.do(ctx, http.MethodPost, "/rooms/"+roomID+"/invitation-code", nil, &res); err != nil {
		return "", err
	}
	return res.InvitationCode, nil
}

func (a *APIClient) InviteUser(ctx context.Context, roomID, userID string) error {
	body := map[string]string{"userId": userID}
	return a.do(ctx, http.MethodPost, "/rooms/"+roomID+"/invite", body, nil)
}

func (a *APIClient) AcceptInvitation(ctx context.Context, roomID string) error {
	return a.do(ctx, http.MethodPost, "/rooms/"+roomID+"/accept", nil, nil)
}

func (a *APIClient) LeaveRoom(ctx context.Context, roomID string) error {
	return a.do(ctx, http.MethodPost, "/rooms/"+roomID+"/leave", nil, nil)
}

func (a *APIClient) EnterRoom(ctx context.Context, roomID string) (*Room, error) {
	var res roomResponse
	if err := a.do(ctx, http.MethodPost, "/rooms/"+roomID+"/enter", nil, &res); err != nil {
		return nil, err
	}
	return &res.Room, nil
}

func (a *APIClient) StartSession(ctx context.Context, startTime time.Time) (string, error) {
	var res struct {
		SessionID string `json:"sessionId"`
	}
	body := map[string]time.Time{"startTime": startTime}
	if err := a.do(ctx, http.MethodPost, "/sessions/start", body, &res); err != nil {
		return "", err
	}
	return res.SessionID, nil
}

func (a *APIClient) EndSession(ctx context.Context, sessionID string, endTime time.Time, earnedXP int) error {
	body := map[string]any{
		"sessionId": sessionID,
		"endTime":   endTime,
		"earnedXP":  earnedXP,
	}
	return a.do(ctx, http.MethodPost, "/sessions/end", body, nil)
}

func (a *APIClient) Stats(ctx context.Context) (*SessionStats, error) {
	var res SessionStats
	if err := a.do(ctx, http.MethodGet, "/sessions/stats", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *APIClient) Privileges(ctx context.Context) (*Privileges, error) {
	var res Privileges
	if err := a.do(ctx, http.MethodGet, "/sessions/privileges", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *APIClient) AddXP(ctx context.Context, report XPReport) error {
	return a.do(ctx, http.MethodPost, "/xp", report, nil)
}
