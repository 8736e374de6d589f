package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// REST is a typed client for the platform's request/response API. It is
// usable on its own, but most callers reach it through Link.REST so the
// websocket and REST halves share credentials and configuration.
type REST struct {
	baseURL string
	apiKey  string
	agentID string
	http    *http.Client
}

// NewREST creates a REST client. httpClient may be nil, in which case
// http.DefaultClient is used.
func NewREST(baseURL, agentID, apiKey string, httpClient *http.Client) *REST {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &REST{
		baseURL: baseURL,
		apiKey:  apiKey,
		agentID: agentID,
		http:    httpClient,
	}
}

// doJSON sends an authenticated request and decodes the response envelope
// {"data": ...} into dest. dest may be nil for calls with no useful body.
func (c *REST) doJSON(ctx context.Context, method, path string, reqBody any, dest any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Agent-ID", c.agentID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrAuth)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return decodeAPIError(resp)
	}

	if dest == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Data == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	pe := &PlatformError{StatusCode: resp.StatusCode}
	b, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(b, pe); err != nil || pe.Message == "" {
		pe.Message = string(b)
	}
	if pe.Code == "" {
		pe.Code = http.StatusText(resp.StatusCode)
	}
	return pe
}

// Me fetches the agent's own metadata (name and description, used when
// announcing the agent on first join).
func (c *REST) Me(ctx context.Context) (Agent, error) {
	var a Agent
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/agents/me", nil, &a); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// ListRooms returns all rooms the agent currently participates in. This is
// the platform's authoritative membership view, consulted after reconnects.
func (c *REST) ListRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/agents/chats", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// RoomContext fetches the message history for a room, oldest first.
func (c *REST) RoomContext(ctx context.Context, roomID string) ([]Message, error) {
	var msgs []Message
	path := "/api/v1/agents/chats/" + roomID + "/context"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Participants returns the current roster of a room.
func (c *REST) Participants(ctx context.Context, roomID string) ([]Participant, error) {
	var parts []Participant
	path := "/api/v1/agents/chats/" + roomID + "/participants"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

// Peers lists agents and users addressable on the platform. When notInRoom
// is non-empty, the results are filtered to peers not already in that room.
func (c *REST) Peers(ctx context.Context, page, pageSize int, notInRoom string) (PeerPage, error) {
	params := url.Values{}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		params.Set("page_size", strconv.Itoa(pageSize))
	}
	if notInRoom != "" {
		params.Set("not_in_chat", notInRoom)
	}
	path := "/api/v1/agents/peers"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp := struct {
		Data []Peer   `json:"data"`
		Meta PageMeta `json:"metadata"`
	}{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return PeerPage{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Agent-ID", c.agentID)
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return PeerPage{}, &TransportError{Op: "GET " + path, Err: err}
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized, httpResp.StatusCode == http.StatusForbidden:
		return PeerPage{}, fmt.Errorf("GET %s: %w", path, ErrAuth)
	case httpResp.StatusCode < 200 || httpResp.StatusCode >= 300:
		return PeerPage{}, decodeAPIError(httpResp)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return PeerPage{}, fmt.Errorf("decode response: %w", err)
	}
	return PeerPage{Peers: resp.Data, Meta: resp.Meta}, nil
}

// CreateMessage sends a chat message through the REST API. This is the
// fallback path used when the websocket channel is down.
func (c *REST) CreateMessage(ctx context.Context, roomID string, req MessageRequest) (Message, error) {
	var m Message
	path := "/api/v1/agents/chats/" + roomID + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// CreateEvent sends a non-message event (thought, error, task) to a room.
func (c *REST) CreateEvent(ctx context.Context, roomID string, req EventRequest) (Message, error) {
	var m Message
	path := "/api/v1/agents/chats/" + roomID + "/events"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// AddParticipant adds a participant to a room by id.
func (c *REST) AddParticipant(ctx context.Context, roomID, participantID, role string) error {
	path := "/api/v1/agents/chats/" + roomID + "/participants"
	body := struct {
		ParticipantID string `json:"participant_id"`
		Role          string `json:"role"`
	}{participantID, role}
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// RemoveParticipant removes a participant from a room by id.
func (c *REST) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	path := "/api/v1/agents/chats/" + roomID + "/participants/" + participantID
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// NextMessage returns the next unprocessed message for a room, or a zero
// Message with ok=false when the backlog is empty (204 No Content). Used
// after restarts to drain messages that arrived while the agent was down.
func (c *REST) NextMessage(ctx context.Context, roomID string) (Message, bool, error) {
	var m Message
	path := "/api/v1/agents/chats/" + roomID + "/messages/next"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &m); err != nil {
		return Message{}, false, err
	}
	if m.ID == "" {
		return Message{}, false, nil
	}
	return m, true, nil
}

// MarkProcessing tells the platform a message is being handled, so the
// backlog endpoint stops returning it.
func (c *REST) MarkProcessing(ctx context.Context, roomID, messageID string) error {
	path := "/api/v1/agents/chats/" + roomID + "/messages/" + messageID + "/processing"
	return c.doJSON(ctx, http.MethodPut, path, nil, nil)
}

// MarkProcessed clears a message from the unprocessed backlog.
func (c *REST) MarkProcessed(ctx context.Context, roomID, messageID string) error {
	path := "/api/v1/agents/chats/" + roomID + "/messages/" + messageID + "/processed"
	return c.doJSON(ctx, http.MethodPut, path, nil, nil)
}

// MarkFailed records a processing failure for a message. The platform may
// redeliver it subject to the agent's retry budget.
func (c *REST) MarkFailed(ctx context.Context, roomID, messageID, reason string) error {
	path := "/api/v1/agents/chats/" + roomID + "/messages/" + messageID + "/failed"
	body := struct {
		Error string `json:"error"`
	}{reason}
	return c.doJSON(ctx, http.MethodPut, path, body, nil)
}
