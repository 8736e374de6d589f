package thenvoitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/thenvoi/thenvoi-go/platform"
)

// Server is an in-process platform speaking the real wire protocol: a
// websocket endpoint with the auth handshake and ack frames, plus the REST
// API, backed by the same in-memory state. Link-level tests dial it like
// the production platform.
type Server struct {
	AgentInfo platform.Agent
	APIKey    string

	// RejectAuth makes the handshake answer auth_error, for credential
	// failure tests.
	RejectAuth bool

	// SuppressAcks stops the server acking message frames, for lost-ack
	// tests. Set before connecting.
	SuppressAcks bool

	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	received []platform.Frame
	connects int

	rooms     []platform.Room
	rosters   map[string][]platform.Participant
	histories map[string][]platform.Message
	backlogs  map[string][]platform.Message
	peers     []platform.Peer
	restSent  []Sent
	marks     []Mark
}

// NewServer starts the fake platform. Callers must Close it.
func NewServer(agent platform.Agent, apiKey string) *Server {
	s := &Server{
		AgentInfo: agent,
		APIKey:    apiKey,
		rosters:   make(map[string][]platform.Participant),
		histories: make(map[string][]platform.Message),
		backlogs:  make(map[string][]platform.Message),
	}

	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Route("/api/v1/agents", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/me", s.handleMe)
		r.Get("/chats", s.handleListRooms)
		r.Get("/peers", s.handlePeers)
		r.Route("/chats/{roomID}", func(r chi.Router) {
			r.Get("/context", s.handleContext)
			r.Get("/participants", s.handleParticipants)
			r.Post("/participants", s.handleAddParticipant)
			r.Delete("/participants/{participantID}", s.handleRemoveParticipant)
			r.Post("/messages", s.handleCreateMessage)
			r.Post("/events", s.handleCreateEvent)
			r.Get("/messages/next", s.handleNext)
			r.Put("/messages/{messageID}/processing", s.handleMark("processing"))
			r.Put("/messages/{messageID}/processed", s.handleMark("processed"))
			r.Put("/messages/{messageID}/failed", s.handleMark("failed"))
		})
	})

	s.httpServer = httptest.NewServer(r)
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.httpServer.Close()
}

// WSURL is the websocket endpoint.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/ws"
}

// RESTURL is the REST base URL.
func (s *Server) RESTURL() string { return s.httpServer.URL }

// Config returns a platform.Config pointing at this server.
func (s *Server) Config() platform.Config {
	return platform.Config{WSURL: s.WSURL(), RESTURL: s.RESTURL()}
}

// AddRoom scripts a member room with roster and history.
func (s *Server) AddRoom(room platform.Room, roster []platform.Participant, history []platform.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, room)
	s.rosters[room.ID] = roster
	s.histories[room.ID] = history
}

// Deliver writes a frame to the connected client. Returns false when no
// client is connected.
func (s *Server) Deliver(frame platform.Frame) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(frame) == nil
}

// DeliverMessage frames and delivers a message event.
func (s *Server) DeliverMessage(deliveryID string, m platform.Message) bool {
	payload, _ := json.Marshal(m)
	return s.Deliver(platform.Frame{
		DeliveryID: deliveryID,
		RoomID:     m.RoomID,
		Kind:       platform.KindMessage,
		Payload:    payload,
	})
}

// DropConnection severs the websocket, forcing the client to reconnect.
func (s *Server) DropConnection() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Connects counts successful handshakes, for reconnect assertions.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Received returns non-auth frames the client has sent.
func (s *Server) Received() []platform.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]platform.Frame, len(s.received))
	copy(out, s.received)
	return out
}

// SetPeers scripts the peer lookup result.
func (s *Server) SetPeers(peers []platform.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = peers
}

// SetBacklog scripts unprocessed messages returned by the next endpoint.
func (s *Server) SetBacklog(roomID string, msgs []platform.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backlogs[roomID] = msgs
}

// Marks returns message lifecycle reports received over REST.
func (s *Server) Marks() []Mark {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Mark, len(s.marks))
	copy(out, s.marks)
	return out
}

// RESTSent returns messages created through the REST endpoint, which is how
// the link's fallback path is observed.
func (s *Server) RESTSent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.restSent))
	copy(out, s.restSent)
	return out
}

// --- websocket ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var auth platform.Frame
	if err := conn.ReadJSON(&auth); err != nil || auth.Kind != platform.KindAuth {
		conn.Close()
		return
	}
	var creds struct {
		AgentID string `json:"agent_id"`
		APIKey  string `json:"api_key"`
	}
	_ = json.Unmarshal(auth.Payload, &creds)

	if s.RejectAuth || creds.APIKey != s.APIKey {
		reply, _ := json.Marshal(map[string]string{"reason": "invalid credentials"})
		conn.WriteJSON(platform.Frame{
			DeliveryID: uuid.NewString(),
			Kind:       platform.KindAuthError,
			Payload:    reply,
		})
		conn.Close()
		return
	}

	s.writeMu.Lock()
	err = conn.WriteJSON(platform.Frame{
		DeliveryID: uuid.NewString(),
		Kind:       platform.KindAuthOK,
		Payload:    json.RawMessage(`{}`),
	})
	s.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.connects++
	s.mu.Unlock()

	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	for {
		var frame platform.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, frame)
		s.mu.Unlock()

		if frame.Kind == platform.KindMessage && !s.SuppressAcks {
			ack, _ := json.Marshal(map[string]string{
				"delivery_id": frame.DeliveryID,
				"message_id":  uuid.NewString(),
			})
			s.writeMu.Lock()
			conn.WriteJSON(platform.Frame{
				DeliveryID: uuid.NewString(),
				Kind:       platform.KindAck,
				Payload:    ack,
			})
			s.writeMu.Unlock()
		}
	}
}

// --- REST ---

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.APIKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.AgentInfo)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rooms := append([]platform.Room(nil), s.rooms...)
	s.mu.Unlock()
	writeData(w, rooms)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	history := append([]platform.Message(nil), s.histories[chi.URLParam(r, "roomID")]...)
	s.mu.Unlock()
	writeData(w, history)
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	s.mu.Lock()
	roster, ok := s.rosters[roomID]
	roster = append([]platform.Participant(nil), roster...)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}
	writeData(w, roster)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	peers := append([]platform.Peer(nil), s.peers...)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data":     peers,
		"metadata": platform.PageMeta{Page: 1, PageSize: len(peers), TotalCount: len(peers), TotalPages: 1},
	})
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	var req struct {
		ParticipantID string `json:"participant_id"`
		Role          string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ParticipantID == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_participant", "participant_id required")
		return
	}
	s.mu.Lock()
	s.rosters[roomID] = append(s.rosters[roomID], platform.Participant{ID: req.ParticipantID})
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	participantID := chi.URLParam(r, "participantID")
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.rosters[roomID]
	for i, p := range roster {
		if p.ID == participantID {
			s.rosters[roomID] = append(roster[:i], roster[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusUnprocessableEntity, "invalid_participant", "participant not in room")
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	var req platform.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}
	m := platform.Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		Content:    req.Content,
		SenderID:   s.AgentInfo.ID,
		SenderType: "Agent",
		SenderName: s.AgentInfo.Name,
	}
	s.mu.Lock()
	s.restSent = append(s.restSent, Sent{RoomID: roomID, Req: req})
	s.histories[roomID] = append(s.histories[roomID], m)
	s.mu.Unlock()
	writeData(w, m)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req platform.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}
	writeData(w, platform.Message{ID: uuid.NewString(), Content: req.Content})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	s.mu.Lock()
	backlog := s.backlogs[roomID]
	if len(backlog) == 0 {
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	m := backlog[0]
	s.backlogs[roomID] = backlog[1:]
	s.mu.Unlock()
	writeData(w, m)
}

func (s *Server) handleMark(state string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mark := Mark{
			RoomID:    chi.URLParam(r, "roomID"),
			MessageID: chi.URLParam(r, "messageID"),
			State:     state,
		}
		if state == "failed" {
			var body struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			mark.Reason = body.Error
		}
		s.mu.Lock()
		s.marks = append(s.marks, mark)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeData(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "message": msg})
}
