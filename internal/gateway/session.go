package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/harshdtripathi/classpulse/internal/domain"
	"github.com/harshdtripathi/classpulse/internal/metrics"
)

// RoomService is the subset of registry operations the gateway drives. Room
// broadcasts (newQuestion, pollUpdate, pollResults, receiveMessage) are not
// the session's job: the registry pushes them through the hub from inside
// its handlers, so their order always matches mutation order. The session
// only sends direct replies and runs the join handshake.
type RoomService interface {
	CreateRoom() string
	Join(roomID string, attach func(domain.JoinSnapshot) error) (domain.JoinSnapshot, error)
	Publish(roomID, question string, options []string) error
	Vote(roomID, voter string, option int) (counts []int, recorded bool)
	AppendMessage(roomID, sender, text string) (domain.ChatMessage, error)
}

// Session is one participant's connection. It owns the read pump and the
// participant's identity; a connection joins at most one room in its
// lifetime.
type Session struct {
	hub  *Hub
	svc  RoomService
	conn *websocket.Conn

	name   string
	role   domain.Role
	roomID string
	joined bool
}

func NewSession(hub *Hub, svc RoomService, conn *websocket.Conn) *Session {
	return &Session{hub: hub, svc: svc, conn: conn}
}

// Run drives the connection until it closes. Blocks; the caller owns the
// upgrade, Run owns everything after, including detaching on disconnect.
func (s *Session) Run() {
	s.hub.Attach(s.conn)
	defer s.hub.Detach(s.conn)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		s.dispatch(data)
	}
}

// dispatch routes one inbound frame. Failures never propagate: a malformed
// or unknown event is dropped and the read pump keeps going.
func (s *Session) dispatch(data []byte) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		slog.Debug("Dropping malformed frame", "error", err)
		return
	}

	metrics.GatewayEventsTotal.WithLabelValues(envelope.Event).Inc()

	switch envelope.Event {
	case EventCreateRoom:
		s.handleCreateRoom()
	case EventJoinRoom:
		s.handleJoinRoom(envelope.Data)
	case EventPublishQuestion:
		s.handlePublishQuestion(envelope.Data)
	case EventSubmitVote:
		s.handleSubmitVote(envelope.Data)
	case EventSendMessage:
		s.handleSendMessage(envelope.Data)
	default:
		slog.Debug("Unknown event", "event", envelope.Event)
	}
}

func (s *Session) handleCreateRoom() {
	roomID := s.svc.CreateRoom()
	s.hub.Send(s.conn, EventRoomCreated, RoomCreatedPayload{RoomID: roomID})
}

func (s *Session) handleJoinRoom(data []byte) {
	var payload JoinRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		return
	}
	if s.joined {
		// One room per connection lifetime.
		return
	}

	// Subscription and catch-up run inside the registry actor with the
	// snapshot, so a question published while the join is in flight is
	// either in the snapshot or broadcast after the subscription; the
	// joiner can never miss it.
	attach := func(snapshot domain.JoinSnapshot) error {
		if err := s.hub.JoinRoom(payload.RoomID, s.conn); err != nil {
			return err
		}
		// The open question first, then the chat backlog (always sent,
		// possibly empty).
		if snapshot.Active {
			s.hub.Send(s.conn, EventNewQuestion, NewQuestionPayload{
				Question: snapshot.Question,
				Options:  snapshot.Options,
				Time:     snapshot.Remaining,
			})
		}
		s.hub.Send(s.conn, EventChatMessages, snapshot.Messages)
		s.hub.BroadcastExcept(payload.RoomID, s.conn, EventNewParticipant, NewParticipantPayload{Name: payload.Name})
		return nil
	}

	_, err := s.svc.Join(payload.RoomID, attach)
	if errors.Is(err, domain.ErrRoomNotFound) {
		s.hub.Send(s.conn, EventError, "Room not found")
		return
	}
	if err != nil {
		// The hub refused the subscription: the room is at capacity.
		s.hub.Send(s.conn, EventError, "Room is full")
		return
	}

	s.name = payload.Name
	s.role = payload.Role
	s.roomID = payload.RoomID
	s.joined = true

	slog.Info("Participant joined", "room_id", payload.RoomID, "name", payload.Name, "role", payload.Role)
}

func (s *Session) handlePublishQuestion(data []byte) {
	var payload PublishQuestionPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		return
	}

	// Unknown room: silent no-op, only join surfaces an error. On success
	// the registry broadcasts newQuestion itself.
	_ = s.svc.Publish(payload.RoomID, payload.Question, payload.Options)
}

func (s *Session) handleSubmitVote(data []byte) {
	var payload SubmitVotePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if payload.SelectedOption == nil || payload.RoomID == "" {
		return
	}

	// Recorded votes are tallied and broadcast by the registry; dropped
	// votes get no reply.
	s.svc.Vote(payload.RoomID, payload.Name, *payload.SelectedOption)
}

func (s *Session) handleSendMessage(data []byte) {
	var payload SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		return
	}

	// Appended messages are broadcast by the registry; unknown rooms are a
	// silent no-op.
	_, _ = s.svc.AppendMessage(payload.RoomID, payload.Sender, payload.Message)
}
