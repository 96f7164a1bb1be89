package gateway

import (
	"encoding/json"

	"github.com/harshdtripathi/classpulse/internal/domain"
)

// Inbound event names (client to server).
const (
	EventCreateRoom      = "createRoom"
	EventJoinRoom        = "joinRoom"
	EventPublishQuestion = "publishQuestion"
	EventSubmitVote      = "submitVote"
	EventSendMessage     = "sendMessage"
)

// Outbound event names (server to client).
const (
	EventRoomCreated    = "roomCreated"
	EventError          = "error"
	EventNewQuestion    = "newQuestion"
	EventPollUpdate     = "pollUpdate"
	EventPollResults    = "pollResults"
	EventChatMessages   = "chatMessages"
	EventReceiveMessage = "receiveMessage"
	EventNewParticipant = "newParticipant"
)

// Envelope is the wire frame: an event name plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoomPayload struct {
	RoomID string      `json:"roomId"`
	Name   string      `json:"name"`
	Role   domain.Role `json:"role"`
}

type PublishQuestionPayload struct {
	RoomID   string   `json:"roomId"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// SubmitVotePayload carries the selected option as a pointer: absent, null
// or non-numeric values leave it nil and the vote is dropped without a reply.
type SubmitVotePayload struct {
	SelectedOption *int   `json:"selectedOption"`
	RoomID         string `json:"roomId"`
	Name           string `json:"name"`
}

type SendMessagePayload struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId"`
	Sender  string `json:"sender"`
}

type RoomCreatedPayload struct {
	RoomID string `json:"roomId"`
}

type NewQuestionPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Time     int      `json:"time"`
}

type NewParticipantPayload struct {
	Name string `json:"name"`
}

func marshalEnvelope(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = payload
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
