package gateway

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/harshdtripathi/classpulse/internal/domain"
	"github.com/harshdtripathi/classpulse/internal/metrics"
)

// --- Command types ---

type hubCmd interface{ hubCmd() }

type cmdAttach struct {
	conn *websocket.Conn
}

func (cmdAttach) hubCmd() {}

type cmdDetach struct {
	conn *websocket.Conn
}

func (cmdDetach) hubCmd() {}

type cmdJoinRoom struct {
	roomID string
	conn   *websocket.Conn
	errCh  chan error
}

func (cmdJoinRoom) hubCmd() {}

type cmdSend struct {
	conn *websocket.Conn
	data []byte
}

func (cmdSend) hubCmd() {}

type cmdBroadcast struct {
	roomID string
	data   []byte
	// except is skipped when non-nil; used for newParticipant so the joiner
	// does not hear about themselves.
	except *websocket.Conn
}

func (cmdBroadcast) hubCmd() {}

type cmdRoomClientCount struct {
	roomID  string
	replyCh chan int
}

func (cmdRoomClientCount) hubCmd() {}

type cmdClientCount struct {
	replyCh chan int
}

func (cmdClientCount) hubCmd() {}

type cmdStop struct {
	doneCh chan struct{}
}

func (cmdStop) hubCmd() {}

// --- Hub ---

// Hub keeps the transport-level multicast groups: which connections are
// attached, and which room each one subscribed to. All state is owned by a
// single goroutine fed through cmdCh.
type Hub struct {
	cmdCh             chan hubCmd
	clock             clockwork.Clock
	maxClientsPerRoom int
	stopOnce          sync.Once

	writers  map[*websocket.Conn]*clientWriter
	rooms    map[string]map[*websocket.Conn]struct{}
	connRoom map[*websocket.Conn]string
}

// NewHub creates the hub and starts its actor goroutine.
func NewHub(clock clockwork.Clock, maxClientsPerRoom int) *Hub {
	h := &Hub{
		cmdCh:             make(chan hubCmd, 256),
		clock:             clock,
		maxClientsPerRoom: maxClientsPerRoom,
		writers:           make(map[*websocket.Conn]*clientWriter),
		rooms:             make(map[string]map[*websocket.Conn]struct{}),
		connRoom:          make(map[*websocket.Conn]string),
	}
	go h.run()
	return h
}

// Attach registers a connection with the hub (not yet in any room), so the
// gateway can reply to it before it joins.
func (h *Hub) Attach(conn *websocket.Conn) {
	h.cmdCh <- cmdAttach{conn: conn}
}

// Detach removes a connection from its room (if any) and stops its writer.
// Room state in the registry is untouched; disconnect only shrinks the
// broadcast audience.
func (h *Hub) Detach(conn *websocket.Conn) {
	h.cmdCh <- cmdDetach{conn: conn}
}

// JoinRoom subscribes an attached connection to a room's multicast group.
func (h *Hub) JoinRoom(roomID string, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	h.cmdCh <- cmdJoinRoom{roomID: roomID, conn: conn, errCh: errCh}
	return <-errCh
}

// Send delivers an event to a single connection.
func (h *Hub) Send(conn *websocket.Conn, event string, payload any) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		slog.Error("Failed to marshal event", "event", event, "error", err)
		return
	}
	h.cmdCh <- cmdSend{conn: conn, data: data}
}

// Broadcast delivers an event to every connection subscribed to a room.
// Fire-and-forget: no acknowledgment, no retry.
func (h *Hub) Broadcast(roomID, event string, payload any) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		slog.Error("Failed to marshal event", "event", event, "error", err)
		return
	}
	h.cmdCh <- cmdBroadcast{roomID: roomID, data: data}
}

// BroadcastExcept is Broadcast minus one connection.
func (h *Hub) BroadcastExcept(roomID string, except *websocket.Conn, event string, payload any) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		slog.Error("Failed to marshal event", "event", event, "error", err)
		return
	}
	h.cmdCh <- cmdBroadcast{roomID: roomID, data: data, except: except}
}

// The Hub implements rooms.RoomNotifier. The registry calls these from
// inside its handlers, so frames are enqueued to the hub in mutation order
// and delivered to each connection in that order.

// QuestionPublished fans out a newQuestion event to the room.
func (h *Hub) QuestionPublished(roomID, question string, options []string, durationSeconds int) {
	h.Broadcast(roomID, EventNewQuestion, NewQuestionPayload{
		Question: question,
		Options:  options,
		Time:     durationSeconds,
	})
}

// TallyChanged fans out a live pollUpdate tally to the room.
func (h *Hub) TallyChanged(roomID string, counts []int) {
	h.Broadcast(roomID, EventPollUpdate, counts)
}

// QuestionExpired fans out the final tally as a pollResults event.
func (h *Hub) QuestionExpired(roomID string, counts []int) {
	h.Broadcast(roomID, EventPollResults, counts)
}

// MessageAppended fans out a chat entry as a receiveMessage event; the
// sender hears their own message too, so every client sees the same order.
func (h *Hub) MessageAppended(roomID string, message domain.ChatMessage) {
	h.Broadcast(roomID, EventReceiveMessage, message)
}

// RoomClientCount returns the number of connections subscribed to a room.
func (h *Hub) RoomClientCount(roomID string) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- cmdRoomClientCount{roomID: roomID, replyCh: replyCh}
	return <-replyCh
}

// ClientCount returns the number of attached connections.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	h.cmdCh <- cmdClientCount{replyCh: replyCh}
	return <-replyCh
}

// Stop closes every connection gracefully and exits the actor. Safe to call
// more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		doneCh := make(chan struct{})
		h.cmdCh <- cmdStop{doneCh: doneCh}
		<-doneCh
	})
}

func (h *Hub) run() {
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdAttach:
			h.handleAttach(c)
		case cmdDetach:
			h.handleDetach(c.conn)
		case cmdJoinRoom:
			h.handleJoinRoom(c)
		case cmdSend:
			h.handleSend(c)
		case cmdBroadcast:
			h.handleBroadcast(c)
		case cmdRoomClientCount:
			c.replyCh <- len(h.rooms[c.roomID])
		case cmdClientCount:
			c.replyCh <- len(h.writers)
		case cmdStop:
			h.handleStop()
			close(c.doneCh)
			return
		}
	}
}

func (h *Hub) handleAttach(c cmdAttach) {
	if _, exists := h.writers[c.conn]; exists {
		return
	}
	h.writers[c.conn] = newClientWriter(c.conn, h.clock)
	metrics.GatewayConnectedClients.Set(float64(len(h.writers)))
	slog.Debug("Connection attached", "total_clients", len(h.writers))
}

func (h *Hub) handleDetach(conn *websocket.Conn) {
	cw, exists := h.writers[conn]
	if !exists {
		return
	}

	if roomID, joined := h.connRoom[conn]; joined {
		delete(h.rooms[roomID], conn)
		if len(h.rooms[roomID]) == 0 {
			delete(h.rooms, roomID)
		}
		delete(h.connRoom, conn)
		slog.Debug("Connection left room", "room_id", roomID, "remaining_clients", len(h.rooms[roomID]))
	}

	cw.stop()
	delete(h.writers, conn)
	metrics.GatewayConnectedClients.Set(float64(len(h.writers)))
}

func (h *Hub) handleJoinRoom(c cmdJoinRoom) {
	if _, attached := h.writers[c.conn]; !attached {
		c.errCh <- fmt.Errorf("connection not attached")
		return
	}
	if _, joined := h.connRoom[c.conn]; joined {
		c.errCh <- fmt.Errorf("connection already in a room")
		return
	}
	if len(h.rooms[c.roomID]) >= h.maxClientsPerRoom {
		slog.Warn("Rejecting client: max clients reached", "room_id", c.roomID, "max_clients", h.maxClientsPerRoom)
		c.errCh <- fmt.Errorf("max clients per room (%d) reached", h.maxClientsPerRoom)
		return
	}

	if h.rooms[c.roomID] == nil {
		h.rooms[c.roomID] = make(map[*websocket.Conn]struct{})
	}
	h.rooms[c.roomID][c.conn] = struct{}{}
	h.connRoom[c.conn] = c.roomID
	slog.Debug("Connection joined room", "room_id", c.roomID, "total_clients", len(h.rooms[c.roomID]))
	c.errCh <- nil
}

func (h *Hub) handleSend(c cmdSend) {
	cw, exists := h.writers[c.conn]
	if !exists {
		return
	}
	select {
	case cw.sendChannel <- c.data:
	default:
		h.evictSlow(c.conn)
	}
}

func (h *Hub) handleBroadcast(c cmdBroadcast) {
	clients, exists := h.rooms[c.roomID]
	if !exists {
		return
	}

	var slow []*websocket.Conn
	for conn := range clients {
		if conn == c.except {
			continue
		}
		cw := h.writers[conn]
		select {
		case cw.sendChannel <- c.data:
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		h.evictSlow(conn)
	}
}

func (h *Hub) evictSlow(conn *websocket.Conn) {
	slog.Warn("Disconnecting slow client", "room_id", h.connRoom[conn])
	metrics.GatewaySlowClientsEvicted.Inc()
	h.handleDetach(conn)
}

func (h *Hub) handleStop() {
	total := len(h.writers)
	for conn, cw := range h.writers {
		cw.stopGraceful("Server shutting down")
		delete(h.writers, conn)
		delete(h.connRoom, conn)
	}
	for roomID := range h.rooms {
		delete(h.rooms, roomID)
	}
	metrics.GatewayConnectedClients.Set(0)
	slog.Info("Gateway hub stopped", "disconnected_clients", total)
}
