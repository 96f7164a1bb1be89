package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshdtripathi/classpulse/internal/domain"
	"github.com/harshdtripathi/classpulse/internal/rooms"
)

// testGateway wires a real registry (fake clock, deterministic room ids), a
// real hub and real sessions behind a test HTTP server, so tests exercise
// the full event path the way a browser client would.
type testGateway struct {
	registry *rooms.Registry
	hub      *Hub
	clock    *clockwork.FakeClock
	dial     func() *client
}

type client struct {
	t    *testing.T
	conn *ws.Conn
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	fakeClock := clockwork.NewFakeClock()
	nextID := 0
	registry := rooms.NewRegistry(fakeClock, func() string {
		nextID++
		return fmt.Sprintf("room-%d", nextID)
	})

	hub := NewHub(clockwork.NewRealClock(), 50)
	registry.SetNotifier(hub)
	registry.Start()
	t.Cleanup(func() {
		hub.Stop()
		registry.Stop()
	})

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		go NewSession(hub, registry, conn).Run()
	}))
	t.Cleanup(func() { server.Close() })

	dial := func() *client {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return &client{t: t, conn: conn}
	}

	return &testGateway{registry: registry, hub: hub, clock: fakeClock, dial: dial}
}

func (c *client) send(event string, payload any) {
	c.t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(c.t, err)
		raw = data
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(ws.TextMessage, frame))
}

// sendRaw writes an arbitrary frame, for malformed-payload tests.
func (c *client) sendRaw(frame string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(ws.TextMessage, []byte(frame)))
}

func (c *client) read() Envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var envelope Envelope
	require.NoError(c.t, json.Unmarshal(msg, &envelope))
	return envelope
}

// expect reads the next frame and asserts its event name, decoding the
// payload into out when non-nil.
func (c *client) expect(event string, out any) {
	c.t.Helper()
	envelope := c.read()
	require.Equal(c.t, event, envelope.Event)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(envelope.Data, out))
	}
}

func (c *client) expectSilence() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, msg, err := c.conn.ReadMessage()
	if err == nil {
		c.t.Fatalf("expected no frame, got: %s", msg)
	}
}

// createAndJoin is the common presenter preamble: createRoom, join it, and
// swallow the empty chat backlog.
func createAndJoin(t *testing.T, gw *testGateway, name string, role domain.Role) (*client, string) {
	t.Helper()
	c := gw.dial()
	c.send(EventCreateRoom, nil)

	var created RoomCreatedPayload
	c.expect(EventRoomCreated, &created)
	require.NotEmpty(t, created.RoomID)

	c.send(EventJoinRoom, JoinRoomPayload{RoomID: created.RoomID, Name: name, Role: role})
	c.expect(EventChatMessages, nil)
	return c, created.RoomID
}

func join(t *testing.T, gw *testGateway, roomID, name string, role domain.Role) *client {
	t.Helper()
	c := gw.dial()
	c.send(EventJoinRoom, JoinRoomPayload{RoomID: roomID, Name: name, Role: role})
	return c
}

// --- Tests ---

func TestSession_CreateRoom(t *testing.T) {
	gw := newTestGateway(t)
	c := gw.dial()

	c.send(EventCreateRoom, nil)

	var created RoomCreatedPayload
	c.expect(EventRoomCreated, &created)
	assert.Equal(t, "room-1", created.RoomID)
	assert.Equal(t, 1, gw.registry.RoomCount())
}

func TestSession_JoinUnknownRoom(t *testing.T) {
	gw := newTestGateway(t)
	c := gw.dial()

	c.send(EventJoinRoom, JoinRoomPayload{RoomID: "nope42", Name: "alice", Role: domain.RoleAttendee})

	var message string
	c.expect(EventError, &message)
	assert.Equal(t, "Room not found", message)
}

func TestSession_JoinWithoutQuestion(t *testing.T) {
	gw := newTestGateway(t)
	_, roomID := createAndJoin(t, gw, "teacher", domain.RolePresenter)

	attendee := join(t, gw, roomID, "alice", domain.RoleAttendee)

	// No newQuestion; the chat backlog (empty, but present) comes first.
	var backlog []domain.ChatMessage
	attendee.expect(EventChatMessages, &backlog)
	assert.NotNil(t, backlog)
	assert.Empty(t, backlog)
}

func TestSession_NewParticipantExcludesJoiner(t *testing.T) {
	gw := newTestGateway(t)
	presenter, roomID := createAndJoin(t, gw, "teacher", domain.RolePresenter)

	attendee := join(t, gw, roomID, "alice", domain.RoleAttendee)
	attendee.expect(EventChatMessages, nil)

	var arrival NewParticipantPayload
	presenter.expect(EventNewParticipant, &arrival)
	assert.Equal(t, "alice", arrival.Name)

	// The joiner never hears about themselves.
	attendee.expectSilence()
}

func TestSession_PollFlow(t *testing.T) {
	gw := newTestGateway(t)
	presenter, roomID := createAndJoin(t, gw, "teacher", domain.RolePresenter)

	voters := make([]*client, 0, 3)
	for _, name := range []string{"A", "B", "C"} {
		attendee := join(t, gw, roomID, name, domain.RoleAttendee)
		attendee.expect(EventChatMessages, nil)
		presenter.expect(EventNewParticipant, nil)
		voters = append(voters, attendee)
	}

	presenter.send(EventPublishQuestion, PublishQuestionPayload{
		RoomID:   roomID,
		Question: "2+2?",
		Options:  []string{"3", "4", "5"},
	})

	var question NewQuestionPayload
	presenter.expect(EventNewQuestion, &question)
	assert.Equal(t, "2+2?", question.Question)
	assert.Equal(t, []string{"3", "4", "5"}, question.Options)
	assert.Equal(t, 60, question.Time)
	for _, attendee := range voters {
		attendee.expect(EventNewQuestion, nil)
	}

	// A and B pick "4", C picks "5"; every vote fans out a live tally.
	expected := [][]int{{0, 1, 0}, {0, 2, 0}, {0, 2, 1}}
	options := []int{1, 1, 2}
	names := []string{"A", "B", "C"}
	for i, attendee := range voters {
		attendee.send(EventSubmitVote, SubmitVotePayload{SelectedOption: &options[i], RoomID: roomID, Name: names[i]})

		var counts []int
		presenter.expect(EventPollUpdate, &counts)
		assert.Equal(t, expected[i], counts)
	}

	// The timer fires and finalizes the same tally.
	gw.clock.Advance(rooms.QuestionDuration)

	var results []int
	presenter.expect(EventPollResults, &results)
	assert.Equal(t, []int{0, 2, 1}, results)
}

func TestSession_LateJoinerGetsQuestion(t *testing.T) {
	gw := newTestGateway(t)
	presenter, roomID := createAndJoin(t, gw, "teacher", domain.RolePresenter)

	presenter.send(EventPublishQuestion, PublishQuestionPayload{
		RoomID:   roomID,
		Question: "capital of France?",
		Options:  []string{"Paris", "Lyon"},
	})
	presenter.expect(EventNewQuestion, nil)

	gw.clock.Advance(20 * time.Second)

	attendee := join(t, gw, roomID, "alice", domain.RoleAttendee)

	var question NewQuestionPayload
	attendee.expect(EventNewQuestion, &question)
	assert.Equal(t, "capital of France?", question.Question)
	assert.Equal(t, 40, question.Time)
	attendee.expect(EventChatMessages, nil)
}

func TestSession_ChatFlow(t *testing.T) {
	gw := newTestGateway(t)
	presenter, roomID := createAndJoin(t, gw, "teacher", domain.RolePresenter)

	attendee := join(t, gw, roomID, "alice", domain.RoleAttendee)
	attendee.expect(EventChatMessages, nil)
	presenter.expect(EventNewParticipant, nil)

	attendee.send(EventSendMessage, SendMessagePayload{Message: "hello", RoomID: roomID, Sender: "alice"})

	// Both ends hear it, sender included, in the same order.
	var message domain.ChatMessage
	presenter.expect(EventReceiveMessage, &message)
	assert.Equal(t, domain.ChatMessage{Sender: "alice", Text: "hello"}, message)
	attendee.expect(EventReceiveMessage, nil)

	// A later joiner replays it as backlog.
	late := join(t, gw, roomID, "bob", domain.RoleAttendee)
	var backlog []domain.ChatMessage
	late.expect(EventChatMessages, &backlog)
	assert.Equal(t, []domain.ChatMessage{{Sender: "alice", Text: "hello"}}, backlog)
}

func TestSession_InvalidVotesDropped(t *testing.T) {
	gw := newTestGateway(t)
	presenter, roomID := createAndJoin(t, gw, "teacher", domain.RolePresenter)

	presenter.send(EventPublishQuestion, PublishQuestionPayload{
		RoomID:   roomID,
		Question: "q",
		Options:  []string{"a", "b"},
	})
	presenter.expect(EventNewQuestion, nil)

	// Non-numeric option: fails decode, dropped with no reply.
	presenter.sendRaw(`{"event":"submitVote","data":{"selectedOption":"two","roomId":"` + roomID + `","name":"alice"}}`)
	// Missing option entirely.
	presenter.send(EventSubmitVote, SubmitVotePayload{RoomID: roomID, Name: "alice"})
	// Out of range.
	five := 5
	presenter.send(EventSubmitVote, SubmitVotePayload{SelectedOption: &five, RoomID: roomID, Name: "alice"})

	// A valid vote still goes through, and none of the above were stored.
	one := 1
	presenter.send(EventSubmitVote, SubmitVotePayload{SelectedOption: &one, RoomID: roomID, Name: "alice"})

	var counts []int
	presenter.expect(EventPollUpdate, &counts)
	assert.Equal(t, []int{0, 1}, counts)
}

func TestSession_RepublishSupersedesTimer(t *testing.T) {
	gw := newTestGateway(t)
	presenter, roomID := createAndJoin(t, gw, "teacher", domain.RolePresenter)

	presenter.send(EventPublishQuestion, PublishQuestionPayload{RoomID: roomID, Question: "first", Options: []string{"a"}})
	presenter.expect(EventNewQuestion, nil)

	gw.clock.Advance(30 * time.Second)

	presenter.send(EventPublishQuestion, PublishQuestionPayload{RoomID: roomID, Question: "second", Options: []string{"x", "y"}})
	presenter.expect(EventNewQuestion, nil)

	// Advance past both deadlines. Only the second question's timer fires:
	// the first frame must already be the two-option tally.
	gw.clock.Advance(30 * time.Second)
	gw.clock.Advance(30 * time.Second)

	var results []int
	presenter.expect(EventPollResults, &results)
	assert.Equal(t, []int{0, 0}, results)
}

func TestSession_PublishUnknownRoomIsSilent(t *testing.T) {
	gw := newTestGateway(t)
	c := gw.dial()

	c.send(EventPublishQuestion, PublishQuestionPayload{RoomID: "nope42", Question: "q", Options: []string{"a"}})
	c.send(EventSendMessage, SendMessagePayload{Message: "hi", RoomID: "nope42", Sender: "x"})

	c.expectSilence()
}

func TestSession_ConcurrentVotesKeepTalliesOrdered(t *testing.T) {
	gw := newTestGateway(t)
	presenter, roomID := createAndJoin(t, gw, "teacher", domain.RolePresenter)

	const voters = 40
	conns := make([]*ws.Conn, 0, voters)
	for i := range voters {
		attendee := join(t, gw, roomID, fmt.Sprintf("student-%d", i), domain.RoleAttendee)
		attendee.expect(EventChatMessages, nil)
		presenter.expect(EventNewParticipant, nil)
		conns = append(conns, attendee.conn)
	}

	presenter.send(EventPublishQuestion, PublishQuestionPayload{
		RoomID:   roomID,
		Question: "q",
		Options:  []string{"a", "b"},
	})
	presenter.expect(EventNewQuestion, nil)

	// The voters stop reading selectively now; drain them in the background
	// so their send buffers never fill.
	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Time{}))
		go func(conn *ws.Conn) {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}(conn)
	}

	vote := func(conn *ws.Conn, name string) error {
		option := 1
		data, err := json.Marshal(SubmitVotePayload{SelectedOption: &option, RoomID: roomID, Name: name})
		if err != nil {
			return err
		}
		frame, err := json.Marshal(Envelope{Event: EventSubmitVote, Data: data})
		if err != nil {
			return err
		}
		return conn.WriteMessage(ws.TextMessage, frame)
	}

	start := make(chan struct{})
	errCh := make(chan error, voters)
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(conn *ws.Conn, name string) {
			defer wg.Done()
			<-start
			errCh <- vote(conn, name)
		}(conn, fmt.Sprintf("student-%d", i))
	}
	close(start)

	// Every observer must see the live tallies grow monotonically: a stale
	// count delivered after a fresher one would leave clients displaying
	// the wrong total.
	prev := 0
	for range voters {
		var counts []int
		presenter.expect(EventPollUpdate, &counts)
		sum := 0
		for _, n := range counts {
			sum += n
		}
		require.GreaterOrEqual(t, sum, prev, "stale tally delivered after a fresher one")
		prev = sum
	}
	assert.Equal(t, voters, prev)

	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}

func TestSession_JoinRacingPublishDeliversQuestionOnce(t *testing.T) {
	gw := newTestGateway(t)

	for range 10 {
		presenter, roomID := createAndJoin(t, gw, "teacher", domain.RolePresenter)

		// Fire the join and the publish as close together as possible; the
		// joiner must get the question from its snapshot or from the
		// broadcast, exactly once, regardless of which lands first.
		joiner := gw.dial()
		joiner.send(EventJoinRoom, JoinRoomPayload{RoomID: roomID, Name: "late", Role: domain.RoleAttendee})
		presenter.send(EventPublishQuestion, PublishQuestionPayload{
			RoomID:   roomID,
			Question: "q",
			Options:  []string{"a"},
		})

		questions := 0
		for {
			envelope := joiner.read()
			if envelope.Event == EventNewQuestion {
				questions++
			}
			if envelope.Event == EventChatMessages {
				break
			}
		}

		// The chat fence is appended after the publish on the same
		// connection, so once it arrives the question must have been
		// delivered too.
		presenter.send(EventSendMessage, SendMessagePayload{Message: "fence", RoomID: roomID, Sender: "teacher"})
		for {
			envelope := joiner.read()
			if envelope.Event == EventNewQuestion {
				questions++
			}
			if envelope.Event == EventReceiveMessage {
				break
			}
		}

		assert.Equal(t, 1, questions, "joiner must see the racing question exactly once")
	}
}

func TestSession_MalformedFrameIgnored(t *testing.T) {
	gw := newTestGateway(t)
	c := gw.dial()

	c.sendRaw(`not json at all`)
	c.sendRaw(`{"event":"joinRoom","data":{"roomId":42}}`)

	// The read pump survives; the connection still works.
	c.send(EventCreateRoom, nil)
	c.expect(EventRoomCreated, nil)
}
