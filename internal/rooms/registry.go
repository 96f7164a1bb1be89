package rooms

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/harshdtripathi/classpulse/internal/domain"
	"github.com/harshdtripathi/classpulse/internal/metrics"
)

// QuestionDuration is how long a published question accepts votes. Fixed by
// the protocol; clients receive it as the `time` field of newQuestion.
const QuestionDuration = 60 * time.Second

const roomIDLength = 6

// RoomNotifier receives room fan-out events. Every method is called from
// inside the handler that performed the mutation, before the handler's reply
// is sent, so delivery order always matches mutation order: a vote's tally
// can never overtake the question it belongs to, and two tallies are pushed
// in the order the votes were recorded. Implemented by the gateway hub; set
// via SetNotifier before Start.
type RoomNotifier interface {
	QuestionPublished(roomID, question string, options []string, durationSeconds int)
	TallyChanged(roomID string, counts []int)
	QuestionExpired(roomID string, counts []int)
	MessageAppended(roomID string, message domain.ChatMessage)
}

// IDGenerator produces room identifiers. Collision probability is treated as
// negligible given the generator's entropy.
type IDGenerator func() string

// ShortID returns a 6-character room identifier derived from a random UUID,
// short enough for participants to type or share.
func ShortID() string {
	return uuid.NewString()[:roomIDLength]
}

// roomState is per-room data, only ever touched by the actor goroutine.
type roomState struct {
	question string
	options  []string
	votes    map[string]int
	messages []domain.ChatMessage
	phase    domain.QuestionPhase
	// epoch is bumped on every publish; a stale timer fire carries an old
	// epoch and is discarded.
	epoch    uint64
	timer    clockwork.Timer
	deadline time.Time
}

// --- Command types ---

type registryCmd interface{ registryCmd() }

type cmdCreateRoom struct {
	replyCh chan string
}

func (cmdCreateRoom) registryCmd() {}

type cmdJoin struct {
	roomID  string
	attach  func(domain.JoinSnapshot) error
	replyCh chan joinReply
}

func (cmdJoin) registryCmd() {}

type joinReply struct {
	snapshot domain.JoinSnapshot
	err      error
}

type cmdPublish struct {
	roomID   string
	question string
	options  []string
	replyCh  chan error
}

func (cmdPublish) registryCmd() {}

type cmdVote struct {
	roomID  string
	voter   string
	option  int
	replyCh chan voteReply
}

func (cmdVote) registryCmd() {}

type voteReply struct {
	counts   []int
	recorded bool
}

type cmdAppendMessage struct {
	roomID  string
	sender  string
	text    string
	replyCh chan messageReply
}

func (cmdAppendMessage) registryCmd() {}

type messageReply struct {
	message domain.ChatMessage
	err     error
}

type cmdQuestionExpired struct {
	roomID string
	epoch  uint64
}

func (cmdQuestionExpired) registryCmd() {}

type cmdRoomCount struct {
	replyCh chan int
}

func (cmdRoomCount) registryCmd() {}

type cmdStop struct {
	doneCh chan struct{}
}

func (cmdStop) registryCmd() {}

// --- Registry ---

// Registry owns the mapping of room identifier to room state. Rooms exist
// from CreateRoom until process exit; there is no deletion or expiry.
type Registry struct {
	cmdCh    chan registryCmd
	clock    clockwork.Clock
	newID    IDGenerator
	rooms    map[string]*roomState
	notifier RoomNotifier
	stopOnce sync.Once
}

// NewRegistry creates a registry. newID may be nil to use ShortID.
func NewRegistry(clock clockwork.Clock, newID IDGenerator) *Registry {
	if newID == nil {
		newID = ShortID
	}
	return &Registry{
		cmdCh: make(chan registryCmd, 256),
		clock: clock,
		newID: newID,
		rooms: make(map[string]*roomState),
	}
}

// SetNotifier wires the room fan-out. Used to resolve the circular
// dependency where the registry needs the hub for broadcasts but the hub's
// sessions need the registry for everything else. Sets the field directly:
// must be called before Start, the actor goroutine reads it without locking.
func (r *Registry) SetNotifier(n RoomNotifier) {
	r.notifier = n
}

// Start begins the registry's actor goroutine.
func (r *Registry) Start() {
	go r.run()
}

// Stop drains the actor. Pending timers are stopped; rooms are discarded.
// Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		doneCh := make(chan struct{})
		r.cmdCh <- cmdStop{doneCh: doneCh}
		<-doneCh
	})
}

// CreateRoom allocates an empty room and returns its identifier.
func (r *Registry) CreateRoom() string {
	replyCh := make(chan string, 1)
	r.cmdCh <- cmdCreateRoom{replyCh: replyCh}
	return <-replyCh
}

// Join validates the room and returns the catch-up snapshot for a new
// participant: the open question with its remaining seconds (if any) and the
// full chat backlog. attach, when non-nil, runs inside the actor with the
// snapshot: subscribing the connection there means no publish or vote can
// slip between the snapshot and the subscription, so the joiner either finds
// a question in the snapshot or hears its broadcast, never neither. An
// attach error aborts the join and is returned as-is. attach must not call
// back into the registry.
func (r *Registry) Join(roomID string, attach func(domain.JoinSnapshot) error) (domain.JoinSnapshot, error) {
	replyCh := make(chan joinReply, 1)
	r.cmdCh <- cmdJoin{roomID: roomID, attach: attach, replyCh: replyCh}
	reply := <-replyCh
	return reply.snapshot, reply.err
}

// Publish starts a new question cycle: question and options are set, the
// vote ledger is cleared, any pending timer is canceled, and a fresh
// QuestionDuration timer is armed. Valid in every phase. The newQuestion
// fan-out happens through the notifier inside the handler.
func (r *Registry) Publish(roomID, question string, options []string) error {
	replyCh := make(chan error, 1)
	r.cmdCh <- cmdPublish{roomID: roomID, question: question, options: options, replyCh: replyCh}
	return <-replyCh
}

// Vote records or overwrites a participant's vote on the current question
// and returns the fresh tally, which is also pushed through the notifier
// inside the handler. Votes against unknown rooms, closed or idle questions,
// or out-of-range option indices are dropped (recorded=false).
func (r *Registry) Vote(roomID, voter string, option int) (counts []int, recorded bool) {
	replyCh := make(chan voteReply, 1)
	r.cmdCh <- cmdVote{roomID: roomID, voter: voter, option: option, replyCh: replyCh}
	reply := <-replyCh
	return reply.counts, reply.recorded
}

// AppendMessage appends a chat entry to the room's history and returns it.
// The receiveMessage fan-out happens through the notifier inside the handler.
func (r *Registry) AppendMessage(roomID, sender, text string) (domain.ChatMessage, error) {
	replyCh := make(chan messageReply, 1)
	r.cmdCh <- cmdAppendMessage{roomID: roomID, sender: sender, text: text, replyCh: replyCh}
	reply := <-replyCh
	return reply.message, reply.err
}

// RoomCount returns the number of rooms in the registry.
func (r *Registry) RoomCount() int {
	replyCh := make(chan int, 1)
	r.cmdCh <- cmdRoomCount{replyCh: replyCh}
	return <-replyCh
}

func (r *Registry) run() {
	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case cmdCreateRoom:
			c.replyCh <- r.handleCreateRoom()
		case cmdJoin:
			c.replyCh <- r.handleJoin(c)
		case cmdPublish:
			c.replyCh <- r.handlePublish(c)
		case cmdVote:
			c.replyCh <- r.handleVote(c)
		case cmdAppendMessage:
			c.replyCh <- r.handleAppendMessage(c)
		case cmdQuestionExpired:
			r.handleQuestionExpired(c)
		case cmdRoomCount:
			c.replyCh <- len(r.rooms)
		case cmdStop:
			r.handleStop()
			close(c.doneCh)
			return
		}
	}
}

func (r *Registry) handleCreateRoom() string {
	id := r.newID()
	r.rooms[id] = &roomState{
		votes:    make(map[string]int),
		messages: []domain.ChatMessage{},
	}
	metrics.RoomsCreatedTotal.Inc()
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	slog.Info("Room created", "room_id", id)
	return id
}

func (r *Registry) handleJoin(c cmdJoin) joinReply {
	room, ok := r.rooms[c.roomID]
	if !ok {
		return joinReply{err: domain.ErrRoomNotFound}
	}

	snapshot := domain.JoinSnapshot{
		Messages: append([]domain.ChatMessage{}, room.messages...),
	}
	if room.phase == domain.PhaseOpen {
		snapshot.Active = true
		snapshot.Question = room.question
		snapshot.Options = append([]string{}, room.options...)
		snapshot.Remaining = r.remainingSeconds(room)
	}

	if c.attach != nil {
		if err := c.attach(snapshot); err != nil {
			return joinReply{err: err}
		}
	}
	return joinReply{snapshot: snapshot}
}

func (r *Registry) handlePublish(c cmdPublish) error {
	room, ok := r.rooms[c.roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}

	// Cancel the previous question's timer before arming a new one; the
	// epoch bump makes an already-queued fire a no-op.
	if room.timer != nil {
		room.timer.Stop()
		room.timer = nil
	}

	room.question = c.question
	room.options = append([]string{}, c.options...)
	room.votes = make(map[string]int)
	room.phase = domain.PhaseOpen
	room.epoch++

	epoch := room.epoch
	roomID := c.roomID
	room.deadline = r.clock.Now().Add(QuestionDuration)
	room.timer = r.clock.AfterFunc(QuestionDuration, func() {
		r.cmdCh <- cmdQuestionExpired{roomID: roomID, epoch: epoch}
	})

	metrics.QuestionsPublishedTotal.Inc()
	slog.Info("Question published", "room_id", roomID, "options", len(room.options))

	if r.notifier != nil {
		r.notifier.QuestionPublished(roomID, room.question, room.options, int(QuestionDuration.Seconds()))
	}
	return nil
}

func (r *Registry) handleVote(c cmdVote) voteReply {
	room, ok := r.rooms[c.roomID]
	if !ok {
		metrics.VotesRejectedTotal.WithLabelValues("room_not_found").Inc()
		return voteReply{}
	}
	if room.phase != domain.PhaseOpen {
		metrics.VotesRejectedTotal.WithLabelValues("not_open").Inc()
		return voteReply{}
	}
	if c.option < 0 || c.option >= len(room.options) {
		metrics.VotesRejectedTotal.WithLabelValues("invalid_option").Inc()
		return voteReply{}
	}

	room.votes[c.voter] = c.option
	metrics.VotesRecordedTotal.Inc()
	slog.Debug("Vote recorded", "room_id", c.roomID, "voter", c.voter, "option", c.option)

	counts := Tally(len(room.options), room.votes)
	if r.notifier != nil {
		r.notifier.TallyChanged(c.roomID, counts)
	}
	return voteReply{counts: counts, recorded: true}
}

func (r *Registry) handleAppendMessage(c cmdAppendMessage) messageReply {
	room, ok := r.rooms[c.roomID]
	if !ok {
		return messageReply{err: domain.ErrRoomNotFound}
	}

	message := domain.ChatMessage{Sender: c.sender, Text: c.text}
	room.messages = append(room.messages, message)
	metrics.ChatMessagesTotal.Inc()

	if r.notifier != nil {
		r.notifier.MessageAppended(c.roomID, message)
	}
	return messageReply{message: message}
}

func (r *Registry) handleQuestionExpired(c cmdQuestionExpired) {
	room, ok := r.rooms[c.roomID]
	if !ok || room.epoch != c.epoch || room.phase != domain.PhaseOpen {
		// Stale fire from a superseded question, or a room we no longer know.
		return
	}

	room.phase = domain.PhaseClosed
	room.timer = nil

	counts := Tally(len(room.options), room.votes)
	metrics.QuestionsExpiredTotal.Inc()
	slog.Info("Question closed", "room_id", c.roomID, "votes", len(room.votes))

	if r.notifier != nil {
		r.notifier.QuestionExpired(c.roomID, counts)
	}
}

func (r *Registry) handleStop() {
	for _, room := range r.rooms {
		if room.timer != nil {
			room.timer.Stop()
			room.timer = nil
		}
	}
}

func (r *Registry) remainingSeconds(room *roomState) int {
	remaining := int(math.Ceil(room.deadline.Sub(r.clock.Now()).Seconds()))
	if remaining < 0 {
		return 0
	}
	if limit := int(QuestionDuration.Seconds()); remaining > limit {
		return limit
	}
	return remaining
}
