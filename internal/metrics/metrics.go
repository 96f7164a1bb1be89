package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Room Registry Metrics
var (
	// RoomsCreatedTotal tracks total rooms created
	RoomsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rooms_created_total",
			Help: "Total rooms created",
		},
	)

	// ActiveRooms tracks the number of rooms currently in the registry
	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rooms_active",
			Help: "Number of rooms currently in the registry",
		},
	)

	// QuestionsPublishedTotal tracks questions published across all rooms
	QuestionsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "questions_published_total",
			Help: "Total questions published across all rooms",
		},
	)

	// QuestionsExpiredTotal tracks question timers that fired and finalized results
	QuestionsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "questions_expired_total",
			Help: "Total question timers that fired and finalized results",
		},
	)

	// VotesRecordedTotal tracks votes accepted into a room's ledger
	VotesRecordedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "votes_recorded_total",
			Help: "Total votes accepted into a room's ledger",
		},
	)

	// VotesRejectedTotal tracks dropped votes by reason
	VotesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votes_rejected_total",
			Help: "Total votes dropped by reason",
		},
		[]string{"reason"},
	)

	// ChatMessagesTotal tracks chat messages appended to room history
	ChatMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total chat messages appended to room history",
		},
	)
)

// Gateway Metrics
var (
	// GatewayConnectedClients tracks currently connected WebSocket clients
	GatewayConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connected_clients",
			Help: "Currently connected WebSocket clients",
		},
	)

	// GatewaySlowClientsEvicted tracks clients evicted because their send buffer filled
	GatewaySlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_slow_clients_evicted_total",
			Help: "Total clients evicted because their send buffer filled",
		},
	)

	// GatewayEventsTotal tracks inbound events by type
	GatewayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_total",
			Help: "Total inbound events by type",
		},
		[]string{"event"},
	)
)
