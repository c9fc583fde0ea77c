package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tournament_chat",
		Name:      "messages_total",
		Help:      "Chat message writes by operation.",
	}, []string{"op"})

	ReactionToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tournament_chat",
		Name:      "reaction_toggles_total",
		Help:      "Reaction toggles by mode and direction.",
	}, []string{"mode", "direction"})

	TypingRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tournament_chat",
		Name:      "typing_frames_relayed_total",
		Help:      "Typing broadcast frames relayed to rooms.",
	})

	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tournament_chat",
		Name:      "attachment_uploads_total",
		Help:      "Attachment uploads by outcome.",
	}, []string{"outcome"})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tournament_chat",
		Name:      "websocket_clients",
		Help:      "Connected realtime clients.",
	})

	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tournament_chat",
		Name:      "websocket_dropped_frames_total",
		Help:      "Frames dropped because a client send buffer was full.",
	})
)
