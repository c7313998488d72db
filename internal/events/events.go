package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event types emitted by the settlement core.
const (
	TypeReadingAccepted      = "reading.accepted"
	TypeDeviceSettled        = "device.settled"
	TypeUnitsMinted          = "units.minted"
	TypeUnitsBurned          = "units.burned"
	TypeCertificateIssued    = "certificate.issued"
	TypeCertificateActivated = "certificate.activated"
	TypeCertificateRetired   = "certificate.retired"
	TypeCertificateRevoked   = "certificate.revoked"
	TypeOrderCreated         = "order.created"
	TypeOrderCancelled       = "order.cancelled"
	TypeTradeExecuted        = "trade.executed"
)

// Event is the envelope every sink receives. Payload is the domain-specific
// body; it must be JSON-serializable.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Sink receives published events. Sinks must not block; slow consumers drop.
type Sink interface {
	Emit(event Event)
}

// Hub fans published events out to the attached sinks. Services publish only
// after their transaction commits, so every event describes durable state.
type Hub struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) Attach(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, sink)
}

// Publish delivers the event to every sink. Nil hubs are safe so services can
// run without an event pipeline in tests.
func (h *Hub) Publish(eventType string, payload interface{}) {
	if h == nil {
		return
	}
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sink := range h.sinks {
		sink.Emit(event)
	}
}

// LogSink writes every event to the structured log.
type LogSink struct{}

func (LogSink) Emit(event Event) {
	log.Info().
		Str("event_type", event.Type).
		Interface("payload", event.Payload).
		Msg("event published")
}
