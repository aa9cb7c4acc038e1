package ws

import (
	"github.com/deskwatch/agent/internal/aggregator"
	"github.com/deskwatch/agent/internal/controller"
	"github.com/deskwatch/agent/internal/coordinator"
	"github.com/deskwatch/agent/internal/event"
)

type MessageType string

const (
	// MsgSnapshot carries the full current picture: monitoring status,
	// aggregator stats, and per-service state. Sent on connect and
	// periodically.
	MsgSnapshot MessageType = "snapshot"
	// MsgEvents is a throttled batch of processed events.
	MsgEvents MessageType = "events"
	// MsgAlert is sent immediately for every delivered alert.
	MsgAlert MessageType = "alert"
	// MsgStatus is sent when the monitoring status changes (session
	// transition, sensor activation change).
	MsgStatus MessageType = "status"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Status   controller.Status  `json:"status"`
	Stats    aggregator.Stats   `json:"stats"`
	Services coordinator.Status `json:"services"`
}

type EventsPayload struct {
	Events []*event.Record `json:"events"`
}

type AlertPayload struct {
	Event *event.Record `json:"event"`
}

type StatusPayload struct {
	Status controller.Status `json:"status"`
}
