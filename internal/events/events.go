// Package events is the engine's notification bus. Subscribers receive
// immutable event records synchronously, in publish order.
package events

import (
	"time"
)

// Type names a lifecycle or domain event.
type Type string

const (
	EngineStarted    Type = "engine:started"
	EngineStopped    Type = "engine:stopped"
	StrategyExecuted Type = "strategy:executed"
	OrderCreated     Type = "order:created"
	OrderFilled      Type = "order:filled"
	OrderCancelled   Type = "order:cancelled"
	PositionUpdated  Type = "position:updated"
	PortfolioUpdated Type = "portfolio:updated"
)

// AllTypes lists every event type in a stable order.
var AllTypes = []Type{
	EngineStarted,
	EngineStopped,
	StrategyExecuted,
	OrderCreated,
	OrderFilled,
	OrderCancelled,
	PositionUpdated,
	PortfolioUpdated,
}

// Event is a single notification. Payload is a value copy owned by the
// event; subscribers must treat it as read-only.
type Event struct {
	ID       string    `json:"id"`
	Seq      uint64    `json:"seq"`
	Type     Type      `json:"type"`
	EngineID string    `json:"engine_id"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload,omitempty"`
}

// Handler consumes events. It runs on the publisher's goroutine.
type Handler func(Event)
