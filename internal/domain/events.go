package domain

import "time"

// EventType enumerates the structured events surfaced to the notification
// sink and the signal bus.
type EventType string

const (
	EventOpportunityDetected EventType = "opportunity_detected"
	EventOrderSubmitted      EventType = "order_submitted"
	EventOrderFilled         EventType = "order_filled"
	EventOrderFailed         EventType = "order_failed"
	EventRiskHalted          EventType = "risk_halted"
	EventFeedStale           EventType = "feed_stale"
	EventFeedReconnected     EventType = "feed_reconnected"
	EventUnhedgedLeg         EventType = "unhedged_leg"
	EventStartup             EventType = "startup"
	EventShutdown            EventType = "shutdown"
	EventDailySummary        EventType = "daily_summary"
)

// EventPriority separates routine visibility from must-see alerts.
type EventPriority string

const (
	PriorityInfo     EventPriority = "info"
	PriorityWarning  EventPriority = "warning"
	PriorityCritical EventPriority = "critical"
)

// Event is a structured notification. Delivery is fire-and-forget: a failed
// notification must never block or fail a trade decision.
type Event struct {
	Type     EventType
	Priority EventPriority
	MarketID string
	Summary  string
	Fields   map[string]string
	At       time.Time
}
