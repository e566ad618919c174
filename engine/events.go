/*
events.go - Domain events for external consumers

PURPOSE:
  The orchestrator emits exactly one event per public operation, after
  the transactional write commits. Delivery is fire-and-forget with
  at-least-once semantics assumed downstream, so every event carries a
  unique ID consumers can deduplicate on.
*/
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventLeaveSubmitted EventType = "LeaveSubmitted"
	EventLeaveApproved  EventType = "LeaveApproved"
	EventLeaveRejected  EventType = "LeaveRejected"
	EventLeaveCancelled EventType = "LeaveCancelled"
)

// Event is the audit/notification payload published to external sinks.
type Event struct {
	ID          string
	Type        EventType
	RequestID   RequestID
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Status      Status
	WorkingDays Days
	Actor       ActorID
	Role        Role
	Notes       string
	At          time.Time
}

func newEvent(t EventType, req *LeaveRequest, actor ActorID, role Role, notes string, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		RequestID:   req.ID,
		EmployeeID:  req.EmployeeID,
		LeaveTypeID: req.LeaveTypeID,
		Status:      req.Status,
		WorkingDays: req.WorkingDays,
		Actor:       actor,
		Role:        role,
		Notes:       notes,
		At:          at,
	}
}

// Publisher delivers events to external consumers. Publish must not
// block the caller; failures are the consumer's concern.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// FanoutPublisher delivers each event to every handler on its own
// goroutine. Handlers are registered at wiring time, before traffic.
type FanoutPublisher struct {
	handlers []func(Event)
}

func NewFanoutPublisher(handlers ...func(Event)) *FanoutPublisher {
	return &FanoutPublisher{handlers: handlers}
}

func (p *FanoutPublisher) Publish(event Event) {
	for _, h := range p.handlers {
		go h(event)
	}
}

// CollectingPublisher records events synchronously, for tests.
type CollectingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *CollectingPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *CollectingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
