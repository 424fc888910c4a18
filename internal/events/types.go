package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// Module lifecycle
	EventTypeModuleStarted EventType = "module.started"
	EventTypeModuleStopped EventType = "module.stopped"
	EventTypeModuleIdle    EventType = "module.idle"

	// Group activity
	EventTypeGroupTriggered EventType = "group.triggered"
	EventTypeTriggerFailed  EventType = "trigger.failed"

	// Platform
	EventTypePermissionRequired EventType = "permission.required"

	// Error events
	EventTypeError EventType = "error"
)

// AllEventTypes lists every type emitted by the engine.
var AllEventTypes = []EventType{
	EventTypeModuleStarted,
	EventTypeModuleStopped,
	EventTypeModuleIdle,
	EventTypeGroupTriggered,
	EventTypeTriggerFailed,
	EventTypePermissionRequired,
	EventTypeError,
}

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Module that emitted the event (e.g., "ocr", "engine")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// SubscribeAll registers a handler for every event type
	SubscribeAll(handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish queues an event without blocking the caller
	Publish(event Event)

	// Stop stops the event bus and drains remaining events
	Stop()
}

// NewModuleStartedEvent reports a module that started workers.
func NewModuleStartedEvent(module string, workers int) Event {
	return Event{
		Type:      EventTypeModuleStarted,
		Source:    module,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"module":  module,
			"workers": workers,
		},
	}
}

// NewModuleStoppedEvent reports a module whose workers have all exited.
func NewModuleStoppedEvent(module string) Event {
	return Event{
		Type:      EventTypeModuleStopped,
		Source:    module,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"module": module,
		},
	}
}

// NewModuleIdleEvent reports a start request with nothing enabled.
func NewModuleIdleEvent(module string) Event {
	return Event{
		Type:      EventTypeModuleIdle,
		Source:    module,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"module": module,
			"reason": "no enabled groups",
		},
	}
}

// NewGroupTriggeredEvent reports a positive match that fired an action.
func NewGroupTriggeredEvent(module, groupID, detail string) Event {
	return Event{
		Type:      EventTypeGroupTriggered,
		Source:    module,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"module": module,
			"group":  groupID,
			"detail": detail,
		},
	}
}

// NewTriggerFailedEvent reports an action that could not be delivered.
func NewTriggerFailedEvent(module, groupID string, err error) Event {
	return Event{
		Type:      EventTypeTriggerFailed,
		Source:    module,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"module": module,
			"group":  groupID,
			"error":  err.Error(),
		},
	}
}

// NewPermissionRequiredEvent asks the UI to show a permission prompt.
func NewPermissionRequiredEvent(permission string) Event {
	return Event{
		Type:      EventTypePermissionRequired,
		Source:    "platform",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"permission": permission,
		},
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(source, component string, err error, metadata map[string]interface{}) Event {
	data := map[string]interface{}{
		"source":    source,
		"component": component,
		"error":     err.Error(),
	}

	for k, v := range metadata {
		data[k] = v
	}

	return Event{
		Type:      EventTypeError,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}
