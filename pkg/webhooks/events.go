package webhooks

// EventType identifies a domain event that subscriptions can receive.
type EventType string

const (
	EventResumeCreated       EventType = "resume.created"
	EventResumeUpdated       EventType = "resume.updated"
	EventResumeDeleted       EventType = "resume.deleted"
	EventAnalysisCompleted   EventType = "analysis.completed"
	EventAnalysisFailed      EventType = "analysis.failed"
	EventGenerationCompleted EventType = "generation.completed"
	EventGenerationFailed    EventType = "generation.failed"
	EventExportCompleted     EventType = "export.completed"
	EventExportFailed        EventType = "export.failed"
	EventUserEmailVerified   EventType = "user.email_verified"
	EventUserPasswordChanged EventType = "user.password_changed"
)

// AllEventTypes lists every known event type in catalog order.
func AllEventTypes() []EventType {
	return []EventType{
		EventResumeCreated,
		EventResumeUpdated,
		EventResumeDeleted,
		EventAnalysisCompleted,
		EventAnalysisFailed,
		EventGenerationCompleted,
		EventGenerationFailed,
		EventExportCompleted,
		EventExportFailed,
		EventUserEmailVerified,
		EventUserPasswordChanged,
	}
}

var eventDescriptions = map[EventType]string{
	EventResumeCreated:       "Triggered when a resume is created",
	EventResumeUpdated:       "Triggered when a resume is updated",
	EventResumeDeleted:       "Triggered when a resume is deleted",
	EventAnalysisCompleted:   "Triggered when resume analysis completes",
	EventAnalysisFailed:      "Triggered when resume analysis fails",
	EventGenerationCompleted: "Triggered when AI generation completes",
	EventGenerationFailed:    "Triggered when AI generation fails",
	EventExportCompleted:     "Triggered when resume export completes",
	EventExportFailed:        "Triggered when resume export fails",
	EventUserEmailVerified:   "Triggered when a user verifies their email",
	EventUserPasswordChanged: "Triggered when a user changes their password",
}

// Valid reports whether the event type is part of the closed enumeration.
func (e EventType) Valid() bool {
	_, ok := eventDescriptions[e]
	return ok
}

// Description returns the human-readable catalog description for the event type.
func (e EventType) Description() string {
	return eventDescriptions[e]
}

// EventTypeSet is a membership set over the closed event enumeration.
type EventTypeSet map[EventType]struct{}

// NewEventTypeSet builds a set from a slice of event types.
func NewEventTypeSet(events []EventType) EventTypeSet {
	set := make(EventTypeSet, len(events))
	for _, e := range events {
		set[e] = struct{}{}
	}
	return set
}

// Contains reports whether the set includes the given event type.
func (s EventTypeSet) Contains(e EventType) bool {
	_, ok := s[e]
	return ok
}
