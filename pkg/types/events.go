package types

// EventType tags an Event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventReady    EventType = "ready"
	EventUpdate   EventType = "update"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is emitted by the core to consumers. Fields are populated according to
// Type; an error event without Mode reports a load failure.
type Event struct {
	Type          EventType `json:"type"`
	Progress      *float64  `json:"progress,omitempty"`
	Text          string    `json:"text,omitempty"`
	Mode          Mode      `json:"mode,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Terminal reports whether the event ends a generation.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

func ProgressEvent(fraction float64, text string) Event {
	return Event{Type: EventProgress, Progress: &fraction, Text: text}
}

func ReadyEvent() Event { return Event{Type: EventReady} }

func UpdateEvent(text string, mode Mode, id string) Event {
	return Event{Type: EventUpdate, Text: text, Mode: mode, CorrelationID: id}
}

func CompleteEvent(text string, mode Mode, id string) Event {
	return Event{Type: EventComplete, Text: text, Mode: mode, CorrelationID: id}
}

// ErrorEvent builds an error event. Pass an empty mode for load-time failures.
func ErrorEvent(msg string, mode Mode, id string) Event {
	return Event{Type: EventError, Error: msg, Mode: mode, CorrelationID: id}
}

// CommandType tags a Command.
type CommandType string

const (
	CommandLoad     CommandType = "load"
	CommandGenerate CommandType = "generate"
	CommandReset    CommandType = "reset"
)

// Command is sent by consumers to the core.
type Command struct {
	Type          CommandType   `json:"type" example:"generate"`
	Text          string        `json:"text,omitempty" example:"Ths sentence has a typo."`
	Mode          Mode          `json:"mode,omitempty" example:"proofread"`
	Backend       BackendConfig `json:"backendConfig"`
	CorrelationID string        `json:"correlationId,omitempty" example:"c0ffee"`
}
