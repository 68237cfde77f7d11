package wizard

import (
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/wizard/model"
)

// Outbound event names.
const (
	EventAIMessage     = "ai_message"
	EventAITyping      = "ai_typing"
	EventWorkflowState = "workflow_state"
	EventError         = "error"
)

// Inbound event names.
const (
	EventUserMessage      = "user_message"
	EventResetWorkflow    = "reset_workflow"
	EventGetWorkflowState = "get_workflow_state"
)

// Emitter delivers an outbound event to one client. Implementations must be
// safe for concurrent use.
type Emitter interface {
	Emit(event string, data any) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(event string, data any) error

// Emit calls f(event, data).
func (f EmitterFunc) Emit(event string, data any) error {
	return f(event, data)
}

// AIMessage is the payload of an ai_message event. Example and Placeholder
// are null when the response carries none.
type AIMessage struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Content     string          `json:"content"`
	Options     []model.Option  `json:"options"`
	InputType   model.InputType `json:"inputType"`
	Example     *string         `json:"example"`
	Placeholder *string         `json:"placeholder"`
	Timestamp   string          `json:"timestamp"`
}

// TypingPayload is the payload of an ai_typing event.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewAIMessage wraps an engine response for delivery.
func NewAIMessage(r model.Response, at time.Time) AIMessage {
	options := r.Options
	if options == nil {
		options = []model.Option{}
	}
	return AIMessage{
		ID:          uuid.NewString(),
		Type:        "ai",
		Content:     r.Message,
		Options:     options,
		InputType:   r.InputType,
		Example:     optional(r.Example),
		Placeholder: optional(r.Placeholder),
		Timestamp:   at.UTC().Format(time.RFC3339Nano),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewErrorPayload converts an error to an error event payload.
func NewErrorPayload(err error) ErrorPayload {
	if ee, ok := err.(*model.ErrorEnvelope); ok {
		return ErrorPayload{Message: ee.Message, Code: ee.Code}
	}
	return ErrorPayload{Message: err.Error()}
}
