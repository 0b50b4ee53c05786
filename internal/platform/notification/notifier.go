// Package notification delivers operational events (critical result values,
// result-ready notices) to interested parties. Delivery transports are out of
// scope; the package ships a template renderer plus logging and in-memory
// notifiers for deployments and tests.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType classifies a notification event.
type EventType string

const (
	EventCriticalResult EventType = "critical_result"
	EventResultReady    EventType = "result_ready"
)

// Event is a single notification request. Recipient is a user id when known;
// Data feeds the template.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      EventType         `json:"type"`
	Recipient uuid.UUID         `json:"recipient,omitempty"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notifier delivers events fire-and-forget. Implementations must not block
// the caller's transaction; failures are logged, never surfaced to the
// request path.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Template defines a reusable notification template. Placeholders use
// {{name}} syntax and are replaced from Event.Data.
type Template struct {
	Type    EventType
	Subject string
	Body    string
}

var builtinTemplates = map[EventType]Template{
	EventCriticalResult: {
		Type:    EventCriticalResult,
		Subject: "CRITICAL result for order {{order_id}}",
		Body:    "Test order {{order_id}} ({{test_code}}) has a critical value. Immediate clinical review required.",
	},
	EventResultReady: {
		Type:    EventResultReady,
		Subject: "Your lab results are ready",
		Body:    "Results for your {{test_code}} test are now available. Please log in to view them.",
	},
}

// Render fills the template for the event type with the given data. Unknown
// event types render a generic subject so no event is dropped silently.
func Render(eventType EventType, data map[string]string) (subject, body string) {
	tpl, ok := builtinTemplates[eventType]
	if !ok {
		return fmt.Sprintf("lab notification: %s", eventType), ""
	}
	return substitute(tpl.Subject, data), substitute(tpl.Body, data)
}

func substitute(s string, data map[string]string) string {
	for k, v := range data {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}

// NewEvent builds a rendered event ready for delivery.
func NewEvent(eventType EventType, recipient uuid.UUID, data map[string]string) Event {
	subject, body := Render(eventType, data)
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Data:      data,
		CreatedAt: time.Now(),
	}
}

// LogNotifier writes events to the structured log. The default in
// deployments without a delivery transport configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("recipient", event.Recipient.String()).
		Str("subject", event.Subject).
		Msg("notification")
	return nil
}

// MemoryNotifier records events in memory. Used by tests and as a buffer for
// future transports.
type MemoryNotifier struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) Notify(_ context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Events returns a copy of all recorded events.
func (n *MemoryNotifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}
