package notification

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRender_CriticalResult(t *testing.T) {
	subject, body := Render(EventCriticalResult, map[string]string{
		"order_id":  "ord-1",
		"test_code": "CBC",
	})
	if !strings.Contains(subject, "ord-1") {
		t.Errorf("subject missing order id: %q", subject)
	}
	if !strings.Contains(body, "CBC") {
		t.Errorf("body missing test code: %q", body)
	}
	if strings.Contains(subject, "{{") {
		t.Errorf("unresolved placeholder in subject: %q", subject)
	}
}

func TestRender_UnknownType(t *testing.T) {
	subject, _ := Render(EventType("weird"), nil)
	if subject == "" {
		t.Error("unknown event types must still render a subject")
	}
}

func TestMemoryNotifier_Records(t *testing.T) {
	n := NewMemoryNotifier()
	recipient := uuid.New()

	ev := NewEvent(EventResultReady, recipient, map[string]string{"test_code": "THYROID"})
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	events := n.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Recipient != recipient {
		t.Errorf("wrong recipient")
	}
	if events[0].Type != EventResultReady {
		t.Errorf("wrong type: %s", events[0].Type)
	}
}
