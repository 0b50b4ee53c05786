package lab

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/labmaster/labmaster/internal/platform/authz"
)

func TestOrderHappyPath(t *testing.T) {
	e := NewEngine(false)
	steps := []struct {
		event OrderEvent
		want  OrderState
	}{
		{EventCollectSample, OrderSampleCollected},
		{EventReceive, OrderReceived},
		{EventStartProcessing, OrderInProgress},
		{EventEnterResult, OrderResultEntered},
		{EventVerify, OrderVerified},
		{EventReport, OrderReported},
	}

	state := OrderOrdered
	for _, step := range steps {
		next, err := e.NextOrderState(state, step.event, authz.RoleLabTechnician)
		if err != nil {
			t.Fatalf("%s from %s: %v", step.event, state, err)
		}
		if next != step.want {
			t.Fatalf("%s from %s: got %s, want %s", step.event, state, next, step.want)
		}
		state = next
	}
}

func TestOrderIllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	e := NewEngine(false)
	tests := []struct {
		state OrderState
		event OrderEvent
	}{
		{OrderOrdered, EventReceive},
		{OrderOrdered, EventVerify},
		{OrderOrdered, EventReport},
		{OrderSampleCollected, EventStartProcessing},
		{OrderReceived, EventVerify},
		{OrderResultEntered, EventEnterResult},
		{OrderVerified, EventVerify},
		{OrderReported, EventReport},
		{OrderReported, EventCancelOrder},
		{OrderCancelled, EventCollectSample},
		{OrderCancelled, EventCancelOrder},
		{OrderInProgress, OrderEvent("bogus")},
	}

	for _, tt := range tests {
		got, err := e.NextOrderState(tt.state, tt.event, authz.RoleAdmin)
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("%s from %s: expected ErrIllegalTransition, got %v", tt.event, tt.state, err)
		}
		if got != tt.state {
			t.Errorf("%s from %s: state changed to %s", tt.event, tt.state, got)
		}
	}
}

func TestOrderRoleGating(t *testing.T) {
	e := NewEngine(false)

	// Receiving and later transitions belong to the lab.
	for _, role := range []authz.Role{authz.RoleReceptionist, authz.RolePatient} {
		if _, err := e.NextOrderState(OrderSampleCollected, EventReceive, role); !errors.Is(err, authz.ErrForbidden) {
			t.Errorf("receive as %s: expected ErrForbidden, got %v", role, err)
		}
	}
	if _, err := e.NextOrderState(OrderSampleCollected, EventReceive, authz.RoleLabTechnician); err != nil {
		t.Errorf("receive as lab_technician: %v", err)
	}

	// Cancellation belongs to the front desk.
	if _, err := e.NextOrderState(OrderOrdered, EventCancelOrder, authz.RoleLabTechnician); !errors.Is(err, authz.ErrForbidden) {
		t.Errorf("cancel as lab_technician: expected ErrForbidden, got %v", err)
	}
	if _, err := e.NextOrderState(OrderOrdered, EventCancelOrder, authz.RoleReceptionist); err != nil {
		t.Errorf("cancel as receptionist: %v", err)
	}
	if _, err := e.NextOrderState(OrderOrdered, EventCancelOrder, authz.RoleAdmin); err != nil {
		t.Errorf("cancel as admin: %v", err)
	}
}

func TestCustodyHappyPath(t *testing.T) {
	e := NewEngine(false)
	steps := []struct {
		event CustodyEvent
		want  CustodyState
	}{
		{SampleShip, CustodyInTransit},
		{SampleReceive, CustodyReceived},
		{SampleStartProcessing, CustodyProcessing},
		{SampleCompleteProcessing, CustodyProcessed},
		{SampleDispose, CustodyDisposed},
	}

	state := CustodyCollected
	for _, step := range steps {
		next, err := e.NextCustodyState(state, step.event, authz.RoleLabTechnician)
		if err != nil {
			t.Fatalf("%s from %s: %v", step.event, state, err)
		}
		if next != step.want {
			t.Fatalf("%s from %s: got %s, want %s", step.event, state, next, step.want)
		}
		state = next
	}
}

func TestCustodyReceiveSkipsTransit(t *testing.T) {
	e := NewEngine(false)
	next, err := e.NextCustodyState(CustodyCollected, SampleReceive, authz.RoleLabTechnician)
	if err != nil {
		t.Fatalf("on-site samples must be receivable without shipping: %v", err)
	}
	if next != CustodyReceived {
		t.Errorf("got %s, want %s", next, CustodyReceived)
	}
}

func TestCustodyRejection(t *testing.T) {
	e := NewEngine(false)
	for _, from := range []CustodyState{CustodyCollected, CustodyInTransit, CustodyReceived} {
		next, err := e.NextCustodyState(from, SampleReject, authz.RoleLabTechnician)
		if err != nil {
			t.Errorf("reject from %s: %v", from, err)
		}
		if next != CustodyRejected {
			t.Errorf("reject from %s: got %s", from, next)
		}
	}
	for _, from := range []CustodyState{CustodyProcessing, CustodyProcessed, CustodyDisposed, CustodyRejected} {
		if _, err := e.NextCustodyState(from, SampleReject, authz.RoleLabTechnician); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("reject from %s: expected ErrIllegalTransition, got %v", from, err)
		}
	}
}

func TestDualControl(t *testing.T) {
	enterer := uuid.New()
	other := uuid.New()

	off := NewEngine(false)
	if err := off.CheckVerifier(enterer, enterer); err != nil {
		t.Errorf("dual control off: self-verification must pass, got %v", err)
	}

	on := NewEngine(true)
	if err := on.CheckVerifier(enterer, enterer); !errors.Is(err, ErrDualControlRequired) {
		t.Errorf("dual control on: expected ErrDualControlRequired, got %v", err)
	}
	if err := on.CheckVerifier(enterer, other); err != nil {
		t.Errorf("dual control on: distinct verifier must pass, got %v", err)
	}
}

func TestCanAttachResult(t *testing.T) {
	allowed := map[OrderState]bool{
		OrderReceived: true, OrderInProgress: true, OrderResultEntered: true, OrderVerified: true,
	}
	all := []OrderState{
		OrderOrdered, OrderSampleCollected, OrderReceived, OrderInProgress,
		OrderResultEntered, OrderVerified, OrderReported, OrderCancelled,
	}
	for _, s := range all {
		if got := CanAttachResult(s); got != allowed[s] {
			t.Errorf("CanAttachResult(%s) = %v, want %v", s, got, allowed[s])
		}
	}
}

func TestSyncOrderState(t *testing.T) {
	tests := []struct {
		order   OrderState
		custody CustodyState
		want    OrderState
		advance bool
	}{
		{OrderOrdered, CustodyReceived, OrderReceived, true},
		{OrderSampleCollected, CustodyReceived, OrderReceived, true},
		{OrderReceived, CustodyProcessing, OrderInProgress, true},
		{OrderResultEntered, CustodyProcessing, OrderResultEntered, false},
		{OrderCancelled, CustodyReceived, OrderCancelled, false},
		{OrderReported, CustodyProcessing, OrderReported, false},
		{OrderReceived, CustodyRejected, OrderReceived, false},
	}
	for _, tt := range tests {
		got, advance := SyncOrderState(tt.order, tt.custody)
		if got != tt.want || advance != tt.advance {
			t.Errorf("SyncOrderState(%s, %s) = (%s, %v), want (%s, %v)",
				tt.order, tt.custody, got, advance, tt.want, tt.advance)
		}
	}
}
