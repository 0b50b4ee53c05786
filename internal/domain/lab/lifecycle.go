package lab

import (
	"errors"

	"github.com/google/uuid"

	"github.com/labmaster/labmaster/internal/platform/authz"
)

var (
	ErrIllegalTransition           = errors.New("lab: illegal transition")
	ErrCannotCancelProcessedSample = errors.New("lab: sample already processed, manual disposal required")
	ErrDualControlRequired         = errors.New("lab: verifier must differ from the actor who entered the result")
)

// OrderState is a test order lifecycle state.
type OrderState string

const (
	OrderOrdered         OrderState = "ordered"
	OrderSampleCollected OrderState = "sample_collected"
	OrderReceived        OrderState = "received"
	OrderInProgress      OrderState = "in_progress"
	OrderResultEntered   OrderState = "result_entered"
	OrderVerified        OrderState = "verified"
	OrderReported        OrderState = "reported"
	OrderCancelled       OrderState = "cancelled"
)

// OrderEvent moves an order between states.
type OrderEvent string

const (
	EventCollectSample   OrderEvent = "collect_sample"
	EventReceive         OrderEvent = "receive"
	EventStartProcessing OrderEvent = "start_processing"
	EventEnterResult     OrderEvent = "enter_result"
	EventVerify          OrderEvent = "verify"
	EventReport          OrderEvent = "report"
	EventCancelOrder     OrderEvent = "cancel"
)

// CustodyState tracks where a sample is in physical handling.
type CustodyState string

const (
	CustodyCollected  CustodyState = "collected"
	CustodyInTransit  CustodyState = "in_transit"
	CustodyReceived   CustodyState = "received"
	CustodyProcessing CustodyState = "processing"
	CustodyProcessed  CustodyState = "processed"
	CustodyDisposed   CustodyState = "disposed"
	CustodyRejected   CustodyState = "rejected"
	CustodyCancelled  CustodyState = "cancelled"
)

// CustodyEvent moves a sample between custody states.
type CustodyEvent string

const (
	SampleShip              CustodyEvent = "ship"
	SampleReceive           CustodyEvent = "receive"
	SampleStartProcessing   CustodyEvent = "start_processing"
	SampleCompleteProcessing CustodyEvent = "complete_processing"
	SampleDispose           CustodyEvent = "dispose"
	SampleReject            CustodyEvent = "reject"
	SampleCancel            CustodyEvent = "cancel"
)

type orderRule struct {
	from  map[OrderState]bool
	to    OrderState
	roles map[authz.Role]bool
}

var techOrAdmin = map[authz.Role]bool{authz.RoleLabTechnician: true, authz.RoleAdmin: true}
var receptionistOrAdmin = map[authz.Role]bool{authz.RoleReceptionist: true, authz.RoleAdmin: true}

var orderRules = map[OrderEvent]orderRule{
	EventCollectSample: {
		from:  map[OrderState]bool{OrderOrdered: true},
		to:    OrderSampleCollected,
		roles: techOrAdmin,
	},
	EventReceive: {
		from:  map[OrderState]bool{OrderSampleCollected: true},
		to:    OrderReceived,
		roles: techOrAdmin,
	},
	EventStartProcessing: {
		from:  map[OrderState]bool{OrderReceived: true},
		to:    OrderInProgress,
		roles: techOrAdmin,
	},
	EventEnterResult: {
		from:  map[OrderState]bool{OrderReceived: true, OrderInProgress: true},
		to:    OrderResultEntered,
		roles: techOrAdmin,
	},
	EventVerify: {
		from:  map[OrderState]bool{OrderResultEntered: true},
		to:    OrderVerified,
		roles: techOrAdmin,
	},
	EventReport: {
		from:  map[OrderState]bool{OrderVerified: true},
		to:    OrderReported,
		roles: techOrAdmin,
	},
	EventCancelOrder: {
		from: map[OrderState]bool{
			OrderOrdered: true, OrderSampleCollected: true, OrderReceived: true,
			OrderInProgress: true, OrderResultEntered: true, OrderVerified: true,
		},
		to:    OrderCancelled,
		roles: receptionistOrAdmin,
	},
}

type custodyRule struct {
	from  map[CustodyState]bool
	to    CustodyState
	roles map[authz.Role]bool
}

var custodyRules = map[CustodyEvent]custodyRule{
	SampleShip: {
		from:  map[CustodyState]bool{CustodyCollected: true},
		to:    CustodyInTransit,
		roles: techOrAdmin,
	},
	// A sample collected on site skips transit.
	SampleReceive: {
		from:  map[CustodyState]bool{CustodyCollected: true, CustodyInTransit: true},
		to:    CustodyReceived,
		roles: techOrAdmin,
	},
	SampleStartProcessing: {
		from:  map[CustodyState]bool{CustodyReceived: true},
		to:    CustodyProcessing,
		roles: techOrAdmin,
	},
	SampleCompleteProcessing: {
		from:  map[CustodyState]bool{CustodyProcessing: true},
		to:    CustodyProcessed,
		roles: techOrAdmin,
	},
	SampleDispose: {
		from:  map[CustodyState]bool{CustodyProcessed: true},
		to:    CustodyDisposed,
		roles: techOrAdmin,
	},
	SampleReject: {
		from:  map[CustodyState]bool{CustodyCollected: true, CustodyInTransit: true, CustodyReceived: true},
		to:    CustodyRejected,
		roles: techOrAdmin,
	},
	SampleCancel: {
		from: map[CustodyState]bool{
			CustodyCollected: true, CustodyInTransit: true,
			CustodyReceived: true, CustodyProcessing: true,
		},
		to:    CustodyCancelled,
		roles: receptionistOrAdmin,
	},
}

// orderRank orders the happy-path states so "at least received" checks and
// custody coordination stay table-driven.
var orderRank = map[OrderState]int{
	OrderOrdered:         0,
	OrderSampleCollected: 1,
	OrderReceived:        2,
	OrderInProgress:      3,
	OrderResultEntered:   4,
	OrderVerified:        5,
	OrderReported:        6,
}

// Engine applies lifecycle rules. RequireDualControl enforces the four-eyes
// policy on result verification.
type Engine struct {
	RequireDualControl bool
}

func NewEngine(requireDualControl bool) *Engine {
	return &Engine{RequireDualControl: requireDualControl}
}

// NextOrderState validates an order event against the current state and the
// actor's role. The state is never changed here; callers persist the
// returned state inside their transaction.
func (e *Engine) NextOrderState(current OrderState, event OrderEvent, role authz.Role) (OrderState, error) {
	rule, ok := orderRules[event]
	if !ok {
		return current, ErrIllegalTransition
	}
	if !rule.from[current] {
		return current, ErrIllegalTransition
	}
	if !rule.roles[role] {
		return current, authz.ErrForbidden
	}
	return rule.to, nil
}

// NextCustodyState validates a sample custody event.
func (e *Engine) NextCustodyState(current CustodyState, event CustodyEvent, role authz.Role) (CustodyState, error) {
	rule, ok := custodyRules[event]
	if !ok {
		return current, ErrIllegalTransition
	}
	if !rule.from[current] {
		return current, ErrIllegalTransition
	}
	if !rule.roles[role] {
		return current, authz.ErrForbidden
	}
	return rule.to, nil
}

// CheckVerifier enforces dual control: when enabled, the verifying actor
// must not be the one who entered the result.
func (e *Engine) CheckVerifier(enteredBy, verifier uuid.UUID) error {
	if e.RequireDualControl && enteredBy == verifier {
		return ErrDualControlRequired
	}
	return nil
}

// CanAttachResult reports whether the order has progressed far enough for a
// result. Results attach from received onward but never to a closed order.
func CanAttachResult(s OrderState) bool {
	rank, ok := orderRank[s]
	if !ok {
		return false
	}
	return rank >= orderRank[OrderReceived] && s != OrderReported
}

// IsTerminalOrder reports whether no further order transitions exist.
func IsTerminalOrder(s OrderState) bool {
	return s == OrderReported || s == OrderCancelled
}

// IsTerminalCustody reports whether no further custody transitions exist.
func IsTerminalCustody(s CustodyState) bool {
	return s == CustodyDisposed || s == CustodyRejected || s == CustodyCancelled
}

// CustodyPastProcessing reports whether the sample is beyond the point of
// cancellation.
func CustodyPastProcessing(s CustodyState) bool {
	return s == CustodyProcessed || s == CustodyDisposed
}

// impliedOrderState maps a custody state to the minimum order state it
// implies. The two machines stay independent; this is the coordination
// point that keeps the order from lagging behind its sample.
var impliedOrderState = map[CustodyState]OrderState{
	CustodyCollected:  OrderSampleCollected,
	CustodyReceived:   OrderReceived,
	CustodyProcessing: OrderInProgress,
}

// SyncOrderState returns the order state implied by a sample custody change
// and whether the order should advance. Terminal orders never move.
func SyncOrderState(order OrderState, custody CustodyState) (OrderState, bool) {
	implied, ok := impliedOrderState[custody]
	if !ok || IsTerminalOrder(order) {
		return order, false
	}
	cur, ok := orderRank[order]
	if !ok || cur >= orderRank[implied] {
		return order, false
	}
	return implied, true
}
