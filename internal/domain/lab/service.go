package lab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labmaster/labmaster/internal/platform/authz"
	"github.com/labmaster/labmaster/internal/platform/db"
	"github.com/labmaster/labmaster/internal/platform/notification"
)

// PatientDirectory resolves patient records owned by the identity domain.
type PatientDirectory interface {
	// OwnerUserID returns the account linked to a patient record; ok is
	// false for walk-ins with no account.
	OwnerUserID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, bool, error)
}

// TestTypeDirectory resolves orderable test types from the catalog domain.
type TestTypeDirectory interface {
	// ActiveCode validates the code names an active test type and returns
	// its sample requirements.
	ActiveCode(ctx context.Context, code string) ([]string, error)
}

// TxRunner executes fn atomically. db.WithTx provides the production
// implementation; tests pass a passthrough.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	orders   OrderRepository
	samples  SampleRepository
	results  ResultRepository
	history  HistoryRepository
	guard    *authz.Guard
	engine   *Engine
	patients PatientDirectory
	catalog  TestTypeDirectory
	notifier notification.Notifier
	tx       TxRunner
	logger   zerolog.Logger
}

func NewService(
	orders OrderRepository,
	samples SampleRepository,
	results ResultRepository,
	history HistoryRepository,
	guard *authz.Guard,
	engine *Engine,
	patients PatientDirectory,
	catalog TestTypeDirectory,
	notifier notification.Notifier,
	tx TxRunner,
	logger zerolog.Logger,
) *Service {
	if tx == nil {
		tx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Service{
		orders: orders, samples: samples, results: results, history: history,
		guard: guard, engine: engine, patients: patients, catalog: catalog,
		notifier: notifier, tx: tx, logger: logger,
	}
}

// withRetry runs fn in a transaction and retries exactly once when a
// version check fails. fn re-reads state on each attempt, so the retry sees
// the committed state of the competing writer.
func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.tx(ctx, fn)
	if errors.Is(err, db.ErrStaleState) {
		err = s.tx(ctx, fn)
	}
	return err
}

func (s *Service) record(ctx context.Context, resourceType string, resourceID uuid.UUID, from, to string, actorID uuid.UUID, role authz.Role, reason string) error {
	h := &StatusChange{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		FromStatus:   from,
		ToStatus:     to,
		ChangedBy:    actorID,
		Role:         string(role),
		ChangedAt:    time.Now(),
	}
	if reason != "" {
		h.Reason = &reason
	}
	return s.history.Record(ctx, h)
}

func (s *Service) orderOwner(ctx context.Context, o *TestOrder) (uuid.UUID, error) {
	owner, ok, err := s.patients.OwnerUserID(ctx, o.PatientID)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, nil
	}
	return owner, nil
}

// -- Orders --

type CreateOrderInput struct {
	PatientID    uuid.UUID `json:"patient_id"`
	TestTypeCode string    `json:"test_type_code"`
	SampleTypes  []string  `json:"sample_types,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

// CreateOrder opens a new order and its samples in one transaction. Sample
// types default to the test type's requirements.
func (s *Service) CreateOrder(ctx context.Context, role authz.Role, actorID uuid.UUID, in CreateOrderInput) (*OrderDetail, error) {
	if err := s.guard.Authorize(role, actorID, authz.ResourceTestOrder, authz.ActionCreate, uuid.Nil); err != nil {
		return nil, err
	}
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if _, _, err := s.patients.OwnerUserID(ctx, in.PatientID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("patient %s: %w", in.PatientID, err)
		}
		return nil, err
	}
	requirements, err := s.catalog.ActiveCode(ctx, in.TestTypeCode)
	if err != nil {
		return nil, err
	}
	sampleTypes := in.SampleTypes
	if len(sampleTypes) == 0 {
		sampleTypes = requirements
	}
	if len(sampleTypes) == 0 {
		return nil, fmt.Errorf("test type %s defines no sample requirements", in.TestTypeCode)
	}

	order := &TestOrder{
		PatientID:    in.PatientID,
		TestTypeCode: in.TestTypeCode,
		Status:       OrderOrdered,
		OrderedBy:    actorID,
		Notes:        in.Notes,
	}
	var created []*Sample
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}
		if err := s.record(ctx, HistoryOrder, order.ID, "", string(OrderOrdered), actorID, role, ""); err != nil {
			return err
		}
		now := time.Now()
		for _, st := range sampleTypes {
			sm := &Sample{
				OrderID:     order.ID,
				SampleType:  st,
				Custody:     CustodyCollected,
				CollectedAt: now,
			}
			if err := s.samples.Create(ctx, sm); err != nil {
				return err
			}
			if err := s.record(ctx, HistorySample, sm.ID, "", string(CustodyCollected), actorID, role, ""); err != nil {
				return err
			}
			created = append(created, sm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("test_type", order.TestTypeCode).
		Str("actor", actorID.String()).
		Str("role", string(role)).
		Msg("order created")
	return &OrderDetail{Order: order, Samples: created}, nil
}

func (s *Service) GetOrder(ctx context.Context, role authz.Role, actorID, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	owner, err := s.orderOwner(ctx, order)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(role, actorID, authz.ResourceTestOrder, authz.ActionRead, owner); err != nil {
		return nil, err
	}
	samples, err := s.samples.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	detail := &OrderDetail{Order: order, Samples: samples}
	result, err := s.results.GetByOrder(ctx, orderID)
	if err == nil {
		detail.Result = result
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	return detail, nil
}

func (s *Service) ListOrders(ctx context.Context, role authz.Role, actorID uuid.UUID, f OrderFilter, limit, offset int) ([]*TestOrder, int, error) {
	if role == authz.RolePatient {
		if err := s.guard.Authorize(role, actorID, authz.ResourceTestOrder, authz.ActionReadOwn, actorID); err != nil {
			return nil, 0, err
		}
		f.ForUserID = &actorID
		return s.orders.List(ctx, f, limit, offset)
	}
	if err := s.guard.Authorize(role, actorID, authz.ResourceTestOrder, authz.ActionRead, uuid.Nil); err != nil {
		return nil, 0, err
	}
	return s.orders.List(ctx, f, limit, offset)
}

// TransitionOrder fires an order lifecycle event. Cancellation routes
// through CancelOrder because it couples to the sample custody chain.
func (s *Service) TransitionOrder(ctx context.Context, role authz.Role, actorID, orderID uuid.UUID, event OrderEvent, reason string) (*TestOrder, error) {
	if event == EventCancelOrder {
		return s.CancelOrder(ctx, role, actorID, orderID, reason)
	}
	if err := s.guard.Authorize(role, actorID, authz.ResourceTestOrder, authz.ActionUpdateStatus, uuid.Nil); err != nil {
		return nil, err
	}

	var order *TestOrder
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		from := order.Status
		next, err := s.engine.NextOrderState(from, event, role)
		if err != nil {
			return err
		}
		order.Status = next
		if next == OrderReported {
			now := time.Now()
			order.ReportedAt = &now
		}
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}
		return s.record(ctx, HistoryOrder, order.ID, string(from), string(next), actorID, role, reason)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("event", string(event)).
		Str("status", string(order.Status)).
		Str("actor", actorID.String()).
		Str("role", string(role)).
		Msg("order transition")
	return order, nil
}

// CancelOrder cancels an order and its samples atomically. A sample past
// processing blocks the whole cancellation.
func (s *Service) CancelOrder(ctx context.Context, role authz.Role, actorID, orderID uuid.UUID, reason string) (*TestOrder, error) {
	if err := s.guard.Authorize(role, actorID, authz.ResourceTestOrder, authz.ActionUpdate, uuid.Nil); err != nil {
		return nil, err
	}

	var order *TestOrder
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		from := order.Status
		next, err := s.engine.NextOrderState(from, EventCancelOrder, role)
		if err != nil {
			return err
		}

		samples, err := s.samples.ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, sm := range samples {
			if CustodyPastProcessing(sm.Custody) {
				return fmt.Errorf("sample %s in %s: %w", sm.ID, sm.Custody, ErrCannotCancelProcessedSample)
			}
		}
		for _, sm := range samples {
			if IsTerminalCustody(sm.Custody) {
				continue
			}
			custodyFrom := sm.Custody
			sm.Custody = CustodyCancelled
			if err := s.samples.Update(ctx, sm); err != nil {
				return err
			}
			if err := s.record(ctx, HistorySample, sm.ID, string(custodyFrom), string(CustodyCancelled), actorID, role, reason); err != nil {
				return err
			}
		}

		order.Status = next
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}
		return s.record(ctx, HistoryOrder, order.ID, string(from), string(next), actorID, role, reason)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("actor", actorID.String()).
		Str("role", string(role)).
		Msg("order cancelled")
	return order, nil
}

// OrderStatusHistory returns the transition trail of an order.
func (s *Service) OrderStatusHistory(ctx context.Context, role authz.Role, actorID, orderID uuid.UUID) ([]*StatusChange, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	owner, err := s.orderOwner(ctx, order)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(role, actorID, authz.ResourceTestOrder, authz.ActionRead, owner); err != nil {
		return nil, err
	}
	return s.history.ListByResource(ctx, HistoryOrder, orderID)
}

// -- Samples --

func (s *Service) GetSample(ctx context.Context, role authz.Role, actorID, sampleID uuid.UUID) (*Sample, error) {
	sm, err := s.samples.GetByID(ctx, sampleID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(role, actorID, authz.ResourceSample, authz.ActionRead, uuid.Nil); err != nil {
		return nil, err
	}
	return sm, nil
}

// TransitionSample fires a custody event and keeps the owning order in step
// through the coordination table.
func (s *Service) TransitionSample(ctx context.Context, role authz.Role, actorID, sampleID uuid.UUID, event CustodyEvent, reason string) (*Sample, error) {
	if err := s.guard.Authorize(role, actorID, authz.ResourceSample, authz.ActionUpdateStatus, uuid.Nil); err != nil {
		return nil, err
	}

	var sm *Sample
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		sm, err = s.samples.GetByID(ctx, sampleID)
		if err != nil {
			return err
		}
		from := sm.Custody
		next, err := s.engine.NextCustodyState(from, event, role)
		if err != nil {
			return err
		}
		sm.Custody = next
		if err := s.samples.Update(ctx, sm); err != nil {
			return err
		}
		if err := s.record(ctx, HistorySample, sm.ID, string(from), string(next), actorID, role, reason); err != nil {
			return err
		}

		order, err := s.orders.GetByID(ctx, sm.OrderID)
		if err != nil {
			return err
		}
		if implied, advance := SyncOrderState(order.Status, next); advance {
			orderFrom := order.Status
			order.Status = implied
			if err := s.orders.Update(ctx, order); err != nil {
				return err
			}
			if err := s.record(ctx, HistoryOrder, order.ID, string(orderFrom), string(implied), actorID, role, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("sample_id", sm.ID.String()).
		Str("event", string(event)).
		Str("custody", string(sm.Custody)).
		Str("actor", actorID.String()).
		Str("role", string(role)).
		Msg("sample custody transition")
	return sm, nil
}

// -- Results --

type AttachResultInput struct {
	Values map[string]interface{} `json:"values"`
	Flag   string                 `json:"flag,omitempty"`
}

// AttachResult records result values for an order. The order auto-advances
// to result_entered unless already past it. A critical flag emits a
// notification after the transaction commits.
func (s *Service) AttachResult(ctx context.Context, role authz.Role, actorID, orderID uuid.UUID, in AttachResultInput) (*Result, error) {
	if err := s.guard.Authorize(role, actorID, authz.ResourceResult, authz.ActionCreate, uuid.Nil); err != nil {
		return nil, err
	}
	if len(in.Values) == 0 {
		return nil, fmt.Errorf("values are required")
	}
	flag := in.Flag
	if flag == "" {
		flag = FlagNormal
	}
	if flag != FlagNormal && flag != FlagAbnormal && flag != FlagCritical {
		return nil, fmt.Errorf("invalid flag: %s", flag)
	}

	var result *Result
	var order *TestOrder
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanAttachResult(order.Status) {
			return fmt.Errorf("order %s in %s: %w", order.ID, order.Status, ErrIllegalTransition)
		}
		result = &Result{
			OrderID:   orderID,
			Values:    in.Values,
			Flag:      flag,
			EnteredBy: actorID,
		}
		if err := s.results.Create(ctx, result); err != nil {
			return err
		}
		if order.Status == OrderReceived || order.Status == OrderInProgress {
			from := order.Status
			next, err := s.engine.NextOrderState(from, EventEnterResult, role)
			if err != nil {
				return err
			}
			order.Status = next
			if err := s.orders.Update(ctx, order); err != nil {
				return err
			}
			if err := s.record(ctx, HistoryOrder, order.ID, string(from), string(next), actorID, role, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if flag == FlagCritical {
		s.notifyCritical(ctx, order, result)
	}
	s.logger.Info().
		Str("order_id", orderID.String()).
		Str("result_id", result.ID.String()).
		Str("flag", flag).
		Str("actor", actorID.String()).
		Msg("result entered")
	return result, nil
}

func (s *Service) notifyCritical(ctx context.Context, order *TestOrder, result *Result) {
	recipient := uuid.Nil
	if owner, ok, err := s.patients.OwnerUserID(ctx, order.PatientID); err == nil && ok {
		recipient = owner
	}
	event := notification.NewEvent(notification.EventCriticalResult, recipient, map[string]string{
		"order_id":  order.ID.String(),
		"result_id": result.ID.String(),
		"test_code": order.TestTypeCode,
	})
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("critical result notification failed")
	}
}

func (s *Service) GetResult(ctx context.Context, role authz.Role, actorID, resultID uuid.UUID) (*Result, error) {
	result, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.GetByID(ctx, result.OrderID)
	if err != nil {
		return nil, err
	}
	owner, err := s.orderOwner(ctx, order)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(role, actorID, authz.ResourceResult, authz.ActionRead, owner); err != nil {
		return nil, err
	}
	return result, nil
}

// VerifyResult marks a result verified and advances the order. Under dual
// control the verifier must differ from the result enterer.
func (s *Service) VerifyResult(ctx context.Context, role authz.Role, actorID, resultID uuid.UUID) (*Result, error) {
	if err := s.guard.Authorize(role, actorID, authz.ResourceResult, authz.ActionUpdate, uuid.Nil); err != nil {
		return nil, err
	}

	var result *Result
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.results.GetByID(ctx, resultID)
		if err != nil {
			return err
		}
		if err := s.engine.CheckVerifier(result.EnteredBy, actorID); err != nil {
			return err
		}
		order, err := s.orders.GetByID(ctx, result.OrderID)
		if err != nil {
			return err
		}
		from := order.Status
		next, err := s.engine.NextOrderState(from, EventVerify, role)
		if err != nil {
			return err
		}
		order.Status = next
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}
		now := time.Now()
		result.VerifiedBy = &actorID
		result.FinalizedAt = &now
		if err := s.results.Update(ctx, result); err != nil {
			return err
		}
		return s.record(ctx, HistoryOrder, order.ID, string(from), string(next), actorID, role, "")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("result_id", result.ID.String()).
		Str("actor", actorID.String()).
		Str("role", string(role)).
		Msg("result verified")
	return result, nil
}
