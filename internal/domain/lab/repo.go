package lab

import (
	"context"

	"github.com/google/uuid"
)

// OrderFilter narrows order listings. ForUserID restricts to orders whose
// patient record is linked to that account (patient-role scoping).
type OrderFilter struct {
	PatientID *uuid.UUID
	Status    *OrderState
	ForUserID *uuid.UUID
}

type OrderRepository interface {
	Create(ctx context.Context, o *TestOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestOrder, error)
	List(ctx context.Context, f OrderFilter, limit, offset int) ([]*TestOrder, int, error)
	// Update applies a version-checked write and returns db.ErrStaleState
	// when the stored version no longer matches.
	Update(ctx context.Context, o *TestOrder) error
}

type SampleRepository interface {
	Create(ctx context.Context, s *Sample) error
	GetByID(ctx context.Context, id uuid.UUID) (*Sample, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Sample, error)
	Update(ctx context.Context, s *Sample) error
}

type ResultRepository interface {
	Create(ctx context.Context, r *Result) error
	GetByID(ctx context.Context, id uuid.UUID) (*Result, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*Result, error)
	Update(ctx context.Context, r *Result) error
}

type HistoryRepository interface {
	Record(ctx context.Context, h *StatusChange) error
	ListByResource(ctx context.Context, resourceType string, resourceID uuid.UUID) ([]*StatusChange, error)
}
