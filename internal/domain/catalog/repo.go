package catalog

import (
	"context"

	"github.com/google/uuid"
)

type TestTypeRepository interface {
	Create(ctx context.Context, t *TestType) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestType, error)
	GetByCode(ctx context.Context, code string) (*TestType, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*TestType, int, error)
	Update(ctx context.Context, t *TestType) error
}
