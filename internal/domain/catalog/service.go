package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/labmaster/labmaster/internal/platform/db"
)

var ErrCodeTaken = errors.New("catalog: test type code already exists")

var validParameterTypes = map[string]bool{
	"numeric": true, "text": true, "select": true, "boolean": true,
}

type Service struct {
	testTypes TestTypeRepository
}

func NewService(testTypes TestTypeRepository) *Service {
	return &Service{testTypes: testTypes}
}

// CreateTestType registers a new catalog entry. Codes are normalized to
// upper case so CBC and cbc refer to the same test.
func (s *Service) CreateTestType(ctx context.Context, t *TestType) error {
	t.Code = strings.ToUpper(strings.TrimSpace(t.Code))
	if t.Code == "" {
		return fmt.Errorf("code is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := validateParameters(t.Parameters); err != nil {
		return err
	}
	if _, err := s.testTypes.GetByCode(ctx, t.Code); err == nil {
		return ErrCodeTaken
	} else if !errors.Is(err, db.ErrNotFound) {
		return err
	}
	t.IsActive = true
	return s.testTypes.Create(ctx, t)
}

func (s *Service) GetTestType(ctx context.Context, id uuid.UUID) (*TestType, error) {
	return s.testTypes.GetByID(ctx, id)
}

func (s *Service) GetTestTypeByCode(ctx context.Context, code string) (*TestType, error) {
	return s.testTypes.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) ListTestTypes(ctx context.Context, activeOnly bool, limit, offset int) ([]*TestType, int, error) {
	return s.testTypes.List(ctx, activeOnly, limit, offset)
}

func (s *Service) UpdateTestType(ctx context.Context, t *TestType) error {
	if err := validateParameters(t.Parameters); err != nil {
		return err
	}
	return s.testTypes.Update(ctx, t)
}

// Deactivate retires a test type without deleting it; existing orders keep
// referencing the code.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*TestType, error) {
	t, err := s.testTypes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.IsActive = false
	if err := s.testTypes.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ActiveCode reports whether the code names an active test type, and
// returns its sample requirements. The lab domain calls this when creating
// orders.
func (s *Service) ActiveCode(ctx context.Context, code string) ([]string, error) {
	t, err := s.GetTestTypeByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, fmt.Errorf("test type %s is inactive", t.Code)
	}
	return t.SampleRequirements, nil
}

func validateParameters(params []ParameterConfig) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" || p.Code == "" {
			return fmt.Errorf("parameter name and code are required")
		}
		if !validParameterTypes[p.Type] {
			return fmt.Errorf("invalid parameter type: %s", p.Type)
		}
		if p.Type == "select" && len(p.Options) == 0 {
			return fmt.Errorf("select parameter %s needs options", p.Code)
		}
		if seen[p.Code] {
			return fmt.Errorf("duplicate parameter code: %s", p.Code)
		}
		seen[p.Code] = true
	}
	return nil
}
