package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/labmaster/labmaster/internal/platform/auth"
	"github.com/labmaster/labmaster/internal/platform/authz"
	"github.com/labmaster/labmaster/internal/platform/db"
)

var (
	ErrEmailTaken         = errors.New("identity: email already registered")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrAccountDisabled    = errors.New("identity: account disabled")
)

type Service struct {
	users    UserRepository
	patients PatientRepository
	guard    *authz.Guard
}

func NewService(users UserRepository, patients PatientRepository, guard *authz.Guard) *Service {
	return &Service{users: users, patients: patients, guard: guard}
}

// -- Accounts --

// Register creates a new account. Self-registration always lands in the
// patient role; staff roles are assigned by an admin afterwards.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Email:          email,
		HashedPassword: hashed,
		FullName:       fullName,
		Role:           authz.RolePatient,
		IsActive:       true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate verifies credentials and returns the account. The error is
// the same for unknown email and wrong password so the endpoint does not
// leak which emails exist.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.HashedPassword, password) {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrAccountDisabled
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// UpdateProfile lets an account change its own mutable fields.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, fullName *string, password *string) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if fullName != nil {
		u.FullName = *fullName
	}
	if password != nil {
		hashed, err := auth.HashPassword(*password)
		if err != nil {
			return nil, err
		}
		u.HashedPassword = hashed
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ListUsers returns all accounts. Admin only.
func (s *Service) ListUsers(ctx context.Context, actorRole authz.Role, actorID uuid.UUID, limit, offset int) ([]*User, int, error) {
	if err := s.guard.Authorize(actorRole, actorID, authz.ResourceUser, authz.ActionRead, uuid.Nil); err != nil {
		return nil, 0, err
	}
	return s.users.List(ctx, limit, offset)
}

// ChangeRole reassigns an account's role. Admin only.
func (s *Service) ChangeRole(ctx context.Context, actorRole authz.Role, actorID, userID uuid.UUID, newRole string) (*User, error) {
	if err := s.guard.Authorize(actorRole, actorID, authz.ResourceUser, authz.ActionUpdate, uuid.Nil); err != nil {
		return nil, err
	}
	role, err := authz.ParseRole(newRole)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Role = role
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetActive enables or disables an account. Admin only.
func (s *Service) SetActive(ctx context.Context, actorRole authz.Role, actorID, userID uuid.UUID, active bool) (*User, error) {
	if err := s.guard.Authorize(actorRole, actorID, authz.ResourceUser, authz.ActionUpdate, uuid.Nil); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.IsActive = active
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, actorRole authz.Role, actorID uuid.UUID, p *Patient) error {
	if err := s.guard.Authorize(actorRole, actorID, authz.ResourcePatient, authz.ActionCreate, uuid.Nil); err != nil {
		return err
	}
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, actorRole authz.Role, actorID, patientID uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	owner := uuid.Nil
	if p.UserID != nil {
		owner = *p.UserID
	}
	if err := s.guard.Authorize(actorRole, actorID, authz.ResourcePatient, authz.ActionRead, owner); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPatients scopes the listing by role: patients see only their own
// records, staff see everything their role permits.
func (s *Service) ListPatients(ctx context.Context, actorRole authz.Role, actorID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	if actorRole == authz.RolePatient {
		if err := s.guard.Authorize(actorRole, actorID, authz.ResourcePatient, authz.ActionReadOwn, actorID); err != nil {
			return nil, 0, err
		}
		return s.patients.ListByUserID(ctx, actorID, limit, offset)
	}
	if err := s.guard.Authorize(actorRole, actorID, authz.ResourcePatient, authz.ActionRead, uuid.Nil); err != nil {
		return nil, 0, err
	}
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) UpdatePatient(ctx context.Context, actorRole authz.Role, actorID uuid.UUID, p *Patient) error {
	if err := s.guard.Authorize(actorRole, actorID, authz.ResourcePatient, authz.ActionUpdate, uuid.Nil); err != nil {
		return err
	}
	existing, err := s.patients.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.UserID = existing.UserID
	return s.patients.Update(ctx, p)
}

// OwnerUserID reports which account, if any, owns a patient record. The lab
// domain uses this to enforce patient-scoped reads on orders and results.
func (s *Service) OwnerUserID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, bool, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return uuid.Nil, false, err
	}
	if p.UserID == nil {
		return uuid.Nil, false, nil
	}
	return *p.UserID, true, nil
}
