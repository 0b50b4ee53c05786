// Package identity manages user accounts, authentication, and patient
// demographic records.
package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/labmaster/labmaster/internal/platform/authz"
)

// User is a login account. Role drives every authorization decision.
type User struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	HashedPassword string     `json:"-"`
	FullName       string     `json:"full_name,omitempty"`
	Role           authz.Role `json:"role"`
	IsActive       bool       `json:"is_active"`
	IsVerified     bool       `json:"is_verified"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Patient is a demographic record. UserID links the record to a login
// account when the patient has one; walk-in patients have no account and
// UserID stays nil.
type Patient struct {
	ID          uuid.UUID  `json:"id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Email       string     `json:"email,omitempty"`
	Address     string     `json:"address,omitempty"`
	VersionID   int        `json:"version_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OwnedBy reports whether the record belongs to the given account.
func (p *Patient) OwnedBy(userID uuid.UUID) bool {
	return p.UserID != nil && *p.UserID == userID
}
