package authz

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Deny reasons. The guard never touches storage; ownership is judged purely
// from the caller-supplied owner id.
var (
	// ErrForbidden is returned when the role holds no grant covering the
	// requested action on the resource.
	ErrForbidden = errors.New("authz: forbidden")

	// ErrNotOwner is returned when the only applicable grant is an *_own
	// variant and the actor is not the record's owner.
	ErrNotOwner = errors.New("authz: not owner")
)

// ownVariant maps a plain action to its owner-scoped counterpart, where one
// exists.
var ownVariant = map[Action]Action{
	ActionRead: ActionReadOwn,
}

// Guard answers allow/deny questions against the registry. It is pure and
// safe for concurrent use.
type Guard struct {
	registry *Registry
}

// NewGuard creates a Guard over the given registry.
func NewGuard(registry *Registry) *Guard {
	return &Guard{registry: registry}
}

// Authorize decides whether an actor may perform action on a resource.
// ownerID is the user id that owns the record, or uuid.Nil when the record
// has no owner or the caller has not resolved one.
//
// Lookup order: an exact grant wins outright unless it is itself an *_own
// variant, in which case the actor must own the record. When the exact grant
// is missing but the role holds the owner-scoped variant, the request is
// evaluated as the owned form. Anything else is denied.
func (g *Guard) Authorize(role Role, actorID uuid.UUID, res Resource, act Action, ownerID uuid.UUID) error {
	if _, err := g.registry.PermissionsFor(role); err != nil {
		return err
	}

	if g.registry.holds(role, res, act) {
		if isOwnAction(act) {
			return requireOwner(actorID, ownerID, role, res, act)
		}
		return nil
	}

	if own, ok := ownVariant[act]; ok && g.registry.holds(role, res, own) {
		return requireOwner(actorID, ownerID, role, res, own)
	}

	return fmt.Errorf("%w: role %q may not %s %s", ErrForbidden, role, act, res)
}

func requireOwner(actorID, ownerID uuid.UUID, role Role, res Resource, act Action) error {
	if actorID != uuid.Nil && actorID == ownerID {
		return nil
	}
	return fmt.Errorf("%w: role %q holds %s on %s only for own records", ErrNotOwner, role, act, res)
}

func isOwnAction(act Action) bool {
	return act == ActionReadOwn
}
