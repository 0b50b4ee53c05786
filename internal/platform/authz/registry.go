// Package authz holds the role registry and the authorization guard that
// gates every record operation. The permission matrix is plain data, loaded
// once at startup into an immutable structure.
package authz

import (
	"errors"
	"fmt"
)

// Role identifies a user's role in the system. The set is closed: roles are
// assigned by an admin and never invented at runtime.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleReceptionist  Role = "receptionist"
	RoleLabTechnician Role = "lab_technician"
	RolePatient       Role = "patient"
)

// Resource identifies a record type the guard protects.
type Resource string

const (
	ResourcePatient   Resource = "patient"
	ResourceTestOrder Resource = "test_order"
	ResourceSample    Resource = "sample"
	ResourceResult    Resource = "result"
	ResourceUser      Resource = "user"
	ResourceBilling   Resource = "billing"
)

// Action identifies an operation on a resource. The *Own variants grant
// access only to records the actor owns.
type Action string

const (
	ActionCreate       Action = "create"
	ActionRead         Action = "read"
	ActionReadOwn      Action = "read_own"
	ActionUpdate       Action = "update"
	ActionUpdateStatus Action = "update_status"
	ActionDelete       Action = "delete"
)

// ErrUnknownRole is returned when permissions are requested for a role that
// is not in the registry.
var ErrUnknownRole = errors.New("authz: unknown role")

// Permission is a single (resource, action) grant.
type Permission struct {
	Resource Resource
	Action   Action
}

// Registry is the process-wide permission table. It is built once by
// NewRegistry and read-only thereafter.
type Registry struct {
	grants map[Role]map[Permission]struct{}
}

// permissionTable is the static role/permission matrix. Admin holds every
// action on every resource; the other roles hold the grants below.
var permissionTable = map[Role][]Permission{
	RoleReceptionist: {
		{ResourcePatient, ActionCreate},
		{ResourcePatient, ActionRead},
		{ResourcePatient, ActionUpdate},
		{ResourceTestOrder, ActionCreate},
		{ResourceTestOrder, ActionRead},
		{ResourceTestOrder, ActionUpdate},
		{ResourceSample, ActionRead},
		{ResourceResult, ActionRead},
		{ResourceBilling, ActionCreate},
		{ResourceBilling, ActionRead},
	},
	RoleLabTechnician: {
		{ResourcePatient, ActionRead},
		{ResourceTestOrder, ActionRead},
		{ResourceTestOrder, ActionUpdateStatus},
		{ResourceSample, ActionCreate},
		{ResourceSample, ActionRead},
		{ResourceSample, ActionUpdate},
		{ResourceSample, ActionUpdateStatus},
		{ResourceResult, ActionCreate},
		{ResourceResult, ActionRead},
		{ResourceResult, ActionUpdate},
	},
	RolePatient: {
		{ResourcePatient, ActionReadOwn},
		{ResourceTestOrder, ActionReadOwn},
		{ResourceResult, ActionReadOwn},
		{ResourceBilling, ActionReadOwn},
	},
}

var allResources = []Resource{
	ResourcePatient, ResourceTestOrder, ResourceSample,
	ResourceResult, ResourceUser, ResourceBilling,
}

var allActions = []Action{
	ActionCreate, ActionRead, ActionReadOwn,
	ActionUpdate, ActionUpdateStatus, ActionDelete,
}

// NewRegistry builds the registry from the static permission table.
func NewRegistry() *Registry {
	grants := make(map[Role]map[Permission]struct{}, len(permissionTable)+1)

	admin := make(map[Permission]struct{}, len(allResources)*len(allActions))
	for _, res := range allResources {
		for _, act := range allActions {
			admin[Permission{res, act}] = struct{}{}
		}
	}
	grants[RoleAdmin] = admin

	for role, perms := range permissionTable {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		grants[role] = set
	}

	return &Registry{grants: grants}
}

// ParseRole validates a raw role string against the registry's closed set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleReceptionist, RoleLabTechnician, RolePatient:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// PermissionsFor returns the permission set held by role.
func (r *Registry) PermissionsFor(role Role) (map[Permission]struct{}, error) {
	set, ok := r.grants[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return set, nil
}

// holds reports whether role carries the exact (resource, action) grant.
func (r *Registry) holds(role Role, res Resource, act Action) bool {
	set, ok := r.grants[role]
	if !ok {
		return false
	}
	_, ok = set[Permission{res, act}]
	return ok
}
