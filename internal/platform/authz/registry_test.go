package authz

import (
	"errors"
	"testing"
)

func TestNewRegistry_AdminHoldsEverything(t *testing.T) {
	r := NewRegistry()
	for _, res := range allResources {
		for _, act := range allActions {
			if !r.holds(RoleAdmin, res, act) {
				t.Errorf("admin should hold %s on %s", act, res)
			}
		}
	}
}

func TestPermissionsFor_UnknownRole(t *testing.T) {
	r := NewRegistry()
	_, err := r.PermissionsFor(Role("janitor"))
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestPermissionsFor_KnownRoles(t *testing.T) {
	r := NewRegistry()
	for _, role := range []Role{RoleAdmin, RoleReceptionist, RoleLabTechnician, RolePatient} {
		perms, err := r.PermissionsFor(role)
		if err != nil {
			t.Fatalf("PermissionsFor(%s): %v", role, err)
		}
		if len(perms) == 0 {
			t.Errorf("role %s has no permissions", role)
		}
	}
}

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"admin", "receptionist", "lab_technician", "patient"} {
		if _, err := ParseRole(valid); err != nil {
			t.Errorf("ParseRole(%q): %v", valid, err)
		}
	}
	if _, err := ParseRole("superuser"); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole for superuser, got %v", err)
	}
}

func TestRegistry_RoleBoundaries(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		role Role
		res  Resource
		act  Action
		want bool
	}{
		{RoleReceptionist, ResourcePatient, ActionCreate, true},
		{RoleReceptionist, ResourcePatient, ActionDelete, false},
		{RoleReceptionist, ResourceTestOrder, ActionCreate, true},
		{RoleReceptionist, ResourceSample, ActionUpdate, false},
		{RoleReceptionist, ResourceResult, ActionRead, true},
		{RoleReceptionist, ResourceUser, ActionRead, false},
		{RoleLabTechnician, ResourceSample, ActionCreate, true},
		{RoleLabTechnician, ResourceTestOrder, ActionUpdateStatus, true},
		{RoleLabTechnician, ResourceTestOrder, ActionCreate, false},
		{RoleLabTechnician, ResourceResult, ActionCreate, true},
		{RoleLabTechnician, ResourceUser, ActionUpdate, false},
		{RolePatient, ResourcePatient, ActionReadOwn, true},
		{RolePatient, ResourcePatient, ActionRead, false},
		{RolePatient, ResourceSample, ActionReadOwn, false},
		{RolePatient, ResourceResult, ActionReadOwn, true},
		{RolePatient, ResourceTestOrder, ActionUpdate, false},
	}

	for _, tc := range cases {
		if got := r.holds(tc.role, tc.res, tc.act); got != tc.want {
			t.Errorf("holds(%s, %s, %s) = %v, want %v", tc.role, tc.res, tc.act, got, tc.want)
		}
	}
}
