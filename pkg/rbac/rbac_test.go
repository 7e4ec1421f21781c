package rbac

import (
	"errors"
	"testing"
)

func TestRolePermissions(t *testing.T) {
	cases := []struct {
		role       string
		permission string
		want       bool
	}{
		{RoleUI, PermissionWriteAlarm, true},
		{RoleUI, PermissionControlPresentation, true},
		{RoleUI, PermissionReadHistory, false},
		{"", PermissionWriteSession, true},
		{RoleOperator, PermissionReadHistory, true},
		{RoleOperator, PermissionWriteAlarm, false},
		{RoleAdmin, PermissionReadHistory, true},
		{RoleAdmin, PermissionWriteSession, true},
		{"guest", PermissionReadAlarm, false},
	}
	for _, tc := range cases {
		if got := HasPermission(tc.role, tc.permission); got != tc.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tc.role, tc.permission, got, tc.want)
		}
	}
}

func TestCheckPermissionReturnsDeniedError(t *testing.T) {
	if err := CheckPermission(RoleAdmin, PermissionWriteAlarm); err != nil {
		t.Fatalf("admin denied: %v", err)
	}

	err := CheckPermission("", PermissionReadHistory)
	var denied *PermissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want PermissionDeniedError", err)
	}
	if denied.Role != RoleUI || denied.Permission != PermissionReadHistory {
		t.Fatalf("denied = %+v", denied)
	}
}
