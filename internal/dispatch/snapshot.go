package dispatch

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/permission"
	"github.com/chirino/vaulthalla/internal/registry/store"
)

// buildSnapshot assembles the permission.Snapshot for userID's access to
// vaultID, fresh from the store on every call so a role or override change
// takes effect on the very next request (no snapshot is cached across
// requests). UserRole comes from the user's own process-wide Role
// (User.RoleID), not from a RoleAssignment row: a RoleAssignment's
// VaultID is always expected to be set when reached from here, so the
// nil-VaultID "process-wide assignment" case its doc comment allows for
// is simply never produced or consulted by this resolution — User.RoleID
// is the one source of truth for a process-wide role.
func buildSnapshot(ctx context.Context, st store.Store, userID, vaultID uuid.UUID) (permission.Snapshot, error) {
	user, err := st.GetUser(ctx, userID)
	if err != nil {
		return permission.Snapshot{}, fmt.Errorf("dispatch: loading user: %w", err)
	}
	role, err := st.GetRole(ctx, user.RoleID)
	if err != nil {
		return permission.Snapshot{}, fmt.Errorf("dispatch: loading user role: %w", err)
	}

	direct, err := vaultAssignment(ctx, st, model.SubjectUser, userID, vaultID)
	if err != nil {
		return permission.Snapshot{}, err
	}

	memberships, err := st.ListGroupMemberships(ctx, userID)
	if err != nil {
		return permission.Snapshot{}, fmt.Errorf("dispatch: loading group memberships: %w", err)
	}
	var groupVaults []permission.Assignment
	for _, gm := range memberships {
		a, err := vaultAssignment(ctx, st, model.SubjectGroup, gm.GroupID, vaultID)
		if err != nil {
			return permission.Snapshot{}, err
		}
		if a != nil {
			groupVaults = append(groupVaults, *a)
		}
	}

	return permission.Snapshot{
		UserRole:    role.Permissions,
		DirectVault: direct,
		GroupVaults: groupVaults,
	}, nil
}

// vaultAssignment finds subjectID's RoleAssignment scoped to vaultID (if
// any) and resolves it into a permission.Assignment, compiling its enabled
// overrides. An override with an invalid pattern was already rejected at
// insertion time (permission.CompileOverride), so a compile failure here
// would mean the store holds a row that should never have been accepted;
// it is logged and skipped rather than failing the whole request.
func vaultAssignment(ctx context.Context, st store.Store, subjectType model.SubjectType, subjectID, vaultID uuid.UUID) (*permission.Assignment, error) {
	assignments, err := st.ListRoleAssignments(ctx, subjectType, subjectID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: loading role assignments: %w", err)
	}
	for _, ra := range assignments {
		if ra.VaultID == nil || *ra.VaultID != vaultID {
			continue
		}
		role, err := st.GetRole(ctx, ra.RoleID)
		if err != nil {
			return nil, fmt.Errorf("dispatch: loading vault role: %w", err)
		}
		rows, err := st.ListOverrides(ctx, ra.ID)
		if err != nil {
			return nil, fmt.Errorf("dispatch: loading overrides: %w", err)
		}
		var compiled []permission.Override
		for _, row := range rows {
			if !row.Enabled {
				continue
			}
			o, err := permission.CompileOverride(row)
			if err != nil {
				log.Error("dispatch: skipping override with invalid pattern", "override", row.ID, "err", err)
				continue
			}
			compiled = append(compiled, o)
		}
		return &permission.Assignment{Capabilities: role.Permissions, Overrides: compiled}, nil
	}
	return nil, nil
}
