package cliserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/auth/password"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/registry/store"
)

const helpText = `vaulthalla admin commands:
  help
  vault.create <name> <ownerEmail> <local|s3> <mountPointOrBucket>
  vault.delete <vaultId>
  vault.info <vaultId>
  vault.list
  vault.grant <vaultId> <userEmail> <cap,cap,...>
  vault.revoke <assignmentId>
  user.create <name> <email> <password>
  role.create <name> <user|vault> [cap,cap,...]
  group.create <name>
  group.add <groupName> <userEmail>
  sync.run <vaultId>
  sync.interrupt <vaultId>
`

func handleHelp(_ context.Context, _ *Server, _ []string) (string, error) {
	return helpText, nil
}

func parseUUID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &store.ValidationError{Field: field, Message: "not a valid uuid"}
	}
	return id, nil
}

func requireArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return &store.ValidationError{Field: "args", Message: "usage: " + usage}
	}
	return nil
}

var capabilityNames = map[string]model.Capability{
	"manage_users":  model.CapManageUsers,
	"manage_vaults": model.CapManageVaults,
	"manage_keys":   model.CapManageEncryptionKeys,
	"super_admin":   model.CapSuperAdmin,
	"list":          model.CapList,
	"download":      model.CapDownload,
	"upload":        model.CapUpload,
	"delete":        model.CapDelete,
	"share":         model.CapShare,
	"rename":        model.CapRename,
	"move":          model.CapMove,
	"mkdir":         model.CapMkdir,
}

func parseCapabilities(raw string) (model.Capability, error) {
	var caps model.Capability
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		bit, ok := capabilityNames[name]
		if !ok {
			return 0, &store.ValidationError{Field: "capabilities", Message: fmt.Sprintf("unknown capability %q", name)}
		}
		caps |= bit
	}
	return caps, nil
}

func handleVaultCreate(ctx context.Context, s *Server, args []string) (string, error) {
	if err := requireArgs(args, 4, "vault.create <name> <ownerEmail> <local|s3> <mountPointOrBucket>"); err != nil {
		return "", err
	}
	name, ownerEmail, vtype, location := args[0], args[1], args[2], args[3]

	owner, err := s.store.GetUserByEmail(ctx, ownerEmail)
	if err != nil {
		return "", err
	}

	vault := &model.Vault{
		ID:      uuid.New(),
		Name:    name,
		OwnerID: owner.ID,
	}
	switch vtype {
	case "local":
		vault.Type = model.VaultTypeLocal
		vault.MountPoint = location
	case "s3":
		vault.Type = model.VaultTypeS3
		vault.Bucket = location
	default:
		return "", &store.ValidationError{Field: "type", Message: "must be local or s3"}
	}
	vault.IsActive = true

	if err := s.store.CreateVault(ctx, vault); err != nil {
		return "", err
	}
	return fmt.Sprintf("created vault %s (%s)", vault.Name, vault.ID), nil
}

func handleVaultDelete(ctx context.Context, s *Server, args []string) (string, error) {
	if err := requireArgs(args, 1, "vault.delete <vaultId>"); err != nil {
		return "", err
	}
	id, err := parseUUID("vaultId", args[0])
	if err != nil {
		return "", err
	}
	if err := s.store.DeleteVault(ctx, id); err != nil {
		return "", err
	}
	return "vault deleted", nil
}

func handleVaultInfo(ctx context.Context, s *Server, args []string) (string, error) {
	if err := requireArgs(args, 1, "vault.info <vaultId>"); err != nil {
		return "", err
	}
	id, err := parseUUID("vaultId", args[0])
	if err != nil {
		return "", err
	}
	vault, err := s.store.GetVault(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s type=%s owner=%s active=%t encryptUpstream=%t",
		vault.ID, vault.Name, vault.Type, vault.OwnerID, vault.IsActive, vault.EncryptUpstream), nil
}

func handleVaultList(ctx context.Context, s *Server, _ []string) (string, error) {
	vaults, err := s.store.ListVaults(ctx, nil)
	if err != nil {
		return "", err
	}
	if len(vaults) == 0 {
		return "no vaults", nil
	}
	var b strings.Builder
	for _, v := range vaults {
		fmt.Fprintf(&b, "%s %s type=%s owner=%s\n", v.ID, v.Name, v.Type, v.OwnerID)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func handleVaultGrant(ctx context.Context, s *Server, args []string) (string, error) {
	if err := requireArgs(args, 3, "vault.grant <vaultId> <userEmail> <cap,cap,...>"); err != nil {
		return "", err
	}
	vaultID, err := parseUUID("vaultId", args[0])
	if err != nil {
		return "", err
	}
	user, err := s.store.GetUserByEmail(ctx, args[1])
	if err != nil {
		return "", err
	}
	caps, err := parseCapabilities(args[2])
	if err != nil {
		return "", err
	}

	role := &model.Role{ID: uuid.New(), Name: fmt.Sprintf("vault-grant-%s", uuid.NewString()), Type: model.RoleTypeVault, Permissions: caps}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return "", err
	}
	assignment := &model.RoleAssignment{
		ID:          uuid.New(),
		SubjectType: model.SubjectUser,
		SubjectID:   user.ID,
		RoleID:      role.ID,
		VaultID:     &vaultID,
	}
	if err := s.store.CreateRoleAssignment(ctx, assignment); err != nil {
		return "", err
	}
	return fmt.Sprintf("granted assignment %s", assignment.ID), nil
}

func handleVaultRevoke(ctx context.Context, s *Server, args []string) (string, error) {
	if err := requireArgs(args, 1, "vault.revoke <assignmentId>"); err != nil {
		return "", err
	}
	id, err := parseUUID("assignmentId", args[0])
	if err != nil {
		return "", err
	}
	if err := s.store.DeleteRoleAssignment(ctx, id); err != nil {
		return "", err
	}
	return "assignment revoked", nil
}

func handleUserCreate(ctx context.Context, s *Server, args []string) (string, error) {
	if err := requireArgs(args, 3, "user.create <name> <email> <password>"); err != nil {
		return "", err
	}
	name, email, rawPassword := args[0], args[1], args[2]

	if reason := password.CheckStrength(rawPassword, 8); reason != "" {
		return "", &store.ValidationError{Field: "password", Message: reason}
	}
	if existing, _ := s.store.GetUserByEmail(ctx, email); existing != nil {
		return "", &store.ConflictError{Message: "a user with that email already exists", Code: "duplicate_email"}
	}
	hash, err := password.Hash(rawPassword)
	if err != nil {
		return "", fmt.Errorf("cliserver: hashing password: %w", err)
	}
	role, err := s.store.GetRoleByName(ctx, "user")
	if err != nil {
		return "", fmt.Errorf("cliserver: loading default role: %w", err)
	}
	user := &model.User{ID: uuid.New(), Name: name, Email: email, PasswordHash: hash, RoleID: role.ID}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return "", err
	}
	return fmt.Sprintf("created user %s (%s)", user.Name, user.ID), nil
}

func handleRoleCreate(ctx context.Context, s *Server, args []string) (string, error) {
	if err := requireArgs(args, 2, "role.create <name> <user|vault> [cap,cap,...]"); err != nil {
		return "", err
	}
	name, kind := args[0], args[1]
	var roleType model.RoleType
	switch kind {
	case "user":
		roleType = model.RoleTypeUser
	case "vault":
		roleType = model.RoleTypeVault
	default:
		return "", &store.ValidationError{Field: "type", Message: "must be user or vault"}
	}
	var caps model.Capability
	if len(args) > 2 {
		parsed, err := parseCapabilities(args[2])
		if err != nil {
			return "", err
		}
		caps = parsed
	}
	role := &model.Role{ID: uuid.New(), Name: name, Type: roleType, Permissions: caps}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return "", err
	}
	return fmt.Sprintf("created role %s (%s)", role.Name, role.ID), nil
}

func handleGroupCreate(ctx context.Context, s *Server, args []string) (string, error) {
	if err := requireArgs(args, 1, "group.create <name>"); err != nil {
		return "", err
	}
	group := &model.Group{ID: uuid.New(), Name: args[0]}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return "", err
	}
	return fmt.Sprintf("created group %s (%s)", group.Name, group.ID), nil
}

func handleGroupAdd(ctx context.Context, s *Server, args []string) (string, error) {
	if err := requireArgs(args, 2, "group.add <groupName> <userEmail>"); err != nil {
		return "", err
	}
	group, err := s.store.GetGroupByName(ctx, args[0])
	if err != nil {
		return "", err
	}
	user, err := s.store.GetUserByEmail(ctx, args[1])
	if err != nil {
		return "", err
	}
	if err := s.store.AddGroupMember(ctx, group.ID, user.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("added %s to %s", user.Email, group.Name), nil
}

func handleSyncRun(_ context.Context, s *Server, args []string) (string, error) {
	if err := requireArgs(args, 1, "sync.run <vaultId>"); err != nil {
		return "", err
	}
	if s.sync == nil {
		return "", fmt.Errorf("cliserver: sync controller not wired")
	}
	id, err := parseUUID("vaultId", args[0])
	if err != nil {
		return "", err
	}
	if err := s.sync.RunNow(id); err != nil {
		return "", err
	}
	return "sync scheduled", nil
}

func handleSyncInterrupt(_ context.Context, s *Server, args []string) (string, error) {
	if err := requireArgs(args, 1, "sync.interrupt <vaultId>"); err != nil {
		return "", err
	}
	if s.sync == nil {
		return "", fmt.Errorf("cliserver: sync controller not wired")
	}
	id, err := parseUUID("vaultId", args[0])
	if err != nil {
		return "", err
	}
	if err := s.sync.InterruptTask(id); err != nil {
		return "", err
	}
	return "sync interrupted", nil
}
