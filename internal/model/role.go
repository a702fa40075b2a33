package model

import (
	"time"

	"github.com/google/uuid"
)

// RoleType distinguishes process-wide capability roles from per-vault roles.
type RoleType string

const (
	RoleTypeUser  RoleType = "user"
	RoleTypeVault RoleType = "vault"
)

// Capability bits. User-role bits and vault-role bits share one bitset type
// but are interpreted only in their own RoleType's context.
type Capability uint64

const (
	CapManageUsers Capability = 1 << iota
	CapManageVaults
	CapManageEncryptionKeys
	CapSuperAdmin

	CapList
	CapDownload
	CapUpload
	CapDelete
	CapShare
	CapRename
	CapMove
	CapMkdir
)

// Has reports whether all bits in want are set in c.
func (c Capability) Has(want Capability) bool { return c&want == want }

var capabilityNames = [...]struct {
	bit  Capability
	name string
}{
	{CapManageUsers, "manage_users"},
	{CapManageVaults, "manage_vaults"},
	{CapManageEncryptionKeys, "manage_keys"},
	{CapSuperAdmin, "super_admin"},
	{CapList, "list"},
	{CapDownload, "download"},
	{CapUpload, "upload"},
	{CapDelete, "delete"},
	{CapShare, "share"},
	{CapRename, "rename"},
	{CapMove, "move"},
	{CapMkdir, "mkdir"},
}

// String renders a single capability bit by name, for logging and metric
// labels. A multi-bit or zero value renders as "unknown" since callers
// only ever pass the one bit an authorize() check was evaluated against.
func (c Capability) String() string {
	for _, cn := range capabilityNames {
		if c == cn.bit {
			return cn.name
		}
	}
	return "unknown"
}

// Role is either a User role (process-wide capabilities) or a Vault role
// (per-vault capabilities).
type Role struct {
	ID           uuid.UUID  `json:"id"           gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name         string     `json:"name"         gorm:"not null;uniqueIndex"`
	Type         RoleType   `json:"type"         gorm:"not null"`
	Permissions  Capability `json:"permissions"  gorm:"not null;default:0"`
}

func (Role) TableName() string { return "roles" }

// SubjectType is the kind of principal a RoleAssignment targets.
type SubjectType string

const (
	SubjectUser  SubjectType = "user"
	SubjectGroup SubjectType = "group"
)

// RoleAssignment links a subject (user or group) to a Role, optionally
// scoped to a single vault (nil VaultID = process-wide assignment).
type RoleAssignment struct {
	ID          uuid.UUID   `json:"id"          gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	SubjectType SubjectType `json:"subjectType" gorm:"not null"`
	SubjectID   uuid.UUID   `json:"subjectId"   gorm:"not null;type:uuid"`
	RoleID      uuid.UUID   `json:"roleId"      gorm:"not null;type:uuid"`
	VaultID     *uuid.UUID  `json:"vaultId,omitempty" gorm:"type:uuid"`
	CreatedAt   time.Time   `json:"createdAt"   gorm:"not null;default:now()"`
}

func (RoleAssignment) TableName() string { return "role_assignments" }

// OverrideEffect is the Allow/Deny modifier a PermissionOverride applies.
type OverrideEffect string

const (
	EffectAllow OverrideEffect = "allow"
	EffectDeny  OverrideEffect = "deny"
)

// PermissionOverride is a path-scoped Allow/Deny modifier on a RoleAssignment.
// Pattern is compiled once at load time and recompiled on update; invalid
// patterns are rejected at insertion, never at evaluation.
type PermissionOverride struct {
	ID           uuid.UUID      `json:"id"           gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	AssignmentID uuid.UUID      `json:"assignmentId" gorm:"not null;type:uuid"`
	Permission   Capability     `json:"permission"   gorm:"not null"`
	Pattern      string         `json:"pattern"      gorm:"not null"`
	Effect       OverrideEffect `json:"effect"       gorm:"not null"`
	Enabled      bool           `json:"enabled"      gorm:"not null;default:true"`
	CreatedAt    time.Time      `json:"createdAt"    gorm:"not null;default:now()"`
}

func (PermissionOverride) TableName() string { return "permission_overrides" }

// Group is a named collection of users sharing role assignments.
type Group struct {
	ID        uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name      string    `json:"name"      gorm:"not null;uniqueIndex"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;default:now()"`
}

func (Group) TableName() string { return "groups" }

// GroupMembership links a user to a group.
type GroupMembership struct {
	GroupID uuid.UUID `json:"groupId" gorm:"primaryKey;type:uuid"`
	UserID  uuid.UUID `json:"userId"  gorm:"primaryKey;type:uuid"`
}

func (GroupMembership) TableName() string { return "group_memberships" }

// User is a registered account.
type User struct {
	ID           uuid.UUID `json:"id"           gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name         string    `json:"name"         gorm:"not null;uniqueIndex"`
	Email        string    `json:"email"        gorm:"not null;uniqueIndex"`
	PasswordHash string    `json:"-"            gorm:"not null"`
	RoleID       uuid.UUID `json:"roleId"       gorm:"not null;type:uuid"`
	CreatedAt    time.Time `json:"createdAt"    gorm:"not null;default:now()"`
	UpdatedAt    time.Time `json:"updatedAt"    gorm:"not null;default:now()"`
}

func (User) TableName() string { return "users" }
