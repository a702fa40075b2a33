// Package permission evaluates allow/deny for a (user, vault, operation,
// path) tuple. Evaluate is a pure function of the Snapshot passed in — the
// evaluator itself holds no mutable state. Callers are responsible for
// snapshotting role and override state inside the same transaction as the
// operation being authorised, to avoid a TOCTOU window on revocation.
package permission

import (
	"fmt"
	"regexp"

	"github.com/chirino/vaulthalla/internal/model"
)

// globalCapabilities are evaluated against the user's process-wide role
// only, never against a per-vault assignment.
const globalCapabilities = model.CapManageUsers | model.CapManageVaults | model.CapManageEncryptionKeys

// IsGlobalCapability reports whether op is a process-wide capability rather
// than a per-vault one.
func IsGlobalCapability(op model.Capability) bool {
	return op&globalCapabilities != 0
}

// Override is a single compiled PermissionOverride, grouped by the
// precedence tier (direct user-role vs. group-role) it belongs to.
type Override struct {
	Permission model.Capability
	Pattern    *regexp.Regexp
	Effect     model.OverrideEffect
}

// CompileOverride validates and compiles an override pattern at insertion
// time, so Evaluate never has to handle a bad regex.
func CompileOverride(row model.PermissionOverride) (Override, error) {
	re, err := regexp.Compile(row.Pattern)
	if err != nil {
		return Override{}, fmt.Errorf("compiling override pattern %q: %w", row.Pattern, err)
	}
	return Override{Permission: row.Permission, Pattern: re, Effect: row.Effect}, nil
}

// Assignment is one effective vault-role grant: its base capability bitset
// plus its compiled, enabled overrides.
type Assignment struct {
	Capabilities model.Capability
	Overrides    []Override
}

// Snapshot is the authorization state for one user at one instant, already
// resolved from the Store: the process-wide role, the user's direct vault
// assignment (if any), and every vault assignment reached through group
// membership.
type Snapshot struct {
	UserRole    model.Capability
	DirectVault *Assignment
	GroupVaults []Assignment
}

// Evaluate decides allow/deny for op against path, following the five-step
// algorithm: SuperAdmin short-circuit, global-capability check against the
// user role alone, base vault-capability union, override precedence
// (direct user-role overrides before group-role overrides, Deny beating
// Allow within a precedence tier), then the resulting bit.
func Evaluate(snap Snapshot, op model.Capability, path string) bool {
	if snap.UserRole.Has(model.CapSuperAdmin) {
		return true
	}
	if IsGlobalCapability(op) {
		return snap.UserRole.Has(op)
	}

	base := snap.effectiveBase(op)

	if snap.DirectVault != nil {
		if allow, decided := resolveTier(snap.DirectVault.Overrides, op, path); decided {
			return allow
		}
	}
	if allow, decided := resolveGroupTier(snap.GroupVaults, op, path); decided {
		return allow
	}

	return base
}

// effectiveBase is the union of the direct assignment's capability bitset
// and every group assignment's bitset.
func (s Snapshot) effectiveBase(op model.Capability) bool {
	var caps model.Capability
	if s.DirectVault != nil {
		caps |= s.DirectVault.Capabilities
	}
	for _, g := range s.GroupVaults {
		caps |= g.Capabilities
	}
	return caps.Has(op)
}

// resolveTier scans one assignment's overrides for a match on op and path.
// Deny wins over Allow within the same tier; the second return value is
// false when no override in this tier touches the capability at all, so
// the caller falls through to the next-lower-precedence tier.
func resolveTier(overrides []Override, op model.Capability, path string) (allow, decided bool) {
	decided = false
	allow = false
	sawAllow := false
	for _, o := range overrides {
		if o.Permission&op == 0 {
			continue
		}
		if !o.Pattern.MatchString(path) {
			continue
		}
		decided = true
		if o.Effect == model.EffectDeny {
			return false, true // deny wins immediately within a tier
		}
		sawAllow = true
	}
	return sawAllow, decided
}

// resolveGroupTier merges overrides across all of the user's group
// assignments into a single precedence tier (group-role overrides), since
// spec step 4(b) treats all group overrides as one tier below direct-user
// overrides.
func resolveGroupTier(groups []Assignment, op model.Capability, path string) (allow, decided bool) {
	var all []Override
	for _, g := range groups {
		all = append(all, g.Overrides...)
	}
	return resolveTier(all, op, path)
}
