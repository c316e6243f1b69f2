/*
Package auth resolves and checks the caller of every treasury operation.

PURPOSE:
  The engine never authenticates anyone itself. It receives an Identity
  (user id, email, role, church) from a Provider and asks a handful of
  predicates whether the caller may act. Those predicates are the only
  place role and church comparisons happen.

ROLES:
  Roles form a closed, totally ordered set:

    secretary < pastor < treasurer < admin

  RequireMinRole compares positions in that order. Admin additionally
  overrides every church-scoping rule.

CHURCH SCOPE:
  Non-admin callers belong to exactly one church. RequireChurch fails when
  the target church differs. RequireReportApproval combines both checks:
  role >= treasurer AND (admin OR same church).

SEE ALSO:
  - jwt.go: Bearer token Provider
  - actor.go: How a user id is written into creator/approver fields
*/
package auth

import (
	"github.com/warp/church-treasury/treasury"
)

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleSecretary Role = "secretary"
	RolePastor    Role = "pastor"
	RoleTreasurer Role = "treasurer"
	RoleAdmin     Role = "admin"
)

var roleRank = map[Role]int{
	RoleSecretary: 1,
	RolePastor:    2,
	RoleTreasurer: 3,
	RoleAdmin:     4,
}

// ParseRole returns the role and whether it is one of the known roles.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := roleRank[r]
	return r, ok
}

// AtLeast reports whether r ranks at or above min. Unknown roles rank below everything.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] > 0 && roleRank[r] >= roleRank[min]
}

// Approver is the minimum role allowed to approve or reject reports.
const Approver = RoleTreasurer

// =============================================================================
// IDENTITY
// =============================================================================

// Identity is the auth context of one call.
type Identity struct {
	UserID   string
	Email    string
	Role     Role
	ChurchID treasury.ChurchID
}

func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

// Actor is the stored form of this caller in creator/approver fields.
func (id Identity) Actor() string { return ActorFor(id.UserID) }

// RequireMinRole fails unless the caller ranks at or above min.
func (id Identity) RequireMinRole(min Role) error {
	if !id.Role.AtLeast(min) {
		return treasury.Unauthorized("No tiene permisos suficientes para esta operación")
	}
	return nil
}

// RequireChurch fails unless the caller is admin or belongs to church.
func (id Identity) RequireChurch(church treasury.ChurchID) error {
	if id.IsAdmin() {
		return nil
	}
	if id.ChurchID == "" || id.ChurchID != church {
		return treasury.Unauthorized("No tiene acceso a esta iglesia")
	}
	return nil
}

// RequireReportApproval fails unless the caller may approve reports of church.
func (id Identity) RequireReportApproval(church treasury.ChurchID) error {
	if err := id.RequireMinRole(Approver); err != nil {
		return treasury.Unauthorized("Solo el tesorero o un administrador puede aprobar o rechazar informes")
	}
	return id.RequireChurch(church)
}

// RequireAdmin fails unless the caller is admin.
func (id Identity) RequireAdmin() error {
	if !id.IsAdmin() {
		return treasury.Unauthorized("Operación reservada a administradores")
	}
	return nil
}

// CanSee reports whether rows of church are visible to the caller. National
// (church-less) rows are visible to everyone.
func (id Identity) CanSee(church treasury.ChurchID) bool {
	return id.IsAdmin() || church == "" || church == id.ChurchID
}
