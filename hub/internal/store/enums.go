package store

import "strings"

// Role is the closed set of membership roles. Workers reuse it (minus owner) as their
// area module tag.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleCampo    Role = "campo"
	RoleEmpaque  Role = "empaque"
	RoleFinanzas Role = "finanzas"
)

// roleLabels is the single role → display label table.
var roleLabels = map[Role]string{
	RoleOwner:    "Propietario",
	RoleAdmin:    "Administrador",
	RoleCampo:    "Campo",
	RoleEmpaque:  "Empaque",
	RoleFinanzas: "Finanzas",
}

// Roles lists every role from most to least privileged.
func Roles() []Role {
	return []Role{RoleOwner, RoleAdmin, RoleCampo, RoleEmpaque, RoleFinanzas}
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := roleLabels[r]
	return r, ok
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

// Label returns the display label, or the raw code for unknown roles.
func (r Role) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return string(r)
}

// MembershipStatus is the state of a membership.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipInactive MembershipStatus = "inactive"
)

// WorkerStatus is the state of a worker record.
type WorkerStatus string

const (
	WorkerActive   WorkerStatus = "active"
	WorkerInactive WorkerStatus = "inactive"
)

// InvitationStatus is derived, never stored.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRevoked  InvitationStatus = "revoked"
	InvitationExpired  InvitationStatus = "expired"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanBasic        Plan = "basic"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// ParsePlan normalizes s and reports whether it names a known plan.
func ParsePlan(s string) (Plan, bool) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlanBasic, PlanProfessional, PlanEnterprise:
		return p, true
	}
	return p, false
}
