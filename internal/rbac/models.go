// Package rbac defines the role vocabulary and the authorization engine that
// gates every workflow transition. The engine is a pure function of the actor
// snapshot and the requested capability; auditing denials is the caller's job.
package rbac

import (
	id "civreg/pkg/domain"
)

// PrimaryRole is the coarse-grained actor category. Closed set.
type PrimaryRole string

const (
	RoleSuperAdmin PrimaryRole = "super_admin"
	RoleAdmin      PrimaryRole = "admin"
	RoleCitizen    PrimaryRole = "citizen"
)

// Valid reports whether the role belongs to the closed vocabulary.
func (r PrimaryRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleCitizen:
		return true
	}
	return false
}

// FunctionalRole is a fine-grained capability tag held by Admin actors.
type FunctionalRole string

const (
	RoleRegistrar FunctionalRole = "registrar"
	RoleVerifier  FunctionalRole = "verifier"
	RoleApprover  FunctionalRole = "approver"
	RoleViewer    FunctionalRole = "viewer"
)

// Valid reports whether the functional role belongs to the closed vocabulary.
func (r FunctionalRole) Valid() bool {
	switch r {
	case RoleRegistrar, RoleVerifier, RoleApprover, RoleViewer:
		return true
	}
	return false
}

// Capability names one action gated by the engine. Transition capabilities
// map 1:1 to target registration statuses.
type Capability string

const (
	CapRegisterCitizen  Capability = "register-citizen"
	CapSubmitBiometric  Capability = "submit-biometric"
	CapSubmitDocuments  Capability = "submit-documents"
	CapVerifyNida       Capability = "verify-nida"
	CapApprove          Capability = "approve"
	CapReject           Capability = "reject"
	CapResubmit         Capability = "resubmit"
	CapViewAll          Capability = "view-all"
	CapViewOwn          Capability = "view-own"
	CapManageAdmins     Capability = "manage-admins"
)

// Actor is the authenticated principal snapshot produced by the auth layer.
// FunctionalRoles are meaningful only when PrimaryRole is RoleAdmin.
// CitizenID is set only for citizen principals and ties them to their own
// registration record.
type Actor struct {
	ID              id.ActorID
	PrimaryRole     PrimaryRole
	FunctionalRoles []FunctionalRole
	CitizenID       id.CitizenID
}

// HasFunctionalRole reports whether the actor holds the given functional role.
func (a Actor) HasFunctionalRole(role FunctionalRole) bool {
	for _, held := range a.FunctionalRoles {
		if held == role {
			return true
		}
	}
	return false
}

// Decision is the engine's verdict. Reason is stable vocabulary for audit
// entries, never free text from the request.
type Decision struct {
	Allowed bool
	Reason  string
}

// Decision reasons recorded in the audit trail.
const (
	ReasonSuperAdmin            = "super_admin_override"
	ReasonFunctionalRoleHeld    = "functional_role_held"
	ReasonFunctionalRoleMissing = "functional_role_missing"
	ReasonCitizenSelfService    = "citizen_self_service"
	ReasonCitizenNotPermitted   = "citizen_not_permitted"
	ReasonUnknownPrimaryRole    = "unknown_primary_role"
	ReasonUnknownCapability     = "unknown_capability"
)
