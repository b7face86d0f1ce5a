package rbac

// requiredRoles maps each capability to the functional roles that satisfy it
// for Admin actors. A capability maps to the empty set when no functional
// role can grant it (manage-admins is SuperAdmin-only).
//
// The table is the single source of truth: adding a Capability without a row
// here makes Authorize deny it and TestCapabilityTableExhaustive fail.
var requiredRoles = map[Capability][]FunctionalRole{
	CapRegisterCitizen: {RoleRegistrar},
	CapSubmitBiometric: {RoleRegistrar},
	CapSubmitDocuments: {RoleRegistrar},
	CapVerifyNida:      {RoleVerifier},
	// Strict rule: approval and rejection require the Approver functional
	// role. A bare Admin primary role is never an implicit approver. This is
	// a deliberate deviation from deployments that conflate the two.
	CapApprove:      {RoleApprover},
	CapReject:       {RoleApprover},
	CapResubmit:     {RoleRegistrar},
	CapViewAll:      {RoleViewer, RoleRegistrar, RoleVerifier, RoleApprover},
	CapViewOwn:      {RoleViewer, RoleRegistrar, RoleVerifier, RoleApprover},
	CapManageAdmins: {},
}

// citizenSelfService lists the capabilities a citizen principal may exercise
// against their own record. Citizens never trigger workflow transitions on
// other citizens.
var citizenSelfService = map[Capability]bool{
	CapViewOwn:  true,
	CapResubmit: true,
}

// Authorize decides whether the actor may exercise the capability.
//
// Evaluation order:
//  1. SuperAdmin: allow unconditionally.
//  2. Admin: allow iff one of the capability's required functional roles is
//     held.
//  3. Citizen: allow only self-service capabilities; ownership of the target
//     record is the facade's check since the engine stays pure.
//  4. Otherwise deny.
//
// Authorize has no side effects and reads nothing but its arguments.
func Authorize(actor Actor, capability Capability) Decision {
	allowed, known := requiredRoles[capability]
	if !known {
		return Decision{Allowed: false, Reason: ReasonUnknownCapability}
	}

	switch actor.PrimaryRole {
	case RoleSuperAdmin:
		return Decision{Allowed: true, Reason: ReasonSuperAdmin}

	case RoleAdmin:
		for _, role := range allowed {
			if actor.HasFunctionalRole(role) {
				return Decision{Allowed: true, Reason: ReasonFunctionalRoleHeld}
			}
		}
		return Decision{Allowed: false, Reason: ReasonFunctionalRoleMissing}

	case RoleCitizen:
		if citizenSelfService[capability] {
			return Decision{Allowed: true, Reason: ReasonCitizenSelfService}
		}
		return Decision{Allowed: false, Reason: ReasonCitizenNotPermitted}

	default:
		return Decision{Allowed: false, Reason: ReasonUnknownPrimaryRole}
	}
}

// TransitionCapabilities enumerates the capabilities that gate a status
// transition, for exhaustiveness checks against the state machine table.
func TransitionCapabilities() []Capability {
	return []Capability{
		CapSubmitBiometric,
		CapSubmitDocuments,
		CapVerifyNida,
		CapApprove,
		CapReject,
		CapResubmit,
	}
}

// AllCapabilities enumerates every capability the engine knows.
func AllCapabilities() []Capability {
	caps := make([]Capability, 0, len(requiredRoles))
	for c := range requiredRoles {
		caps = append(caps, c)
	}
	return caps
}
