package account

import "github.com/medirec/medirec/internal/platform/auth"

// gatedRoles need an admin decision before the account can log in.
// Changing the set requires a redeploy.
var gatedRoles = map[auth.Role]bool{
	auth.RoleDoctor:   true,
	auth.RolePharmacy: true,
	auth.RoleLabStaff: true,
}

func RequiresApproval(role auth.Role) bool {
	return gatedRoles[role]
}

// InitialStatus is the registration status a new signup with role gets.
func InitialStatus(role auth.Role) RegistrationStatus {
	if RequiresApproval(role) {
		return StatusPendingApproval
	}
	return StatusApproved
}

// applyRoleFields copies the role-specific attributes of in onto a, mapping
// only the fields that belong to role.
func applyRoleFields(a *Account, role auth.Role, in *SignupInput) {
	a.Mobile = in.Mobile
	a.DateOfBirth = in.DateOfBirth
	a.Department = in.Department
	a.Affiliation = in.Affiliation
	a.GovernmentID = in.GovernmentID
	a.LicenseProofDocument = in.LicenseProofDocument
	a.ExperienceSummary = in.ExperienceSummary
	a.Gender = in.Gender
	a.Language = in.Language

	if RequiresApproval(role) {
		a.MedicalCouncilName = in.MedicalCouncilName
		a.EmergencyResponseNumber = in.EmergencyResponseNumber
	}
	if role == auth.RoleLabStaff {
		a.LabType = in.LabType
		a.Certifications = in.Certifications
	}
	if role == auth.RoleAdmin {
		a.OrganizationPosition = in.OrganizationPosition
		a.Jurisdiction = in.Jurisdiction
		a.AccessLevel = in.AccessLevel
	}
}
