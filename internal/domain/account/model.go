package account

import (
	"time"

	"github.com/google/uuid"

	"github.com/medirec/medirec/internal/platform/auth"
	"github.com/medirec/medirec/internal/platform/db"
)

type RegistrationStatus string

const (
	StatusPendingApproval RegistrationStatus = "PENDING_APPROVAL"
	StatusApproved        RegistrationStatus = "APPROVED"
	StatusRejected        RegistrationStatus = "REJECTED"
)

// Account is a stored user. The password hash and TOTP secret never leave
// the service layer.
type Account struct {
	ID                 uuid.UUID          `json:"id"`
	Name               string             `json:"name"`
	Email              string             `json:"email"`
	PasswordHash       string             `json:"-"`
	Roles              []auth.Role        `json:"roles"`
	RegistrationStatus RegistrationStatus `json:"registration_status"`
	TwoFactorEnabled   bool               `json:"two_factor_enabled"`
	TwoFactorSecret    *string            `json:"-"`
	ProfileComplete    bool               `json:"profile_complete"`

	Mobile               *string  `json:"mobile,omitempty"`
	DateOfBirth          *db.Date `json:"date_of_birth,omitempty"`
	Gender               *string  `json:"gender,omitempty"`
	Language             *string  `json:"language,omitempty"`
	Department           *string  `json:"department,omitempty"`
	Affiliation          *string  `json:"affiliation,omitempty"`
	GovernmentID         *string  `json:"government_id,omitempty"`
	LicenseProofDocument *string  `json:"license_proof_document,omitempty"`
	ExperienceSummary    *string  `json:"experience_summary,omitempty"`

	// Professional attributes, set only for the matching roles.
	MedicalCouncilName      *string `json:"medical_council_name,omitempty"`
	EmergencyResponseNumber *string `json:"emergency_response_number,omitempty"`
	LabType                 *string `json:"lab_type,omitempty"`
	Certifications          *string `json:"certifications,omitempty"`
	OrganizationPosition    *string `json:"organization_position,omitempty"`
	Jurisdiction            *string `json:"jurisdiction,omitempty"`
	AccessLevel             *string `json:"access_level,omitempty"`

	Address           *string  `json:"address,omitempty"`
	AvatarURL         *string  `json:"avatar_url,omitempty"`
	BloodGroup        *string  `json:"blood_group,omitempty"`
	Allergies         []string `json:"allergies"`
	ChronicConditions []string `json:"chronic_conditions"`
	InsuranceProvider *string  `json:"insurance_provider,omitempty"`
	InsurancePolicyID *string  `json:"insurance_policy_id,omitempty"`
	InsuranceMemberID *string  `json:"insurance_member_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity is the request-scoped view of the account.
func (a *Account) Identity() auth.Identity {
	roles := make([]auth.Role, len(a.Roles))
	copy(roles, a.Roles)
	return auth.Identity{AccountID: a.ID, Email: a.Email, Name: a.Name, Roles: roles}
}

func (a *Account) HasRole(r auth.Role) bool {
	return a.Identity().HasRole(r)
}

// PrimaryRole is the first stored role.
func (a *Account) PrimaryRole() auth.Role {
	if len(a.Roles) == 0 {
		return ""
	}
	return a.Roles[0]
}

type SignupRequestStatus string

const (
	RequestPending  SignupRequestStatus = "PENDING"
	RequestApproved SignupRequestStatus = "APPROVED"
	RequestRejected SignupRequestStatus = "REJECTED"
)

// SignupRequest tracks the admin decision for an account created with a
// gated role. Name and Email are read from the account.
type SignupRequest struct {
	ID          uuid.UUID           `json:"id"`
	AccountID   uuid.UUID           `json:"account_id"`
	Name        string              `json:"full_name"`
	Email       string              `json:"email"`
	Role        auth.Role           `json:"role"`
	Status      SignupRequestStatus `json:"status"`
	DecidedBy   *uuid.UUID          `json:"decided_by,omitempty"`
	DecidedAt   *time.Time          `json:"decided_at,omitempty"`
	RequestedAt time.Time           `json:"requested_at"`
}

// ListFilter narrows account listings. Zero values match everything.
type ListFilter struct {
	Role   auth.Role
	Status RegistrationStatus
}

// SignupInput is the registration payload.
type SignupInput struct {
	FullName             string   `json:"full_name"`
	Email                string   `json:"email"`
	Password             string   `json:"password"`
	Role                 string   `json:"role"`
	Mobile               *string  `json:"mobile"`
	DateOfBirth          *db.Date `json:"date_of_birth"`
	Department           *string  `json:"department"`
	Affiliation          *string  `json:"affiliation"`
	GovernmentID         *string  `json:"government_id"`
	LicenseProofDocument *string  `json:"license_proof_document"`
	ExperienceSummary    *string  `json:"experience_summary"`
	Gender               *string  `json:"gender"`
	Language             *string  `json:"language"`
	TwoFactorPreference  bool     `json:"two_factor_preference"`

	MedicalCouncilName      *string `json:"medical_council_name"`
	EmergencyResponseNumber *string `json:"emergency_response_number"`
	LabType                 *string `json:"lab_type"`
	Certifications          *string `json:"certifications"`
	OrganizationPosition    *string `json:"organization_position"`
	Jurisdiction            *string `json:"jurisdiction"`
	AccessLevel             *string `json:"access_level"`
}

type SignupResult struct {
	AccountID uuid.UUID          `json:"account_id"`
	Status    RegistrationStatus `json:"status"`
	Message   string             `json:"message"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      auth.Role `json:"role"`
	AccountID uuid.UUID `json:"account_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
}

type TwoFactorSetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

type VerifyInput struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// NewAccount is used by the admin paths that create accounts directly in
// the APPROVED state.
type NewAccount struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Roles    []auth.Role `json:"roles"`
}

// Profile is a patient's own record as shown to the patient and to doctors.
type Profile struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Mobile            *string   `json:"mobile,omitempty"`
	DateOfBirth       *db.Date  `json:"date_of_birth,omitempty"`
	Gender            *string   `json:"gender,omitempty"`
	Language          *string   `json:"language,omitempty"`
	Address           *string   `json:"address,omitempty"`
	ProfileComplete   bool      `json:"profile_complete"`
	AvatarURL         *string   `json:"avatar_url,omitempty"`
	BloodGroup        *string   `json:"blood_group,omitempty"`
	Allergies         []string  `json:"allergies"`
	ChronicConditions []string  `json:"chronic_conditions"`
	InsuranceProvider *string   `json:"insurance_provider,omitempty"`
	InsurancePolicyID *string   `json:"insurance_policy_id,omitempty"`
	InsuranceMemberID *string   `json:"insurance_member_id,omitempty"`
}

func ProfileOf(a *Account) *Profile {
	return &Profile{
		ID:                a.ID,
		Name:              a.Name,
		Email:             a.Email,
		Mobile:            a.Mobile,
		DateOfBirth:       a.DateOfBirth,
		Gender:            a.Gender,
		Language:          a.Language,
		Address:           a.Address,
		ProfileComplete:   a.ProfileComplete,
		AvatarURL:         a.AvatarURL,
		BloodGroup:        a.BloodGroup,
		Allergies:         nonNil(a.Allergies),
		ChronicConditions: nonNil(a.ChronicConditions),
		InsuranceProvider: a.InsuranceProvider,
		InsurancePolicyID: a.InsurancePolicyID,
		InsuranceMemberID: a.InsuranceMemberID,
	}
}

// ProfileUpdate carries the fields a patient may change. Nil fields are left
// untouched.
type ProfileUpdate struct {
	Name              *string   `json:"name"`
	Mobile            *string   `json:"mobile"`
	DateOfBirth       *db.Date  `json:"date_of_birth"`
	Gender            *string   `json:"gender"`
	Language          *string   `json:"language"`
	Address           *string   `json:"address"`
	AvatarURL         *string   `json:"avatar_url"`
	BloodGroup        *string   `json:"blood_group"`
	Allergies         *[]string `json:"allergies"`
	ChronicConditions *[]string `json:"chronic_conditions"`
	InsuranceProvider *string   `json:"insurance_provider"`
	InsurancePolicyID *string   `json:"insurance_policy_id"`
	InsuranceMemberID *string   `json:"insurance_member_id"`
}

// PatientSummary is the row shown in a doctor's patient list.
type PatientSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	DateOfBirth *db.Date  `json:"date_of_birth,omitempty"`
	Gender      *string   `json:"gender,omitempty"`
}

func SummaryOf(a *Account) PatientSummary {
	return PatientSummary{ID: a.ID, Name: a.Name, Email: a.Email, DateOfBirth: a.DateOfBirth, Gender: a.Gender}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
