package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medirec/medirec/internal/platform/apperr"
	"github.com/medirec/medirec/internal/platform/auth"
	"github.com/medirec/medirec/internal/platform/db"
)

const (
	msgPendingApproval = "Registration successful. Your account is pending admin approval."
	msgRegistered      = "User registered successfully."
	msgTwoFactorOn     = "2FA enabled successfully"

	minPasswordLength = 8
	dummyPassword     = "medirec-unknown-account"
)

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

type TokenIssuer interface {
	IssueNow(subject string) (string, time.Time, error)
}

type OTP interface {
	GenerateSecret() (string, error)
	ProvisioningURI(secret, accountLabel, issuer string) (string, error)
	Verify(secret, code string, at time.Time) bool
	Issuer() string
}

// Metrics counts auth outcomes.
type Metrics interface {
	ObserveAuthEvent(event, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveAuthEvent(string, string) {}

// Service is the auth orchestrator and the owner of account profiles.
type Service struct {
	accounts AccountRepository
	requests SignupRequestRepository
	tx       db.TxRunner
	hasher   PasswordHasher
	tokens   TokenIssuer
	otp      OTP
	metrics  Metrics
	logger   zerolog.Logger
	now      func() time.Time

	// dummyHash is compared against when the email is unknown.
	dummyHash string
}

func NewService(
	accounts AccountRepository,
	requests SignupRequestRepository,
	tx db.TxRunner,
	hasher PasswordHasher,
	tokens TokenIssuer,
	otp OTP,
	metrics Metrics,
	logger zerolog.Logger,
) *Service {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	// A failed hash leaves dummyHash empty; Verify then fails fast.
	dummy, _ := hasher.Hash(dummyPassword)
	return &Service{
		accounts:  accounts,
		requests:  requests,
		tx:        tx,
		hasher:    hasher,
		tokens:    tokens,
		otp:       otp,
		metrics:   metrics,
		logger:    logger.With().Str("component", "account").Logger(),
		now:       time.Now,
		dummyHash: dummy,
	}
}

// -- Signup / Login --

func (s *Service) Signup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	role, err := validateSignup(&in)
	if err != nil {
		s.metrics.ObserveAuthEvent("signup", "invalid")
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: password must be at most 72 bytes", apperr.ErrValidation)
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := &Account{
		ID:                 uuid.New(),
		Name:               in.FullName,
		Email:              in.Email,
		PasswordHash:       hash,
		Roles:              []auth.Role{role},
		RegistrationStatus: InitialStatus(role),
	}
	applyRoleFields(a, role, &in)

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.accounts.Create(ctx, a); err != nil {
			return err
		}
		if a.RegistrationStatus != StatusPendingApproval {
			return nil
		}
		return s.requests.Create(ctx, &SignupRequest{
			AccountID: a.ID,
			Role:      role,
			Status:    RequestPending,
		})
	})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicateEmail) {
			s.metrics.ObserveAuthEvent("signup", "duplicate_email")
		}
		return nil, err
	}

	s.metrics.ObserveAuthEvent("signup", strings.ToLower(string(a.RegistrationStatus)))
	s.logger.Info().
		Str("account_id", a.ID.String()).
		Str("role", string(role)).
		Str("registration_status", string(a.RegistrationStatus)).
		Msg("account registered")

	msg := msgRegistered
	if a.RegistrationStatus == StatusPendingApproval {
		msg = msgPendingApproval
	}
	return &SignupResult{AccountID: a.ID, Status: a.RegistrationStatus, Message: msg}, nil
}

func validateSignup(in *SignupInput) (auth.Role, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	if in.FullName == "" {
		return "", fmt.Errorf("%w: full_name is required", apperr.ErrValidation)
	}
	if err := ValidateEmail(in.Email); err != nil {
		return "", err
	}
	if len(in.Password) < minPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLength)
	}
	role, ok := auth.ParseRole(in.Role)
	if !ok {
		return "", fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, in.Role)
	}
	return role, nil
}

// ValidateEmail checks the address is a bare addr-spec. It is stored and
// compared exactly as given.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", apperr.ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid email address", apperr.ErrValidation)
	}
	return nil
}

// Login checks the password and the registration status and issues a
// session token for the email. Unknown email and wrong password give the
// same error. Two-factor enrollment does not add a second step here.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if in.Email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", apperr.ErrValidation)
	}

	a, err := s.accounts.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.hasher.Verify(in.Password, s.dummyHash)
			s.metrics.ObserveAuthEvent("login", "invalid_credentials")
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.Verify(in.Password, a.PasswordHash) {
		s.metrics.ObserveAuthEvent("login", "invalid_credentials")
		return nil, apperr.ErrInvalidCredentials
	}

	switch a.RegistrationStatus {
	case StatusPendingApproval:
		s.metrics.ObserveAuthEvent("login", "pending_approval")
		return nil, apperr.ErrPendingApproval
	case StatusRejected:
		s.metrics.ObserveAuthEvent("login", "rejected")
		return nil, apperr.ErrRejected
	}

	token, expiresAt, err := s.tokens.IssueNow(a.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.metrics.ObserveAuthEvent("login", "success")
	s.logger.Info().Str("account_id", a.ID.String()).Msg("login succeeded")

	return &LoginResult{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		Role:      a.PrimaryRole(),
		AccountID: a.ID,
		Name:      a.Name,
		Email:     a.Email,
	}, nil
}

// -- Two-factor --

// SetupTwoFactor generates and stores a fresh TOTP secret for the caller.
// Any earlier secret is replaced and two-factor stays disabled until
// VerifyAndEnableTwoFactor succeeds.
func (s *Service) SetupTwoFactor(ctx context.Context, id auth.Identity) (*TwoFactorSetup, error) {
	secret, err := s.otp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	uri, err := s.otp.ProvisioningURI(secret, id.Email, s.otp.Issuer())
	if err != nil {
		return nil, fmt.Errorf("build provisioning uri: %w", err)
	}
	if err := s.accounts.SetTwoFactorSecret(ctx, id.AccountID, secret); err != nil {
		return nil, err
	}

	s.metrics.ObserveAuthEvent("2fa_setup", "success")
	return &TwoFactorSetup{Secret: secret, ProvisioningURI: uri}, nil
}

// VerifyAndEnableTwoFactor enables two-factor for email when code matches
// the stored secret. An unknown email or a missing secret is reported as an
// invalid code.
func (s *Service) VerifyAndEnableTwoFactor(ctx context.Context, in VerifyInput) (string, error) {
	if in.Email == "" || in.Code == "" {
		return "", fmt.Errorf("%w: email and code are required", apperr.ErrValidation)
	}

	a, err := s.accounts.GetByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}
	if a == nil || a.TwoFactorSecret == nil || !s.otp.Verify(*a.TwoFactorSecret, in.Code, s.now()) {
		s.metrics.ObserveAuthEvent("2fa_verify", "invalid_code")
		return "", apperr.ErrInvalidCode
	}

	if err := s.accounts.EnableTwoFactor(ctx, a.ID); err != nil {
		return "", err
	}
	s.metrics.ObserveAuthEvent("2fa_verify", "success")
	s.logger.Info().Str("account_id", a.ID.String()).Msg("two-factor enabled")
	return msgTwoFactorOn, nil
}

// -- Identity --

// ResolveIdentity maps a token subject to the caller. Accounts that no
// longer exist or are not approved are unauthorized.
func (s *Service) ResolveIdentity(ctx context.Context, email string) (auth.Identity, error) {
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return auth.Identity{}, fmt.Errorf("%w: unknown subject", apperr.ErrUnauthorized)
		}
		return auth.Identity{}, err
	}
	if a.RegistrationStatus != StatusApproved {
		return auth.Identity{}, fmt.Errorf("%w: account not approved", apperr.ErrUnauthorized)
	}
	return a.Identity(), nil
}

// -- Direct creation --

// CreateApproved creates an account that can log in immediately, bypassing
// the registration gate. Used by admins and the bootstrap command.
func (s *Service) CreateApproved(ctx context.Context, in NewAccount) (*Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", apperr.ErrValidation)
	}
	if err := ValidateEmail(in.Email); err != nil {
		return nil, err
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLength)
	}
	roles, err := NormalizeRoles(in.Roles)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: password must be at most 72 bytes", apperr.ErrValidation)
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := &Account{
		ID:                 uuid.New(),
		Name:               in.Name,
		Email:              in.Email,
		PasswordHash:       hash,
		Roles:              roles,
		RegistrationStatus: StatusApproved,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("account_id", a.ID.String()).
		Strs("roles", roleStrings(roles)).
		Msg("account created")
	return a, nil
}

// NormalizeRoles parses and de-duplicates roles, keeping the given order.
// At least one known role is required.
func NormalizeRoles(in []auth.Role) ([]auth.Role, error) {
	seen := make(map[auth.Role]bool, len(in))
	var out []auth.Role
	for _, r := range in {
		role, ok := auth.ParseRole(string(r))
		if !ok {
			return nil, fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, r)
		}
		if !seen[role] {
			seen[role] = true
			out = append(out, role)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one role is required", apperr.ErrValidation)
	}
	return out, nil
}

// -- Profiles --

func (s *Service) GetProfile(ctx context.Context, id auth.Identity) (*Profile, error) {
	a, err := s.accounts.GetByID(ctx, id.AccountID)
	if err != nil {
		return nil, err
	}
	return ProfileOf(a), nil
}

// UpdateProfile applies the non-nil fields of u to the caller's account and
// marks the profile complete.
func (s *Service) UpdateProfile(ctx context.Context, id auth.Identity, u ProfileUpdate) (*Profile, error) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", apperr.ErrValidation)
	}

	a, err := s.accounts.GetByID(ctx, id.AccountID)
	if err != nil {
		return nil, err
	}

	if u.Name != nil {
		a.Name = strings.TrimSpace(*u.Name)
	}
	setIfPresent(&a.Mobile, u.Mobile)
	if u.DateOfBirth != nil {
		a.DateOfBirth = u.DateOfBirth
	}
	setIfPresent(&a.Gender, u.Gender)
	setIfPresent(&a.Language, u.Language)
	setIfPresent(&a.Address, u.Address)
	setIfPresent(&a.AvatarURL, u.AvatarURL)
	setIfPresent(&a.BloodGroup, u.BloodGroup)
	if u.Allergies != nil {
		a.Allergies = dedupe(*u.Allergies)
	}
	if u.ChronicConditions != nil {
		a.ChronicConditions = dedupe(*u.ChronicConditions)
	}
	setIfPresent(&a.InsuranceProvider, u.InsuranceProvider)
	setIfPresent(&a.InsurancePolicyID, u.InsurancePolicyID)
	setIfPresent(&a.InsuranceMemberID, u.InsuranceMemberID)
	a.ProfileComplete = true

	if err := s.accounts.UpdateProfile(ctx, a); err != nil {
		return nil, err
	}
	return ProfileOf(a), nil
}

func setIfPresent(dst **string, v *string) {
	if v != nil {
		*dst = v
	}
}

// dedupe keeps the first occurrence of each value; allergies and chronic
// conditions are sets.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// -- Doctor views of patients --

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]PatientSummary, int, error) {
	items, total, err := s.accounts.List(ctx, ListFilter{Role: auth.RolePatient, Status: StatusApproved}, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]PatientSummary, len(items))
	for i, a := range items {
		out[i] = SummaryOf(a)
	}
	return out, total, nil
}

// GetPatient returns the profile of a patient account; other accounts are
// reported as not found.
func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Profile, error) {
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.HasRole(auth.RolePatient) {
		return nil, fmt.Errorf("%w: patient", apperr.ErrNotFound)
	}
	return ProfileOf(a), nil
}

// GetAccount is used by the other domain packages to check references.
func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.accounts.GetByID(ctx, id)
}
