package account

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/medirec/medirec/internal/platform/apperr"
	"github.com/medirec/medirec/internal/platform/auth"
)

// -- Mock Repositories --

type mockAccountRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Account
}

func newMockAccountRepo() *mockAccountRepo {
	return &mockAccountRepo{items: make(map[uuid.UUID]*Account)}
}

func (m *mockAccountRepo) Create(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Email == a.Email {
			return fmt.Errorf("%w: %s", apperr.ErrDuplicateEmail, a.Email)
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAccountRepo) get(id uuid.UUID) (*Account, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: account", apperr.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccountRepo) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

func (m *mockAccountRepo) GetByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.items {
		if a.Email == email {
			return m.get(id)
		}
	}
	return nil, fmt.Errorf("%w: account", apperr.ErrNotFound)
}

func (m *mockAccountRepo) UpdateProfile(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; !ok {
		return fmt.Errorf("%w: account", apperr.ErrNotFound)
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAccountRepo) UpdateIdentity(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[a.ID]
	if !ok {
		return fmt.Errorf("%w: account", apperr.ErrNotFound)
	}
	for id, other := range m.items {
		if id != a.ID && other.Email == a.Email {
			return fmt.Errorf("%w: %s", apperr.ErrDuplicateEmail, a.Email)
		}
	}
	stored.Name, stored.Email, stored.Roles = a.Name, a.Email, a.Roles
	return nil
}

func (m *mockAccountRepo) SetRegistrationStatus(_ context.Context, id uuid.UUID, status RegistrationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return fmt.Errorf("%w: account", apperr.ErrNotFound)
	}
	a.RegistrationStatus = status
	return nil
}

func (m *mockAccountRepo) SetTwoFactorSecret(_ context.Context, id uuid.UUID, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return fmt.Errorf("%w: account", apperr.ErrNotFound)
	}
	a.TwoFactorSecret = &secret
	a.TwoFactorEnabled = false
	return nil
}

func (m *mockAccountRepo) EnableTwoFactor(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.TwoFactorSecret == nil {
		return fmt.Errorf("%w: account", apperr.ErrNotFound)
	}
	a.TwoFactorEnabled = true
	return nil
}

func (m *mockAccountRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("%w: account", apperr.ErrNotFound)
	}
	delete(m.items, id)
	return nil
}

func (m *mockAccountRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Account, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Account
	for _, a := range m.items {
		if f.Role != "" && !a.HasRole(f.Role) {
			continue
		}
		if f.Status != "" && a.RegistrationStatus != f.Status {
			continue
		}
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type mockSignupRequestRepo struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*SignupRequest
	accounts *mockAccountRepo
	failNext error
}

func newMockSignupRequestRepo(accounts *mockAccountRepo) *mockSignupRequestRepo {
	return &mockSignupRequestRepo{items: make(map[uuid.UUID]*SignupRequest), accounts: accounts}
}

func (m *mockSignupRequestRepo) Create(_ context.Context, r *SignupRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	r.ID = uuid.New()
	r.RequestedAt = time.Now()
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *mockSignupRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*SignupRequest, error) {
	m.mu.Lock()
	r, ok := m.items[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: signup request", apperr.ErrNotFound)
	}
	cp := *r
	if a, err := m.accounts.GetByID(ctx, r.AccountID); err == nil {
		cp.Name, cp.Email = a.Name, a.Email
	}
	return &cp, nil
}

func (m *mockSignupRequestRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*SignupRequest, error) {
	return m.GetByID(ctx, id)
}

func (m *mockSignupRequestRepo) ListByStatus(ctx context.Context, status SignupRequestStatus, limit, offset int) ([]*SignupRequest, int, error) {
	m.mu.Lock()
	var ids []uuid.UUID
	for id, r := range m.items {
		if r.Status == status {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	var out []*SignupRequest
	for _, id := range ids {
		r, _ := m.GetByID(ctx, id)
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *mockSignupRequestRepo) Decide(_ context.Context, id uuid.UUID, status SignupRequestStatus, by uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return fmt.Errorf("%w: signup request", apperr.ErrNotFound)
	}
	if r.Status != RequestPending {
		return fmt.Errorf("%w: signup request already decided", apperr.ErrInvalidState)
	}
	r.Status, r.DecidedBy, r.DecidedAt = status, &by, &at
	return nil
}

// inlineTx runs fn without a real transaction and restores the account
// store when fn fails, which is enough to observe all-or-nothing behaviour.
type inlineTx struct{ accounts *mockAccountRepo }

func (t inlineTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.accounts.mu.Lock()
	snapshot := make(map[uuid.UUID]*Account, len(t.accounts.items))
	for k, v := range t.accounts.items {
		snapshot[k] = v
	}
	t.accounts.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.accounts.mu.Lock()
		t.accounts.items = snapshot
		t.accounts.mu.Unlock()
		return err
	}
	return nil
}

type recordingMetrics struct {
	mu     sync.Mutex
	events map[string]int
}

func (r *recordingMetrics) ObserveAuthEvent(event, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]int)
	}
	r.events[event+"/"+outcome]++
}

func (r *recordingMetrics) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[key]
}

type testEnv struct {
	svc      *Service
	accounts *mockAccountRepo
	requests *mockSignupRequestRepo
	tokens   *auth.TokenIssuer
	totp     *auth.TOTP
	metrics  *recordingMetrics
}

func newTestEnv() *testEnv {
	accounts := newMockAccountRepo()
	requests := newMockSignupRequestRepo(accounts)
	tokens := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "medirec", time.Hour)
	totp := auth.NewTOTP("MedRec")
	metrics := &recordingMetrics{}
	svc := NewService(accounts, requests, inlineTx{accounts}, auth.NewHasher(4), tokens, totp, metrics, zerolog.Nop())
	return &testEnv{svc: svc, accounts: accounts, requests: requests, tokens: tokens, totp: totp, metrics: metrics}
}

func newTestService() *Service {
	return newTestEnv().svc
}

func signupInput(email, role string) SignupInput {
	return SignupInput{FullName: "Test User", Email: email, Password: "s3cret-pass", Role: role}
}

// -- Signup --

func TestSignup_UngatedRoleApproved(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for _, role := range []string{"PATIENT", "ROLE_ADMIN"} {
		res, err := env.svc.Signup(ctx, signupInput(role+"@x.com", role))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", role, err)
		}
		if res.Status != StatusApproved {
			t.Errorf("%s: expected APPROVED, got %s", role, res.Status)
		}
		if res.Message != msgRegistered {
			t.Errorf("%s: unexpected message %q", role, res.Message)
		}
	}

	pending, total, _ := env.requests.ListByStatus(ctx, RequestPending, 10, 0)
	if total != 0 || len(pending) != 0 {
		t.Errorf("expected no signup requests, got %d", total)
	}
}

func TestSignup_GatedRolePending(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for _, role := range []string{"DOCTOR", "PHARMACY", "ROLE_LAB_STAFF"} {
		res, err := env.svc.Signup(ctx, signupInput(role+"@x.com", role))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", role, err)
		}
		if res.Status != StatusPendingApproval {
			t.Errorf("%s: expected PENDING_APPROVAL, got %s", role, res.Status)
		}
		if res.Message != msgPendingApproval {
			t.Errorf("%s: unexpected message %q", role, res.Message)
		}
	}

	pending, total, _ := env.requests.ListByStatus(ctx, RequestPending, 10, 0)
	if total != 3 {
		t.Fatalf("expected 3 pending requests, got %d", total)
	}
	for _, r := range pending {
		if r.Email == "" || r.Name != "Test User" {
			t.Errorf("expected request joined with account, got %+v", r)
		}
	}
	if env.metrics.count("signup/pending_approval") != 3 {
		t.Errorf("expected 3 pending signup events, got %d", env.metrics.count("signup/pending_approval"))
	}
}

func TestSignup_HashesPassword(t *testing.T) {
	env := newTestEnv()
	res, err := env.svc.Signup(context.Background(), signupInput("p@x.com", "PATIENT"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, _ := env.accounts.GetByID(context.Background(), res.AccountID)
	if a.PasswordHash == "" || a.PasswordHash == "s3cret-pass" {
		t.Fatalf("expected a bcrypt hash, got %q", a.PasswordHash)
	}
	if !auth.NewHasher(4).Verify("s3cret-pass", a.PasswordHash) {
		t.Error("expected stored hash to verify")
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	first, err := env.svc.Signup(ctx, signupInput("dup@x.com", "PATIENT"))
	if err != nil {
		t.Fatalf("first signup: %v", err)
	}
	in := signupInput("dup@x.com", "DOCTOR")
	in.FullName = "Someone Else"
	_, err = env.svc.Signup(ctx, in)
	if !errors.Is(err, apperr.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	a, err := env.accounts.GetByID(ctx, first.AccountID)
	if err != nil {
		t.Fatalf("first account lost: %v", err)
	}
	if a.Name != "Test User" || a.RegistrationStatus != StatusApproved {
		t.Errorf("first account modified: %+v", a)
	}
}

func TestSignup_EmailIsCaseSensitive(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	if _, err := env.svc.Signup(ctx, signupInput("Case@x.com", "PATIENT")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.Signup(ctx, signupInput("case@x.com", "PATIENT")); err != nil {
		t.Fatalf("expected differently cased email to be accepted, got %v", err)
	}
}

func TestSignup_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   SignupInput
	}{
		{"missing name", SignupInput{Email: "a@x.com", Password: "s3cret-pass", Role: "PATIENT"}},
		{"bad email", SignupInput{FullName: "A", Email: "not-an-email", Password: "s3cret-pass", Role: "PATIENT"}},
		{"display-name email", SignupInput{FullName: "A", Email: "A <a@x.com>", Password: "s3cret-pass", Role: "PATIENT"}},
		{"short password", SignupInput{FullName: "A", Email: "a@x.com", Password: "short", Role: "PATIENT"}},
		{"unknown role", SignupInput{FullName: "A", Email: "a@x.com", Password: "s3cret-pass", Role: "JANITOR"}},
	}
	svc := newTestService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Signup(context.Background(), tt.in)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestSignup_RoleSpecificFields(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	council, lab, position := "State Council", "Pathology", "CMO"

	in := signupInput("pat@x.com", "PATIENT")
	in.MedicalCouncilName, in.LabType, in.OrganizationPosition = &council, &lab, &position
	res, _ := env.svc.Signup(ctx, in)
	a, _ := env.accounts.GetByID(ctx, res.AccountID)
	if a.MedicalCouncilName != nil || a.LabType != nil || a.OrganizationPosition != nil {
		t.Errorf("patient should not carry professional fields: %+v", a)
	}

	in = signupInput("lab@x.com", "LAB_STAFF")
	in.MedicalCouncilName, in.LabType, in.OrganizationPosition = &council, &lab, &position
	res, _ = env.svc.Signup(ctx, in)
	a, _ = env.accounts.GetByID(ctx, res.AccountID)
	if a.MedicalCouncilName == nil || a.LabType == nil {
		t.Errorf("lab staff should carry council and lab fields: %+v", a)
	}
	if a.OrganizationPosition != nil {
		t.Error("lab staff should not carry admin fields")
	}

	in = signupInput("adm@x.com", "ADMIN")
	in.OrganizationPosition = &position
	res, _ = env.svc.Signup(ctx, in)
	a, _ = env.accounts.GetByID(ctx, res.AccountID)
	if a.OrganizationPosition == nil || *a.OrganizationPosition != "CMO" {
		t.Error("admin should carry organization position")
	}
}

func TestSignup_RequestFailureRollsBackAccount(t *testing.T) {
	env := newTestEnv()
	env.requests.failNext = errors.New("insert failed")

	if _, err := env.svc.Signup(context.Background(), signupInput("d@x.com", "DOCTOR")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := env.accounts.GetByEmail(context.Background(), "d@x.com"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected account rolled back, got %v", err)
	}
}

// -- Login --

func TestLogin_Success(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.Signup(ctx, signupInput("p@x.com", "PATIENT"))

	out, err := env.svc.Login(ctx, LoginInput{Email: "p@x.com", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AccountID != res.AccountID || out.Role != auth.RolePatient || out.Email != "p@x.com" || out.Name != "Test User" {
		t.Errorf("unexpected login result %+v", out)
	}
	subject, err := env.tokens.Validate(out.Token)
	if err != nil || subject != "p@x.com" {
		t.Errorf("expected token for p@x.com, got %q (%v)", subject, err)
	}
	if env.metrics.count("login/success") != 1 {
		t.Error("expected login success to be counted")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.svc.Signup(ctx, signupInput("p@x.com", "PATIENT"))

	_, err := env.svc.Login(ctx, LoginInput{Email: "p@x.com", Password: "s3cret-passx"})
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	_, err = env.svc.Login(ctx, LoginInput{Email: "nobody@x.com", Password: "s3cret-pass"})
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

// countingHasher records Verify calls and the hashes they compared against.
type countingHasher struct {
	*auth.Hasher
	verified []string
}

func (h *countingHasher) Verify(plaintext, hash string) bool {
	h.verified = append(h.verified, hash)
	return h.Hasher.Verify(plaintext, hash)
}

func TestLogin_UnknownEmailStillComparesHash(t *testing.T) {
	accounts := newMockAccountRepo()
	hasher := &countingHasher{Hasher: auth.NewHasher(4)}
	tokens := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "medirec", time.Hour)
	svc := NewService(accounts, newMockSignupRequestRepo(accounts), inlineTx{accounts}, hasher,
		tokens, auth.NewTOTP("MedRec"), nil, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Login(ctx, LoginInput{Email: "nobody@x.com", Password: "s3cret-pass"})
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if len(hasher.verified) != 1 {
		t.Fatalf("expected one bcrypt comparison for an unknown email, got %d", len(hasher.verified))
	}
	cost, err := bcrypt.Cost([]byte(hasher.verified[0]))
	if err != nil {
		t.Fatalf("unknown email compared against a non-bcrypt hash: %v", err)
	}
	if cost != 4 {
		t.Errorf("expected comparison at the hasher cost 4, got %d", cost)
	}

	if _, err := svc.Signup(ctx, signupInput("p@x.com", "PATIENT")); err != nil {
		t.Fatalf("signup: %v", err)
	}
	hasher.verified = nil
	_, err = svc.Login(ctx, LoginInput{Email: "p@x.com", Password: "wrong-pass"})
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if len(hasher.verified) != 1 {
		t.Errorf("expected one bcrypt comparison for a wrong password, got %d", len(hasher.verified))
	}
}

func TestLogin_PendingAndRejected(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.Signup(ctx, signupInput("d@x.com", "DOCTOR"))

	_, err := env.svc.Login(ctx, LoginInput{Email: "d@x.com", Password: "s3cret-pass"})
	if !errors.Is(err, apperr.ErrPendingApproval) {
		t.Fatalf("expected ErrPendingApproval, got %v", err)
	}

	// A wrong password on a pending account must not reveal the status.
	_, err = env.svc.Login(ctx, LoginInput{Email: "d@x.com", Password: "wrong-password"})
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	env.accounts.SetRegistrationStatus(ctx, res.AccountID, StatusRejected)
	_, err = env.svc.Login(ctx, LoginInput{Email: "d@x.com", Password: "s3cret-pass"})
	if !errors.Is(err, apperr.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestLogin_DoctorAfterApproval(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.Signup(ctx, signupInput("d@x.com", "DOCTOR"))

	env.accounts.SetRegistrationStatus(ctx, res.AccountID, StatusApproved)
	out, err := env.svc.Login(ctx, LoginInput{Email: "d@x.com", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	subject, err := env.tokens.Validate(out.Token)
	if err != nil || subject != "d@x.com" {
		t.Errorf("expected subject d@x.com, got %q (%v)", subject, err)
	}
	if out.Role != auth.RoleDoctor {
		t.Errorf("expected DOCTOR, got %s", out.Role)
	}
}

func TestLogin_MissingFields(t *testing.T) {
	_, err := newTestService().Login(context.Background(), LoginInput{Email: "a@x.com"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

// -- Two-factor --

func TestTwoFactor_SetupThenVerify(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.Signup(ctx, signupInput("p@x.com", "PATIENT"))
	a, _ := env.accounts.GetByID(ctx, res.AccountID)

	setup, err := env.svc.SetupTwoFactor(ctx, a.Identity())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if setup.Secret == "" || setup.ProvisioningURI == "" {
		t.Fatalf("expected secret and uri, got %+v", setup)
	}

	a, _ = env.accounts.GetByID(ctx, res.AccountID)
	if a.TwoFactorEnabled {
		t.Fatal("two-factor must stay disabled until verified")
	}

	now := time.Now()
	env.svc.now = func() time.Time { return now }
	code, _ := env.totp.CodeAt(setup.Secret, now)

	msg, err := env.svc.VerifyAndEnableTwoFactor(ctx, VerifyInput{Email: "p@x.com", Code: code})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if msg != msgTwoFactorOn {
		t.Errorf("unexpected message %q", msg)
	}
	a, _ = env.accounts.GetByID(ctx, res.AccountID)
	if !a.TwoFactorEnabled || a.TwoFactorSecret == nil || *a.TwoFactorSecret != setup.Secret {
		t.Errorf("expected two-factor enabled with stored secret, got %+v", a)
	}
}

func TestTwoFactor_InvalidCodeLeavesDisabled(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.Signup(ctx, signupInput("p@x.com", "PATIENT"))
	a, _ := env.accounts.GetByID(ctx, res.AccountID)
	setup, _ := env.svc.SetupTwoFactor(ctx, a.Identity())

	now := time.Now()
	env.svc.now = func() time.Time { return now }
	code, _ := env.totp.CodeAt(setup.Secret, now)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err := env.svc.VerifyAndEnableTwoFactor(ctx, VerifyInput{Email: "p@x.com", Code: wrong})
	if !errors.Is(err, apperr.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	a, _ = env.accounts.GetByID(ctx, res.AccountID)
	if a.TwoFactorEnabled {
		t.Error("two-factor should remain disabled")
	}
}

func TestTwoFactor_SecondSetupReplacesSecret(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.Signup(ctx, signupInput("p@x.com", "PATIENT"))
	a, _ := env.accounts.GetByID(ctx, res.AccountID)

	first, _ := env.svc.SetupTwoFactor(ctx, a.Identity())
	second, _ := env.svc.SetupTwoFactor(ctx, a.Identity())
	if first.Secret == second.Secret {
		t.Fatal("expected a fresh secret")
	}

	now := time.Now()
	env.svc.now = func() time.Time { return now }
	oldCode, _ := env.totp.CodeAt(first.Secret, now)
	newCode, _ := env.totp.CodeAt(second.Secret, now)
	if oldCode != newCode {
		if _, err := env.svc.VerifyAndEnableTwoFactor(ctx, VerifyInput{Email: "p@x.com", Code: oldCode}); !errors.Is(err, apperr.ErrInvalidCode) {
			t.Errorf("expected code from replaced secret to fail, got %v", err)
		}
	}
	if _, err := env.svc.VerifyAndEnableTwoFactor(ctx, VerifyInput{Email: "p@x.com", Code: newCode}); err != nil {
		t.Errorf("expected current secret to verify, got %v", err)
	}
}

func TestTwoFactor_VerifyWithoutSetupOrAccount(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.svc.Signup(ctx, signupInput("p@x.com", "PATIENT"))

	if _, err := env.svc.VerifyAndEnableTwoFactor(ctx, VerifyInput{Email: "p@x.com", Code: "123456"}); !errors.Is(err, apperr.ErrInvalidCode) {
		t.Errorf("no secret: expected ErrInvalidCode, got %v", err)
	}
	if _, err := env.svc.VerifyAndEnableTwoFactor(ctx, VerifyInput{Email: "ghost@x.com", Code: "123456"}); !errors.Is(err, apperr.ErrInvalidCode) {
		t.Errorf("unknown email: expected ErrInvalidCode, got %v", err)
	}
}

// -- Identity --

func TestResolveIdentity(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	patient, _ := env.svc.Signup(ctx, signupInput("p@x.com", "PATIENT"))
	env.svc.Signup(ctx, signupInput("d@x.com", "DOCTOR"))

	id, err := env.svc.ResolveIdentity(ctx, "p@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.AccountID != patient.AccountID || !id.HasRole(auth.RolePatient) {
		t.Errorf("unexpected identity %+v", id)
	}

	if _, err := env.svc.ResolveIdentity(ctx, "d@x.com"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("pending account: expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.svc.ResolveIdentity(ctx, "ghost@x.com"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("unknown account: expected ErrUnauthorized, got %v", err)
	}
}

// -- Direct creation --

func TestCreateApproved(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	a, err := env.svc.CreateApproved(ctx, NewAccount{
		Name: "Root", Email: "root@x.com", Password: "s3cret-pass",
		Roles: []auth.Role{"ROLE_ADMIN", "admin", auth.RoleDoctor},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.RegistrationStatus != StatusApproved {
		t.Errorf("expected APPROVED, got %s", a.RegistrationStatus)
	}
	if len(a.Roles) != 2 || a.Roles[0] != auth.RoleAdmin || a.Roles[1] != auth.RoleDoctor {
		t.Errorf("expected [ADMIN DOCTOR], got %v", a.Roles)
	}
	if _, err := env.svc.Login(ctx, LoginInput{Email: "root@x.com", Password: "s3cret-pass"}); err != nil {
		t.Errorf("expected direct account to log in, got %v", err)
	}
}

func TestNormalizeRoles(t *testing.T) {
	if _, err := NormalizeRoles(nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("empty roles: expected ErrValidation, got %v", err)
	}
	if _, err := NormalizeRoles([]auth.Role{"NURSE"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown role: expected ErrValidation, got %v", err)
	}
}

// -- Profiles --

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.Signup(ctx, signupInput("p@x.com", "PATIENT"))
	a, _ := env.accounts.GetByID(ctx, res.AccountID)

	before, _ := env.svc.GetProfile(ctx, a.Identity())
	if before.ProfileComplete {
		t.Fatal("new profile should not be complete")
	}

	blood := "O+"
	allergies := []string{"penicillin", "peanuts", "penicillin", " "}
	p, err := env.svc.UpdateProfile(ctx, a.Identity(), ProfileUpdate{BloodGroup: &blood, Allergies: &allergies})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.ProfileComplete {
		t.Error("expected profile_complete after update")
	}
	if p.BloodGroup == nil || *p.BloodGroup != "O+" {
		t.Errorf("expected blood group O+, got %v", p.BloodGroup)
	}
	if len(p.Allergies) != 2 {
		t.Errorf("expected de-duplicated allergies, got %v", p.Allergies)
	}
	if p.Name != "Test User" {
		t.Errorf("name should be untouched, got %q", p.Name)
	}
	if len(p.ChronicConditions) != 0 || p.ChronicConditions == nil {
		t.Errorf("expected empty chronic conditions, got %#v", p.ChronicConditions)
	}
}

func TestUpdateProfile_EmptyName(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.Signup(ctx, signupInput("p@x.com", "PATIENT"))
	a, _ := env.accounts.GetByID(ctx, res.AccountID)

	empty := "  "
	if _, err := env.svc.UpdateProfile(ctx, a.Identity(), ProfileUpdate{Name: &empty}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

// -- Doctor views --

func TestListAndGetPatients(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p1, _ := env.svc.Signup(ctx, signupInput("p1@x.com", "PATIENT"))
	env.svc.Signup(ctx, signupInput("p2@x.com", "PATIENT"))
	doc, _ := env.svc.Signup(ctx, signupInput("d@x.com", "DOCTOR"))

	items, total, err := env.svc.ListPatients(ctx, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 patients, got %d", total)
	}

	if _, err := env.svc.GetPatient(ctx, p1.AccountID); err != nil {
		t.Errorf("expected patient, got %v", err)
	}
	if _, err := env.svc.GetPatient(ctx, doc.AccountID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("doctor id: expected ErrNotFound, got %v", err)
	}
}
