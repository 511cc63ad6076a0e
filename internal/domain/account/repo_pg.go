package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medirec/medirec/internal/platform/apperr"
	"github.com/medirec/medirec/internal/platform/auth"
	"github.com/medirec/medirec/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Account Repository ===========

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewAccountRepoPG(pool *pgxpool.Pool) AccountRepository {
	return &accountRepoPG{pool: pool}
}

func (r *accountRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const accountCols = `id, name, email, password_hash, roles, registration_status,
	two_factor_enabled, two_factor_secret, profile_complete,
	mobile, date_of_birth, gender, language, department, affiliation,
	government_id, license_proof_document, experience_summary,
	medical_council_name, emergency_response_number, lab_type, certifications,
	organization_position, jurisdiction, access_level,
	address, avatar_url, blood_group, allergies, chronic_conditions,
	insurance_provider, insurance_policy_id, insurance_member_id,
	created_at, updated_at`

func (r *accountRepoPG) scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var roles []string
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &roles, &a.RegistrationStatus,
		&a.TwoFactorEnabled, &a.TwoFactorSecret, &a.ProfileComplete,
		&a.Mobile, &a.DateOfBirth, &a.Gender, &a.Language, &a.Department, &a.Affiliation,
		&a.GovernmentID, &a.LicenseProofDocument, &a.ExperienceSummary,
		&a.MedicalCouncilName, &a.EmergencyResponseNumber, &a.LabType, &a.Certifications,
		&a.OrganizationPosition, &a.Jurisdiction, &a.AccessLevel,
		&a.Address, &a.AvatarURL, &a.BloodGroup, &a.Allergies, &a.ChronicConditions,
		&a.InsuranceProvider, &a.InsurancePolicyID, &a.InsuranceMemberID,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: account", apperr.ErrNotFound)
		}
		return nil, err
	}
	a.Roles = make([]auth.Role, len(roles))
	for i, s := range roles {
		a.Roles[i] = auth.Role(s)
	}
	return &a, nil
}

func roleStrings(roles []auth.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *accountRepoPG) Create(ctx context.Context, a *Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO accounts (id, name, email, password_hash, roles, registration_status,
			two_factor_enabled, two_factor_secret, profile_complete,
			mobile, date_of_birth, gender, language, department, affiliation,
			government_id, license_proof_document, experience_summary,
			medical_council_name, emergency_response_number, lab_type, certifications,
			organization_position, jurisdiction, access_level,
			address, avatar_url, blood_group, allergies, chronic_conditions,
			insurance_provider, insurance_policy_id, insurance_member_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33)
		RETURNING created_at, updated_at`,
		a.ID, a.Name, a.Email, a.PasswordHash, roleStrings(a.Roles), a.RegistrationStatus,
		a.TwoFactorEnabled, a.TwoFactorSecret, a.ProfileComplete,
		a.Mobile, a.DateOfBirth, a.Gender, a.Language, a.Department, a.Affiliation,
		a.GovernmentID, a.LicenseProofDocument, a.ExperienceSummary,
		a.MedicalCouncilName, a.EmergencyResponseNumber, a.LabType, a.Certifications,
		a.OrganizationPosition, a.Jurisdiction, a.AccessLevel,
		a.Address, a.AvatarURL, a.BloodGroup, emptyIfNil(a.Allergies), emptyIfNil(a.ChronicConditions),
		a.InsuranceProvider, a.InsurancePolicyID, a.InsuranceMemberID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, "accounts_email_key") {
		return fmt.Errorf("%w: %s", apperr.ErrDuplicateEmail, a.Email)
	}
	return err
}

func (r *accountRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
}

func (r *accountRepoPG) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = $1`, email))
}

func (r *accountRepoPG) UpdateProfile(ctx context.Context, a *Account) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET name=$2, mobile=$3, date_of_birth=$4, gender=$5, language=$6,
			address=$7, avatar_url=$8, blood_group=$9, allergies=$10, chronic_conditions=$11,
			insurance_provider=$12, insurance_policy_id=$13, insurance_member_id=$14,
			profile_complete=$15, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Name, a.Mobile, a.DateOfBirth, a.Gender, a.Language,
		a.Address, a.AvatarURL, a.BloodGroup, emptyIfNil(a.Allergies), emptyIfNil(a.ChronicConditions),
		a.InsuranceProvider, a.InsurancePolicyID, a.InsuranceMemberID,
		a.ProfileComplete)
	return affectedOne(tag, err, "account")
}

func (r *accountRepoPG) UpdateIdentity(ctx context.Context, a *Account) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET name=$2, email=$3, roles=$4, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Name, a.Email, roleStrings(a.Roles))
	if db.IsUniqueViolation(err, "accounts_email_key") {
		return fmt.Errorf("%w: %s", apperr.ErrDuplicateEmail, a.Email)
	}
	return affectedOne(tag, err, "account")
}

func (r *accountRepoPG) SetRegistrationStatus(ctx context.Context, id uuid.UUID, status RegistrationStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET registration_status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	return affectedOne(tag, err, "account")
}

func (r *accountRepoPG) SetTwoFactorSecret(ctx context.Context, id uuid.UUID, secret string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET two_factor_secret=$2, two_factor_enabled=FALSE, updated_at=NOW()
		WHERE id = $1`, id, secret)
	return affectedOne(tag, err, "account")
}

func (r *accountRepoPG) EnableTwoFactor(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET two_factor_enabled=TRUE, updated_at=NOW()
		WHERE id = $1 AND two_factor_secret IS NOT NULL`, id)
	return affectedOne(tag, err, "account")
}

func (r *accountRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return affectedOne(tag, err, "account")
}

func (r *accountRepoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Account, int, error) {
	where, args := filterClause(filter)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM accounts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+accountCols+` FROM accounts`+where+
			` ORDER BY name, id LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Account
	for rows.Next() {
		a, err := r.scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func filterClause(f ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.Role != "" {
		args = append(args, string(f.Role))
		conds = append(conds, fmt.Sprintf("$%d = ANY(roles)", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("registration_status = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func affectedOne(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}
	return nil
}

// =========== Signup Request Repository ===========

type signupRequestRepoPG struct{ pool *pgxpool.Pool }

func NewSignupRequestRepoPG(pool *pgxpool.Pool) SignupRequestRepository {
	return &signupRequestRepoPG{pool: pool}
}

func (r *signupRequestRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const signupRequestSelect = `SELECT s.id, s.account_id, a.name, a.email, s.role, s.status,
	s.decided_by, s.decided_at, s.requested_at
	FROM signup_requests s JOIN accounts a ON a.id = s.account_id`

func (r *signupRequestRepoPG) scanRequest(row pgx.Row) (*SignupRequest, error) {
	var s SignupRequest
	err := row.Scan(&s.ID, &s.AccountID, &s.Name, &s.Email, &s.Role, &s.Status,
		&s.DecidedBy, &s.DecidedAt, &s.RequestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: signup request", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *signupRequestRepoPG) Create(ctx context.Context, s *SignupRequest) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = RequestPending
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO signup_requests (id, account_id, role, status)
		VALUES ($1,$2,$3,$4)
		RETURNING requested_at`,
		s.ID, s.AccountID, s.Role, s.Status).Scan(&s.RequestedAt)
}

func (r *signupRequestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SignupRequest, error) {
	return r.scanRequest(r.conn(ctx).QueryRow(ctx, signupRequestSelect+` WHERE s.id = $1`, id))
}

func (r *signupRequestRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*SignupRequest, error) {
	return r.scanRequest(r.conn(ctx).QueryRow(ctx, signupRequestSelect+` WHERE s.id = $1 FOR UPDATE OF s, a`, id))
}

func (r *signupRequestRepoPG) ListByStatus(ctx context.Context, status SignupRequestStatus, limit, offset int) ([]*SignupRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM signup_requests WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, signupRequestSelect+` WHERE s.status = $1 ORDER BY s.requested_at LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*SignupRequest
	for rows.Next() {
		s, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *signupRequestRepoPG) Decide(ctx context.Context, id uuid.UUID, status SignupRequestStatus, decidedBy uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE signup_requests SET status=$2, decided_by=$3, decided_at=$4
		WHERE id = $1 AND status = 'PENDING'`, id, status, decidedBy, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: signup request already decided", apperr.ErrInvalidState)
	}
	return nil
}
