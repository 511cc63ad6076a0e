// Package accounttest provides an in-memory account store for tests of the
// packages that build on accounts.
package accounttest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medirec/medirec/internal/domain/account"
	"github.com/medirec/medirec/internal/platform/apperr"
	"github.com/medirec/medirec/internal/platform/auth"
)

// Store holds accounts and signup requests in memory. Its WithTx restores
// both maps when fn fails, so it also serves as a db.TxRunner.
type Store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*account.Account
	requests map[uuid.UUID]*account.SignupRequest
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*account.Account),
		requests: make(map[uuid.UUID]*account.SignupRequest),
	}
}

func (s *Store) Accounts() account.AccountRepository { return accountRepo{s} }
func (s *Store) Requests() account.SignupRequestRepository { return requestRepo{s} }

// Put stores an APPROVED account with the given roles and returns it.
func (s *Store) Put(name, email string, roles ...auth.Role) *account.Account {
	a := &account.Account{
		ID:                 uuid.New(),
		Name:               name,
		Email:              email,
		Roles:              roles,
		RegistrationStatus: account.StatusApproved,
		CreatedAt:          time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
	return a
}

// GetAccount matches the lookup interface the other domain packages take.
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return accountRepo{s}.GetByID(ctx, id)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	accounts := make(map[uuid.UUID]*account.Account, len(s.accounts))
	for k, v := range s.accounts {
		cp := *v
		accounts[k] = &cp
	}
	requests := make(map[uuid.UUID]*account.SignupRequest, len(s.requests))
	for k, v := range s.requests {
		cp := *v
		requests[k] = &cp
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.accounts, s.requests = accounts, requests
		s.mu.Unlock()
		return err
	}
	return nil
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
}

type accountRepo struct{ s *Store }

func (r accountRepo) emailTaken(email string, except uuid.UUID) bool {
	for id, a := range r.s.accounts {
		if id != except && a.Email == email {
			return true
		}
	}
	return false
}

func (r accountRepo) Create(_ context.Context, a *account.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.emailTaken(a.Email, uuid.Nil) {
		return fmt.Errorf("%w: %s", apperr.ErrDuplicateEmail, a.Email)
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	r.s.accounts[a.ID] = &cp
	return nil
}

func (r accountRepo) GetByID(_ context.Context, id uuid.UUID) (*account.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, notFound("account")
	}
	cp := *a
	return &cp, nil
}

func (r accountRepo) GetByEmail(_ context.Context, email string) (*account.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, notFound("account")
}

func (r accountRepo) UpdateProfile(_ context.Context, a *account.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[a.ID]; !ok {
		return notFound("account")
	}
	cp := *a
	r.s.accounts[a.ID] = &cp
	return nil
}

func (r accountRepo) UpdateIdentity(_ context.Context, a *account.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.accounts[a.ID]
	if !ok {
		return notFound("account")
	}
	if r.emailTaken(a.Email, a.ID) {
		return fmt.Errorf("%w: %s", apperr.ErrDuplicateEmail, a.Email)
	}
	stored.Name, stored.Email, stored.Roles = a.Name, a.Email, a.Roles
	return nil
}

func (r accountRepo) SetRegistrationStatus(_ context.Context, id uuid.UUID, status account.RegistrationStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return notFound("account")
	}
	a.RegistrationStatus = status
	return nil
}

func (r accountRepo) SetTwoFactorSecret(_ context.Context, id uuid.UUID, secret string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return notFound("account")
	}
	a.TwoFactorSecret, a.TwoFactorEnabled = &secret, false
	return nil
}

func (r accountRepo) EnableTwoFactor(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok || a.TwoFactorSecret == nil {
		return notFound("account")
	}
	a.TwoFactorEnabled = true
	return nil
}

// Delete also drops the account's signup requests, as the foreign key
// cascade does.
func (r accountRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[id]; !ok {
		return notFound("account")
	}
	delete(r.s.accounts, id)
	for rid, req := range r.s.requests {
		if req.AccountID == id {
			delete(r.s.requests, rid)
		}
	}
	return nil
}

func (r accountRepo) List(_ context.Context, f account.ListFilter, limit, offset int) ([]*account.Account, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*account.Account
	for _, a := range r.s.accounts {
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
	return page(all, limit, offset), len(all), nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

type requestRepo struct{ s *Store }

func (r requestRepo) Create(_ context.Context, req *account.SignupRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[req.AccountID]; !ok {
		return notFound("account")
	}
	req.ID = uuid.New()
	req.RequestedAt = time.Now()
	cp := *req
	r.s.requests[req.ID] = &cp
	return nil
}

// joined fills in the account name and email the way the SQL join does.
// Callers hold the lock.
func (r requestRepo) joined(req *account.SignupRequest) *account.SignupRequest {
	cp := *req
	if a, ok := r.s.accounts[req.AccountID]; ok {
		cp.Name, cp.Email = a.Name, a.Email
	}
	return &cp
}

func (r requestRepo) GetByID(_ context.Context, id uuid.UUID) (*account.SignupRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, notFound("signup request")
	}
	return r.joined(req), nil
}

func (r requestRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*account.SignupRequest, error) {
	return r.GetByID(ctx, id)
}

func (r requestRepo) ListByStatus(_ context.Context, status account.SignupRequestStatus, limit, offset int) ([]*account.SignupRequest, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*account.SignupRequest
	for _, req := range r.s.requests {
		if req.Status == status {
			all = append(all, r.joined(req))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RequestedAt.Before(all[j].RequestedAt) })
	return page(all, limit, offset), len(all), nil
}

func (r requestRepo) Decide(_ context.Context, id uuid.UUID, status account.SignupRequestStatus, by uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return notFound("signup request")
	}
	if req.Status != account.RequestPending {
		return fmt.Errorf("%w: signup request already decided", apperr.ErrInvalidState)
	}
	req.Status, req.DecidedBy, req.DecidedAt = status, &by, &at
	return nil
}
