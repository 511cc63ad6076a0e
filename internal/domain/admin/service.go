package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medirec/medirec/internal/domain/account"
	"github.com/medirec/medirec/internal/platform/apperr"
	"github.com/medirec/medirec/internal/platform/auth"
	"github.com/medirec/medirec/internal/platform/db"
)

// Registrar creates accounts that skip the registration gate.
type Registrar interface {
	CreateApproved(ctx context.Context, in account.NewAccount) (*account.Account, error)
}

type Service struct {
	accounts  account.AccountRepository
	requests  account.SignupRequestRepository
	registrar Registrar
	stats     StatsRepository
	tx        db.TxRunner
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(
	accounts account.AccountRepository,
	requests account.SignupRequestRepository,
	registrar Registrar,
	stats StatsRepository,
	tx db.TxRunner,
	logger zerolog.Logger,
) *Service {
	return &Service{
		accounts:  accounts,
		requests:  requests,
		registrar: registrar,
		stats:     stats,
		tx:        tx,
		logger:    logger.With().Str("component", "admin").Logger(),
		now:       time.Now,
	}
}

// -- Users --

// ListUsers lists accounts of every registration status, optionally only
// those holding role.
func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*account.Account, int, error) {
	var filter account.ListFilter
	if role != "" {
		r, ok := auth.ParseRole(role)
		if !ok {
			return nil, 0, fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, role)
		}
		filter.Role = r
	}
	return s.accounts.List(ctx, filter, limit, offset)
}

func (s *Service) CreateUser(ctx context.Context, in account.NewAccount) (*account.Account, error) {
	return s.registrar.CreateApproved(ctx, in)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, u UserUpdate) (*account.Account, error) {
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", apperr.ErrValidation)
		}
		a.Name = name
	}
	if u.Email != nil {
		if err := account.ValidateEmail(*u.Email); err != nil {
			return nil, err
		}
		a.Email = *u.Email
	}
	if u.Roles != nil {
		roles, err := account.NormalizeRoles(*u.Roles)
		if err != nil {
			return nil, err
		}
		a.Roles = roles
	}
	if err := s.accounts.UpdateIdentity(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteUser removes the account and everything that references it. An
// admin cannot delete their own account.
func (s *Service) DeleteUser(ctx context.Context, actor auth.Identity, id uuid.UUID) error {
	if actor.AccountID == id {
		return fmt.Errorf("%w: cannot delete your own account", apperr.ErrValidation)
	}
	if err := s.accounts.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().
		Str("account_id", id.String()).
		Str("deleted_by", actor.AccountID.String()).
		Msg("account deleted")
	return nil
}

// -- Signup requests --

func (s *Service) ListPendingRequests(ctx context.Context, limit, offset int) ([]*account.SignupRequest, int, error) {
	return s.requests.ListByStatus(ctx, account.RequestPending, limit, offset)
}

func (s *Service) ApproveRequest(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Decision, error) {
	return s.decide(ctx, actor, id, account.RequestApproved)
}

func (s *Service) RejectRequest(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Decision, error) {
	return s.decide(ctx, actor, id, account.RequestRejected)
}

// decide moves a pending request and its account to the outcome in one
// transaction. The request row stays locked until commit so two admins
// cannot decide it twice.
func (s *Service) decide(ctx context.Context, actor auth.Identity, id uuid.UUID, outcome account.SignupRequestStatus) (*Decision, error) {
	accountStatus := account.StatusApproved
	verb := "Approved"
	if outcome == account.RequestRejected {
		accountStatus = account.StatusRejected
		verb = "Rejected"
	}

	var req *account.SignupRequest
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != account.RequestPending {
			return fmt.Errorf("%w: request already %s", apperr.ErrInvalidState, strings.ToLower(string(req.Status)))
		}
		if err := s.requests.Decide(ctx, id, outcome, actor.AccountID, s.now()); err != nil {
			return err
		}
		return s.accounts.SetRegistrationStatus(ctx, req.AccountID, accountStatus)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", id.String()).
		Str("account_id", req.AccountID.String()).
		Str("decided_by", actor.AccountID.String()).
		Str("outcome", string(outcome)).
		Msg("signup request decided")

	return &Decision{
		RequestID: id,
		AccountID: req.AccountID,
		Status:    outcome,
		Message:   fmt.Sprintf("%s signup for %s", verb, req.Name),
	}, nil
}

// -- Dashboard --

// Dashboard runs the aggregate counts concurrently. The first failure
// cancels the rest.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	d := &Dashboard{GeneratedAt: s.now().UTC()}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		d.AccountsByRole, err = s.stats.CountApprovedByRole(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.TotalAccounts, err = s.stats.CountApproved(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.PendingRequests, err = s.stats.CountPendingRequests(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.AppointmentsByStatus, err = s.stats.CountAppointmentsByStatus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.TotalMessages, err = s.stats.CountMessages(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	return d, nil
}
