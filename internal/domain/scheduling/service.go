package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medirec/medirec/internal/domain/account"
	"github.com/medirec/medirec/internal/platform/apperr"
	"github.com/medirec/medirec/internal/platform/auth"
	"github.com/medirec/medirec/internal/platform/db"
)

const maxCalendarRange = 366 * 24 * time.Hour

// AccountLookup resolves the patient an appointment is booked for.
type AccountLookup interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

type Service struct {
	appts    AppointmentRepository
	accounts AccountLookup
	tx       db.TxRunner
	logger   zerolog.Logger
}

func NewService(appts AppointmentRepository, accounts AccountLookup, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		appts:    appts,
		accounts: accounts,
		tx:       tx,
		logger:   logger.With().Str("component", "scheduling").Logger(),
	}
}

// Create books a CONFIRMED appointment between the calling doctor and an
// existing patient.
func (s *Service) Create(ctx context.Context, doctor auth.Identity, in CreateInput) (*Appointment, error) {
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", apperr.ErrValidation)
	}
	if in.ScheduledAt.IsZero() {
		return nil, fmt.Errorf("%w: scheduled_at is required", apperr.ErrValidation)
	}
	patient, err := s.patient(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		ID:          uuid.New(),
		PatientID:   patient.ID,
		PatientName: patient.Name,
		DoctorID:    doctor.AccountID,
		DoctorName:  doctor.Name,
		ScheduledAt: in.ScheduledAt.UTC(),
		Department:  in.Department,
		Notes:       in.Notes,
		Status:      StatusConfirmed,
	}
	if err := s.appts.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Msg("appointment created")
	return a, nil
}

func (s *Service) patient(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	p, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.HasRole(auth.RolePatient) {
		return nil, fmt.Errorf("%w: patient", apperr.ErrNotFound)
	}
	return p, nil
}

func (s *Service) ListForDoctor(ctx context.Context, doctor auth.Identity, limit, offset int) ([]*Appointment, int, error) {
	return s.appts.ListByDoctor(ctx, doctor.AccountID, limit, offset)
}

func (s *Service) ListForPatient(ctx context.Context, patient auth.Identity, limit, offset int) ([]*Appointment, int, error) {
	return s.appts.ListByPatient(ctx, patient.AccountID, limit, offset)
}

// Calendar returns the doctor's appointments in [from, to) ordered by time.
func (s *Service) Calendar(ctx context.Context, doctor auth.Identity, from, to time.Time) ([]*Appointment, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: to must be after from", apperr.ErrValidation)
	}
	if to.Sub(from) > maxCalendarRange {
		return nil, fmt.Errorf("%w: range must not exceed one year", apperr.ErrValidation)
	}
	items, err := s.appts.ListByDoctorBetween(ctx, doctor.AccountID, from, to)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Appointment{}
	}
	return items, nil
}

func (s *Service) Complete(ctx context.Context, doctor auth.Identity, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, doctor, id, StatusCompleted)
}

func (s *Service) Cancel(ctx context.Context, doctor auth.Identity, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, doctor, id, StatusCancelled)
}

// transition reads and updates the appointment in one transaction holding
// the row lock, so concurrent complete and cancel calls serialize.
func (s *Service) transition(ctx context.Context, doctor auth.Identity, id uuid.UUID, next Status) (*Appointment, error) {
	var a *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appts.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.DoctorID != doctor.AccountID {
			return fmt.Errorf("%w: appointment belongs to another doctor", apperr.ErrForbidden)
		}
		if !a.Status.CanBecome(next) {
			return fmt.Errorf("%w: cannot move %s appointment to %s", apperr.ErrInvalidState, a.Status, next)
		}
		if a.Status == next {
			return nil
		}
		a.UpdatedAt, err = s.appts.UpdateStatus(ctx, id, next)
		if err != nil {
			return err
		}
		a.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("status", string(a.Status)).
		Msg("appointment status changed")
	return a, nil
}
