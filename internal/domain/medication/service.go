package medication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medirec/medirec/internal/domain/account"
	"github.com/medirec/medirec/internal/platform/apperr"
	"github.com/medirec/medirec/internal/platform/auth"
	"github.com/medirec/medirec/internal/platform/db"
)

type AccountLookup interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

type Service struct {
	rx       PrescriptionRepository
	accounts AccountLookup
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(rx PrescriptionRepository, accounts AccountLookup, logger zerolog.Logger) *Service {
	return &Service{
		rx:       rx,
		accounts: accounts,
		logger:   logger.With().Str("component", "medication").Logger(),
		now:      time.Now,
	}
}

// Prescribe records a prescription by the calling doctor. The start date may
// not lie in the past and the end date, when given, may not precede it.
func (s *Service) Prescribe(ctx context.Context, doctor auth.Identity, in CreateInput) (*Prescription, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	patient, err := s.accounts.GetAccount(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if !patient.HasRole(auth.RolePatient) {
		return nil, fmt.Errorf("%w: patient", apperr.ErrNotFound)
	}

	p := &Prescription{
		ID:          uuid.New(),
		PatientID:   patient.ID,
		PatientName: patient.Name,
		DoctorID:    doctor.AccountID,
		DoctorName:  doctor.Name,
		Medication:  in.Medication,
		Dosage:      in.Dosage,
		Frequency:   in.Frequency,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Notes:       in.Notes,
	}
	if err := s.rx.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("prescription_id", p.ID.String()).
		Str("doctor_id", p.DoctorID.String()).
		Msg("prescription created")
	return p, nil
}

func (s *Service) validate(in *CreateInput) error {
	if in.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", apperr.ErrValidation)
	}
	in.Medication = strings.TrimSpace(in.Medication)
	in.Dosage = strings.TrimSpace(in.Dosage)
	in.Frequency = strings.TrimSpace(in.Frequency)
	switch {
	case in.Medication == "":
		return fmt.Errorf("%w: medication is required", apperr.ErrValidation)
	case in.Dosage == "":
		return fmt.Errorf("%w: dosage is required", apperr.ErrValidation)
	case in.Frequency == "":
		return fmt.Errorf("%w: frequency is required", apperr.ErrValidation)
	case in.StartDate.IsZero():
		return fmt.Errorf("%w: start_date is required", apperr.ErrValidation)
	}

	now := s.now().UTC()
	today := db.NewDate(now.Year(), now.Month(), now.Day())
	if in.StartDate.Before(today.Time) {
		return fmt.Errorf("%w: start_date must not be in the past", apperr.ErrValidation)
	}
	if in.EndDate != nil && !in.EndDate.IsZero() && in.EndDate.Before(in.StartDate.Time) {
		return fmt.Errorf("%w: end_date must not be before start_date", apperr.ErrValidation)
	}
	if in.EndDate != nil && in.EndDate.IsZero() {
		in.EndDate = nil
	}
	return nil
}

func (s *Service) ListForDoctor(ctx context.Context, doctor auth.Identity, limit, offset int) ([]*Prescription, int, error) {
	return s.rx.ListByDoctor(ctx, doctor.AccountID, limit, offset)
}

func (s *Service) ListForPatient(ctx context.Context, patient auth.Identity, limit, offset int) ([]*Prescription, int, error) {
	return s.rx.ListByPatient(ctx, patient.AccountID, limit, offset)
}
