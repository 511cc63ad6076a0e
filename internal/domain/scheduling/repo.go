package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentRepository reads include patient and doctor names. Missing rows
// return an error wrapping apperr.ErrNotFound.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (time.Time, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
}
