package medication

import (
	"context"

	"github.com/google/uuid"
)

// PrescriptionRepository reads include patient and doctor names.
type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
}
