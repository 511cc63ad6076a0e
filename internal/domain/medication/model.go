package medication

import (
	"time"

	"github.com/google/uuid"

	"github.com/medirec/medirec/internal/platform/db"
)

type Prescription struct {
	ID           uuid.UUID `json:"id"`
	PatientID    uuid.UUID `json:"patient_id"`
	PatientName  string    `json:"patient_name"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	DoctorName   string    `json:"doctor_name"`
	Medication   string    `json:"medication"`
	Dosage       string    `json:"dosage"`
	Frequency    string    `json:"frequency"`
	StartDate    db.Date   `json:"start_date"`
	EndDate      *db.Date  `json:"end_date,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
	PrescribedAt time.Time `json:"prescribed_at"`
}

type CreateInput struct {
	PatientID  uuid.UUID `json:"patient_id"`
	Medication string    `json:"medication"`
	Dosage     string    `json:"dosage"`
	Frequency  string    `json:"frequency"`
	StartDate  db.Date   `json:"start_date"`
	EndDate    *db.Date  `json:"end_date"`
	Notes      *string   `json:"notes"`
}
