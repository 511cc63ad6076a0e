package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// CanBecome reports whether an appointment in s may move to next. Repeating
// the current status is allowed.
func (s Status) CanBecome(next Status) bool {
	if s == next {
		return true
	}
	switch next {
	case StatusCompleted:
		return s == StatusConfirmed
	case StatusCancelled:
		return s == StatusConfirmed
	}
	return false
}

type Appointment struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	DoctorName  string    `json:"doctor_name"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Department  *string   `json:"department,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateInput struct {
	PatientID   uuid.UUID `json:"patient_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Department  *string   `json:"department"`
	Notes       *string   `json:"notes"`
}
