package admin

import (
	"time"

	"github.com/google/uuid"

	"github.com/medirec/medirec/internal/domain/account"
	"github.com/medirec/medirec/internal/platform/auth"
)

// UserUpdate carries the identity fields an admin may change. Nil fields
// are left untouched.
type UserUpdate struct {
	Name  *string      `json:"name"`
	Email *string      `json:"email"`
	Roles *[]auth.Role `json:"roles"`
}

// Decision is the outcome of approving or rejecting a signup request.
type Decision struct {
	RequestID uuid.UUID                   `json:"request_id"`
	AccountID uuid.UUID                   `json:"account_id"`
	Status    account.SignupRequestStatus `json:"status"`
	Message   string                      `json:"message"`
}

type Dashboard struct {
	TotalAccounts        int            `json:"total_accounts"`
	AccountsByRole       map[string]int `json:"accounts_by_role"`
	PendingRequests      int            `json:"pending_requests"`
	AppointmentsByStatus map[string]int `json:"appointments_by_status"`
	TotalMessages        int            `json:"total_messages"`
	GeneratedAt          time.Time      `json:"generated_at"`
}
