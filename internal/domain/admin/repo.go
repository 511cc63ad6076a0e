package admin

import "context"

// StatsRepository answers the aggregate queries behind the dashboard. Each
// method is a single read and may run concurrently with the others.
type StatsRepository interface {
	CountApprovedByRole(ctx context.Context) (map[string]int, error)
	CountApproved(ctx context.Context) (int, error)
	CountPendingRequests(ctx context.Context) (int, error)
	CountAppointmentsByStatus(ctx context.Context) (map[string]int, error)
	CountMessages(ctx context.Context) (int, error)
}
