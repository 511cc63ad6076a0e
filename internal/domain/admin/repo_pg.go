package admin

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type statsRepoPG struct{ pool *pgxpool.Pool }

func NewStatsRepoPG(pool *pgxpool.Pool) StatsRepository {
	return &statsRepoPG{pool: pool}
}

// CountApprovedByRole counts each role of a multi-role account once.
func (r *statsRepoPG) CountApprovedByRole(ctx context.Context) (map[string]int, error) {
	return r.grouped(ctx, `
		SELECT role, COUNT(*)
		FROM accounts, unnest(roles) AS role
		WHERE registration_status = 'APPROVED'
		GROUP BY role`)
}

func (r *statsRepoPG) CountApproved(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM accounts WHERE registration_status = 'APPROVED'`)
}

func (r *statsRepoPG) CountPendingRequests(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM signup_requests WHERE status = 'PENDING'`)
}

func (r *statsRepoPG) CountAppointmentsByStatus(ctx context.Context) (map[string]int, error) {
	return r.grouped(ctx, `SELECT status, COUNT(*) FROM appointments GROUP BY status`)
}

func (r *statsRepoPG) CountMessages(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM messages`)
}

func (r *statsRepoPG) count(ctx context.Context, q string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (r *statsRepoPG) grouped(ctx context.Context, q string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("grouped count: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}
