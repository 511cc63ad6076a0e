package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medirec/medirec/internal/platform/apperr"
	"github.com/medirec/medirec/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptSelect = `
	SELECT ap.id, ap.patient_id, p.name, ap.doctor_id, d.name, ap.scheduled_at,
		ap.department, ap.notes, ap.status, ap.created_at, ap.updated_at
	FROM appointments ap
	JOIN accounts p ON p.id = ap.patient_id
	JOIN accounts d ON d.id = ap.doctor_id`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.DoctorID, &a.DoctorName, &a.ScheduledAt,
		&a.Department, &a.Notes, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: appointment", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, scheduled_at, department, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.ScheduledAt, a.Department, a.Notes, a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx, apptSelect+` WHERE ap.id = $1`, id))
}

func (r *appointmentRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx, apptSelect+` WHERE ap.id = $1 FOR UPDATE OF ap`, id))
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (time.Time, error) {
	var updatedAt time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`, id, status).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%w: appointment", apperr.ErrNotFound)
	}
	return updatedAt, err
}

func (r *appointmentRepoPG) list(ctx context.Context, where string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, apptSelect+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, ` WHERE ap.doctor_id = $1 ORDER BY ap.scheduled_at DESC LIMIT $2 OFFSET $3`,
		doctorID, limit, offset)
	return items, total, err
}

func (r *appointmentRepoPG) ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return r.list(ctx, ` WHERE ap.doctor_id = $1 AND ap.scheduled_at >= $2 AND ap.scheduled_at < $3
		ORDER BY ap.scheduled_at`, doctorID, from, to)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, ` WHERE ap.patient_id = $1 ORDER BY ap.scheduled_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	return items, total, err
}
