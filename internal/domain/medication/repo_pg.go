package medication

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medirec/medirec/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const rxSelect = `
	SELECT rx.id, rx.patient_id, p.name, rx.doctor_id, d.name, rx.medication, rx.dosage,
		rx.frequency, rx.start_date, rx.end_date, rx.notes, rx.prescribed_at
	FROM prescriptions rx
	JOIN accounts p ON p.id = rx.patient_id
	JOIN accounts d ON d.id = rx.doctor_id`

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (id, patient_id, doctor_id, medication, dosage, frequency,
			start_date, end_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING prescribed_at`,
		p.ID, p.PatientID, p.DoctorID, p.Medication, p.Dosage, p.Frequency,
		p.StartDate, p.EndDate, p.Notes,
	).Scan(&p.PrescribedAt)
}

func (r *prescriptionRepoPG) list(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM prescriptions WHERE `+column+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		rxSelect+` WHERE rx.`+column+` = $1 ORDER BY rx.prescribed_at DESC LIMIT $2 OFFSET $3`,
		id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.PatientID, &p.PatientName, &p.DoctorID, &p.DoctorName,
			&p.Medication, &p.Dosage, &p.Frequency, &p.StartDate, &p.EndDate, &p.Notes,
			&p.PrescribedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &p)
	}
	return items, total, rows.Err()
}

func (r *prescriptionRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return r.list(ctx, "doctor_id", doctorID, limit, offset)
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return r.list(ctx, "patient_id", patientID, limit, offset)
}
