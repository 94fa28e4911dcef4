package visit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const visitCols = `id, visit_number, patient_id, doctor_id, visit_type, status, visit_date,
	chief_complaint, symptoms,
	bp_systolic, bp_diastolic, pulse, temperature, weight_kg, height_cm, spo2,
	diagnosis, clinical_notes, treatment_plan, follow_up_date, follow_up_instructions, completed_at,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, is_deleted`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	var complaint, symptoms, diagnosis, notes, plan, followUp *string
	err := row.Scan(&v.ID, &v.VisitNumber, &v.PatientID, &v.DoctorID, &v.VisitType, &v.Status, &v.VisitDate,
		&complaint, &symptoms,
		&v.BPSystolic, &v.BPDiastolic, &v.Pulse, &v.Temperature, &v.WeightKg, &v.HeightCm, &v.SpO2,
		&diagnosis, &notes, &plan, &v.FollowUpDate, &followUp, &v.CompletedAt,
		&v.CreatedAt, &v.CreatedBy, &v.UpdatedAt, &v.UpdatedBy, &v.DeletedAt, &v.DeletedBy, &v.IsDeleted)
	if err != nil {
		return nil, err
	}
	for dst, src := range map[*string]*string{
		&v.ChiefComplaint: complaint, &v.Symptoms: symptoms, &v.Diagnosis: diagnosis,
		&v.ClinicalNotes: notes, &v.TreatmentPlan: plan, &v.FollowUpInstructions: followUp,
	} {
		if src != nil {
			*dst = *src
		}
	}
	return &v, nil
}

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visits (`+visitCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)`,
		v.ID, v.VisitNumber, v.PatientID, v.DoctorID, v.VisitType, v.Status, v.VisitDate,
		v.ChiefComplaint, v.Symptoms,
		v.BPSystolic, v.BPDiastolic, v.Pulse, v.Temperature, v.WeightKg, v.HeightCm, v.SpO2,
		v.Diagnosis, v.ClinicalNotes, v.TreatmentPlan, v.FollowUpDate, v.FollowUpInstructions, v.CompletedAt,
		v.CreatedAt, v.CreatedBy, v.UpdatedAt, v.UpdatedBy, v.DeletedAt, v.DeletedBy, v.IsDeleted)
	if err != nil {
		return fmt.Errorf("insert visit %s: %w", v.VisitNumber, err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE id = $1 AND NOT is_deleted`, id))
	return v, db.RowError(err, "visit", id.String())
}

func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE id = $1 AND NOT is_deleted FOR UPDATE`, id))
	return v, db.RowError(err, "visit", id.String())
}

func (r *repoPG) GetByNumber(ctx context.Context, visitNumber string) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE visit_number = $1 AND NOT is_deleted`, visitNumber))
	return v, db.RowError(err, "visit", visitNumber)
}

func (r *repoPG) Update(ctx context.Context, v *Visit) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visits SET status=$2, chief_complaint=$3, symptoms=$4,
			bp_systolic=$5, bp_diastolic=$6, pulse=$7, temperature=$8, weight_kg=$9, height_cm=$10, spo2=$11,
			diagnosis=$12, clinical_notes=$13, treatment_plan=$14,
			follow_up_date=$15, follow_up_instructions=$16, completed_at=$17,
			updated_at=$18, updated_by=$19
		WHERE id = $1 AND NOT is_deleted`,
		v.ID, v.Status, v.ChiefComplaint, v.Symptoms,
		v.BPSystolic, v.BPDiastolic, v.Pulse, v.Temperature, v.WeightKg, v.HeightCm, v.SpO2,
		v.Diagnosis, v.ClinicalNotes, v.TreatmentPlan,
		v.FollowUpDate, v.FollowUpInstructions, v.CompletedAt,
		v.UpdatedAt, v.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update visit %s: %w", v.VisitNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return db.RowError(pgx.ErrNoRows, "visit", v.ID.String())
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM visits WHERE patient_id = $1 AND NOT is_deleted`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visits: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visits WHERE patient_id = $1 AND NOT is_deleted
		ORDER BY visit_date DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	var items []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}
