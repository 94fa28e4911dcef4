package prescription

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinic/internal/platform/db"
)

// -- Prescription Repository --

type repoPG struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const rxCols = `id, prescription_number, patient_id, doctor_id, visit_id, template_id,
	dispensed, dispensed_at, dispensed_by,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, is_deleted`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	var dispensedBy *string
	err := row.Scan(&p.ID, &p.PrescriptionNumber, &p.PatientID, &p.DoctorID, &p.VisitID, &p.TemplateID,
		&p.Dispensed, &p.DispensedAt, &dispensedBy,
		&p.CreatedAt, &p.CreatedBy, &p.UpdatedAt, &p.UpdatedBy, &p.DeletedAt, &p.DeletedBy, &p.IsDeleted)
	if err != nil {
		return nil, err
	}
	if dispensedBy != nil {
		p.DispensedBy = *dispensedBy
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO prescriptions (`+rxCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		p.ID, p.PrescriptionNumber, p.PatientID, p.DoctorID, p.VisitID, p.TemplateID,
		p.Dispensed, p.DispensedAt, p.DispensedBy,
		p.CreatedAt, p.CreatedBy, p.UpdatedAt, p.UpdatedBy, p.DeletedAt, p.DeletedBy, p.IsDeleted)
	if err != nil {
		return fmt.Errorf("insert prescription %s: %w", p.PrescriptionNumber, err)
	}
	for i, c := range p.Complaints {
		if _, err := q.Exec(ctx,
			`INSERT INTO prescription_complaints (prescription_id, position, complaint_id, text) VALUES ($1,$2,$3,$4)`,
			p.ID, i, c.MasterID, c.Text); err != nil {
			return fmt.Errorf("insert complaint of %s: %w", p.PrescriptionNumber, err)
		}
	}
	for i, m := range p.Medicines {
		if _, err := q.Exec(ctx, `
			INSERT INTO prescription_medicines
				(prescription_id, position, medicine_id, medicine_name, dose_id, dose_code, duration_days, quantity, instructions)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			p.ID, i, m.MedicineID, m.MedicineName, m.DoseID, m.DoseCode, m.DurationDays, m.Quantity, m.Instructions); err != nil {
			return fmt.Errorf("insert medicine of %s: %w", p.PrescriptionNumber, err)
		}
	}
	for i, a := range p.Advice {
		if _, err := q.Exec(ctx,
			`INSERT INTO prescription_advice (prescription_id, position, advice_id, text) VALUES ($1,$2,$3,$4)`,
			p.ID, i, a.MasterID, a.Text); err != nil {
			return fmt.Errorf("insert advice of %s: %w", p.PrescriptionNumber, err)
		}
	}
	return nil
}

func (r *repoPG) load(ctx context.Context, key, where string, arg interface{}) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM prescriptions WHERE `+where, arg))
	if err != nil {
		return nil, db.RowError(err, "prescription", key)
	}
	if err := r.loadItems(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) loadItems(ctx context.Context, p *Prescription) error {
	var err error
	if p.Complaints, err = r.loadEntries(ctx, "prescription_complaints", "complaint_id", p.ID); err != nil {
		return err
	}
	if p.Advice, err = r.loadEntries(ctx, "prescription_advice", "advice_id", p.ID); err != nil {
		return err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT medicine_id, medicine_name, dose_id, dose_code, duration_days, quantity, COALESCE(instructions, '')
		FROM prescription_medicines WHERE prescription_id = $1 ORDER BY position`, p.ID)
	if err != nil {
		return fmt.Errorf("load medicines of %s: %w", p.PrescriptionNumber, err)
	}
	defer rows.Close()
	p.Medicines = []Medicine{}
	for rows.Next() {
		var m Medicine
		if err := rows.Scan(&m.MedicineID, &m.MedicineName, &m.DoseID, &m.DoseCode, &m.DurationDays, &m.Quantity, &m.Instructions); err != nil {
			return fmt.Errorf("scan medicine of %s: %w", p.PrescriptionNumber, err)
		}
		p.Medicines = append(p.Medicines, m)
	}
	return rows.Err()
}

// loadEntries reads a complaint or advice table. table and idCol are
// constants chosen by the caller.
func (r *repoPG) loadEntries(ctx context.Context, table, idCol string, rxID uuid.UUID) ([]Entry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+idCol+`, COALESCE(text, '') FROM `+table+` WHERE prescription_id = $1 ORDER BY position`, rxID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.MasterID, &e.Text); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.load(ctx, id.String(), `id = $1 AND NOT is_deleted`, id)
}

func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.load(ctx, id.String(), `id = $1 AND NOT is_deleted FOR UPDATE`, id)
}

func (r *repoPG) GetByVisit(ctx context.Context, visitID uuid.UUID) (*Prescription, error) {
	return r.load(ctx, visitID.String(), `visit_id = $1 AND NOT is_deleted ORDER BY created_at DESC LIMIT 1`, visitID)
}

func (r *repoPG) UpdateDispensed(ctx context.Context, p *Prescription) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescriptions SET dispensed=$2, dispensed_at=$3, dispensed_by=$4, updated_at=$5, updated_by=$6
		WHERE id = $1 AND NOT is_deleted`,
		p.ID, p.Dispensed, p.DispensedAt, p.DispensedBy, p.UpdatedAt, p.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update prescription %s: %w", p.PrescriptionNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return db.RowError(pgx.ErrNoRows, "prescription", p.ID.String())
	}
	return nil
}

// -- Dose Repository --

type doseRepoPG struct{ pool *pgxpool.Pool }

func NewDoseRepo(pool *pgxpool.Pool) DoseRepository {
	return &doseRepoPG{pool: pool}
}

const doseCols = `id, code, COALESCE(description, ''), active`

func scanDose(row pgx.Row) (*Dose, error) {
	var d Dose
	if err := row.Scan(&d.ID, &d.Code, &d.Description, &d.Active); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Dose, error) {
	d, err := scanDose(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doseCols+` FROM doses WHERE id = $1`, id))
	return d, db.RowError(err, "dose", id.String())
}

func (r *doseRepoPG) GetByCode(ctx context.Context, code string) (*Dose, error) {
	d, err := scanDose(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doseCols+` FROM doses WHERE code = $1`, code))
	return d, db.RowError(err, "dose", code)
}

func (r *doseRepoPG) ListActive(ctx context.Context) ([]*Dose, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+doseCols+` FROM doses WHERE active ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list doses: %w", err)
	}
	defer rows.Close()
	var out []*Dose
	for rows.Next() {
		d, err := scanDose(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// -- Template Repository --

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepo(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepoPG{pool: pool}
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	q := db.Conn(ctx, r.pool)
	var t Template
	err := q.QueryRow(ctx, `SELECT id, name, doctor_id, active FROM prescription_templates WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.DoctorID, &t.Active)
	if err != nil {
		return nil, db.RowError(err, "template", id.String())
	}

	t.Complaints, err = templateEntries(ctx, q, "template_complaints", "complaint_id", id)
	if err != nil {
		return nil, err
	}
	t.Advice, err = templateEntries(ctx, q, "template_advice", "advice_id", id)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT medicine_id, dose_id, duration_days, quantity, COALESCE(instructions, '')
		FROM template_medicines WHERE template_id = $1 ORDER BY sort_order, id`, id)
	if err != nil {
		return nil, fmt.Errorf("load template medicines: %w", err)
	}
	defer rows.Close()
	t.Medicines = []TemplateMedicine{}
	for rows.Next() {
		var m TemplateMedicine
		if err := rows.Scan(&m.MedicineID, &m.DoseID, &m.DurationDays, &m.Quantity, &m.Instructions); err != nil {
			return nil, fmt.Errorf("scan template medicine: %w", err)
		}
		t.Medicines = append(t.Medicines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &t, nil
}

func templateEntries(ctx context.Context, q db.Queryable, table, idCol string, templateID uuid.UUID) ([]Entry, error) {
	rows, err := q.Query(ctx,
		`SELECT `+idCol+`, COALESCE(text, '') FROM `+table+` WHERE template_id = $1 ORDER BY sort_order, id`, templateID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.MasterID, &e.Text); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
