package patient

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

const patientCols = `id, patient_code, first_name, last_name, gender, date_of_birth, age_years,
	phone, email, address,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, is_deleted`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var lastName, gender, phone, email, address *string
	err := row.Scan(&p.ID, &p.PatientCode, &p.FirstName, &lastName, &gender, &p.DateOfBirth, &p.AgeYears,
		&phone, &email, &address,
		&p.CreatedAt, &p.CreatedBy, &p.UpdatedAt, &p.UpdatedBy, &p.DeletedAt, &p.DeletedBy, &p.IsDeleted)
	if err != nil {
		return nil, err
	}
	p.LastName, p.Gender, p.Phone, p.Email, p.Address =
		deref(lastName), deref(gender), deref(phone), deref(email), deref(address)
	return &p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (`+patientCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		p.ID, p.PatientCode, p.FirstName, p.LastName, p.Gender, p.DateOfBirth, p.AgeYears,
		p.Phone, p.Email, p.Address,
		p.CreatedAt, p.CreatedBy, p.UpdatedAt, p.UpdatedBy, p.DeletedAt, p.DeletedBy, p.IsDeleted)
	if err != nil {
		return fmt.Errorf("insert patient %s: %w", p.PatientCode, err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1 AND NOT is_deleted`, id))
	return p, db.RowError(err, "patient", id.String())
}

func (r *repoPG) GetByCode(ctx context.Context, code string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE patient_code = $1 AND NOT is_deleted`, code))
	return p, db.RowError(err, "patient", code)
}

func (r *repoPG) Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	where := `NOT is_deleted AND ($1 = '' OR patient_code = $1 OR phone = $1
		OR first_name ILIKE '%' || $1 || '%' OR last_name ILIKE '%' || $1 || '%')`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE `+where, q).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patients WHERE `+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		q, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
