package catalog

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

const entryCols = `id, code, name, type, standard_price, commission_mode, commission_value,
	taxable, consumable, current_stock, reorder_level, active,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, is_deleted`

func scanEntry(row pgx.Row) (*CatalogEntry, error) {
	var e CatalogEntry
	err := row.Scan(&e.ID, &e.Code, &e.Name, &e.Type, &e.StandardPrice, &e.CommissionMode, &e.CommissionValue,
		&e.Taxable, &e.Consumable, &e.currentStock, &e.ReorderLevel, &e.Active,
		&e.CreatedAt, &e.CreatedBy, &e.UpdatedAt, &e.UpdatedBy, &e.DeletedAt, &e.DeletedBy, &e.IsDeleted)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) Create(ctx context.Context, e *CatalogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CommissionMode == "" {
		e.CommissionMode = CommissionNone
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO catalog_entries (`+entryCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		e.ID, e.Code, e.Name, e.Type, e.StandardPrice, e.CommissionMode, e.CommissionValue,
		e.Taxable, e.Consumable, e.currentStock, e.ReorderLevel, e.Active,
		e.CreatedAt, e.CreatedBy, e.UpdatedAt, e.UpdatedBy, e.DeletedAt, e.DeletedBy, e.IsDeleted)
	if err != nil {
		if db.IsUniqueViolation(err, "catalog_entries_code_key") {
			return fmt.Errorf("catalog code %s already exists: %w", e.Code, err)
		}
		return fmt.Errorf("insert catalog entry: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*CatalogEntry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM catalog_entries WHERE id = $1 AND NOT is_deleted`, id))
	return e, db.RowError(err, "catalog entry", id.String())
}

func (r *repoPG) GetByCode(ctx context.Context, code string) (*CatalogEntry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM catalog_entries WHERE code = $1 AND NOT is_deleted`, code))
	return e, db.RowError(err, "catalog entry", code)
}

func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*CatalogEntry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM catalog_entries WHERE id = $1 AND NOT is_deleted FOR UPDATE`, id))
	return e, db.RowError(err, "catalog entry", id.String())
}

func (r *repoPG) GetByCodeForUpdate(ctx context.Context, code string) (*CatalogEntry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM catalog_entries WHERE code = $1 AND NOT is_deleted FOR UPDATE`, code))
	return e, db.RowError(err, "catalog entry", code)
}

func (r *repoPG) UpdateStock(ctx context.Context, e *CatalogEntry) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE catalog_entries SET current_stock = $2, updated_at = $3, updated_by = $4
		WHERE id = $1`,
		e.ID, e.currentStock, e.UpdatedAt, e.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update stock of %s: %w", e.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return db.RowError(pgx.ErrNoRows, "catalog entry", e.Code)
	}
	return nil
}

func (r *repoPG) ListLowStock(ctx context.Context, limit, offset int) ([]*CatalogEntry, int, error) {
	const where = ` FROM catalog_entries WHERE consumable AND active AND NOT is_deleted AND current_stock <= reorder_level`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count low stock: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+where+` ORDER BY current_stock ASC, code ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	var items []*CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
