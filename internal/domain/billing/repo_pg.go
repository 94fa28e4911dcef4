package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const billCols = `id, bill_number, visit_id, patient_id, doctor_id, status,
	consultation_fee, procedure_fee, medicine_fee, labtest_fee, other_fee,
	sub_total, discount_percentage, discount_amount, tax_percentage,
	total_amount, paid_amount, due_amount, payment_mode, transaction_id, notes,
	generated_at, version,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, is_deleted`

const lineCols = `id, bill_id, catalog_entry_id, item_name, item_type, unit_price, quantity,
	total_price, discount_percentage, discount_amount, discount_fixed, taxable, tax_amount,
	total_with_tax, commission_amount, stock_consumed,
	administered, administered_by, administered_at, administration_notes,
	created_at, created_by, updated_at, updated_by`

const paymentCols = `id, kind, amount, mode, transaction_id, reason, recorded_at, recorded_by`

func scanLedger(row pgx.Row) (*Ledger, error) {
	var l Ledger
	err := row.Scan(&l.id, &l.billNumber, &l.visitID, &l.patientID, &l.doctorID, &l.status,
		&l.consultationFee, &l.procedureFee, &l.medicineFee, &l.labTestFee, &l.otherFee,
		&l.subTotal, &l.discountPercentage, &l.discountAmount, &l.taxPercentage,
		&l.totalAmount, &l.paidAmount, &l.dueAmount, &l.paymentMode, &l.transactionID, &l.notes,
		&l.generatedAt, &l.version,
		&l.audit.CreatedAt, &l.audit.CreatedBy, &l.audit.UpdatedAt, &l.audit.UpdatedBy,
		&l.audit.DeletedAt, &l.audit.DeletedBy, &l.audit.IsDeleted)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repoPG) Create(ctx context.Context, l *Ledger) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bills (`+billCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)`,
		l.id, l.billNumber, l.visitID, l.patientID, l.doctorID, l.status,
		l.consultationFee, l.procedureFee, l.medicineFee, l.labTestFee, l.otherFee,
		l.subTotal, l.discountPercentage, l.discountAmount, l.taxPercentage,
		l.totalAmount, l.paidAmount, l.dueAmount, l.paymentMode, l.transactionID, l.notes,
		l.generatedAt, l.version,
		l.audit.CreatedAt, l.audit.CreatedBy, l.audit.UpdatedAt, l.audit.UpdatedBy,
		l.audit.DeletedAt, l.audit.DeletedBy, l.audit.IsDeleted)
	if err != nil {
		if db.IsUniqueViolation(err, "bills_visit_id_key") {
			return apperr.InvalidState("visit "+l.visitID.String(), "billed", "open a second bill")
		}
		return fmt.Errorf("insert bill %s: %w", l.billNumber, err)
	}
	return r.writeChildren(ctx, l)
}

func (r *repoPG) Update(ctx context.Context, l *Ledger) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bills SET status=$3,
			consultation_fee=$4, procedure_fee=$5, medicine_fee=$6, labtest_fee=$7, other_fee=$8,
			sub_total=$9, discount_percentage=$10, discount_amount=$11, tax_percentage=$12,
			total_amount=$13, paid_amount=$14, due_amount=$15, payment_mode=$16, transaction_id=$17,
			notes=$18, generated_at=$19, updated_at=$20, updated_by=$21,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		l.id, l.version, l.status,
		l.consultationFee, l.procedureFee, l.medicineFee, l.labTestFee, l.otherFee,
		l.subTotal, l.discountPercentage, l.discountAmount, l.taxPercentage,
		l.totalAmount, l.paidAmount, l.dueAmount, l.paymentMode, l.transactionID,
		l.notes, l.generatedAt, l.audit.UpdatedAt, l.audit.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update bill %s: %w", l.billNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update bill %s at version %d: %w", l.billNumber, l.version, db.ErrStaleVersion)
	}
	l.version++
	return r.writeChildren(ctx, l)
}

func (r *repoPG) writeChildren(ctx context.Context, l *Ledger) error {
	q := r.conn(ctx)
	for pos, li := range l.items {
		_, err := q.Exec(ctx, `
			INSERT INTO bill_line_items (`+lineCols+`, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
			ON CONFLICT (id) DO UPDATE SET
				unit_price=EXCLUDED.unit_price, quantity=EXCLUDED.quantity,
				total_price=EXCLUDED.total_price, discount_percentage=EXCLUDED.discount_percentage,
				discount_amount=EXCLUDED.discount_amount, discount_fixed=EXCLUDED.discount_fixed,
				tax_amount=EXCLUDED.tax_amount, total_with_tax=EXCLUDED.total_with_tax,
				administered=EXCLUDED.administered, administered_by=EXCLUDED.administered_by,
				administered_at=EXCLUDED.administered_at, administration_notes=EXCLUDED.administration_notes,
				updated_at=EXCLUDED.updated_at, updated_by=EXCLUDED.updated_by`,
			li.id, li.billID, li.catalogEntryID, li.itemName, li.itemType, li.unitPrice, li.quantity,
			li.totalPrice, li.discountPercentage, li.discountAmount, li.fixedDiscount, li.taxable, li.taxAmount,
			li.totalWithTax, li.commissionAmount, li.stockConsumed,
			li.administered, li.administeredBy, li.administeredAt, li.administrationNotes,
			li.audit.CreatedAt, li.audit.CreatedBy, li.audit.UpdatedAt, li.audit.UpdatedBy, pos)
		if err != nil {
			return fmt.Errorf("write line %q of bill %s: %w", li.itemName, l.billNumber, err)
		}
	}
	for _, p := range l.payments {
		_, err := q.Exec(ctx, `
			INSERT INTO bill_payments (`+paymentCols+`, bill_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Kind, p.Amount, p.Mode, p.TransactionID, p.Reason, p.RecordedAt, p.RecordedBy, l.id)
		if err != nil {
			return fmt.Errorf("write payment of bill %s: %w", l.billNumber, err)
		}
	}
	return nil
}

func (r *repoPG) load(ctx context.Context, key, where string, arg interface{}) (*Ledger, error) {
	l, err := scanLedger(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE `+where, arg))
	if err != nil {
		return nil, db.RowError(err, "bill", key)
	}
	if err := r.loadChildren(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *repoPG) loadChildren(ctx context.Context, l *Ledger) error {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+lineCols+` FROM bill_line_items WHERE bill_id = $1 ORDER BY position`, l.id)
	if err != nil {
		return fmt.Errorf("load lines of bill %s: %w", l.billNumber, err)
	}
	defer rows.Close()
	l.items = nil
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.id, &li.billID, &li.catalogEntryID, &li.itemName, &li.itemType, &li.unitPrice, &li.quantity,
			&li.totalPrice, &li.discountPercentage, &li.discountAmount, &li.fixedDiscount, &li.taxable, &li.taxAmount,
			&li.totalWithTax, &li.commissionAmount, &li.stockConsumed,
			&li.administered, &li.administeredBy, &li.administeredAt, &li.administrationNotes,
			&li.audit.CreatedAt, &li.audit.CreatedBy, &li.audit.UpdatedAt, &li.audit.UpdatedBy); err != nil {
			return fmt.Errorf("scan line of bill %s: %w", l.billNumber, err)
		}
		l.items = append(l.items, &li)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	prow, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentCols+` FROM bill_payments WHERE bill_id = $1 ORDER BY recorded_at, id`, l.id)
	if err != nil {
		return fmt.Errorf("load payments of bill %s: %w", l.billNumber, err)
	}
	defer prow.Close()
	l.payments = nil
	for prow.Next() {
		var p Payment
		if err := prow.Scan(&p.ID, &p.Kind, &p.Amount, &p.Mode, &p.TransactionID, &p.Reason, &p.RecordedAt, &p.RecordedBy); err != nil {
			return fmt.Errorf("scan payment of bill %s: %w", l.billNumber, err)
		}
		l.payments = append(l.payments, p)
	}
	return prow.Err()
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ledger, error) {
	return r.load(ctx, id.String(), `id = $1 AND NOT is_deleted`, id)
}

func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Ledger, error) {
	return r.load(ctx, id.String(), `id = $1 AND NOT is_deleted FOR UPDATE`, id)
}

func (r *repoPG) GetByNumber(ctx context.Context, billNumber string) (*Ledger, error) {
	return r.load(ctx, billNumber, `bill_number = $1 AND NOT is_deleted`, billNumber)
}

func (r *repoPG) GetByVisit(ctx context.Context, visitID uuid.UUID) (*Ledger, error) {
	return r.load(ctx, visitID.String(), `visit_id = $1 AND NOT is_deleted`, visitID)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Ledger, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM bills WHERE patient_id = $1 AND NOT is_deleted`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bills: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+billCols+` FROM bills WHERE patient_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list bills: %w", err)
	}
	var items []*Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, l := range items {
		if err := r.loadChildren(ctx, l); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}
