// Package shared holds value types embedded by every clinic aggregate.
package shared

import (
	"time"

	"github.com/ehr/clinic/internal/platform/apperr"
)

// Now is the clock used for audit stamps and dated notes. Tests replace it.
var Now = func() time.Time { return time.Now().UTC() }

// Audit is the created/updated/deleted metadata carried by every aggregate.
type Audit struct {
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	CreatedBy string     `db:"created_by" json:"created_by,omitempty"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	UpdatedBy string     `db:"updated_by" json:"updated_by,omitempty"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletedBy string     `db:"deleted_by" json:"deleted_by,omitempty"`
	IsDeleted bool       `db:"is_deleted" json:"is_deleted"`
}

// NewAudit stamps creation by actor at the current clock.
func NewAudit(actor string) Audit {
	now := Now()
	return Audit{CreatedAt: now, CreatedBy: actor, UpdatedAt: now, UpdatedBy: actor}
}

// Touch records a modification.
func (a *Audit) Touch(actor string) {
	a.UpdatedAt = Now()
	a.UpdatedBy = actor
}

// SoftDelete flags the row as deleted. Deleting twice is an error.
func (a *Audit) SoftDelete(actor string) error {
	if a.IsDeleted {
		return apperr.InvalidState("record", "deleted", "delete again")
	}
	now := Now()
	a.IsDeleted = true
	a.DeletedAt = &now
	a.DeletedBy = actor
	a.UpdatedAt = now
	a.UpdatedBy = actor
	return nil
}
