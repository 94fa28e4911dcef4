package prescription

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/domain/catalog"
	"github.com/ehr/clinic/internal/platform/apperr"
)

// Dose is a row of the dose master, e.g. code "1-0-1".
type Dose struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Description string    `db:"description" json:"description,omitempty"`
	Active      bool      `db:"active" json:"active"`
}

// Template is a reusable bundle of complaints, medicines and advice.
type Template struct {
	ID         uuid.UUID          `db:"id" json:"id"`
	Name       string             `db:"name" json:"name"`
	DoctorID   *uuid.UUID         `db:"doctor_id" json:"doctor_id,omitempty"`
	Active     bool               `db:"active" json:"active"`
	Complaints []Entry            `json:"complaints"`
	Medicines  []TemplateMedicine `json:"medicines"`
	Advice     []Entry            `json:"advice"`
}

// TemplateMedicine references the medicine and dose masters. A nil
// DurationDays falls back to the configured default.
type TemplateMedicine struct {
	MedicineID   uuid.UUID  `json:"medicine_id"`
	DoseID       *uuid.UUID `json:"dose_id,omitempty"`
	DurationDays *int       `json:"duration_days,omitempty"`
	Quantity     int        `json:"quantity"`
	Instructions string     `json:"instructions,omitempty"`
}

// MedicineOrder is a medicine as a doctor orders it. The dose is given by
// id or by code; neither means DefaultDoseCode. A nil or zero duration
// falls back to the expander's default.
type MedicineOrder struct {
	MedicineID   uuid.UUID  `json:"medicine_id" validate:"required"`
	DoseID       *uuid.UUID `json:"dose_id,omitempty"`
	DoseCode     string     `json:"dose_code,omitempty" validate:"omitempty,max=20"`
	DurationDays *int       `json:"duration_days,omitempty" validate:"omitempty,gte=0,max=365"`
	Quantity     int        `json:"quantity" validate:"gte=0"`
	Instructions string     `json:"instructions,omitempty"`
}

// Expansion is a template resolved against the masters, ready to be
// applied to a prescription.
type Expansion struct {
	TemplateID   uuid.UUID  `json:"template_id"`
	TemplateName string     `json:"template_name"`
	Complaints   []Entry    `json:"complaints"`
	Medicines    []Medicine `json:"medicines"`
	Advice       []Entry    `json:"advice"`
}

// MedicineLookup is the part of the catalog the expander reads.
type MedicineLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*catalog.CatalogEntry, error)
}

// Expander resolves template medicines into prescription medicines.
type Expander struct {
	doses           DoseRepository
	medicines       MedicineLookup
	defaultDuration int
}

func NewExpander(doses DoseRepository, medicines MedicineLookup, defaultDurationDays int) *Expander {
	if defaultDurationDays <= 0 {
		defaultDurationDays = 5
	}
	return &Expander{doses: doses, medicines: medicines, defaultDuration: defaultDurationDays}
}

func (x *Expander) DefaultDurationDays() int { return x.defaultDuration }

// Expand resolves every medicine's name and dose. Inactive templates,
// inactive or non-medicine catalog entries and unknown doses fail the
// whole expansion.
func (x *Expander) Expand(ctx context.Context, t *Template) (*Expansion, error) {
	if !t.Active {
		return nil, apperr.InvalidState("template "+t.Name, "inactive", "expand")
	}
	out := &Expansion{
		TemplateID:   t.ID,
		TemplateName: t.Name,
		Complaints:   append([]Entry{}, t.Complaints...),
		Medicines:    make([]Medicine, 0, len(t.Medicines)),
		Advice:       append([]Entry{}, t.Advice...),
	}
	for _, tm := range t.Medicines {
		m, err := x.Resolve(ctx, MedicineOrder{
			MedicineID:   tm.MedicineID,
			DoseID:       tm.DoseID,
			DurationDays: tm.DurationDays,
			Quantity:     tm.Quantity,
			Instructions: tm.Instructions,
		})
		if err != nil {
			return nil, err
		}
		out.Medicines = append(out.Medicines, m)
	}
	return out, nil
}

// Resolve turns an order into a prescribed medicine with name and dose
// snapshots taken from the masters.
func (x *Expander) Resolve(ctx context.Context, o MedicineOrder) (Medicine, error) {
	entry, err := x.medicines.GetByID(ctx, o.MedicineID)
	if err != nil {
		return Medicine{}, err
	}
	if entry.Type != catalog.TypeMedicine {
		return Medicine{}, apperr.Validation("medicine_id", entry.Code+" is not a medicine")
	}
	if !entry.Active {
		return Medicine{}, apperr.InvalidState("catalog entry "+entry.Code, "inactive", "prescribe")
	}

	m := Medicine{
		MedicineID:   entry.ID,
		MedicineName: entry.Name,
		DoseCode:     DefaultDoseCode,
		DurationDays: x.defaultDuration,
		Quantity:     o.Quantity,
		Instructions: strings.TrimSpace(o.Instructions),
	}

	var dose *Dose
	switch code := strings.TrimSpace(o.DoseCode); {
	case o.DoseID != nil:
		dose, err = x.doses.GetByID(ctx, *o.DoseID)
	case code != "":
		dose, err = x.doses.GetByCode(ctx, code)
	}
	if err != nil {
		return Medicine{}, err
	}
	if dose != nil {
		if !dose.Active {
			return Medicine{}, apperr.InvalidState("dose "+dose.Code, "inactive", "prescribe")
		}
		id := dose.ID
		m.DoseID = &id
		m.DoseCode = dose.Code
	}
	if o.DurationDays != nil && *o.DurationDays > 0 {
		m.DurationDays = *o.DurationDays
	}
	return m, nil
}
