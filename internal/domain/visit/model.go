package visit

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinic/internal/domain/shared"
	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/idgen"
)

type Status string

const (
	StatusCheckedIn  Status = "checked_in"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// transitions lists the statuses reachable from each status.
var transitions = map[Status][]Status{
	StatusCheckedIn:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether a visit in from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool { return len(transitions[s]) == 0 }

type Type string

const (
	TypeWalkIn      Type = "walk_in"
	TypeAppointment Type = "appointment"
	TypeFollowUp    Type = "follow_up"
	TypeEmergency   Type = "emergency"
)

func (t Type) Valid() bool {
	switch t {
	case TypeWalkIn, TypeAppointment, TypeFollowUp, TypeEmergency:
		return true
	}
	return false
}

// Vitals are the measurements taken at the visit. Nil means not recorded.
type Vitals struct {
	BPSystolic  *int             `db:"bp_systolic" json:"bp_systolic,omitempty" validate:"omitempty,min=40,max=300"`
	BPDiastolic *int             `db:"bp_diastolic" json:"bp_diastolic,omitempty" validate:"omitempty,min=20,max=200"`
	Pulse       *int             `db:"pulse" json:"pulse,omitempty" validate:"omitempty,min=20,max=250"`
	Temperature *decimal.Decimal `db:"temperature" json:"temperature,omitempty" validate:"omitempty,gte=25,lte=45"`
	WeightKg    *decimal.Decimal `db:"weight_kg" json:"weight_kg,omitempty" validate:"omitempty,gt=0,lte=500"`
	HeightCm    *decimal.Decimal `db:"height_cm" json:"height_cm,omitempty" validate:"omitempty,gt=0,lte=300"`
	SpO2        *int             `db:"spo2" json:"spo2,omitempty" validate:"omitempty,min=50,max=100"`
}

// Visit maps to the visits table.
type Visit struct {
	ID             uuid.UUID `db:"id" json:"id"`
	VisitNumber    string    `db:"visit_number" json:"visit_number"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID       uuid.UUID `db:"doctor_id" json:"doctor_id"`
	VisitType      Type      `db:"visit_type" json:"visit_type"`
	Status         Status    `db:"status" json:"status"`
	VisitDate      time.Time `db:"visit_date" json:"visit_date"`
	ChiefComplaint string    `db:"chief_complaint" json:"chief_complaint,omitempty"`
	Symptoms       string    `db:"symptoms" json:"symptoms,omitempty"`
	Vitals
	Diagnosis            string     `db:"diagnosis" json:"diagnosis,omitempty"`
	ClinicalNotes        string     `db:"clinical_notes" json:"clinical_notes,omitempty"`
	TreatmentPlan        string     `db:"treatment_plan" json:"treatment_plan,omitempty"`
	FollowUpDate         *time.Time `db:"follow_up_date" json:"follow_up_date,omitempty"`
	FollowUpInstructions string     `db:"follow_up_instructions" json:"follow_up_instructions,omitempty"`
	CompletedAt          *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	shared.Audit
}

// New checks a patient in with the given doctor.
func New(ids idgen.Generator, patientID, doctorID uuid.UUID, visitType Type, actor string) (*Visit, error) {
	switch {
	case patientID == uuid.Nil:
		return nil, apperr.Validation("patient_id", "is required")
	case doctorID == uuid.Nil:
		return nil, apperr.Validation("doctor_id", "is required")
	}
	if visitType == "" {
		visitType = TypeWalkIn
	}
	if !visitType.Valid() {
		return nil, apperr.Validation("visit_type", "is not a known visit type")
	}
	audit := shared.NewAudit(actor)
	return &Visit{
		ID:          uuid.New(),
		VisitNumber: ids.Next(idgen.Visit),
		PatientID:   patientID,
		DoctorID:    doctorID,
		VisitType:   visitType,
		Status:      StatusCheckedIn,
		VisitDate:   audit.CreatedAt,
		Audit:       audit,
	}, nil
}

// TransitionTo moves the visit along its status machine.
func (v *Visit) TransitionTo(to Status, actor string) error {
	if !CanTransition(v.Status, to) {
		return apperr.InvalidState("visit "+v.VisitNumber, string(v.Status), "move to "+string(to))
	}
	v.Status = to
	v.Touch(actor)
	if to == StatusCompleted {
		at := v.UpdatedAt
		v.CompletedAt = &at
	}
	return nil
}

// Complete finishes a visit, starting it first when the doctor never did.
func (v *Visit) Complete(actor string) error {
	if v.Status == StatusCheckedIn {
		if err := v.TransitionTo(StatusInProgress, actor); err != nil {
			return err
		}
	}
	return v.TransitionTo(StatusCompleted, actor)
}

// ClinicalUpdate carries the fields a doctor records. Nil and empty values
// leave the stored value unchanged.
type ClinicalUpdate struct {
	ChiefComplaint string  `json:"chief_complaint"`
	Symptoms       string  `json:"symptoms"`
	Vitals         *Vitals `json:"vitals" validate:"omitempty"`
	Diagnosis      string  `json:"diagnosis"`
	ClinicalNotes  string  `json:"clinical_notes"`
	TreatmentPlan  string  `json:"treatment_plan"`
}

// UpdateClinical applies u. Only open visits accept clinical changes.
func (v *Visit) UpdateClinical(u ClinicalUpdate, actor string) error {
	if v.Status.Terminal() {
		return apperr.InvalidState("visit "+v.VisitNumber, string(v.Status), "update clinical details")
	}
	setText(&v.ChiefComplaint, u.ChiefComplaint)
	setText(&v.Symptoms, u.Symptoms)
	setText(&v.Diagnosis, u.Diagnosis)
	setText(&v.ClinicalNotes, u.ClinicalNotes)
	setText(&v.TreatmentPlan, u.TreatmentPlan)
	if u.Vitals != nil {
		mergeVitals(&v.Vitals, *u.Vitals)
	}
	v.Touch(actor)
	return nil
}

func setText(dst *string, src string) {
	if s := strings.TrimSpace(src); s != "" {
		*dst = s
	}
}

func mergeVitals(dst *Vitals, src Vitals) {
	if src.BPSystolic != nil {
		dst.BPSystolic = src.BPSystolic
	}
	if src.BPDiastolic != nil {
		dst.BPDiastolic = src.BPDiastolic
	}
	if src.Pulse != nil {
		dst.Pulse = src.Pulse
	}
	if src.Temperature != nil {
		dst.Temperature = src.Temperature
	}
	if src.WeightKg != nil {
		dst.WeightKg = src.WeightKg
	}
	if src.HeightCm != nil {
		dst.HeightCm = src.HeightCm
	}
	if src.SpO2 != nil {
		dst.SpO2 = src.SpO2
	}
}

// SetFollowUp schedules the next visit. The date must fall after the visit
// day. Cancelled and no-show visits get no follow-up.
func (v *Visit) SetFollowUp(date time.Time, instructions, actor string) error {
	if v.Status == StatusCancelled || v.Status == StatusNoShow {
		return apperr.InvalidState("visit "+v.VisitNumber, string(v.Status), "set follow-up")
	}
	day := date.UTC().Truncate(24 * time.Hour)
	if !day.After(v.VisitDate.UTC().Truncate(24 * time.Hour)) {
		return apperr.Validation("follow_up_date", "must be after the visit date")
	}
	v.FollowUpDate = &day
	v.FollowUpInstructions = strings.TrimSpace(instructions)
	v.Touch(actor)
	return nil
}
