package consultation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinic/internal/domain/billing"
	"github.com/ehr/clinic/internal/domain/patient"
	"github.com/ehr/clinic/internal/domain/prescription"
	"github.com/ehr/clinic/internal/domain/visit"
)

// PatientRef identifies the patient of a consultation: an existing id, or a
// walk-in registered on the spot.
type PatientRef struct {
	ExistingPatientID *uuid.UUID           `json:"existing_patient_id,omitempty"`
	NewPatient        *patient.QuickCreate `json:"new_patient,omitempty"`
}

// ServiceOrder bills a catalog entry by code or id. Quantity 0 means 1.
type ServiceOrder struct {
	CatalogCode    string           `json:"catalog_code,omitempty" validate:"required_without=CatalogEntryID,max=50"`
	CatalogEntryID *uuid.UUID       `json:"catalog_entry_id,omitempty"`
	Quantity       int              `json:"quantity" validate:"gte=0"`
	UnitPrice      *decimal.Decimal `json:"unit_price,omitempty"`
}

// PaymentInput is money taken at the desk when the consultation closes. A
// zero amount records nothing.
type PaymentInput struct {
	Amount        decimal.Decimal `json:"amount" validate:"gte=0"`
	Mode          string          `json:"payment_mode" validate:"max=30"`
	TransactionID string          `json:"transaction_id" validate:"max=100"`
}

// Charges are the billing inputs shared by every consultation variant.
type Charges struct {
	ConsultationFee    decimal.Decimal `json:"consultation_fee" validate:"gte=0"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage" validate:"gte=0,lte=100"`
	Services           []ServiceOrder  `json:"services" validate:"dive"`
	Payment            *PaymentInput   `json:"payment,omitempty"`
	DispenseMedicines  bool            `json:"dispense_medicines"`
}

// ConsultationRequest is the full walk-in-to-paid payload.
type ConsultationRequest struct {
	PatientRef
	DoctorID  uuid.UUID  `json:"doctor_id" validate:"required"`
	VisitType visit.Type `json:"visit_type" validate:"omitempty,oneof=walk_in appointment follow_up emergency"`
	visit.ClinicalUpdate

	TemplateID *uuid.UUID                   `json:"template_id,omitempty"`
	Complaints []prescription.Entry         `json:"complaints"`
	Medicines  []prescription.MedicineOrder `json:"medicines" validate:"dive"`
	Advice     []prescription.Entry         `json:"advice"`

	Charges

	FollowUpDate         *time.Time `json:"follow_up_date,omitempty"`
	FollowUpInstructions string     `json:"follow_up_instructions,omitempty"`
}

// QuickRequest prescribes medicines by catalog code with the default dose
// and duration.
type QuickRequest struct {
	PatientRef
	DoctorID       uuid.UUID `json:"doctor_id" validate:"required"`
	ChiefComplaint string    `json:"chief_complaint"`
	Diagnosis      string    `json:"diagnosis"`
	MedicineCodes  []string  `json:"medicine_codes" validate:"dive,required,max=50"`
	Charges
}

// TemplateRequest prescribes exactly what a template holds.
type TemplateRequest struct {
	PatientRef
	DoctorID   uuid.UUID `json:"doctor_id" validate:"required"`
	TemplateID uuid.UUID `json:"template_id" validate:"required"`
	Diagnosis  string    `json:"diagnosis"`
	Charges
}

func (r QuickRequest) plan() *plan {
	return &plan{
		PatientRef:    r.PatientRef,
		doctorID:      r.DoctorID,
		clinical:      visit.ClinicalUpdate{ChiefComplaint: r.ChiefComplaint, Diagnosis: r.Diagnosis},
		medicineCodes: r.MedicineCodes,
		Charges:       r.Charges,
	}
}

func (r TemplateRequest) plan() *plan {
	id := r.TemplateID
	return &plan{
		PatientRef: r.PatientRef,
		doctorID:   r.DoctorID,
		clinical:   visit.ClinicalUpdate{Diagnosis: r.Diagnosis},
		templateID: &id,
		Charges:    r.Charges,
	}
}

func (r ConsultationRequest) plan() *plan {
	return &plan{
		PatientRef:           r.PatientRef,
		doctorID:             r.DoctorID,
		visitType:            r.VisitType,
		clinical:             r.ClinicalUpdate,
		templateID:           r.TemplateID,
		complaints:           r.Complaints,
		medicines:            r.Medicines,
		advice:               r.Advice,
		Charges:              r.Charges,
		followUpDate:         r.FollowUpDate,
		followUpInstructions: r.FollowUpInstructions,
	}
}

// plan is the common shape every variant is reduced to.
type plan struct {
	PatientRef
	doctorID  uuid.UUID
	visitType visit.Type
	clinical  visit.ClinicalUpdate

	templateID    *uuid.UUID
	complaints    []prescription.Entry
	medicines     []prescription.MedicineOrder
	medicineCodes []string
	advice        []prescription.Entry

	Charges

	followUpDate         *time.Time
	followUpInstructions string
}

// Result summarises a finished consultation.
type Result struct {
	PatientID          uuid.UUID       `json:"patient_id"`
	PatientCode        string          `json:"patient_code"`
	VisitID            uuid.UUID       `json:"visit_id"`
	VisitNumber        string          `json:"visit_number"`
	PrescriptionID     uuid.UUID       `json:"prescription_id"`
	PrescriptionNumber string          `json:"prescription_number"`
	BillID             uuid.UUID       `json:"bill_id"`
	BillNumber         string          `json:"bill_number"`
	BillStatus         billing.Status  `json:"bill_status"`
	SubTotal           decimal.Decimal `json:"sub_total"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PaidAmount         decimal.Decimal `json:"paid_amount"`
	DueAmount          decimal.Decimal `json:"due_amount"`
	FullyPaid          bool            `json:"fully_paid"`
	MedicinesDispensed bool            `json:"medicines_dispensed"`
	FollowUpDate       *time.Time      `json:"follow_up_date,omitempty"`
}
