package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/domain/shared"
)

// Patient maps to the patients table.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientCode string     `db:"patient_code" json:"patient_code"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name,omitempty"`
	Gender      string     `db:"gender" json:"gender,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	AgeYears    *int       `db:"age_years" json:"age_years,omitempty"`
	Phone       string     `db:"phone" json:"phone,omitempty"`
	Email       string     `db:"email" json:"email,omitempty"`
	Address     string     `db:"address" json:"address,omitempty"`
	shared.Audit
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Age returns the age in whole years on the given day, preferring the date
// of birth over a recorded age.
func (p *Patient) Age(on time.Time) (int, bool) {
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		years := on.Year() - dob.Year()
		if on.YearDay() < dob.YearDay() {
			years--
		}
		if years < 0 {
			years = 0
		}
		return years, true
	}
	if p.AgeYears != nil {
		return *p.AgeYears, true
	}
	return 0, false
}

// QuickCreate is the minimal walk-in registration payload.
type QuickCreate struct {
	FirstName   string     `json:"first_name" validate:"required,max=100"`
	LastName    string     `json:"last_name" validate:"max=100"`
	Gender      string     `json:"gender" validate:"omitempty,oneof=male female other unknown"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	AgeYears    *int       `json:"age_years" validate:"omitempty,min=0,max=150"`
	Phone       string     `json:"phone" validate:"omitempty,max=32"`
	Email       string     `json:"email" validate:"omitempty,email"`
	Address     string     `json:"address"`
}
