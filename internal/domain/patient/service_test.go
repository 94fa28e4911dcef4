package patient

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/idgen"
)

// -- Mock Repository --

type mockRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id.String())
	}
	return p, nil
}

func (m *mockRepo) GetByCode(_ context.Context, code string) (*Patient, error) {
	for _, p := range m.patients {
		if p.PatientCode == code {
			return p, nil
		}
	}
	return nil, apperr.NotFound("patient", code)
}

func (m *mockRepo) Search(_ context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.patients {
		if q == "" || p.Phone == q || strings.Contains(strings.ToLower(p.FullName()), strings.ToLower(q)) {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

var testDay = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, idgen.NewSequence(testDay)), repo
}

func intPtr(v int) *int { return &v }

// -- Tests --

func TestService_QuickCreate(t *testing.T) {
	svc, repo := newTestService()

	p, err := svc.QuickCreate(context.Background(), QuickCreate{
		FirstName: " Asha ",
		LastName:  "Rao",
		Gender:    "female",
		AgeYears:  intPtr(34),
		Phone:     "+919800000001",
	}, "desk-1")
	require.NoError(t, err)
	assert.Equal(t, "PAT-20261018-000001", p.PatientCode)
	assert.Equal(t, "Asha Rao", p.FullName())
	assert.Equal(t, "desk-1", p.CreatedBy)
	assert.Len(t, repo.patients, 1)
}

func TestService_QuickCreate_Validation(t *testing.T) {
	svc, repo := newTestService()
	future := time.Now().Add(48 * time.Hour)

	testCases := []struct {
		name  string
		req   QuickCreate
		field string
	}{
		{"no_first_name", QuickCreate{LastName: "Rao"}, "first_name"},
		{"bad_gender", QuickCreate{FirstName: "A", Gender: "x"}, "gender"},
		{"bad_email", QuickCreate{FirstName: "A", Email: "nope"}, "email"},
		{"age_out_of_range", QuickCreate{FirstName: "A", AgeYears: intPtr(200)}, "age_years"},
		{"future_dob", QuickCreate{FirstName: "A", DateOfBirth: &future}, "date_of_birth"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.QuickCreate(context.Background(), tc.req, "desk")
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
	assert.Empty(t, repo.patients)
}

func TestService_ResolveOrCreate(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	existing, err := svc.QuickCreate(ctx, QuickCreate{FirstName: "Ravi"}, "desk")
	require.NoError(t, err)

	id := existing.ID
	got, err := svc.ResolveOrCreate(ctx, &id, &QuickCreate{FirstName: "Ignored"}, "desk")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.Len(t, repo.patients, 1)

	got, err = svc.ResolveOrCreate(ctx, nil, &QuickCreate{FirstName: "Meera"}, "desk")
	require.NoError(t, err)
	assert.Equal(t, "Meera", got.FirstName)
	assert.Len(t, repo.patients, 2)

	missing := uuid.New()
	_, err = svc.ResolveOrCreate(ctx, &missing, nil, "desk")
	var nf *apperr.NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = svc.ResolveOrCreate(ctx, nil, nil, "desk")
	var ve *apperr.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestPatient_Age(t *testing.T) {
	dob := time.Date(1990, 12, 1, 0, 0, 0, 0, time.UTC)
	p := Patient{DateOfBirth: &dob, AgeYears: intPtr(99)}
	age, ok := p.Age(testDay)
	assert.True(t, ok)
	assert.Equal(t, 35, age)

	p = Patient{AgeYears: intPtr(40)}
	age, ok = p.Age(testDay)
	assert.True(t, ok)
	assert.Equal(t, 40, age)

	_, ok = (&Patient{}).Age(testDay)
	assert.False(t, ok)
}
