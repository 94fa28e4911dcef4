package prescription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinic/internal/platform/apperr"
)

type memRepo struct {
	byID map[uuid.UUID]*Prescription
}

func (m *memRepo) Create(_ context.Context, p *Prescription) error {
	m.byID[p.ID] = p
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("prescription", id.String())
	}
	return p, nil
}

func (m *memRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return m.GetByID(ctx, id)
}

func (m *memRepo) GetByVisit(_ context.Context, visitID uuid.UUID) (*Prescription, error) {
	for _, p := range m.byID {
		if p.VisitID == visitID {
			return p, nil
		}
	}
	return nil, apperr.NotFound("prescription", visitID.String())
}

func (m *memRepo) UpdateDispensed(_ context.Context, p *Prescription) error {
	m.byID[p.ID] = p
	return nil
}

type memTemplates map[uuid.UUID]*Template

func (m memTemplates) GetByID(_ context.Context, id uuid.UUID) (*Template, error) {
	t, ok := m[id]
	if !ok {
		return nil, apperr.NotFound("template", id.String())
	}
	return t, nil
}

func TestHandler_GetByVisit(t *testing.T) {
	p := newTestPrescription(t)
	require.NoError(t, p.AddMedicine(paracetamol()))
	repo := &memRepo{byID: map[uuid.UUID]*Prescription{p.ID: p}}
	h := NewHandler(NewService(repo, newMockDoses(), memTemplates{}, NewExpander(newMockDoses(), mockMedicines{}, 5)))
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?visit_id="+p.VisitID.String(), nil), rec)
	require.NoError(t, h.GetByVisit(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got Prescription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, p.PrescriptionNumber, got.PrescriptionNumber)
	assert.Len(t, got.Medicines, 1)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?visit_id="+uuid.NewString(), nil), httptest.NewRecorder())
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(h.GetByVisit(c)))
}

func TestHandler_ExpandTemplate(t *testing.T) {
	para := medicineEntry("PARA500", "Paracetamol 500")
	tmpl := &Template{ID: uuid.New(), Name: "Fever", Active: true, Medicines: []TemplateMedicine{{MedicineID: para.ID}}}
	svc := NewService(&memRepo{byID: map[uuid.UUID]*Prescription{}}, newMockDoses(), memTemplates{tmpl.ID: tmpl},
		NewExpander(newMockDoses(), mockMedicines{para.ID: para}, 5))
	h := NewHandler(svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(tmpl.ID.String())
	require.NoError(t, h.ExpandTemplate(c))

	var got Expansion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Medicines, 1)
	assert.Equal(t, DefaultDoseCode, got.Medicines[0].DoseCode)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("bad")
	he, ok := h.ExpandTemplate(c).(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}
