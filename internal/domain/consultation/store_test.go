package consultation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/domain/billing"
	"github.com/ehr/clinic/internal/domain/catalog"
	"github.com/ehr/clinic/internal/domain/patient"
	"github.com/ehr/clinic/internal/domain/prescription"
	"github.com/ehr/clinic/internal/domain/visit"
	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/db"
	"github.com/ehr/clinic/internal/platform/db/dbtest"
)

// memStore is an in-memory database for every aggregate a consultation
// touches. It snapshots on begin and restores on rollback, so a failed
// consultation leaves exactly what was there before.
type memStore struct {
	mu sync.Mutex

	patients map[uuid.UUID]*patient.Patient
	visits   map[uuid.UUID]*visit.Visit
	rxs      map[uuid.UUID]*prescription.Prescription
	bills    map[uuid.UUID]*billing.Ledger
	entries  map[uuid.UUID]*catalog.CatalogEntry

	doses     map[uuid.UUID]*prescription.Dose
	templates map[uuid.UUID]*prescription.Template

	snap *memStore
}

var errNoTx = errors.New("write outside a transaction")

func newMemStore() *memStore {
	return &memStore{
		patients:  make(map[uuid.UUID]*patient.Patient),
		visits:    make(map[uuid.UUID]*visit.Visit),
		rxs:       make(map[uuid.UUID]*prescription.Prescription),
		bills:     make(map[uuid.UUID]*billing.Ledger),
		entries:   make(map[uuid.UUID]*catalog.CatalogEntry),
		doses:     make(map[uuid.UUID]*prescription.Dose),
		templates: make(map[uuid.UUID]*prescription.Template),
	}
}

// beginner wires the store's snapshot and restore into a fake transaction
// source.
func (s *memStore) beginner() *dbtest.Beginner {
	return &dbtest.Beginner{
		OnBegin:    s.snapshot,
		OnCommit:   func() { s.snap = nil },
		OnRollback: s.restore,
	}
}

func (s *memStore) snapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = s.copyTables()
}

func (s *memStore) restore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return
	}
	s.patients, s.visits, s.rxs, s.bills, s.entries = s.snap.patients, s.snap.visits, s.snap.rxs, s.snap.bills, s.snap.entries
	s.snap = nil
}

func (s *memStore) copyTables() *memStore {
	cp := newMemStore()
	for k, v := range s.patients {
		cp.patients[k] = copyPatient(v)
	}
	for k, v := range s.visits {
		cp.visits[k] = copyVisit(v)
	}
	for k, v := range s.rxs {
		cp.rxs[k] = copyRx(v)
	}
	for k, v := range s.bills {
		cp.bills[k] = v.Clone()
	}
	for k, v := range s.entries {
		cp.entries[k] = copyEntry(v)
	}
	return cp
}

func copyPatient(p *patient.Patient) *patient.Patient {
	cp := *p
	return &cp
}

func copyVisit(v *visit.Visit) *visit.Visit {
	cp := *v
	return &cp
}

func copyEntry(e *catalog.CatalogEntry) *catalog.CatalogEntry {
	cp := *e
	return &cp
}

func copyRx(p *prescription.Prescription) *prescription.Prescription {
	cp := *p
	cp.Complaints = append([]prescription.Entry{}, p.Complaints...)
	cp.Medicines = append([]prescription.Medicine{}, p.Medicines...)
	cp.Advice = append([]prescription.Entry{}, p.Advice...)
	return &cp
}

func requireTx(ctx context.Context) error {
	if db.TxFromContext(ctx) == nil {
		return errNoTx
	}
	return nil
}

// -- patient.Repository --

type patientRepo struct{ *memStore }

func (r patientRepo) Create(ctx context.Context, p *patient.Patient) error {
	if err := requireTx(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = copyPatient(p)
	return nil
}

func (r patientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id.String())
	}
	return copyPatient(p), nil
}

func (r patientRepo) GetByCode(_ context.Context, code string) (*patient.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.patients {
		if p.PatientCode == code {
			return copyPatient(p), nil
		}
	}
	return nil, apperr.NotFound("patient", code)
}

func (r patientRepo) Search(context.Context, string, int, int) ([]*patient.Patient, int, error) {
	return nil, 0, nil
}

// -- visit.Repository --

type visitRepo struct{ *memStore }

func (r visitRepo) Create(ctx context.Context, v *visit.Visit) error {
	if err := requireTx(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[v.PatientID]; !ok {
		return errors.New("visit references a missing patient")
	}
	r.visits[v.ID] = copyVisit(v)
	return nil
}

func (r visitRepo) GetByID(_ context.Context, id uuid.UUID) (*visit.Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visits[id]
	if !ok {
		return nil, apperr.NotFound("visit", id.String())
	}
	return copyVisit(v), nil
}

func (r visitRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*visit.Visit, error) {
	return r.GetByID(ctx, id)
}

func (r visitRepo) GetByNumber(_ context.Context, number string) (*visit.Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.visits {
		if v.VisitNumber == number {
			return copyVisit(v), nil
		}
	}
	return nil, apperr.NotFound("visit", number)
}

func (r visitRepo) Update(ctx context.Context, v *visit.Visit) error {
	if err := requireTx(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visits[v.ID]; !ok {
		return apperr.NotFound("visit", v.ID.String())
	}
	r.visits[v.ID] = copyVisit(v)
	return nil
}

func (r visitRepo) ListByPatient(context.Context, uuid.UUID, int, int) ([]*visit.Visit, int, error) {
	return nil, 0, nil
}

// -- prescription repositories --

type rxRepo struct{ *memStore }

func (r rxRepo) Create(ctx context.Context, p *prescription.Prescription) error {
	if err := requireTx(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visits[p.VisitID]; !ok {
		return errors.New("prescription references a missing visit")
	}
	r.rxs[p.ID] = copyRx(p)
	return nil
}

func (r rxRepo) GetByID(_ context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rxs[id]
	if !ok {
		return nil, apperr.NotFound("prescription", id.String())
	}
	return copyRx(p), nil
}

func (r rxRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	return r.GetByID(ctx, id)
}

func (r rxRepo) GetByVisit(_ context.Context, visitID uuid.UUID) (*prescription.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rxs {
		if p.VisitID == visitID {
			return copyRx(p), nil
		}
	}
	return nil, apperr.NotFound("prescription", visitID.String())
}

func (r rxRepo) UpdateDispensed(ctx context.Context, p *prescription.Prescription) error {
	if err := requireTx(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rxs[p.ID] = copyRx(p)
	return nil
}

type doseRepo struct{ *memStore }

func (r doseRepo) GetByID(_ context.Context, id uuid.UUID) (*prescription.Dose, error) {
	d, ok := r.doses[id]
	if !ok {
		return nil, apperr.NotFound("dose", id.String())
	}
	return d, nil
}

func (r doseRepo) GetByCode(_ context.Context, code string) (*prescription.Dose, error) {
	for _, d := range r.doses {
		if d.Code == code {
			return d, nil
		}
	}
	return nil, apperr.NotFound("dose", code)
}

func (r doseRepo) ListActive(context.Context) ([]*prescription.Dose, error) {
	var out []*prescription.Dose
	for _, d := range r.doses {
		if d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

type templateRepo struct{ *memStore }

func (r templateRepo) GetByID(_ context.Context, id uuid.UUID) (*prescription.Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, apperr.NotFound("template", id.String())
	}
	return t, nil
}

// -- billing.Repository --

type billRepo struct{ *memStore }

func (r billRepo) Create(ctx context.Context, l *billing.Ledger) error {
	if err := requireTx(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bills {
		if b.VisitID() == l.VisitID() {
			return apperr.InvalidState("visit "+l.VisitID().String(), "billed", "open a second bill")
		}
	}
	r.bills[l.ID()] = l.Clone()
	return nil
}

func (r billRepo) Update(ctx context.Context, l *billing.Ledger) error {
	if err := requireTx(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bills[l.ID()]; !ok {
		return apperr.NotFound("bill", l.ID().String())
	}
	r.bills[l.ID()] = l.Clone()
	return nil
}

func (r billRepo) GetByID(_ context.Context, id uuid.UUID) (*billing.Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.bills[id]
	if !ok {
		return nil, apperr.NotFound("bill", id.String())
	}
	return l.Clone(), nil
}

func (r billRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*billing.Ledger, error) {
	return r.GetByID(ctx, id)
}

func (r billRepo) GetByNumber(_ context.Context, number string) (*billing.Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.bills {
		if l.BillNumber() == number {
			return l.Clone(), nil
		}
	}
	return nil, apperr.NotFound("bill", number)
}

func (r billRepo) GetByVisit(_ context.Context, visitID uuid.UUID) (*billing.Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.bills {
		if l.VisitID() == visitID {
			return l.Clone(), nil
		}
	}
	return nil, apperr.NotFound("bill", visitID.String())
}

func (r billRepo) ListByPatient(context.Context, uuid.UUID, int, int) ([]*billing.Ledger, int, error) {
	return nil, 0, nil
}

// -- catalog.Repository --

type catalogRepo struct {
	*memStore
	locked []string
}

func (r *catalogRepo) Create(_ context.Context, e *catalog.CatalogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = copyEntry(e)
	return nil
}

func (r *catalogRepo) GetByID(_ context.Context, id uuid.UUID) (*catalog.CatalogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, apperr.NotFound("catalog entry", id.String())
	}
	return copyEntry(e), nil
}

func (r *catalogRepo) GetByCode(_ context.Context, code string) (*catalog.CatalogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Code == code {
			return copyEntry(e), nil
		}
	}
	return nil, apperr.NotFound("catalog entry", code)
}

func (r *catalogRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*catalog.CatalogEntry, error) {
	e, err := r.GetByID(ctx, id)
	if err == nil {
		r.locked = append(r.locked, e.ID.String())
	}
	return e, err
}

func (r *catalogRepo) GetByCodeForUpdate(ctx context.Context, code string) (*catalog.CatalogEntry, error) {
	e, err := r.GetByCode(ctx, code)
	if err == nil {
		r.locked = append(r.locked, e.ID.String())
	}
	return e, err
}

func (r *catalogRepo) UpdateStock(ctx context.Context, e *catalog.CatalogEntry) error {
	if err := requireTx(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = copyEntry(e)
	return nil
}

func (r *catalogRepo) ListLowStock(context.Context, int, int) ([]*catalog.CatalogEntry, int, error) {
	return nil, 0, nil
}
