package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinic/internal/platform/apperr"
)

func newTestHandler() (*Handler, *mockRepo, *echo.Echo) {
	svc, repo, _ := newTestService()
	return NewHandler(svc), repo, echo.New()
}

func TestHandler_CreateEntry(t *testing.T) {
	h, repo, e := newTestHandler()

	body := `{"code":"INJ-B12","name":"Vitamin B12","type":"injection","standard_price":"120","consumable":true,"initial_stock":4}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/catalog", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateEntry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if len(repo.entries) != 1 {
		t.Errorf("expected 1 stored entry, got %d", len(repo.entries))
	}
}

func TestHandler_CreateEntry_Invalid(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/catalog", strings.NewReader(`{"code":""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CreateEntry(c)
	if apperr.HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func TestHandler_GetEntry_NotFound(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("code")
	c.SetParamValues("NOPE")

	if err := h.GetEntry(c); apperr.HTTPStatus(err) != http.StatusNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestHandler_Restock(t *testing.T) {
	h, repo, e := newTestHandler()
	_ = repo.Create(context.Background(), newInjection(0, 2))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":6}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("code")
	c.SetParamValues("INJ-B12")

	if err := h.Restock(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["current_stock"] != float64(6) {
		t.Errorf("expected current_stock 6, got %v", got["current_stock"])
	}
}

func TestHandler_ListLowStock(t *testing.T) {
	h, repo, e := newTestHandler()
	_ = repo.Create(context.Background(), newInjection(1, 2))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog/low-stock", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListLowStock(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
		Data  []struct {
			Code string `json:"code"`
		} `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Data) != 1 || resp.Data[0].Code != "INJ-B12" {
		t.Errorf("unexpected response: %s", rec.Body.String())
	}
}
