package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("amount", "must be positive"), http.StatusBadRequest},
		{"not_found", NotFound("bill", "42"), http.StatusNotFound},
		{"invalid_state", InvalidState("bill", "paid", "cancel"), http.StatusConflict},
		{"insufficient_stock", &InsufficientStockError{Code: "MED-1", Requested: 5, Available: 2}, http.StatusConflict},
		{"wrapped_validation", fmt.Errorf("step bill: %w", Validation("fee", "negative")), http.StatusBadRequest},
		{"tx_conflict", &TransactionConflictError{ActiveID: "x"}, http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "validation failed: quantity must be at least 1", Validation("quantity", "must be at least 1").Error())
	assert.Equal(t, "validation failed: no items", (&ValidationError{Reason: "no items"}).Error())
	assert.Equal(t, `bill in state "paid": cannot cancel`, InvalidState("bill", "paid", "cancel").Error())
	assert.Equal(t, "insufficient stock for MED-1: requested 5, available 2",
		(&InsufficientStockError{Code: "MED-1", Requested: 5, Available: 2}).Error())
}
