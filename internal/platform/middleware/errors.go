package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/db"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusOf maps a handler error onto a response code. echo.HTTPError keeps
// its own code; domain errors follow apperr.HTTPStatus.
func StatusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if errors.Is(err, db.ErrStaleVersion) || db.IsSerializationFailure(err) {
		return http.StatusConflict
	}
	return apperr.HTTPStatus(err)
}

// ErrorHandler renders handler errors as ErrorResponse. Messages of 5xx
// errors are not exposed unless they come from an echo.HTTPError.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := StatusOf(err)
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(he.Code)
			}
		} else if status >= 500 {
			msg = http.StatusText(status)
		}

		rid, _ := c.Get("request_id").(string)
		body := ErrorResponse{Error: msg, RequestID: rid}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Str("request_id", rid).Msg("write error response")
		}
	}
}
