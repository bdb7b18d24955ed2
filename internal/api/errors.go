package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cewlabs/cew/models"
)

// APIError represents a structured API error with HTTP status code.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, message, details string) *APIError {
	return &APIError{Code: code, Message: message, Details: details}
}

// fromCoreError maps orchestrator error kinds to API errors so callers see
// structured values, never raw backend traces.
func fromCoreError(err error) *APIError {
	var creation *models.LabCreationError

	switch {
	case errors.Is(err, models.ErrConstraintViolation):
		return NewAPIError(http.StatusBadRequest, "Constraint violation", err.Error())
	case errors.Is(err, models.ErrTopologyMalformed):
		return NewAPIError(http.StatusBadRequest, "Topology malformed", err.Error())
	case errors.Is(err, models.ErrScenarioAlreadyActive):
		return NewAPIError(http.StatusConflict, "Scenario already active", err.Error())
	case errors.Is(err, models.ErrInvalidState):
		return NewAPIError(http.StatusConflict, "Invalid lab state", err.Error())
	case errors.Is(err, models.ErrLabNotFound):
		return NewAPIError(http.StatusNotFound, "Lab not found", err.Error())
	case errors.As(err, &creation):
		return NewAPIError(http.StatusBadGateway, "Lab creation failed", creation.Error())
	default:
		return NewAPIError(http.StatusInternalServerError, "Internal server error", err.Error())
	}
}

// HTTPErrorHandler is a custom error handler for Echo.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	if he, ok := err.(*echo.HTTPError); ok {
		apiErr = &APIError{
			Code:    he.Code,
			Message: http.StatusText(he.Code),
			Details: fmt.Sprintf("%v", he.Message),
		}
	} else if ae, ok := err.(*APIError); ok {
		apiErr = ae
	} else {
		apiErr = fromCoreError(err)
	}

	if apiErr.Code == http.StatusInternalServerError && !c.Echo().Debug {
		apiErr.Details = "An internal error occurred. Please try again later."
	}

	if err := c.JSON(apiErr.Code, apiErr); err != nil {
		c.Logger().Error(err)
	}
}
