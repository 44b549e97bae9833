package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	exportdomain "github.com/smallbiznis/fiscalsync/internal/export/domain"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/internal/ratelimit"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrMissingAccount = fiscalerr.Validation("missing_account", "X-Account-Id header is required")
	ErrNotFound       = fiscalerr.NotFound("route_not_found", "route not found")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    string(fiscalerr.CategoryValidation),
			Code:    "invalid_request",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	// a lookup that escaped its repository still reads as not found
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = fiscalerr.Wrap(ErrNotFound, err)
	}

	fe := fiscalerr.As(err)
	payload := errorPayload{
		Type:    string(fe.Category),
		Code:    fe.Code,
		Message: fe.Message,
	}

	switch {
	case errors.Is(err, exportdomain.ErrEmptySelection):
		return http.StatusUnprocessableEntity, payload
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests, payload
	case fe.Category == fiscalerr.CategoryValidation:
		return http.StatusBadRequest, payload
	case fe.Category == fiscalerr.CategoryAuth:
		return http.StatusUnprocessableEntity, payload
	case fe.Category == fiscalerr.CategoryTransport:
		return http.StatusBadGateway, payload
	case fe.Category == fiscalerr.CategoryConflict:
		return http.StatusConflict, payload
	case fe.Category == fiscalerr.CategoryNotFound:
		return http.StatusNotFound, payload
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger; only the category and code
// are logged, never the message.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if asValidationErrors(err) != nil {
		return string(fiscalerr.CategoryValidation), "invalid_request"
	}
	fe := fiscalerr.As(err)
	return string(fe.Category), fe.Code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}
