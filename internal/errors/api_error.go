package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Code is a machine-readable error reason for local UIs.
type Code string

const (
	CodeInvalidRequest   Code = "invalid_request"
	CodeUnauthorized     Code = "unauthorized"
	CodeSignedOut        Code = "signed_out"
	CodeNothingDisplayed Code = "nothing_displayed"
	CodeNavigationFailed Code = "navigation_failed"
	CodeInternal         Code = "internal_error"
)

// APIError is the JSON body of every error response of the status surface.
type APIError struct {
	Error   string                 `json:"error"`
	Code    Code                   `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewAPIError creates an APIError.
func NewAPIError(code Code, message string, details map[string]interface{}) *APIError {
	return &APIError{
		Error:   message,
		Code:    code,
		Details: details,
	}
}

// Abort writes err with status and stops the handler chain.
func Abort(c *gin.Context, status int, err *APIError) {
	c.AbortWithStatusJSON(status, err)
}

// AbortWithBadRequest sends a 400 and aborts.
func AbortWithBadRequest(c *gin.Context, message string, details map[string]interface{}) {
	Abort(c, http.StatusBadRequest, NewAPIError(CodeInvalidRequest, message, details))
}

// AbortWithUnauthorized sends a 401 and aborts.
func AbortWithUnauthorized(c *gin.Context, message string) {
	Abort(c, http.StatusUnauthorized, NewAPIError(CodeUnauthorized, message, nil))
}

// AbortWithConflict sends a 409 with the given code and aborts. Used when the
// request is valid but the session is not in a state to serve it.
func AbortWithConflict(c *gin.Context, code Code, message string) {
	Abort(c, http.StatusConflict, NewAPIError(code, message, nil))
}

// AbortWithBadGateway sends a 502 and aborts. Used when a host collaborator
// (navigator) failed.
func AbortWithBadGateway(c *gin.Context, code Code, message string, details map[string]interface{}) {
	Abort(c, http.StatusBadGateway, NewAPIError(code, message, details))
}

// AbortWithInternal sends a 500 and aborts.
func AbortWithInternal(c *gin.Context, message string, details map[string]interface{}) {
	Abort(c, http.StatusInternalServerError, NewAPIError(CodeInternal, message, details))
}
