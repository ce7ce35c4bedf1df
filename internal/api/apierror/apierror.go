// Package apierror defines the JSON error body returned by every endpoint and
// the machine-readable codes clients switch on.
package apierror

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Code is a stable, machine-readable error identifier
type Code string

const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeInvalidCredentials   Code = "INVALID_CREDENTIALS_ERROR"
	CodeUnauthorized         Code = "UNAUTHORIZED_ERROR"
	CodeForbidden            Code = "FORBIDDEN_ERROR"
	CodeNotFound             Code = "RESOURCE_NOT_FOUND_ERROR"
	CodeTooManyRequests      Code = "TOO_MANY_REQUESTS_ERROR"
	CodeServer               Code = "SERVER_ERROR"
	CodeInvalidMfaToken      Code = "INVALID_MFA_ATTEMPT_TOKEN_ERROR"
	CodeInvalidMfaCode       Code = "INVALID_MFA_CODE_ERROR"
	CodeInvalidMfaBackupCode Code = "INVALID_MFA_BACKUP_CODE_ERROR"
	CodeConflict             Code = "CONFLICT_ERROR"
	CodeDependency           Code = "DEPENDENCY_ERROR"
)

// Response is the error body
type Response struct {
	Error string `json:"error"`
	Code  Code   `json:"code"`
}

// Abort writes the error body and stops the handler chain
func Abort(c *gin.Context, status int, code Code, message string) {
	c.AbortWithStatusJSON(status, Response{Error: message, Code: code})
}

// Validation aborts with 422
func Validation(c *gin.Context, message string) {
	Abort(c, http.StatusUnprocessableEntity, CodeValidation, message)
}

// Unauthorized aborts with 401
func Unauthorized(c *gin.Context) {
	Abort(c, http.StatusUnauthorized, CodeUnauthorized, "Unauthenticated.")
}

// Forbidden aborts with 403
func Forbidden(c *gin.Context, message string) {
	Abort(c, http.StatusForbidden, CodeForbidden, message)
}

// NotFound aborts with 404
func NotFound(c *gin.Context, message string) {
	Abort(c, http.StatusNotFound, CodeNotFound, message)
}

// Server aborts with a generic 500. The cause is never echoed to the client.
func Server(c *gin.Context) {
	Abort(c, http.StatusInternalServerError, CodeServer, "Internal server error")
}
