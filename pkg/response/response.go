// Package response writes the JSON envelope every API endpoint answers with.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the API response envelope. Code is a stable machine-readable reason on refusals.
type Body struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Refusal codes.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeConfigurationNotFound = "configuration_not_found"
	CodeWorkspaceInactive     = "workspace_inactive"
	CodeUnauthorized          = "unauthorized"
	CodeNotFound              = "not_found"
	CodeInternal              = "internal"
)

func success(c *gin.Context, status int, data any) {
	c.JSON(status, Body{Success: true, Data: data})
}

// Fail writes a refusal with an explicit status and code.
func Fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, Body{Error: msg, Code: code})
}

// OK sends 200 with data.
func OK(c *gin.Context, data any) { success(c, http.StatusOK, data) }

// Created sends 201 with data.
func Created(c *gin.Context, data any) { success(c, http.StatusCreated, data) }

// Accepted sends 202: the work is queued, not done.
func Accepted(c *gin.Context, data any) { success(c, http.StatusAccepted, data) }

// BadRequest sends 400.
func BadRequest(c *gin.Context, msg string) {
	Fail(c, http.StatusBadRequest, CodeInvalidRequest, msg)
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, msg string) {
	Fail(c, http.StatusUnauthorized, CodeUnauthorized, msg)
}

// Forbidden sends 403 for an inactive or unknown workspace.
func Forbidden(c *gin.Context, msg string) {
	Fail(c, http.StatusForbidden, CodeWorkspaceInactive, msg)
}

// NotFound sends 404.
func NotFound(c *gin.Context, msg string) {
	Fail(c, http.StatusNotFound, CodeNotFound, msg)
}

// Internal sends 500.
func Internal(c *gin.Context, msg string) {
	Fail(c, http.StatusInternalServerError, CodeInternal, msg)
}
