package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"pdf-annotator/internal/domain"
	apperrors "pdf-annotator/pkg/errors"
)

type contextKey string

const (
	userContextKey  contextKey = "user"
	tokenContextKey contextKey = "token"
)

// GetUserFromContext extracts the authenticated user from request context
func GetUserFromContext(r *http.Request) (*domain.SupabaseUser, bool) {
	user, ok := r.Context().Value(userContextKey).(*domain.SupabaseUser)
	return user, ok
}

// GetTokenFromContext extracts the authentication token from request context
func GetTokenFromContext(r *http.Request) (string, bool) {
	token, ok := r.Context().Value(tokenContextKey).(string)
	return token, ok
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response (helper function)
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.StatusCode, string(appErr.Type)
	}
	var invalid *domain.ValidationError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, string(apperrors.ErrorTypeValidation)
	}
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, string(apperrors.ErrorTypeUnauthorized)
	case errors.Is(err, domain.ErrPageOutOfRange),
		errors.Is(err, domain.ErrAnnotationNotFound),
		errors.Is(err, domain.ErrViewerNotFound),
		errors.Is(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound, string(apperrors.ErrorTypeNotFound)
	case errors.Is(err, domain.ErrNoDraft), errors.Is(err, domain.ErrNoSelection):
		return http.StatusConflict, string(apperrors.ErrorTypeValidation)
	case errors.Is(err, domain.ErrViewerClosed):
		return http.StatusGone, string(apperrors.ErrorTypeNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, string(apperrors.ErrorTypeRenderCancelled)
	}
	return http.StatusInternalServerError, string(apperrors.ErrorTypeInternal)
}

// writeAppError writes err with its mapped status and error type.
func writeAppError(w http.ResponseWriter, logger domain.Logger, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", err, "status", status)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "type": kind})
}
