package services

import (
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// ClassifiedError is the stable, user-facing form of any pipeline failure.
type ClassifiedError struct {
	Code    string // stable API error code
	Status  int    // HTTP status for the response
	Message string // fixed user-visible message
	Details string // raw failure text, generic category only
}

var configurationPatterns = []string{
	"api key", "api_key", "unauthenticated", "permission denied", "credential", "forbidden",
}

var capacityPatterns = []string{
	"quota", "resource_exhausted", "rate limit", "too many requests",
}

var transientPatterns = []string{
	"unavailable", "overloaded", "503", "timeout", "connection reset", "temporar",
}

// Classify maps any failure to exactly one category. The mapping is total:
// whatever does not look like a configuration or capacity problem is generic.
func Classify(err error) *ClassifiedError {
	status := statusCode(err)
	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || containsAny(msg, configurationPatterns):
		return &ClassifiedError{
			Code:    "CONFIGURATION_ERROR",
			Status:  http.StatusInternalServerError,
			Message: "The assistant is not configured correctly. Please contact support.",
		}
	case status == http.StatusTooManyRequests || containsAny(msg, capacityPatterns):
		return &ClassifiedError{
			Code:    "CAPACITY_ERROR",
			Status:  http.StatusServiceUnavailable,
			Message: "The assistant is over capacity right now. Please try again in a few minutes.",
		}
	default:
		details := ""
		if err != nil {
			details = err.Error()
		}
		return &ClassifiedError{
			Code:    "AI_ERROR",
			Status:  http.StatusInternalServerError,
			Message: "Something went wrong while answering. Please try again.",
			Details: details,
		}
	}
}

// IsTransient reports whether err signals a temporary overload worth
// retrying. Quota exhaustion is deliberately not transient: the caller
// should back off for longer than a request can wait.
//
// NOTE: falls back to substring matching because the Gemini SDK does not
// expose sentinel errors for transient failures; googleapi.Error carries
// a status code when one is available.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if statusCode(err) == http.StatusServiceUnavailable {
		return true
	}
	return containsAny(strings.ToLower(err.Error()), transientPatterns)
}

func statusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
