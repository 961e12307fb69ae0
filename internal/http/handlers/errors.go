// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., active_case_exists, doctor_change_blocked) are
//     reserved for workflow errors that cannot be conveyed by status alone.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Usage:
//   - Handlers select the most specific matching code and pass it to `fail()` along
//     with the corresponding HTTP status and message.
//   - Clients are expected to branch on these codes for programmatic error handling.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeNoDoctorLinked      = "no_doctor_linked"
	ErrCodeActiveCaseExists    = "active_case_exists"
	ErrCodeAlreadyResponded    = "already_responded"
	ErrCodeNoReviewRequested   = "no_review_requested"
	ErrCodeNotAssignedDoctor   = "not_assigned_doctor"
	ErrCodeNotReviewed         = "not_reviewed"
	ErrCodeAlreadyRated        = "already_rated"
	ErrCodeInvalidRating       = "invalid_rating"
	ErrCodeEmptyMessage        = "empty_message"
	ErrCodeMessageTooLong      = "message_too_long"
	ErrCodeDoctorChangeBlocked = "doctor_change_blocked"
	ErrCodeSameDoctor          = "same_doctor"
	ErrCodeSessionExpired      = "session_expired"
	ErrCodeAnalyzeFailed       = "analyze_failed"
	ErrCodeMethodNotAllowed    = "method_not_allowed"
)
