// Package services defines the business logic of the consultation workflow:
// the case state machine, chat arbitration, doctor assignment, and data
// lifecycle. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the
// handler layer. State-conflict errors carry the guard reason verbatim so a
// caller that loses a race sees why the action is invalid for the state it
// now observes, never a generic conflict.
package services

import "errors"

// Case / workflow errors.
var (
	// ErrCaseNotFound indicates that the requested case does not exist.
	ErrCaseNotFound = errors.New("case not found")

	// ErrNotYourCase is returned when a caller acts on a case they neither
	// own nor are linked to.
	ErrNotYourCase = errors.New("access denied: this is not your case")

	// ErrAlreadyResponded is returned when a review is requested on a case
	// the doctor has already accepted or reviewed.
	ErrAlreadyResponded = errors.New("doctor has already responded to this case")

	// ErrNoDoctorLinked is returned when a patient without an active
	// doctor link requests a review.
	ErrNoDoctorLinked = errors.New("select a doctor before requesting a review")

	// ErrActiveCaseExists enforces the single-active-escalation invariant:
	// at most one case per patient may be pending or accepted.
	ErrActiveCaseExists = errors.New("another case is already awaiting or under review")

	// ErrNoReviewRequested is returned when a doctor accepts a case whose
	// patient never requested a review.
	ErrNoReviewRequested = errors.New("no review has been requested for this case")

	// ErrNotAssignedDoctor is returned when a doctor other than the
	// assigned one tries to complete a case.
	ErrNotAssignedDoctor = errors.New("only the assigned doctor can complete this case")

	// ErrNotReviewed is returned when a rating arrives before the review
	// is complete.
	ErrNotReviewed = errors.New("rate only after the review is complete")

	// ErrAlreadyRated is returned on a second rating attempt; the first
	// rating is immutable.
	ErrAlreadyRated = errors.New("case already rated")

	// ErrInvalidRating rejects out-of-range ratings before any state is
	// read or mutated. Distinct from the state-conflict errors above.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")

	// ErrEmptyMessage is returned when a chat message has no content.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when a chat message exceeds the
	// configured length limit.
	ErrMessageTooLong = errors.New("message too long")
)

// Assignment errors.
var (
	// ErrDoctorNotFound indicates the target doctor does not exist or has
	// no profile.
	ErrDoctorNotFound = errors.New("doctor not found")

	// ErrNoLink is returned when change-doctor is called for a patient
	// with no existing link.
	ErrNoLink = errors.New("no doctor currently linked, use select-doctor instead")

	// ErrSameDoctor is returned when change-doctor targets the doctor
	// already linked.
	ErrSameDoctor = errors.New("already linked to this doctor")

	// ErrAssignmentBlocked is returned when a doctor change is attempted
	// while the patient has a pending or accepted case.
	ErrAssignmentBlocked = errors.New("cannot change doctor while an active case exists")
)
