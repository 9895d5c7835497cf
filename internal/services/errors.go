// Package services implements the business logic of the aid-matching
// engine: request lifecycle and capacity aggregation, the fulfillment state
// machine, and courier delivery matching. This file centralizes the
// service-level error values so they can be consistently returned by
// service methods and mapped to HTTP results by the handler layer.
//
// The errors fall into the four-way taxonomy the API exposes:
//   - validation:  *ValidationError (carries every violated field at once)
//   - not found:   Err*NotFound
//   - forbidden:   the caller lacks the required relationship to the entity
//   - conflict:    a state-machine precondition does not hold; the engine
//     never coerces an invalid transition into a valid one
package services

import (
	"errors"
	"fmt"
	"strings"
)

// Not-found errors.
var (
	// ErrRequestNotFound indicates the referenced help request does not exist.
	ErrRequestNotFound = errors.New("help request not found")

	// ErrFulfillmentNotFound indicates the referenced proposal does not exist.
	ErrFulfillmentNotFound = errors.New("fulfillment not found")

	// ErrDeliveryNotFound indicates the referenced delivery does not exist.
	ErrDeliveryNotFound = errors.New("delivery not found")
)

// Forbidden errors (wrong actor, not wrong state).
var (
	// ErrNotAuthor is returned when an operation reserved for the request
	// author (approve, reject, delete, manual complete) is attempted by
	// someone else.
	ErrNotAuthor = errors.New("only the request author may do this")

	// ErrNotVolunteer is returned when an operation reserved for the
	// proposing volunteer (attaching parcel details) is attempted by
	// someone else.
	ErrNotVolunteer = errors.New("only the proposing volunteer may do this")

	// ErrNotCourier is returned when a delivery operation is attempted by a
	// caller who is not the courier currently holding it.
	ErrNotCourier = errors.New("delivery is held by another courier")
)

// Conflict errors (right actor, wrong state).
var (
	// ErrRequestClosed is returned when a proposal targets (or an approval
	// would commit to) a request that is no longer open.
	ErrRequestClosed = errors.New("request is not open")

	// ErrInsufficientCapacity is returned when an approval would push the
	// received amount past the requested amount. The aggregate is left
	// untouched; the caller should re-read and retry or surface the
	// conflict.
	ErrInsufficientCapacity = errors.New("insufficient remaining capacity")

	// ErrFulfillmentNotPending is returned when approve/reject hits a
	// proposal that already left PENDING.
	ErrFulfillmentNotPending = errors.New("fulfillment is not pending")

	// ErrFulfillmentNotActive is returned when complete hits a proposal
	// that is not IN_PROGRESS.
	ErrFulfillmentNotActive = errors.New("fulfillment is not in progress")

	// ErrCourierStepPending is returned when a requester tries to confirm
	// receipt of a courier-mediated fulfillment whose delivery has not
	// completed; the courier's completion is authoritative there.
	ErrCourierStepPending = errors.New("courier delivery still pending")

	// ErrActiveCommitments is returned when a request with APPROVED or
	// IN_PROGRESS fulfillments is deleted; those must be resolved first.
	ErrActiveCommitments = errors.New("request has active commitments")

	// ErrOwnRequest is returned when a volunteer proposes against their own
	// request, or a courier takes a delivery of their own parcel.
	ErrOwnRequest = errors.New("cannot act on your own request")

	// ErrDeliveryTaken is returned to the losers of a take() race.
	ErrDeliveryTaken = errors.New("delivery already taken")

	// ErrDeliveryNotActive is returned when complete() hits a delivery that
	// is not IN_PROGRESS.
	ErrDeliveryNotActive = errors.New("delivery is not in progress")

	// ErrDeliveryExists is returned when parcel details arrive for a
	// fulfillment that already has a delivery.
	ErrDeliveryExists = errors.New("delivery already exists for fulfillment")

	// ErrNoCourierNeeded is returned when parcel details arrive for a
	// fulfillment that did not ask for a courier.
	ErrNoCourierNeeded = errors.New("fulfillment does not need a courier")
)

// FieldError names one violated input field and why it was rejected.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError aggregates every violated field of one input so the
// client can render all problems at once instead of fixing them one
// round-trip at a time.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Reason))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// add appends a violation; a fluent nil-safe helper for building the error
// incrementally during validation.
func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// errOrNil returns the built error, or nil when no field was violated.
func (e *ValidationError) errOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
