// Package services – RequestService
//
// This file implements the RequestService, which owns the HelpRequest
// lifecycle: creation with full-input validation, listing with filters,
// requester-only deletion with the pending-proposal cascade, and manual
// completion. The received-amount aggregate and the CREATED→IN_PROGRESS→
// COMPLETED auto-transitions are applied inside the approval transaction in
// FulfillmentService; this service only ever moves a request along edges
// the author asked for.
//
// Service-level errors (ErrRequestNotFound, ErrNotAuthor, ...) are returned
// for predictable cases so handlers can map them to HTTP results
// consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dopomoha/aid-backend/internal/domain"
	"github.com/dopomoha/aid-backend/internal/repo"
)

// contactPhoneRE is the fixed international phone format accepted on
// request creation: E.164, leading plus, 10 to 15 digits.
var contactPhoneRE = regexp.MustCompile(`^\+[1-9][0-9]{9,14}$`)

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)


// RequestService provides help-request lifecycle operations. It enforces
// input validation and ownership; aggregate transitions belong to the
// fulfillment engine.
type RequestService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// UrgentWindow is how close to expiry a request counts as urgent in
	// listings. Zero means the repo default (72h).
	UrgentWindow time.Duration
}

// NewRequestService constructs a RequestService with default settings.
func NewRequestService(db *gorm.DB) *RequestService {
	return &RequestService{DB: db, UrgentWindow: 72 * time.Hour}
}

// CreateRequestInput carries the author-supplied fields of a new request.
type CreateRequestInput struct {
	Title        string
	Description  string
	Category     domain.HelpCategory
	Region       string
	Settlement   string
	DeliveryType domain.DeliveryType
	ContactPhone string
	PhotoURL     string
	Amount       int
	Priority     domain.Priority
	ValidUntil   time.Time
}

// validate checks every field and reports all violations together.
func (in *CreateRequestInput) validate(now time.Time) error {
	var ve ValidationError
	if strings.TrimSpace(in.Title) == "" {
		ve.add("title", "required")
	}
	if strings.TrimSpace(in.Description) == "" {
		ve.add("description", "required")
	}
	if !in.Category.Valid() {
		ve.add("category", "unknown category")
	}
	if strings.TrimSpace(in.Region) == "" {
		ve.add("region", "required")
	}
	if strings.TrimSpace(in.Settlement) == "" {
		ve.add("settlement", "required")
	}
	if !in.DeliveryType.Valid() {
		ve.add("deliveryType", "unknown delivery type")
	}
	if !contactPhoneRE.MatchString(strings.TrimSpace(in.ContactPhone)) {
		ve.add("contactPhone", "must be an international number like +380501234567")
	}
	if in.Amount < 1 {
		ve.add("amount", "must be at least 1")
	}
	if !in.Priority.Valid() {
		ve.add("priority", "unknown priority")
	}
	if !in.ValidUntil.After(now) {
		ve.add("validUntil", "must be in the future")
	}
	return ve.errOrNil()
}

// Create validates the input and persists a new request owned by authorID
// with status CREATED and a zero received amount. All violated fields are
// reported in one *ValidationError.
func (s *RequestService) Create(ctx context.Context, authorID string, in CreateRequestInput) (*domain.HelpRequest, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", authorID)),
	)
	defer span.End()

	if err := in.validate(time.Now().UTC()); err != nil {
		return nil, err
	}

	r := &domain.HelpRequest{
		Title:        collapse(in.Title),
		Description:  strings.TrimSpace(in.Description),
		Category:     in.Category,
		Region:       normalizePlace(in.Region),
		Settlement:   normalizePlace(in.Settlement),
		DeliveryType: in.DeliveryType,
		ContactPhone: strings.TrimSpace(in.ContactPhone),
		PhotoURL:     strings.TrimSpace(in.PhotoURL),
		Amount:       in.Amount,
		Priority:     in.Priority,
		ValidUntil:   in.ValidUntil.UTC(),
		AuthorID:     authorID,
	}
	return repo.CreateRequest(ctx, s.DB, r)
}

// Get fetches one request by ID.
func (s *RequestService) Get(ctx context.Context, id string) (*domain.HelpRequest, error) {
	r, err := repo.GetRequest(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return r, nil
}

// Delete cancels a request on behalf of its author. Pending proposals are
// canceled in the same transaction; a request with an APPROVED or
// IN_PROGRESS proposal is refused with ErrActiveCommitments so in-flight
// physical handoffs are never orphaned.
func (s *RequestService) Delete(ctx context.Context, id, byUserID string) error {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("request.id", id),
			attribute.String("user.id", byUserID),
		),
	)
	defer span.End()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := repo.GetRequest(ctx, tx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRequestNotFound
			}
			return err
		}
		if r.AuthorID != byUserID {
			return ErrNotAuthor
		}

		active, err := repo.CountActiveFulfillments(ctx, tx, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrActiveCommitments
		}

		if err := repo.CancelPendingFulfillments(ctx, tx, id); err != nil {
			return err
		}
		return repo.CancelRequest(ctx, tx, id)
	})
}

// CompleteManually marks a request COMPLETED on the author's say-so,
// regardless of the received amount. Outstanding PENDING proposals stay
// visible but can no longer be approved.
func (s *RequestService) CompleteManually(ctx context.Context, id, byUserID string) error {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "CompleteManually",
		trace.WithAttributes(
			attribute.String("request.id", id),
			attribute.String("user.id", byUserID),
		),
	)
	defer span.End()

	r, err := repo.GetRequest(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRequestNotFound
		}
		return err
	}
	if r.AuthorID != byUserID {
		return ErrNotAuthor
	}
	if !r.Status.CanTransition(domain.RequestCompleted) {
		return ErrRequestClosed
	}

	if err := repo.UpdateRequestStatus(ctx, s.DB, id, r.Status, domain.RequestCompleted); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Status moved underneath us; re-read would show the conflict.
			return ErrRequestClosed
		}
		return err
	}
	requestsCompletedTotal.WithLabelValues("manual").Inc()
	return nil
}

// ListPage returns a page of requests matching the filter, most recent
// first, plus the exact total for pagination metadata.
func (s *RequestService) ListPage(ctx context.Context, f repo.RequestFilter, page, size int) ([]domain.HelpRequest, int64, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(attribute.Int("page", page), attribute.Int("size", size)),
	)
	defer span.End()

	page, size = clampPage(page, size)
	if f.UrgentWindow == 0 {
		f.UrgentWindow = s.UrgentWindow
	}
	f.Region = normalizePlace(f.Region)
	f.Settlement = normalizePlace(f.Settlement)

	total, err := repo.CountRequests(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.HelpRequest{}, 0, nil
	}
	items, err := repo.ListRequestsPage(ctx, s.DB, f, page*size, size)
	return items, total, err
}

// ListMinePage returns a page of the caller's own requests. Passing
// statuses CREATED+IN_PROGRESS serves the "active" tab; COMPLETED serves
// the archive with one compound query each, exact pagination.
func (s *RequestService) ListMinePage(ctx context.Context, authorID string, f repo.RequestFilter, page, size int) ([]domain.HelpRequest, int64, error) {
	f.AuthorID = authorID
	return s.ListPage(ctx, f, page, size)
}

// clampPage bounds pagination parameters: page is 0-based, size defaults
// to 10 and is capped at 100.
func clampPage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 10
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

// collapse trims and collapses internal whitespace to single spaces.
func collapse(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// normalizePlace canonicalizes a region or settlement name for storage and
// filtering: collapsed whitespace, title case. A Caser is stateful, so one
// is created per call rather than shared.
func normalizePlace(s string) string {
	s = collapse(s)
	if s == "" {
		return ""
	}
	return cases.Title(language.Und).String(s)
}
