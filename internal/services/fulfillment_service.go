// Package services – FulfillmentService
//
// This file implements the fulfillment state machine:
//
//	PENDING → {APPROVED, REJECTED};  APPROVED → IN_PROGRESS (same
//	transaction) → COMPLETED;  {PENDING, APPROVED, IN_PROGRESS} → CANCELED
//	(request-cascade only).
//
// Approval is the one place the received-amount aggregate moves, and it is
// deliberately pessimistic: the capacity check and the increment are a
// single guarded UPDATE inside one transaction, so the first committed
// approval wins and later ones observe a conflict instead of pushing the
// aggregate past the requested amount. Proposal creation, by contrast,
// checks capacity optimistically; several competing proposals may coexist
// and only approval arbitrates between them.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dopomoha/aid-backend/internal/domain"
	"github.com/dopomoha/aid-backend/internal/repo"
)

// FulfillmentService coordinates proposal persistence, the approval
// transaction, and the spawning of courier deliveries.
type FulfillmentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewFulfillmentService constructs a FulfillmentService.
func NewFulfillmentService(db *gorm.DB) *FulfillmentService {
	return &FulfillmentService{DB: db}
}

// CreateProposalInput carries the volunteer-supplied fields of a new
// proposal.
type CreateProposalInput struct {
	Amount       int
	Comment      string
	Region       string
	Settlement   string
	NeedsCourier bool
}

// Create submits a proposal of amount toward requestID on behalf of
// volunteerID. The remaining-capacity check here is best effort, it keeps
// obviously oversized offers out, but the authoritative check happens again
// at approval time.
func (s *FulfillmentService) Create(ctx context.Context, requestID, volunteerID string, in CreateProposalInput) (*domain.FulfillmentProposal, error) {
	tr := otel.Tracer("services/FulfillmentService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("user.id", volunteerID),
		),
	)
	defer span.End()

	r, err := repo.GetRequest(ctx, s.DB, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if !r.Status.Open() {
		return nil, ErrRequestClosed
	}
	if r.AuthorID == volunteerID {
		return nil, ErrOwnRequest
	}

	var ve ValidationError
	if in.Amount < 1 {
		ve.add("amount", "must be at least 1")
	} else if in.Amount > r.RemainingCapacity() {
		ve.add("amount", "exceeds remaining capacity")
	}
	if strings.TrimSpace(in.Region) == "" {
		ve.add("region", "required")
	}
	if strings.TrimSpace(in.Settlement) == "" {
		ve.add("settlement", "required")
	}
	if in.NeedsCourier && r.DeliveryType != domain.DeliveryVolunteer {
		ve.add("needsCourier", "request does not use volunteer delivery")
	}
	if err := ve.errOrNil(); err != nil {
		return nil, err
	}

	f := &domain.FulfillmentProposal{
		RequestID:    requestID,
		VolunteerID:  volunteerID,
		Amount:       in.Amount,
		Comment:      strings.TrimSpace(in.Comment),
		Region:       normalizePlace(in.Region),
		Settlement:   normalizePlace(in.Settlement),
		NeedsCourier: in.NeedsCourier,
	}
	return repo.CreateFulfillment(ctx, s.DB, f)
}

// Approve accepts a PENDING proposal on behalf of the request author.
//
// Inside one transaction it re-validates the proposal state, applies the
// guarded received-amount increment (losing the capacity race yields
// ErrInsufficientCapacity and leaves the aggregate untouched), moves the
// proposal to IN_PROGRESS, spawns the courier delivery when one is needed
// and parcel details are staged, and applies the request's auto
// transitions (CREATED→IN_PROGRESS on first received amount, →COMPLETED
// once the full amount is covered).
func (s *FulfillmentService) Approve(ctx context.Context, fulfillmentID, byUserID string) error {
	tr := otel.Tracer("services/FulfillmentService")
	ctx, span := tr.Start(ctx, "Approve",
		trace.WithAttributes(
			attribute.String("fulfillment.id", fulfillmentID),
			attribute.String("user.id", byUserID),
		),
	)
	defer span.End()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := repo.GetFulfillment(ctx, tx, fulfillmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFulfillmentNotFound
			}
			return err
		}
		r, err := repo.GetRequest(ctx, tx, f.RequestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRequestNotFound
			}
			return err
		}
		if r.AuthorID != byUserID {
			return ErrNotAuthor
		}
		if f.Status != domain.FulfillmentPending {
			return ErrFulfillmentNotPending
		}
		if !r.Status.Open() {
			// Manually completed or canceled requests accept no approvals.
			return ErrRequestClosed
		}

		applied, err := repo.AddReceivedAmount(ctx, tx, r.ID, f.Amount)
		if err != nil {
			return err
		}
		if !applied {
			return ErrInsufficientCapacity
		}

		// PENDING → APPROVED → IN_PROGRESS; the intermediate edge exists
		// in the table but never rests between transactions.
		if err := repo.UpdateFulfillmentStatus(ctx, tx, f.ID, domain.FulfillmentPending, domain.FulfillmentApproved); err != nil {
			return err
		}
		if err := repo.UpdateFulfillmentStatus(ctx, tx, f.ID, domain.FulfillmentApproved, domain.FulfillmentInProgress); err != nil {
			return err
		}

		if r.DeliveryType == domain.DeliveryVolunteer && f.NeedsCourier && f.ParcelWeight != nil {
			if _, err := repo.CreateDelivery(ctx, tx, deliveryFrom(r, f)); err != nil {
				return err
			}
		}

		return s.applyAutoTransitions(ctx, tx, r.ID)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCapacity) {
			capacityConflictsTotal.Inc()
		}
		return err
	}
	approvalsTotal.Inc()
	return nil
}

// Reject declines a PENDING proposal on behalf of the request author. The
// aggregate never moves.
func (s *FulfillmentService) Reject(ctx context.Context, fulfillmentID, byUserID string) error {
	tr := otel.Tracer("services/FulfillmentService")
	ctx, span := tr.Start(ctx, "Reject",
		trace.WithAttributes(
			attribute.String("fulfillment.id", fulfillmentID),
			attribute.String("user.id", byUserID),
		),
	)
	defer span.End()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := repo.GetFulfillment(ctx, tx, fulfillmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFulfillmentNotFound
			}
			return err
		}
		r, err := repo.GetRequest(ctx, tx, f.RequestID)
		if err != nil {
			return err
		}
		if r.AuthorID != byUserID {
			return ErrNotAuthor
		}
		if f.Status != domain.FulfillmentPending {
			return ErrFulfillmentNotPending
		}
		return repo.UpdateFulfillmentStatus(ctx, tx, f.ID, domain.FulfillmentPending, domain.FulfillmentRejected)
	})
}

// Complete confirms receipt of an IN_PROGRESS fulfillment on behalf of the
// request author. For courier-mediated fulfillments the courier's delivery
// completion is authoritative; until it lands this returns
// ErrCourierStepPending.
func (s *FulfillmentService) Complete(ctx context.Context, fulfillmentID, byUserID string) error {
	tr := otel.Tracer("services/FulfillmentService")
	ctx, span := tr.Start(ctx, "Complete",
		trace.WithAttributes(
			attribute.String("fulfillment.id", fulfillmentID),
			attribute.String("user.id", byUserID),
		),
	)
	defer span.End()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := repo.GetFulfillment(ctx, tx, fulfillmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFulfillmentNotFound
			}
			return err
		}
		r, err := repo.GetRequest(ctx, tx, f.RequestID)
		if err != nil {
			return err
		}
		if r.AuthorID != byUserID {
			return ErrNotAuthor
		}
		if f.Status != domain.FulfillmentInProgress {
			return ErrFulfillmentNotActive
		}

		// A linked delivery must have completed first (which itself
		// completes the fulfillment, making this path moot), so any
		// delivery found here in a non-terminal state blocks the manual
		// confirm.
		d, err := repo.GetDeliveryByFulfillment(ctx, tx, f.ID)
		switch {
		case err == nil:
			if d.Status != domain.DeliveryCompleted {
				return ErrCourierStepPending
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// No courier step; the requester's confirmation is the end.
		default:
			return err
		}

		return repo.UpdateFulfillmentStatus(ctx, tx, f.ID, domain.FulfillmentInProgress, domain.FulfillmentCompleted)
	})
}

// AttachParcel stages courier parcel details supplied by the proposing
// volunteer. When the proposal is already approved and has no delivery
// yet, the delivery is spawned immediately; otherwise it appears the
// moment the proposal is approved.
func (s *FulfillmentService) AttachParcel(ctx context.Context, fulfillmentID, volunteerID string, weight float64, length, width, height *float64, note string) (*domain.Delivery, error) {
	tr := otel.Tracer("services/FulfillmentService")
	ctx, span := tr.Start(ctx, "AttachParcel",
		trace.WithAttributes(
			attribute.String("fulfillment.id", fulfillmentID),
			attribute.String("user.id", volunteerID),
		),
	)
	defer span.End()

	var ve ValidationError
	if weight <= 0 {
		ve.add("weight", "must be greater than 0")
	}
	for name, dim := range map[string]*float64{"length": length, "width": width, "height": height} {
		if dim != nil && *dim <= 0 {
			ve.add(name, "must be greater than 0 when present")
		}
	}
	if err := ve.errOrNil(); err != nil {
		return nil, err
	}

	var spawned *domain.Delivery
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := repo.GetFulfillment(ctx, tx, fulfillmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFulfillmentNotFound
			}
			return err
		}
		if f.VolunteerID != volunteerID {
			return ErrNotVolunteer
		}
		if !f.NeedsCourier {
			return ErrNoCourierNeeded
		}
		if f.Status.Terminal() {
			return ErrFulfillmentNotActive
		}
		if _, err := repo.GetDeliveryByFulfillment(ctx, tx, f.ID); err == nil {
			return ErrDeliveryExists
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := repo.StageParcel(ctx, tx, f.ID, weight, length, width, height, strings.TrimSpace(note)); err != nil {
			return err
		}

		// Already approved: the delivery is due now.
		if f.Status == domain.FulfillmentInProgress {
			r, err := repo.GetRequest(ctx, tx, f.RequestID)
			if err != nil {
				return err
			}
			f.ParcelWeight = &weight
			f.ParcelLength, f.ParcelWidth, f.ParcelHeight = length, width, height
			f.ParcelNote = strings.TrimSpace(note)
			d, err := repo.CreateDelivery(ctx, tx, deliveryFrom(r, f))
			if err != nil {
				return err
			}
			spawned = d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return spawned, nil
}

// ListIncomingPage returns the requester's inbox: PENDING proposals
// against any of the caller's requests.
func (s *FulfillmentService) ListIncomingPage(ctx context.Context, authorID string, page, size int) ([]domain.FulfillmentProposal, int64, error) {
	page, size = clampPage(page, size)
	total, err := repo.CountIncoming(ctx, s.DB, authorID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.FulfillmentProposal{}, 0, nil
	}
	items, err := repo.ListIncomingPage(ctx, s.DB, authorID, page*size, size)
	return items, total, err
}

// ListContributionsPage returns the volunteer's own proposals filtered by
// a status set: {PENDING, IN_PROGRESS} serves the active tab,
// {COMPLETED, REJECTED, CANCELED} the archive. One compound query, exact
// pagination.
func (s *FulfillmentService) ListContributionsPage(ctx context.Context, volunteerID string, statuses []domain.FulfillmentStatus, page, size int) ([]domain.FulfillmentProposal, int64, error) {
	page, size = clampPage(page, size)
	total, err := repo.CountContributions(ctx, s.DB, volunteerID, statuses)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.FulfillmentProposal{}, 0, nil
	}
	items, err := repo.ListContributionsPage(ctx, s.DB, volunteerID, statuses, page*size, size)
	return items, total, err
}

// applyAutoTransitions re-reads the request and applies the engine-owned
// edges: IN_PROGRESS once anything is received, COMPLETED once the full
// amount is covered. Both are idempotent via the status-guarded update.
func (s *FulfillmentService) applyAutoTransitions(ctx context.Context, tx *gorm.DB, requestID string) error {
	r, err := repo.GetRequest(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if r.Status == domain.RequestCreated && r.ReceivedAmount > 0 {
		if err := repo.UpdateRequestStatus(ctx, tx, r.ID, domain.RequestCreated, domain.RequestInProgress); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		r.Status = domain.RequestInProgress
	}
	if r.Status == domain.RequestInProgress && r.ReceivedAmount >= r.Amount {
		if err := repo.UpdateRequestStatus(ctx, tx, r.ID, domain.RequestInProgress, domain.RequestCompleted); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			return err
		}
		requestsCompletedTotal.WithLabelValues("auto").Inc()
	}
	return nil
}

// deliveryFrom builds the Delivery spawned by an approved courier-needing
// fulfillment: pickup route from the proposal, drop-off route, priority
// and deadline from the request, parcel details from the staged fields.
func deliveryFrom(r *domain.HelpRequest, f *domain.FulfillmentProposal) *domain.Delivery {
	var weight float64
	if f.ParcelWeight != nil {
		weight = *f.ParcelWeight
	}
	return &domain.Delivery{
		FulfillmentID:  f.ID,
		FromRegion:     f.Region,
		FromSettlement: f.Settlement,
		ToRegion:       r.Region,
		ToSettlement:   r.Settlement,
		Weight:         weight,
		Length:         f.ParcelLength,
		Width:          f.ParcelWidth,
		Height:         f.ParcelHeight,
		Description:    f.ParcelNote,
		Priority:       r.Priority,
		ValidUntil:     r.ValidUntil,
	}
}
