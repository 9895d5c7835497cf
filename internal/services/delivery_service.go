// Package services – DeliveryService
//
// Deliveries follow AVAILABLE → IN_PROGRESS → COMPLETED, with CANCELED
// reachable only from AVAILABLE (request-cascade). The claim edge is a
// single compare-and-set, so any number of couriers can race Take and
// exactly one wins; everyone else gets ErrDeliveryTaken.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dopomoha/aid-backend/internal/domain"
	"github.com/dopomoha/aid-backend/internal/repo"
)

// DeliveryService coordinates the courier board: claiming, completing,
// and listing transport tasks.
type DeliveryService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewDeliveryService constructs a DeliveryService.
func NewDeliveryService(db *gorm.DB) *DeliveryService {
	return &DeliveryService{DB: db}
}

// Get returns a delivery by id.
func (s *DeliveryService) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	d, err := repo.GetDelivery(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return d, nil
}

// Take claims an AVAILABLE delivery for courierID. The volunteer behind
// the fulfillment and the request author are excluded; a courier must be
// a third party. Losing the claim race yields ErrDeliveryTaken.
func (s *DeliveryService) Take(ctx context.Context, id, courierID string) (*domain.Delivery, error) {
	tr := otel.Tracer("services/DeliveryService")
	ctx, span := tr.Start(ctx, "Take",
		trace.WithAttributes(
			attribute.String("delivery.id", id),
			attribute.String("user.id", courierID),
		),
	)
	defer span.End()

	d, err := repo.GetDelivery(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	f, err := repo.GetFulfillment(ctx, s.DB, d.FulfillmentID)
	if err != nil {
		return nil, err
	}
	r, err := repo.GetRequest(ctx, s.DB, f.RequestID)
	if err != nil {
		return nil, err
	}
	if courierID == f.VolunteerID || courierID == r.AuthorID {
		return nil, ErrOwnRequest
	}

	won, err := repo.TakeDelivery(ctx, s.DB, id, courierID)
	if err != nil {
		return nil, err
	}
	if !won {
		deliveryTakeConflictsTotal.Inc()
		// Distinguish "claimed by someone else" from "gone" for the caller.
		cur, err := repo.GetDelivery(ctx, s.DB, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrDeliveryNotFound
			}
			return nil, err
		}
		if cur.Status == domain.DeliveryCanceled {
			return nil, ErrDeliveryNotActive
		}
		return nil, ErrDeliveryTaken
	}
	deliveriesTakenTotal.Inc()

	d.Status = domain.DeliveryInProgress
	d.CourierID = &courierID
	return d, nil
}

// Complete marks an IN_PROGRESS delivery delivered, on behalf of the
// courier that holds it, and completes the owning fulfillment in the same
// transaction. The received-amount aggregate already moved at approval
// time, so no request-side arithmetic happens here.
func (s *DeliveryService) Complete(ctx context.Context, id, courierID string) error {
	tr := otel.Tracer("services/DeliveryService")
	ctx, span := tr.Start(ctx, "Complete",
		trace.WithAttributes(
			attribute.String("delivery.id", id),
			attribute.String("user.id", courierID),
		),
	)
	defer span.End()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := repo.GetDelivery(ctx, tx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDeliveryNotFound
			}
			return err
		}
		if d.Status != domain.DeliveryInProgress {
			return ErrDeliveryNotActive
		}
		if d.CourierID == nil || *d.CourierID != courierID {
			return ErrNotCourier
		}
		if err := repo.CompleteDelivery(ctx, tx, id, courierID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrDeliveryNotActive
			}
			return err
		}
		// The courier's confirmation is authoritative for the fulfillment.
		err = repo.UpdateFulfillmentStatus(ctx, tx, d.FulfillmentID, domain.FulfillmentInProgress, domain.FulfillmentCompleted)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return nil
	})
}

// ListAvailablePage returns the public board of claimable deliveries,
// optionally narrowed by route.
func (s *DeliveryService) ListAvailablePage(ctx context.Context, f repo.DeliveryFilter, page, size int) ([]domain.Delivery, int64, error) {
	page, size = clampPage(page, size)
	total, err := repo.CountAvailableDeliveries(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Delivery{}, 0, nil
	}
	items, err := repo.ListAvailablePage(ctx, s.DB, f, page*size, size)
	return items, total, err
}

// ListMinePage returns the courier's active (IN_PROGRESS) deliveries.
func (s *DeliveryService) ListMinePage(ctx context.Context, courierID string, page, size int) ([]domain.Delivery, int64, error) {
	return s.listByStatus(ctx, courierID, domain.DeliveryInProgress, page, size)
}

// ListArchivePage returns the courier's COMPLETED deliveries.
func (s *DeliveryService) ListArchivePage(ctx context.Context, courierID string, page, size int) ([]domain.Delivery, int64, error) {
	return s.listByStatus(ctx, courierID, domain.DeliveryCompleted, page, size)
}

func (s *DeliveryService) listByStatus(ctx context.Context, courierID string, status domain.DeliveryStatus, page, size int) ([]domain.Delivery, int64, error) {
	page, size = clampPage(page, size)
	total, err := repo.CountCourierDeliveries(ctx, s.DB, courierID, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Delivery{}, 0, nil
	}
	items, err := repo.ListCourierDeliveriesPage(ctx, s.DB, courierID, status, page*size, size)
	return items, total, err
}
