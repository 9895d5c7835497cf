// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Delivery
// model, including the take() compare-and-set that resolves courier races.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dopomoha/aid-backend/internal/domain"
)

// DeliveryFilter narrows the available-deliveries listing by route and
// priority. Zero values mean "no constraint".
type DeliveryFilter struct {
	FromRegion     string
	FromSettlement string
	ToRegion       string
	ToSettlement   string
	Priority       domain.Priority
}

func (f DeliveryFilter) apply(q *gorm.DB) *gorm.DB {
	if f.FromRegion != "" {
		q = q.Where("from_region = ?", f.FromRegion)
	}
	if f.FromSettlement != "" {
		q = q.Where("from_settlement = ?", f.FromSettlement)
	}
	if f.ToRegion != "" {
		q = q.Where("to_region = ?", f.ToRegion)
	}
	if f.ToSettlement != "" {
		q = q.Where("to_settlement = ?", f.ToSettlement)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	return q
}

// CreateDelivery inserts a new Delivery row in AVAILABLE state.
func CreateDelivery(ctx context.Context, db *gorm.DB, d *domain.Delivery) (*domain.Delivery, error) {
	d.ID = uuid.NewString()
	d.Status = domain.DeliveryAvailable
	d.CourierID = nil
	d.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

// GetDelivery fetches a delivery by ID, or ErrNotFound.
func GetDelivery(ctx context.Context, db *gorm.DB, id string) (*domain.Delivery, error) {
	var d domain.Delivery
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDeliveryByFulfillment fetches the (at most one) delivery owned by a
// fulfillment, or ErrNotFound.
func GetDeliveryByFulfillment(ctx context.Context, db *gorm.DB, fulfillmentID string) (*domain.Delivery, error) {
	var d domain.Delivery
	if err := db.WithContext(ctx).Where("fulfillment_id = ?", fulfillmentID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// TakeDelivery attempts the AVAILABLE→IN_PROGRESS edge for courierID as a
// single compare-and-set. It reports whether this courier won; false means
// the delivery was not AVAILABLE at commit time (already taken, finished,
// canceled, or missing) and the caller should re-read to find out which.
func TakeDelivery(ctx context.Context, db *gorm.DB, id, courierID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Delivery{}).
		Where("id = ? AND status = ?", id, domain.DeliveryAvailable).
		Updates(map[string]any{
			"status":     domain.DeliveryInProgress,
			"courier_id": courierID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CompleteDelivery moves a delivery from IN_PROGRESS to COMPLETED, guarded
// by the holding courier. ErrNotFound means the row has changed underneath
// the caller (wrong courier or wrong status).
func CompleteDelivery(ctx context.Context, db *gorm.DB, id, courierID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Delivery{}).
		Where("id = ? AND status = ? AND courier_id = ?", id, domain.DeliveryInProgress, courierID).
		Update("status", domain.DeliveryCompleted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelAvailableDelivery cancels a fulfillment's delivery if it is still
// AVAILABLE. No-op when the fulfillment has no delivery or a courier has
// already taken it (that case is blocked upstream before cancellation).
func CancelAvailableDelivery(ctx context.Context, db *gorm.DB, fulfillmentID string) error {
	return db.WithContext(ctx).
		Model(&domain.Delivery{}).
		Where("fulfillment_id = ? AND status = ?", fulfillmentID, domain.DeliveryAvailable).
		Update("status", domain.DeliveryCanceled).Error
}

// CountAvailableDeliveries returns the number of AVAILABLE deliveries
// matching the route filter.
func CountAvailableDeliveries(ctx context.Context, db *gorm.DB, f DeliveryFilter) (int64, error) {
	var n int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Delivery{}).
		Where("status = ?", domain.DeliveryAvailable)).Count(&n).Error
	return n, err
}

// ListAvailablePage returns a page of AVAILABLE deliveries matching the
// route filter, newest first.
func ListAvailablePage(ctx context.Context, db *gorm.DB, f DeliveryFilter, offset, limit int) ([]domain.Delivery, error) {
	var out []domain.Delivery
	err := f.apply(db.WithContext(ctx).Model(&domain.Delivery{}).
		Where("status = ?", domain.DeliveryAvailable)).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountCourierDeliveries returns the number of deliveries held by courierID
// in the given status.
func CountCourierDeliveries(ctx context.Context, db *gorm.DB, courierID string, status domain.DeliveryStatus) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Delivery{}).
		Where("courier_id = ? AND status = ?", courierID, status).
		Count(&n).Error
	return n, err
}

// ListCourierDeliveriesPage returns a page of deliveries held by courierID
// in the given status, newest first. Status IN_PROGRESS serves the "my
// active" tab, COMPLETED serves the courier archive.
func ListCourierDeliveriesPage(ctx context.Context, db *gorm.DB, courierID string, status domain.DeliveryStatus, offset, limit int) ([]domain.Delivery, error) {
	var out []domain.Delivery
	err := db.WithContext(ctx).
		Where("courier_id = ? AND status = ?", courierID, status).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
