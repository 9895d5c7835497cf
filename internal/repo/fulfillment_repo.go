// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// FulfillmentProposal model.
//
// Status moves go through UpdateFulfillmentStatus, which is guarded by the
// current status: services decide which edge to take, the guard makes sure
// a concurrent actor has not taken a different edge in the meantime.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dopomoha/aid-backend/internal/domain"
)

// CreateFulfillment inserts a new proposal in PENDING state with a random
// UUID and UTC creation time.
func CreateFulfillment(ctx context.Context, db *gorm.DB, f *domain.FulfillmentProposal) (*domain.FulfillmentProposal, error) {
	f.ID = uuid.NewString()
	f.Status = domain.FulfillmentPending
	f.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		return nil, err
	}
	return f, nil
}

// GetFulfillment fetches a proposal by ID, or ErrNotFound.
func GetFulfillment(ctx context.Context, db *gorm.DB, id string) (*domain.FulfillmentProposal, error) {
	var f domain.FulfillmentProposal
	if err := db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// UpdateFulfillmentStatus moves a proposal from current to next. A lost
// race (someone else already moved it) surfaces as ErrNotFound via the
// RowsAffected check, never as a silent overwrite.
func UpdateFulfillmentStatus(ctx context.Context, db *gorm.DB, id string, current, next domain.FulfillmentStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.FulfillmentProposal{}).
		Where("id = ? AND status = ?", id, current).
		Update("status", next)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// StageParcel records courier parcel details on a proposal before the
// Delivery row exists. Fields are copied onto the Delivery at approval.
func StageParcel(ctx context.Context, db *gorm.DB, id string, weight float64, length, width, height *float64, note string) error {
	res := db.WithContext(ctx).
		Model(&domain.FulfillmentProposal{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"parcel_weight": weight,
			"parcel_length": length,
			"parcel_width":  width,
			"parcel_height": height,
			"parcel_note":   note,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveFulfillments returns how many proposals for the request have
// an active commitment (APPROVED or IN_PROGRESS). Requests with any such
// proposal refuse deletion.
func CountActiveFulfillments(ctx context.Context, db *gorm.DB, requestID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.FulfillmentProposal{}).
		Where("request_id = ? AND status IN ?", requestID,
			[]domain.FulfillmentStatus{domain.FulfillmentApproved, domain.FulfillmentInProgress}).
		Count(&n).Error
	return n, err
}

// CancelPendingFulfillments moves every PENDING proposal of a request to
// CANCELED. Used by the request-deletion cascade.
func CancelPendingFulfillments(ctx context.Context, db *gorm.DB, requestID string) error {
	return db.WithContext(ctx).
		Model(&domain.FulfillmentProposal{}).
		Where("request_id = ? AND status = ?", requestID, domain.FulfillmentPending).
		Update("status", domain.FulfillmentCanceled).Error
}

// CountIncoming returns the number of PENDING proposals targeting any
// request authored by authorID.
func CountIncoming(ctx context.Context, db *gorm.DB, authorID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.FulfillmentProposal{}).
		Joins("JOIN help_requests ON help_requests.id = fulfillments.request_id").
		Where("help_requests.author_id = ? AND fulfillments.status = ?", authorID, domain.FulfillmentPending).
		Count(&n).Error
	return n, err
}

// ListIncomingPage returns a page of PENDING proposals targeting requests
// authored by authorID, newest first. The parent request is preloaded so
// the handler can surface its title.
func ListIncomingPage(ctx context.Context, db *gorm.DB, authorID string, offset, limit int) ([]domain.FulfillmentProposal, error) {
	var out []domain.FulfillmentProposal
	err := db.WithContext(ctx).
		Preload("Request").
		Joins("JOIN help_requests ON help_requests.id = fulfillments.request_id").
		Where("help_requests.author_id = ? AND fulfillments.status = ?", authorID, domain.FulfillmentPending).
		Order("fulfillments.created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountContributions returns the number of a volunteer's proposals in any
// of the given statuses (all statuses when the set is empty).
func CountContributions(ctx context.Context, db *gorm.DB, volunteerID string, statuses []domain.FulfillmentStatus) (int64, error) {
	q := db.WithContext(ctx).
		Model(&domain.FulfillmentProposal{}).
		Where("volunteer_id = ?", volunteerID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// ListContributionsPage returns a page of a volunteer's proposals filtered
// by status set, newest first, with the parent request preloaded.
//
// This is the compound-predicate replacement for the client-side union of
// per-status pages: one query, exact pagination.
func ListContributionsPage(ctx context.Context, db *gorm.DB, volunteerID string, statuses []domain.FulfillmentStatus, offset, limit int) ([]domain.FulfillmentProposal, error) {
	q := db.WithContext(ctx).
		Preload("Request").
		Where("volunteer_id = ?", volunteerID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var out []domain.FulfillmentProposal
	err := q.Order("created_at desc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}
