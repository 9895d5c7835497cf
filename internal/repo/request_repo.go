// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// HelpRequest model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. The one deliberate exception is
// AddReceivedAmount, which encodes the capacity guard as a single SQL
// statement because the atomicity of that check is the core invariant of
// the whole engine.
//
// Error semantics:
//   - When a request is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dopomoha/aid-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service
// layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// RequestFilter narrows request listings. Zero values mean "no constraint".
// Urgent selects requests that are CRITICAL or expire within UrgentWindow.
type RequestFilter struct {
	Category     domain.HelpCategory
	Region       string
	Settlement   string
	Priority     domain.Priority
	DeliveryType domain.DeliveryType
	Status       domain.RequestStatus
	Statuses     []domain.RequestStatus
	AuthorID     string
	Urgent       bool
	UrgentWindow time.Duration
}

// apply composes the filter onto a help_requests query.
func (f RequestFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Region != "" {
		q = q.Where("region = ?", f.Region)
	}
	if f.Settlement != "" {
		q = q.Where("settlement = ?", f.Settlement)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.DeliveryType != "" {
		q = q.Where("delivery_type = ?", f.DeliveryType)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	} else if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.AuthorID != "" {
		q = q.Where("author_id = ?", f.AuthorID)
	}
	if f.Urgent {
		window := f.UrgentWindow
		if window <= 0 {
			window = 72 * time.Hour
		}
		q = q.Where("priority = ? OR valid_until <= ?",
			domain.PriorityCritical, time.Now().UTC().Add(window))
	}
	return q
}

// CreateRequest inserts a new HelpRequest row. The ID is a random UUID and
// CreatedAt is set to UTC; status and received amount start at their
// CREATED/0 defaults.
func CreateRequest(ctx context.Context, db *gorm.DB, r *domain.HelpRequest) (*domain.HelpRequest, error) {
	r.ID = uuid.NewString()
	r.Status = domain.RequestCreated
	r.ReceivedAmount = 0
	r.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetRequest fetches a single request by ID, or ErrNotFound if missing.
func GetRequest(ctx context.Context, db *gorm.DB, id string) (*domain.HelpRequest, error) {
	var r domain.HelpRequest
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRequests returns the number of requests matching the filter.
func CountRequests(ctx context.Context, db *gorm.DB, f RequestFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.HelpRequest{})).Count(&total).Error
	return total, err
}

// ListRequestsPage returns a page of requests matching the filter, most
// recent first. The caller computes offset and limit.
func ListRequestsPage(ctx context.Context, db *gorm.DB, f RequestFilter, offset, limit int) ([]domain.HelpRequest, error) {
	var out []domain.HelpRequest
	err := f.apply(db.WithContext(ctx).Model(&domain.HelpRequest{})).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AddReceivedAmount atomically adds amount to a request's received total,
// but only when the result stays within the requested amount. It reports
// whether the increment was applied; false means another approval consumed
// the remaining capacity first (or the request vanished).
//
// The guard and the increment are one UPDATE statement on purpose: two
// concurrent approvals can both read a stale remaining capacity, but only
// the first to commit this statement will find the WHERE clause satisfied.
func AddReceivedAmount(ctx context.Context, db *gorm.DB, id string, amount int) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.HelpRequest{}).
		Where("id = ? AND received_amount + ? <= amount", id, amount).
		UpdateColumn("received_amount", gorm.Expr("received_amount + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateRequestStatus moves a request to next, guarded by its current
// status so a lost race manifests as RowsAffected == 0 (returned as
// ErrNotFound) instead of a silently clobbered state.
func UpdateRequestStatus(ctx context.Context, db *gorm.DB, id string, current, next domain.RequestStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.HelpRequest{}).
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

// CancelRequest marks a request CANCELED and soft-deletes it in one pass.
// The row is retained for history; list queries exclude it via DeletedAt.
func CancelRequest(ctx context.Context, db *gorm.DB, id string) error {
	if err := db.WithContext(ctx).
		Model(&domain.HelpRequest{}).
		Where("id = ?", id).
		Update("status", domain.RequestCanceled).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Delete(&domain.HelpRequest{}, "id = ?", id).Error
}

// RequestsStats returns aggregate metadata for an author's requests: row
// count and the greatest UpdatedAt. Used for weak ETag generation on the
// "my requests" listing. When the author has no requests, count is 0 and
// maxUpdatedAt is nil.
func RequestsStats(ctx context.Context, db *gorm.DB, authorID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.HelpRequest{}).Where("author_id = ?", authorID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Avoid MAX() -> TEXT coercion in SQLite.
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
