package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dopomoha/aid-backend/internal/domain"
)

func newIdemDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:idem_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestGetIdempotency_EmptyRequestID_ReturnsNotFound(t *testing.T) {
	db := newIdemDB(t)
	rec, err := GetIdempotency(context.Background(), db, "u1", "   ", "k1", time.Now().UTC())
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for empty requestID, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newIdemDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := &domain.Idempotency{
		ID:            "expired",
		UserID:        "u1",
		RequestID:     "r1",
		Key:           "k1",
		FulfillmentID: "f1",
		Status:        201,
		CreatedAt:     now.Add(-48 * time.Hour),
		ExpiresAt:     now.Add(-time.Minute),
	}
	if err := db.Create(expired).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	if rec, err := GetIdempotency(ctx, db, "u1", "r1", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected not found for expired record, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(ctx, db, "u1", "r1", "other", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected not found for unknown key, got (%v, %v)", rec, err)
	}
}

func TestCreateIdempotency_RoundTripAndDuplicate(t *testing.T) {
	db := newIdemDB(t)
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "u1", "r1", "k1", "f1", 201, 24*time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.ID == "" || rec.FulfillmentID != "f1" || rec.Status != 201 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatalf("expiry not in the future: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "u1", "r1", "k1", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.FulfillmentID != "f1" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	// Same (user, request, key): duplicate.
	if _, err := CreateIdempotency(ctx, db, "u1", "r1", "k1", "f2", 201, 24*time.Hour); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// Different key: fine.
	if _, err := CreateIdempotency(ctx, db, "u1", "r1", "k2", "f2", 201, 24*time.Hour); err != nil {
		t.Fatalf("second key: %v", err)
	}
}
