// Package domain defines the core persistence models for the application.
package domain

import "time"

// Idempotency records the outcome of a previously processed proposal
// submission, keyed by (user_id, request_id, key). A volunteer retrying a
// POST with the same Idempotency-Key gets the originally created proposal
// back instead of a duplicate offer.
type Idempotency struct {
	ID            string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_request_key,priority:1"`
	RequestID     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_request_key,priority:2"`
	Key           string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_request_key,priority:3"`
	FulfillmentID string    `gorm:"type:TEXT NOT NULL"`
	Status        int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt     time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt     time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
