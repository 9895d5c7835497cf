// Package domain defines the persistence models for help requests,
// fulfillment proposals, and courier deliveries. See status.go for the
// status machines these models move through.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// HelpRequest is a posted need for a quantity of aid, owned by its author.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - AuthorID: identifier of the requester; indexed for "my requests".
//   - Amount: requested quantity (>= 1, immutable once set).
//   - ReceivedAmount: engine-owned aggregate; always the sum of amounts of
//     fulfillments in APPROVED/IN_PROGRESS/COMPLETED for this request, and
//     never allowed past Amount by the approval transaction.
//   - Status: see RequestStatus; CREATED→IN_PROGRESS and →COMPLETED are
//     applied by the engine, never by clients.
//   - PhotoURL: opaque reference to externally stored media.
//   - DeletedAt: soft deletion marker (canceled requests keep their rows).
type HelpRequest struct {
	ID             string        `json:"id"             gorm:"type:char(36);primaryKey"`
	Title          string        `json:"title"          gorm:"type:varchar(255);not null"`
	Description    string        `json:"description"    gorm:"type:text;not null"`
	Category       HelpCategory  `json:"category"       gorm:"type:varchar(32);not null;index"`
	Region         string        `json:"region"         gorm:"type:varchar(128);not null;index:idx_requests_place,priority:1"`
	Settlement     string        `json:"settlement"     gorm:"type:varchar(128);not null;index:idx_requests_place,priority:2"`
	DeliveryType   DeliveryType  `json:"deliveryType"   gorm:"type:varchar(32);not null;check:delivery_type IN ('SELF_PICKUP','VOLUNTEER_DELIVERY','POSTAL_DELIVERY')"`
	ContactPhone   string        `json:"contactPhone"   gorm:"type:varchar(32);not null"`
	PhotoURL       string        `json:"photoUrl,omitempty" gorm:"type:varchar(512)"`
	Amount         int           `json:"amount"         gorm:"not null;check:amount >= 1"`
	ReceivedAmount int           `json:"receivedAmount" gorm:"not null;default:0;check:received_amount >= 0"`
	Priority       Priority      `json:"priority"       gorm:"type:varchar(16);not null;check:priority IN ('LOW','MEDIUM','HIGH','CRITICAL')"`
	ValidUntil     time.Time     `json:"validUntil"     gorm:"not null"`
	Status         RequestStatus `json:"status"         gorm:"type:varchar(16);not null;default:'CREATED';index;check:status IN ('CREATED','IN_PROGRESS','COMPLETED','CANCELED')"`
	AuthorID       string        `json:"authorId"       gorm:"type:varchar(64);not null;index:idx_requests_author"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `json:"-"             gorm:"index"`
}

// TableName returns the database table name for HelpRequest.
func (HelpRequest) TableName() string { return "help_requests" }

// RemainingCapacity is the amount still open for proposals, floored at zero.
func (r *HelpRequest) RemainingCapacity() int {
	if rem := r.Amount - r.ReceivedAmount; rem > 0 {
		return rem
	}
	return 0
}

// FulfillmentProposal is a volunteer's offer to supply part (or all) of a
// request's amount. Amount is immutable after creation; changing an offer
// means canceling it client-side and submitting a new one.
//
// The Parcel* fields stage courier parcel details supplied by the volunteer
// between proposal creation and approval (the client collects them in a
// second modal step). They are copied onto the Delivery row the moment the
// proposal is approved; they are meaningless when NeedsCourier is false.
type FulfillmentProposal struct {
	ID           string            `json:"id"           gorm:"type:char(36);primaryKey"`
	RequestID    string            `json:"requestId"    gorm:"type:char(36);not null;index:idx_fulfillments_request"`
	VolunteerID  string            `json:"volunteerId"  gorm:"type:varchar(64);not null;index:idx_fulfillments_volunteer"`
	Amount       int               `json:"amount"       gorm:"not null;check:amount >= 1"`
	Comment      string            `json:"comment"      gorm:"type:text"`
	Region       string            `json:"region"       gorm:"type:varchar(128);not null"`
	Settlement   string            `json:"settlement"   gorm:"type:varchar(128);not null"`
	NeedsCourier bool              `json:"needsCourier" gorm:"not null;default:false"`
	Status       FulfillmentStatus `json:"status"       gorm:"type:varchar(16);not null;default:'PENDING';index;check:status IN ('PENDING','APPROVED','IN_PROGRESS','COMPLETED','REJECTED','CANCELED')"`

	ParcelWeight *float64 `json:"-" gorm:"column:parcel_weight"`
	ParcelLength *float64 `json:"-" gorm:"column:parcel_length"`
	ParcelWidth  *float64 `json:"-" gorm:"column:parcel_width"`
	ParcelHeight *float64 `json:"-" gorm:"column:parcel_height"`
	ParcelNote   string   `json:"-" gorm:"column:parcel_note;type:text"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Request is the parent help request. Proposals are cascade-deleted if
	// their request row is hard-removed.
	Request HelpRequest `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for FulfillmentProposal.
func (FulfillmentProposal) TableName() string { return "fulfillments" }

// Delivery is a courier transport task spawned from an approved fulfillment
// that needs third-party physical movement. Exactly one delivery exists per
// such fulfillment, and at most one courier holds it at a time.
//
// CourierID is set exactly when Status is IN_PROGRESS or COMPLETED; the
// AVAILABLE→IN_PROGRESS edge is a single compare-and-set so racing couriers
// observe one winner and a conflict for everyone else.
type Delivery struct {
	ID            string         `json:"id"            gorm:"type:char(36);primaryKey"`
	FulfillmentID string         `json:"fulfillmentId" gorm:"type:char(36);not null;uniqueIndex:ux_delivery_fulfillment"`
	FromRegion    string         `json:"fromRegion"    gorm:"type:varchar(128);not null;index:idx_deliveries_from,priority:1"`
	FromSettlement string        `json:"fromSettlement" gorm:"type:varchar(128);not null;index:idx_deliveries_from,priority:2"`
	ToRegion      string         `json:"toRegion"      gorm:"type:varchar(128);not null;index:idx_deliveries_to,priority:1"`
	ToSettlement  string         `json:"toSettlement"  gorm:"type:varchar(128);not null;index:idx_deliveries_to,priority:2"`
	Weight        float64        `json:"weight"        gorm:"not null;check:weight > 0"`
	Length        *float64       `json:"length,omitempty"`
	Width         *float64       `json:"width,omitempty"`
	Height        *float64       `json:"height,omitempty"`
	Description   string         `json:"description"   gorm:"type:text"`
	Priority      Priority       `json:"priority"      gorm:"type:varchar(16);not null"`
	ValidUntil    time.Time      `json:"validUntil"    gorm:"not null"`
	Status        DeliveryStatus `json:"status"        gorm:"type:varchar(16);not null;default:'AVAILABLE';index;check:status IN ('AVAILABLE','IN_PROGRESS','COMPLETED','CANCELED')"`
	CourierID     *string        `json:"courierId,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`

	// Fulfillment is the owning proposal; completion of the delivery
	// completes it.
	Fulfillment FulfillmentProposal `json:"-" gorm:"foreignKey:FulfillmentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Delivery.
func (Delivery) TableName() string { return "deliveries" }
