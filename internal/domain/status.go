// Package domain defines the persistence models and status machines for
// help requests, fulfillment proposals, and courier deliveries. These types
// are mapped with GORM and form the core data layer of the aid-matching
// service.
//
// Status transitions are expressed as explicit tables rather than scattered
// conditionals so that every legal edge of each lifecycle is visible (and
// testable) in one place. Services consult CanTransition before mutating a
// row; the database CHECK constraints are a second line of defense.
package domain

// HelpCategory classifies what kind of aid a request is about.
type HelpCategory string

const (
	CategoryFood      HelpCategory = "FOOD"
	CategoryMedicine  HelpCategory = "MEDICINE"
	CategoryHygiene   HelpCategory = "HYGIENE"
	CategoryClothes   HelpCategory = "CLOTHES"
	CategoryAnimals   HelpCategory = "ANIMALS"
	CategoryMilitary  HelpCategory = "MILITARY"
	CategoryEquipment HelpCategory = "EQUIPMENT"
	CategoryTransport HelpCategory = "TRANSPORT"
	CategoryOther     HelpCategory = "OTHER"
)

// Categories lists every accepted help category.
var Categories = []HelpCategory{
	CategoryFood, CategoryMedicine, CategoryHygiene, CategoryClothes,
	CategoryAnimals, CategoryMilitary, CategoryEquipment, CategoryTransport,
	CategoryOther,
}

// Valid reports whether c is one of the accepted categories.
func (c HelpCategory) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// DeliveryType says how goods reach the requester.
type DeliveryType string

const (
	DeliverySelfPickup DeliveryType = "SELF_PICKUP"
	DeliveryVolunteer  DeliveryType = "VOLUNTEER_DELIVERY"
	DeliveryPostal     DeliveryType = "POSTAL_DELIVERY"
)

// Valid reports whether t is one of the accepted delivery types.
func (t DeliveryType) Valid() bool {
	switch t {
	case DeliverySelfPickup, DeliveryVolunteer, DeliveryPostal:
		return true
	}
	return false
}

// Priority ranks how urgent a request is.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Valid reports whether p is one of the accepted priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// RequestStatus is the lifecycle state of a HelpRequest.
//
// CREATED ─(first approved amount)→ IN_PROGRESS ─(received >= amount, or
// manual complete)→ COMPLETED. CANCELED is reachable while no approved
// fulfillment is in flight.
type RequestStatus string

const (
	RequestCreated    RequestStatus = "CREATED"
	RequestInProgress RequestStatus = "IN_PROGRESS"
	RequestCompleted  RequestStatus = "COMPLETED"
	RequestCanceled   RequestStatus = "CANCELED"
)

// requestEdges is the transition table for RequestStatus.
var requestEdges = map[RequestStatus][]RequestStatus{
	RequestCreated:    {RequestInProgress, RequestCompleted, RequestCanceled},
	RequestInProgress: {RequestCompleted, RequestCanceled},
	RequestCompleted:  {},
	RequestCanceled:   {},
}

// CanTransition reports whether a request may move from s to next.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	for _, n := range requestEdges[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Open reports whether the request still accepts proposals.
func (s RequestStatus) Open() bool {
	return s == RequestCreated || s == RequestInProgress
}

// FulfillmentStatus is the lifecycle state of a FulfillmentProposal.
//
// This adopts the richer vocabulary: APPROVED is a transitional state that a
// proposal passes through inside the approval transaction before landing in
// IN_PROGRESS (goods being prepared/moved); REJECTED, COMPLETED, and
// CANCELED are terminal.
type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "PENDING"
	FulfillmentApproved   FulfillmentStatus = "APPROVED"
	FulfillmentInProgress FulfillmentStatus = "IN_PROGRESS"
	FulfillmentCompleted  FulfillmentStatus = "COMPLETED"
	FulfillmentRejected   FulfillmentStatus = "REJECTED"
	FulfillmentCanceled   FulfillmentStatus = "CANCELED"
)

// fulfillmentEdges is the transition table for FulfillmentStatus.
var fulfillmentEdges = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentPending:    {FulfillmentApproved, FulfillmentRejected, FulfillmentCanceled},
	FulfillmentApproved:   {FulfillmentInProgress, FulfillmentCanceled},
	FulfillmentInProgress: {FulfillmentCompleted, FulfillmentCanceled},
	FulfillmentCompleted:  {},
	FulfillmentRejected:   {},
	FulfillmentCanceled:   {},
}

// CanTransition reports whether a fulfillment may move from s to next.
func (s FulfillmentStatus) CanTransition(next FulfillmentStatus) bool {
	for _, n := range fulfillmentEdges[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s FulfillmentStatus) Terminal() bool {
	return len(fulfillmentEdges[s]) == 0
}

// Active reports whether s counts toward a request's received amount.
func (s FulfillmentStatus) Active() bool {
	return s == FulfillmentApproved || s == FulfillmentInProgress || s == FulfillmentCompleted
}

// DeliveryStatus is the lifecycle state of a courier Delivery.
type DeliveryStatus string

const (
	DeliveryAvailable  DeliveryStatus = "AVAILABLE"
	DeliveryInProgress DeliveryStatus = "IN_PROGRESS"
	DeliveryCompleted  DeliveryStatus = "COMPLETED"
	DeliveryCanceled   DeliveryStatus = "CANCELED"
)

// deliveryEdges is the transition table for DeliveryStatus.
var deliveryEdges = map[DeliveryStatus][]DeliveryStatus{
	DeliveryAvailable:  {DeliveryInProgress, DeliveryCanceled},
	DeliveryInProgress: {DeliveryCompleted, DeliveryCanceled},
	DeliveryCompleted:  {},
	DeliveryCanceled:   {},
}

// CanTransition reports whether a delivery may move from s to next.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	for _, n := range deliveryEdges[s] {
		if n == next {
			return true
		}
	}
	return false
}
