// Courier delivery HTTP handlers.
//
// This file exposes REST endpoints for the courier board:
//   - POST  /deliveries               (attach parcel details / spawn task)
//   - GET   /deliveries/available     (claimable board, route filters)
//   - GET   /deliveries/my            (courier's in-progress)
//   - GET   /deliveries/archive       (courier's completed)
//   - GET   /deliveries/{id}
//   - POST  /deliveries/{id}/take     (atomic claim)
//   - PATCH /deliveries/{id}/complete
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dopomoha/aid-backend/internal/domain"
	"github.com/dopomoha/aid-backend/internal/repo"
)

//
// DTOs
//

// CreateDeliveryBody is the JSON payload for attaching parcel details to a
// courier-needing proposal.
type CreateDeliveryBody struct {
	// FulfillmentID identifies the proposal the parcel belongs to.
	FulfillmentID string `json:"fulfillmentId" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// Weight in kilograms; must be positive.
	Weight float64 `json:"weight" example:"4.5"`
	// Dimensions in centimeters; optional, positive when present.
	Length *float64 `json:"length,omitempty" example:"60"`
	Width  *float64 `json:"width,omitempty" example:"40"`
	Height *float64 `json:"height,omitempty" example:"30"`
	// Description tells the courier what they are carrying.
	Description string `json:"description" example:"Box of winter clothes"`
}

// DeliveriesPage wraps a page of deliveries and pagination information.
type DeliveriesPage struct {
	Content []domain.Delivery `json:"content"`
	Page    PageInfo          `json:"page"`
}

// deliveryFilterFrom reads the route-filter query params.
func deliveryFilterFrom(c *gin.Context) repo.DeliveryFilter {
	return repo.DeliveryFilter{
		FromRegion:     c.Query("fromRegion"),
		FromSettlement: c.Query("fromSettlement"),
		ToRegion:       c.Query("toRegion"),
		ToSettlement:   c.Query("toSettlement"),
		Priority:       domain.Priority(c.Query("priority")),
	}
}

//
// Handlers
//

// CreateDelivery godoc
// @ID          createDelivery
// @Summary     Attach parcel details to a proposal
// @Description Volunteer-only. When the proposal is still pending the details are staged and the transport task appears at approval (202); when already approved the task is published immediately (201).
// @Tags        Deliveries
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateDeliveryBody  true  "Parcel payload"
//
// @Success     201  {object} domain.Delivery
// @Success     202  {string} string "Accepted (staged until approval)"
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     403  {object} handlers.ErrorResponse "Not the volunteer"
// @Failure     404  {object} handlers.ErrorResponse "Fulfillment not found"
// @Failure     409  {object} handlers.ErrorResponse "No courier needed / delivery exists"
// @Router      /deliveries [post]
func (h *Handlers) CreateDelivery(c *gin.Context) {
	var body CreateDeliveryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if _, err := uuid.Parse(body.FulfillmentID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "fulfillment id must be a UUID")
		return
	}

	d, err := h.fulSvc.AttachParcel(c.Request.Context(), body.FulfillmentID, userID(c),
		body.Weight, body.Length, body.Width, body.Height, body.Description)
	if err != nil {
		failErr(c, err)
		return
	}
	if d == nil {
		// Staged; the delivery is published when the proposal is approved.
		c.Status(http.StatusAccepted)
		return
	}
	ok(c, http.StatusCreated, d)
}

// ListAvailableDeliveries godoc
// @ID          listAvailableDeliveries
// @Summary     Browse claimable deliveries
// @Description The public courier board: AVAILABLE tasks, optionally narrowed by route, most recent first.
// @Tags        Deliveries
// @Produce     json
//
// @Param       fromRegion     query  string  false "Pickup region"
// @Param       fromSettlement query  string  false "Pickup settlement"
// @Param       toRegion       query  string  false "Drop-off region"
// @Param       toSettlement   query  string  false "Drop-off settlement"
// @Param       priority       query  string  false "Priority"  Enums(LOW,MEDIUM,HIGH,CRITICAL)
// @Param       page           query  int     false "Page number (0-based)"  minimum(0) default(0)
// @Param       size           query  int     false "Items per page"         minimum(1) maximum(100) default(10)
//
// @Success     200  {object} handlers.DeliveriesPage
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /deliveries/available [get]
func (h *Handlers) ListAvailableDeliveries(c *gin.Context) {
	page, size := clampPageParams(c)
	items, total, err := h.delSvc.ListAvailablePage(c.Request.Context(), deliveryFilterFrom(c), page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, DeliveriesPage{Content: items, Page: pageInfo(page, size, total)})
}

// ListMyDeliveries godoc
// @ID          listMyDeliveries
// @Summary     List own in-progress deliveries
// @Tags        Deliveries
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"   example(user123)
// @Param       page       query   int     false "Page number (0-based)"   minimum(0) default(0)
// @Param       size       query   int     false "Items per page"          minimum(1) maximum(100) default(10)
//
// @Success     200  {object} handlers.DeliveriesPage
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /deliveries/my [get]
func (h *Handlers) ListMyDeliveries(c *gin.Context) {
	page, size := clampPageParams(c)
	items, total, err := h.delSvc.ListMinePage(c.Request.Context(), userID(c), page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, DeliveriesPage{Content: items, Page: pageInfo(page, size, total)})
}

// ListDeliveryArchive godoc
// @ID          listDeliveryArchive
// @Summary     List own completed deliveries
// @Tags        Deliveries
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"   example(user123)
// @Param       page       query   int     false "Page number (0-based)"   minimum(0) default(0)
// @Param       size       query   int     false "Items per page"          minimum(1) maximum(100) default(10)
//
// @Success     200  {object} handlers.DeliveriesPage
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /deliveries/archive [get]
func (h *Handlers) ListDeliveryArchive(c *gin.Context) {
	page, size := clampPageParams(c)
	items, total, err := h.delSvc.ListArchivePage(c.Request.Context(), userID(c), page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, DeliveriesPage{Content: items, Page: pageInfo(page, size, total)})
}

// GetDelivery godoc
// @ID          getDelivery
// @Summary     Fetch a delivery
// @Tags        Deliveries
// @Produce     json
//
// @Param       id  path  string  true  "Delivery ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Delivery
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Delivery not found"
// @Router      /deliveries/{id} [get]
func (h *Handlers) GetDelivery(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "delivery id must be a UUID")
		return
	}
	d, err := h.delSvc.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// TakeDelivery godoc
// @ID          takeDelivery
// @Summary     Claim an available delivery
// @Description Atomic claim: when several couriers race, exactly one wins and the rest receive 409 delivery_taken. The proposing volunteer and the requester cannot claim their own parcel.
// @Tags        Deliveries
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(courier1)
// @Param       id         path    string  true  "Delivery ID (UUID)"     format(uuid)
//
// @Success     200  {object} domain.Delivery
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Delivery not found"
// @Failure     409  {object} handlers.ErrorResponse "Already taken / own parcel"
// @Router      /deliveries/{id}/take [post]
func (h *Handlers) TakeDelivery(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "delivery id must be a UUID")
		return
	}
	d, err := h.delSvc.Take(c.Request.Context(), id, userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// CompleteDelivery godoc
// @ID          completeDelivery
// @Summary     Mark a delivery delivered
// @Description Courier-only (the courier holding it). Completes the owning fulfillment in the same transaction.
// @Tags        Deliveries
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(courier1)
// @Param       id         path    string  true  "Delivery ID (UUID)"     format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Held by another courier"
// @Failure     404  {object} handlers.ErrorResponse "Delivery not found"
// @Failure     409  {object} handlers.ErrorResponse "Not in progress"
// @Router      /deliveries/{id}/complete [patch]
func (h *Handlers) CompleteDelivery(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "delivery id must be a UUID")
		return
	}
	if err := h.delSvc.Complete(c.Request.Context(), id, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
