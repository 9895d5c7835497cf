// Help request HTTP handlers.
//
// This file exposes REST endpoints for help request resources:
//   - POST   /requests               (create)
//   - GET    /requests               (browse, filtered + paginated)
//   - GET    /requests/me            (own requests, status tabs, ETag support)
//   - GET    /requests/{id}          (fetch one)
//   - DELETE /requests/{id}          (cancel, pending-proposal cascade)
//   - PATCH  /requests/{id}/complete (manual completion)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dopomoha/aid-backend/internal/domain"
	"github.com/dopomoha/aid-backend/internal/repo"
	"github.com/dopomoha/aid-backend/internal/services"
	"github.com/dopomoha/aid-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RequestService defines help-request lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RequestService interface {
	// Create validates and persists a new request owned by authorID.
	Create(ctx context.Context, authorID string, in services.CreateRequestInput) (*domain.HelpRequest, error)
	// Get fetches one request by id.
	Get(ctx context.Context, id string) (*domain.HelpRequest, error)
	// Delete cancels a request on behalf of its author.
	Delete(ctx context.Context, id, byUserID string) error
	// CompleteManually marks a request COMPLETED on the author's say-so.
	CompleteManually(ctx context.Context, id, byUserID string) error
	// ListPage returns a filtered page of requests and the exact total.
	ListPage(ctx context.Context, f repo.RequestFilter, page, size int) ([]domain.HelpRequest, int64, error)
	// ListMinePage returns a page of the caller's own requests.
	ListMinePage(ctx context.Context, authorID string, f repo.RequestFilter, page, size int) ([]domain.HelpRequest, int64, error)
}

// FulfillmentService defines proposal lifecycle operations consumed by HTTP
// handlers.
type FulfillmentService interface {
	// Create submits a proposal toward a request.
	Create(ctx context.Context, requestID, volunteerID string, in services.CreateProposalInput) (*domain.FulfillmentProposal, error)
	// Approve accepts a pending proposal on behalf of the request author.
	Approve(ctx context.Context, fulfillmentID, byUserID string) error
	// Reject declines a pending proposal on behalf of the request author.
	Reject(ctx context.Context, fulfillmentID, byUserID string) error
	// Complete confirms receipt of an in-progress fulfillment.
	Complete(ctx context.Context, fulfillmentID, byUserID string) error
	// AttachParcel stages courier parcel details on a proposal, spawning the
	// delivery immediately when the proposal is already approved.
	AttachParcel(ctx context.Context, fulfillmentID, volunteerID string, weight float64, length, width, height *float64, note string) (*domain.Delivery, error)
	// ListIncomingPage returns pending proposals against the caller's requests.
	ListIncomingPage(ctx context.Context, authorID string, page, size int) ([]domain.FulfillmentProposal, int64, error)
	// ListContributionsPage returns the caller's own proposals by status set.
	ListContributionsPage(ctx context.Context, volunteerID string, statuses []domain.FulfillmentStatus, page, size int) ([]domain.FulfillmentProposal, int64, error)
}

// DeliveryService defines courier-board operations consumed by HTTP handlers.
type DeliveryService interface {
	// Get fetches one delivery by id.
	Get(ctx context.Context, id string) (*domain.Delivery, error)
	// Take claims an available delivery for the courier.
	Take(ctx context.Context, id, courierID string) (*domain.Delivery, error)
	// Complete marks an in-progress delivery delivered by its courier.
	Complete(ctx context.Context, id, courierID string) error
	// ListAvailablePage returns the claimable board, optionally by route.
	ListAvailablePage(ctx context.Context, f repo.DeliveryFilter, page, size int) ([]domain.Delivery, int64, error)
	// ListMinePage returns the courier's in-progress deliveries.
	ListMinePage(ctx context.Context, courierID string, page, size int) ([]domain.Delivery, int64, error)
	// ListArchivePage returns the courier's completed deliveries.
	ListArchivePage(ctx context.Context, courierID string, page, size int) ([]domain.Delivery, int64, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for requests, fulfillments, and deliveries.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	reqSvc RequestService
	fulSvc FulfillmentService
	delSvc DeliveryService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(reqSvc RequestService, fulSvc FulfillmentService, delSvc DeliveryService) *Handlers {
	return &Handlers{reqSvc: reqSvc, fulSvc: fulSvc, delSvc: delSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateRequestBody is the JSON payload for creating a help request.
type CreateRequestBody struct {
	Title        string `json:"title" example:"Winter clothes for a family of four"`
	Description  string `json:"description" example:"Two adults, two kids (4 and 7)"`
	Category     string `json:"category" example:"CLOTHES"`
	Region       string `json:"region" example:"Kharkivska"`
	Settlement   string `json:"settlement" example:"Kharkiv"`
	DeliveryType string `json:"deliveryType" example:"VOLUNTEER_DELIVERY"`
	ContactPhone string `json:"contactPhone" example:"+380501234567"`
	PhotoURL     string `json:"photoUrl,omitempty" example:"https://cdn.example.com/p/abc.jpg"`
	Amount       int    `json:"amount" example:"4"`
	Priority     string `json:"priority" example:"HIGH"`
	// ValidUntil is RFC 3339; the request stops being listed as urgent-capable
	// past this instant.
	ValidUntil time.Time `json:"validUntil" example:"2026-12-31T00:00:00Z"`
}

// PageInfo carries pagination metadata for list responses. Number is
// 0-based.
type PageInfo struct {
	Number        int   `json:"number"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

// RequestsPage wraps a page of help requests and pagination information.
type RequestsPage struct {
	Content []domain.HelpRequest `json:"content"`
	Page    PageInfo             `json:"page"`
}

//
// Helpers
//

// clampPageParams parses and bounds `page` and `size` query params.
// Page is 0-based; size defaults to 10 and is capped at 100.
func clampPageParams(c *gin.Context) (page, size int) {
	const (
		defaultSize = 10
		maxSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), 0)
	if page < 0 {
		page = 0
	}
	size = utils.AtoiDefault(c.Query("size"), defaultSize)
	if size < 1 {
		size = 1
	}
	if size > maxSize {
		size = maxSize
	}
	return
}

// pageInfo builds the page envelope metadata from the exact total.
func pageInfo(page, size int, total int64) PageInfo {
	return PageInfo{
		Number:        page,
		Size:          size,
		TotalElements: total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
	}
}

// requestFilterFrom reads the browse-filter query params.
func requestFilterFrom(c *gin.Context) repo.RequestFilter {
	f := repo.RequestFilter{
		Category:     domain.HelpCategory(c.Query("category")),
		Region:       c.Query("region"),
		Settlement:   c.Query("settlement"),
		Priority:     domain.Priority(c.Query("priority")),
		DeliveryType: domain.DeliveryType(c.Query("deliveryType")),
		Status:       domain.RequestStatus(c.Query("status")),
		Urgent:       utils.BoolDefault(c.Query("isUrgent"), false),
	}
	if raw := c.Query("statuses"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, domain.RequestStatus(s))
			}
		}
	}
	return f
}

//
// Handlers
//

// CreateRequest godoc
// @ID          createRequest
// @Summary     Create a help request
// @Description Creates a request owned by the current user. All violated fields are reported together.
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateRequestBody  true  "Create request payload"
//
// @Success     201  {object}  domain.HelpRequest
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests [post]
func (h *Handlers) CreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	r, err := h.reqSvc.Create(c.Request.Context(), userID(c), services.CreateRequestInput{
		Title:        body.Title,
		Description:  body.Description,
		Category:     domain.HelpCategory(body.Category),
		Region:       body.Region,
		Settlement:   body.Settlement,
		DeliveryType: domain.DeliveryType(body.DeliveryType),
		ContactPhone: body.ContactPhone,
		PhotoURL:     body.PhotoURL,
		Amount:       body.Amount,
		Priority:     domain.Priority(body.Priority),
		ValidUntil:   body.ValidUntil,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, r)
}

// ListRequests godoc
// @ID          listRequests
// @Summary     Browse help requests
// @Description Returns a filtered page of requests, most recent first.
// @Tags        Requests
// @Produce     json
//
// @Param       category     query  string  false "Category"       Enums(FOOD,MEDICINE,HYGIENE,CLOTHES,ANIMALS,MILITARY,EQUIPMENT,TRANSPORT,OTHER)
// @Param       region       query  string  false "Region"
// @Param       settlement   query  string  false "Settlement"
// @Param       priority     query  string  false "Priority"       Enums(LOW,MEDIUM,HIGH,CRITICAL)
// @Param       deliveryType query  string  false "Delivery type"  Enums(SELF_PICKUP,VOLUNTEER_DELIVERY,POSTAL_DELIVERY)
// @Param       status       query  string  false "Status"         Enums(CREATED,IN_PROGRESS,COMPLETED,CANCELED)
// @Param       isUrgent     query  bool    false "Critical priority or expiring soon"
// @Param       page         query  int     false "Page number (0-based)"  minimum(0) default(0)
// @Param       size         query  int     false "Items per page"         minimum(1) maximum(100) default(10)
//
// @Success     200  {object} handlers.RequestsPage
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	page, size := clampPageParams(c)
	items, total, err := h.reqSvc.ListPage(c.Request.Context(), requestFilterFrom(c), page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, RequestsPage{Content: items, Page: pageInfo(page, size, total)})
}

// ListMyRequests godoc
// @ID          listMyRequests
// @Summary     List own help requests
// @Description Returns a page of the caller's requests. `statuses=CREATED,IN_PROGRESS` serves the active tab, `statuses=COMPLETED` the archive. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       statuses       query   string  false "Comma-separated status set"  example(CREATED,IN_PROGRESS)
// @Param       page           query   int     false "Page number (0-based)"       minimum(0) default(0)
// @Param       size           query   int     false "Items per page"              minimum(1) maximum(100) default(10)
//
// @Success     200  {object} handlers.RequestsPage
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests/me [get]
func (h *Handlers) ListMyRequests(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, size := clampPageParams(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, isConcrete := h.reqSvc.(*services.RequestService); isConcrete {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.RequestsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"requests:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.reqSvc.ListMinePage(ctx, uid, requestFilterFrom(c), page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, RequestsPage{Content: items, Page: pageInfo(page, size, total)})
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Fetch a help request
// @Tags        Requests
// @Produce     json
//
// @Param       id  path  string  true  "Request ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.HelpRequest
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Router      /requests/{id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}
	r, err := h.reqSvc.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// DeleteRequest godoc
// @ID          deleteRequest
// @Summary     Cancel a help request
// @Description Author-only. Pending proposals are canceled in the same transaction; approved or in-progress ones block the cancellation with 409.
// @Tags        Requests
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Request ID (UUID)"      format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     409  {object} handlers.ErrorResponse "Active commitments"
// @Router      /requests/{id} [delete]
func (h *Handlers) DeleteRequest(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}
	if err := h.reqSvc.Delete(c.Request.Context(), id, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// CompleteRequest godoc
// @ID          completeRequest
// @Summary     Complete a help request manually
// @Description Author-only. Marks the request COMPLETED regardless of the received amount; subsequent approvals on its proposals fail with 409.
// @Tags        Requests
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Request ID (UUID)"      format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     409  {object} handlers.ErrorResponse "Not open"
// @Router      /requests/{id}/complete [patch]
func (h *Handlers) CompleteRequest(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}
	if err := h.reqSvc.CompleteManually(c.Request.Context(), id, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
