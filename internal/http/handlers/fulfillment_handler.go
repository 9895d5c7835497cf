// Fulfillment proposal HTTP handlers.
//
// This file exposes REST endpoints for proposal resources:
//   - POST  /fulfillments/requests/{requestId}  (propose, idempotent retries)
//   - GET   /fulfillments/incoming              (requester's inbox)
//   - GET   /fulfillments/contributions         (volunteer's own, by status set)
//   - PATCH /fulfillments/{id}/approve
//   - PATCH /fulfillments/{id}/reject
//   - PATCH /fulfillments/{id}/complete
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// proposal exists for (user, request, key), the handler replays the stored
// proposal and sets `Idempotency-Replayed: true`.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dopomoha/aid-backend/internal/domain"
	"github.com/dopomoha/aid-backend/internal/repo"
	"github.com/dopomoha/aid-backend/internal/services"
)

//
// DTOs
//

// CreateProposalBody is the JSON payload for submitting a proposal.
type CreateProposalBody struct {
	// Amount is the offered quantity (1..remaining capacity).
	Amount int `json:"amount" example:"3"`
	// Comment optionally describes the offer.
	Comment string `json:"comment" example:"Can bring them Saturday morning"`
	// Region and Settlement locate the pickup point.
	Region     string `json:"region" example:"Lvivska"`
	Settlement string `json:"settlement" example:"Lviv"`
	// NeedsCourier asks for third-party transport; only meaningful for
	// VOLUNTEER_DELIVERY requests.
	NeedsCourier bool `json:"needsCourier" example:"true"`
}

// FulfillmentsPage wraps a page of proposals and pagination information.
type FulfillmentsPage struct {
	Content []domain.FulfillmentProposal `json:"content"`
	Page    PageInfo                     `json:"page"`
}

// contributionStatusSets maps the tab query param to a status set. The
// default (empty) means every status.
var contributionStatusSets = map[string][]domain.FulfillmentStatus{
	"active":  {domain.FulfillmentPending, domain.FulfillmentInProgress},
	"archive": {domain.FulfillmentCompleted, domain.FulfillmentRejected, domain.FulfillmentCanceled},
}

// parseStatusSet resolves ?status= into a fulfillment status set. Accepts
// the tab shorthands ("active", "archive") or a comma-separated list of
// status names; unknown names are ignored.
func parseStatusSet(raw string) []domain.FulfillmentStatus {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if set, found := contributionStatusSets[strings.ToLower(raw)]; found {
		return set
	}
	var out []domain.FulfillmentStatus
	for _, s := range strings.Split(raw, ",") {
		st := domain.FulfillmentStatus(strings.ToUpper(strings.TrimSpace(s)))
		switch st {
		case domain.FulfillmentPending, domain.FulfillmentApproved, domain.FulfillmentInProgress,
			domain.FulfillmentCompleted, domain.FulfillmentRejected, domain.FulfillmentCanceled:
			out = append(out, st)
		}
	}
	return out
}

// idempotencyKey extracts an idempotency key if an upstream middleware has
// already validated/stashed it. The fallback behavior reads the
// "Idempotency-Key" header directly when no dedicated middleware exists.
func idempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

//
// Handlers
//

// CreateProposal godoc
// @ID          createProposal
// @Summary     Propose to fulfill a request
// @Description Submits a volunteer's offer toward a request. Supports idempotency via the Idempotency-Key header (same key → same proposal).
// @Tags        Fulfillments
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       requestId        path    string  true  "Request ID (UUID)"  format(uuid)
// @Param       body             body    handlers.CreateProposalBody  true  "Proposal payload"
//
// @Success     201  {object} domain.FulfillmentProposal
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     409  {object} handlers.ErrorResponse "Request closed / own request"
// @Router      /fulfillments/requests/{requestId} [post]
func (h *Handlers) CreateProposal(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := c.Param("requestId")

	if _, err := uuid.Parse(requestID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}

	var body CreateProposalBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := idempotencyKey(c)
	if idemKey != "" {
		if svc, isConcrete := h.fulSvc.(*services.FulfillmentService); isConcrete && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, requestID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetFulfillment(ctx, svc.DB, rec.FulfillmentID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusCreated, prev)
					return
				}
			}
		}
	}

	f, err := h.fulSvc.Create(ctx, requestID, currentUser, services.CreateProposalInput{
		Amount:       body.Amount,
		Comment:      body.Comment,
		Region:       body.Region,
		Settlement:   body.Settlement,
		NeedsCourier: body.NeedsCourier,
	})
	if err != nil {
		failErr(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, isConcrete := h.fulSvc.(*services.FulfillmentService); isConcrete && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, requestID, idemKey, f.ID, http.StatusCreated, ttl)
		}
	}

	ok(c, http.StatusCreated, f)
}

// ListIncoming godoc
// @ID          listIncoming
// @Summary     List pending proposals against own requests
// @Description The requester's inbox: PENDING proposals waiting for an approve/reject decision.
// @Tags        Fulfillments
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"   example(user123)
// @Param       page       query   int     false "Page number (0-based)"   minimum(0) default(0)
// @Param       size       query   int     false "Items per page"          minimum(1) maximum(100) default(10)
//
// @Success     200  {object} handlers.FulfillmentsPage
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /fulfillments/incoming [get]
func (h *Handlers) ListIncoming(c *gin.Context) {
	page, size := clampPageParams(c)
	items, total, err := h.fulSvc.ListIncomingPage(c.Request.Context(), userID(c), page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, FulfillmentsPage{Content: items, Page: pageInfo(page, size, total)})
}

// ListContributions godoc
// @ID          listContributions
// @Summary     List own proposals
// @Description The volunteer's proposals filtered by status set: `status=active` (PENDING, IN_PROGRESS), `status=archive` (COMPLETED, REJECTED, CANCELED), or an explicit comma-separated list.
// @Tags        Fulfillments
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"                    example(user123)
// @Param       status     query   string  false "Status set: active, archive, or a list"   example(active)
// @Param       page       query   int     false "Page number (0-based)"                    minimum(0) default(0)
// @Param       size       query   int     false "Items per page"                           minimum(1) maximum(100) default(10)
//
// @Success     200  {object} handlers.FulfillmentsPage
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /fulfillments/contributions [get]
func (h *Handlers) ListContributions(c *gin.Context) {
	page, size := clampPageParams(c)
	statuses := parseStatusSet(c.Query("status"))
	items, total, err := h.fulSvc.ListContributionsPage(c.Request.Context(), userID(c), statuses, page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, FulfillmentsPage{Content: items, Page: pageInfo(page, size, total)})
}

// ApproveProposal godoc
// @ID          approveProposal
// @Summary     Approve a pending proposal
// @Description Author-only. Atomically commits the proposal's amount to the request; an approval that would exceed the requested amount fails with 409 and changes nothing.
// @Tags        Fulfillments
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"     example(user123)
// @Param       id         path    string  true  "Fulfillment ID (UUID)"     format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Fulfillment not found"
// @Failure     409  {object} handlers.ErrorResponse "Not pending / request closed / insufficient capacity"
// @Router      /fulfillments/{id}/approve [patch]
func (h *Handlers) ApproveProposal(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "fulfillment id must be a UUID")
		return
	}
	if err := h.fulSvc.Approve(c.Request.Context(), id, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// RejectProposal godoc
// @ID          rejectProposal
// @Summary     Reject a pending proposal
// @Description Author-only. The request's received amount is unaffected.
// @Tags        Fulfillments
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"     example(user123)
// @Param       id         path    string  true  "Fulfillment ID (UUID)"     format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Fulfillment not found"
// @Failure     409  {object} handlers.ErrorResponse "Not pending"
// @Router      /fulfillments/{id}/reject [patch]
func (h *Handlers) RejectProposal(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "fulfillment id must be a UUID")
		return
	}
	if err := h.fulSvc.Reject(c.Request.Context(), id, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// CompleteProposal godoc
// @ID          completeProposal
// @Summary     Confirm receipt of an in-progress fulfillment
// @Description Author-only. For courier-mediated fulfillments the courier's delivery completion is authoritative; until it lands this returns 409.
// @Tags        Fulfillments
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"     example(user123)
// @Param       id         path    string  true  "Fulfillment ID (UUID)"     format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Fulfillment not found"
// @Failure     409  {object} handlers.ErrorResponse "Not in progress / courier step pending"
// @Router      /fulfillments/{id}/complete [patch]
func (h *Handlers) CompleteProposal(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "fulfillment id must be a UUID")
		return
	}
	if err := h.fulSvc.Complete(c.Request.Context(), id, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
