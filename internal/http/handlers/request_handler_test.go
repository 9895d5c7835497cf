package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dopomoha/aid-backend/internal/domain"
	"github.com/dopomoha/aid-backend/internal/repo"
	"github.com/dopomoha/aid-backend/internal/services"
)

// ---------- test DB ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination.
	dsn := fmt.Sprintf("file:aid_handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&domain.HelpRequest{}, &domain.FulfillmentProposal{}, &domain.Delivery{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newDBHandlers(t *testing.T) (*Handlers, *gorm.DB) {
	t.Helper()
	db := newHandlerDB(t)
	h := New(
		services.NewRequestService(db),
		services.NewFulfillmentService(db),
		services.NewDeliveryService(db),
	)
	return h, db
}

func validRequestBody() map[string]any {
	return map[string]any{
		"title":        "Winter clothes",
		"description":  "For a family of four",
		"category":     "CLOTHES",
		"region":       "Kharkivska",
		"settlement":   "Kharkiv",
		"deliveryType": "VOLUNTEER_DELIVERY",
		"contactPhone": "+380501234567",
		"amount":       4,
		"priority":     "HIGH",
		"validUntil":   time.Now().UTC().Add(14 * 24 * time.Hour).Format(time.RFC3339),
	}
}

func jsonBody(t *testing.T, body any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	return &buf
}

func doJSON(t *testing.T, r *gin.Engine, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// createRequestHTTP posts a valid request as user and returns the decoded row.
func createRequestHTTP(t *testing.T, r *gin.Engine, user string, amount int) domain.HelpRequest {
	t.Helper()
	body := validRequestBody()
	body["amount"] = amount
	w := doJSON(t, r, http.MethodPost, "/requests", user, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create request -> %d body=%s", w.Code, w.Body.String())
	}
	var out domain.HelpRequest
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	return out
}

// ---------- helpers-only tests ----------

func Test_userID_and_clampPageParams(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rc := gin.CreateTestContextOnly(httptest.NewRecorder(), gin.New())
	if got := userID(rc); got != "demo-user" {
		t.Fatalf("fallback userID = %q", got)
	}
	rc.Set("userID", "u1")
	if got := userID(rc); got != "u1" {
		t.Fatalf("ctx userID = %q", got)
	}
	rc.Set("userID", 123) // wrong type falls through
	if got := userID(rc); got != "demo-user" {
		t.Fatalf("wrong-type fallback userID = %q", got)
	}

	cH, _ := gin.CreateTestContext(httptest.NewRecorder())
	reqH := httptest.NewRequest("GET", "/", nil)
	reqH.Header.Set("X-User-ID", "u-123")
	cH.Request = reqH
	if got := userID(cH); got != "u-123" {
		t.Fatalf("header fallback userID = %q", got)
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=-5&size=9999", nil)
	p, s := clampPageParams(c)
	if p != 0 || s != 100 {
		t.Fatalf("clamp bounds got p=%d s=%d", p, s)
	}
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=&size=0", nil)
	p, s = clampPageParams(c)
	if p != 0 || s != 1 {
		t.Fatalf("clamp defaults got p=%d s=%d", p, s)
	}
}

func Test_pageInfo(t *testing.T) {
	pi := pageInfo(2, 10, 21)
	if pi.Number != 2 || pi.Size != 10 || pi.TotalElements != 21 || pi.TotalPages != 3 {
		t.Fatalf("unexpected page info: %+v", pi)
	}
	if pi = pageInfo(0, 10, 0); pi.TotalPages != 0 {
		t.Fatalf("empty total pages: %+v", pi)
	}
}

// ---------- CreateRequest ----------

func TestCreateRequest_BadJSON_Validation_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newDBHandlers(t)
	r := gin.New()
	r.POST("/requests", h.CreateRequest)

	// Bad JSON -> 400 bad_request.
	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString("{bad"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json -> %d", w.Code)
	}

	// Validation failure -> 400 validation_failed with a fields array.
	bad := validRequestBody()
	bad["amount"] = 0
	bad["contactPhone"] = "nope"
	w = doJSON(t, r, http.MethodPost, "/requests", "u1", bad)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("validation -> %d body=%s", w.Code, w.Body.String())
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeValidationFailed || len(er.Fields) < 2 {
		t.Fatalf("unexpected error payload: %+v", er)
	}

	// Success -> 201 with engine-owned defaults.
	out := createRequestHTTP(t, r, "u1", 4)
	if out.AuthorID != "u1" || out.Status != domain.RequestCreated || out.ReceivedAmount != 0 {
		t.Fatalf("unexpected request: %+v", out)
	}
}

// ---------- GetRequest / DeleteRequest / CompleteRequest ----------

func TestRequestByID_NotUUID_NotFound_Forbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newDBHandlers(t)
	r := gin.New()
	r.POST("/requests", h.CreateRequest)
	r.GET("/requests/:id", h.GetRequest)
	r.DELETE("/requests/:id", h.DeleteRequest)
	r.PATCH("/requests/:id/complete", h.CompleteRequest)

	if w := doJSON(t, r, http.MethodGet, "/requests/not-a-uuid", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("non-uuid -> %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/requests/"+uuid.NewString(), "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing -> %d", w.Code)
	}

	created := createRequestHTTP(t, r, "author-1", 4)

	// Stranger cannot delete or complete.
	if w := doJSON(t, r, http.MethodDelete, "/requests/"+created.ID, "intruder", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger delete -> %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPatch, "/requests/"+created.ID+"/complete", "intruder", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger complete -> %d", w.Code)
	}

	// Author completes, then a second complete conflicts.
	if w := doJSON(t, r, http.MethodPatch, "/requests/"+created.ID+"/complete", "author-1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("complete -> %d", w.Code)
	}
	w := doJSON(t, r, http.MethodPatch, "/requests/"+created.ID+"/complete", "author-1", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("replayed complete -> %d", w.Code)
	}
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if er.Code != ErrCodeConflict {
		t.Fatalf("conflict code = %q", er.Code)
	}
}

func TestDeleteRequest_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newDBHandlers(t)
	r := gin.New()
	r.POST("/requests", h.CreateRequest)
	r.GET("/requests/:id", h.GetRequest)
	r.DELETE("/requests/:id", h.DeleteRequest)

	created := createRequestHTTP(t, r, "author-1", 4)
	if w := doJSON(t, r, http.MethodDelete, "/requests/"+created.ID, "author-1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete -> %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/requests/"+created.ID, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("after delete -> %d", w.Code)
	}
}

// ---------- ListRequests / ListMyRequests ----------

func TestListRequests_PageEnvelopeAndFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newDBHandlers(t)
	r := gin.New()
	r.POST("/requests", h.CreateRequest)
	r.GET("/requests", h.ListRequests)

	createRequestHTTP(t, r, "u1", 4)
	createRequestHTTP(t, r, "u2", 4)

	w := doJSON(t, r, http.MethodGet, "/requests?size=1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list -> %d", w.Code)
	}
	var page RequestsPage
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(page.Content) != 1 || page.Page.TotalElements != 2 || page.Page.TotalPages != 2 || page.Page.Number != 0 {
		t.Fatalf("unexpected envelope: %+v", page.Page)
	}

	// Server-side filter.
	w = doJSON(t, r, http.MethodGet, "/requests?category=FOOD", "", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if page.Page.TotalElements != 0 {
		t.Fatalf("expected no FOOD requests, got %d", page.Page.TotalElements)
	}
}

func TestListMyRequests_ETag304(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newDBHandlers(t)
	r := gin.New()
	r.POST("/requests", h.CreateRequest)
	r.GET("/requests/me", h.ListMyRequests)

	createRequestHTTP(t, r, "u1", 4)

	w := doJSON(t, r, http.MethodGet, "/requests/me", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("first fetch -> %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag on my-requests listing")
	}

	req := httptest.NewRequest(http.MethodGet, "/requests/me", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("matching etag -> %d", w.Code)
	}

	// Another author's listing never matches this tag.
	req = httptest.NewRequest(http.MethodGet, "/requests/me", nil)
	req.Header.Set("X-User-ID", "u2")
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("other user with stale etag -> %d", w.Code)
	}
}

// ---------- stub-backed error paths ----------

type stubReqSvc struct {
	create func(context.Context, string, services.CreateRequestInput) (*domain.HelpRequest, error)
	get    func(context.Context, string) (*domain.HelpRequest, error)
}

func (s stubReqSvc) Create(ctx context.Context, u string, in services.CreateRequestInput) (*domain.HelpRequest, error) {
	if s.create != nil {
		return s.create(ctx, u, in)
	}
	return &domain.HelpRequest{ID: uuid.NewString(), AuthorID: u}, nil
}
func (s stubReqSvc) Get(ctx context.Context, id string) (*domain.HelpRequest, error) {
	if s.get != nil {
		return s.get(ctx, id)
	}
	return &domain.HelpRequest{ID: id}, nil
}
func (stubReqSvc) Delete(context.Context, string, string) error           { return nil }
func (stubReqSvc) CompleteManually(context.Context, string, string) error { return nil }
func (stubReqSvc) ListPage(context.Context, repo.RequestFilter, int, int) ([]domain.HelpRequest, int64, error) {
	return nil, 0, nil
}
func (stubReqSvc) ListMinePage(context.Context, string, repo.RequestFilter, int, int) ([]domain.HelpRequest, int64, error) {
	return nil, 0, nil
}

type stubFulSvc struct{}

func (stubFulSvc) Create(context.Context, string, string, services.CreateProposalInput) (*domain.FulfillmentProposal, error) {
	return nil, nil
}
func (stubFulSvc) Approve(context.Context, string, string) error  { return nil }
func (stubFulSvc) Reject(context.Context, string, string) error   { return nil }
func (stubFulSvc) Complete(context.Context, string, string) error { return nil }
func (stubFulSvc) AttachParcel(context.Context, string, string, float64, *float64, *float64, *float64, string) (*domain.Delivery, error) {
	return nil, nil
}
func (stubFulSvc) ListIncomingPage(context.Context, string, int, int) ([]domain.FulfillmentProposal, int64, error) {
	return nil, 0, nil
}
func (stubFulSvc) ListContributionsPage(context.Context, string, []domain.FulfillmentStatus, int, int) ([]domain.FulfillmentProposal, int64, error) {
	return nil, 0, nil
}

type stubDelSvc struct{}

func (stubDelSvc) Get(context.Context, string) (*domain.Delivery, error)           { return nil, nil }
func (stubDelSvc) Take(context.Context, string, string) (*domain.Delivery, error)  { return nil, nil }
func (stubDelSvc) Complete(context.Context, string, string) error                  { return nil }
func (stubDelSvc) ListAvailablePage(context.Context, repo.DeliveryFilter, int, int) ([]domain.Delivery, int64, error) {
	return nil, 0, nil
}
func (stubDelSvc) ListMinePage(context.Context, string, int, int) ([]domain.Delivery, int64, error) {
	return nil, 0, nil
}
func (stubDelSvc) ListArchivePage(context.Context, string, int, int) ([]domain.Delivery, int64, error) {
	return nil, 0, nil
}

func TestGetRequest_InternalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	errSvc := stubReqSvc{
		get: func(context.Context, string) (*domain.HelpRequest, error) {
			return nil, gorm.ErrInvalidField
		},
	}
	h := New(errSvc, stubFulSvc{}, stubDelSvc{})
	r := gin.New()
	r.GET("/requests/:id", h.GetRequest)

	w := doJSON(t, r, http.MethodGet, "/requests/"+uuid.NewString(), "", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("internal -> %d", w.Code)
	}
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if er.Code != ErrCodeInternal {
		t.Fatalf("code = %q", er.Code)
	}
}
