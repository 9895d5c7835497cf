package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dopomoha/aid-backend/internal/domain"
	"github.com/dopomoha/aid-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:aidsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")
	// One connection keeps concurrent test transactions serialized at the
	// pool instead of surfacing SQLITE_BUSY.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&domain.HelpRequest{}, &domain.FulfillmentProposal{}, &domain.Delivery{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func validCreateInput() CreateRequestInput {
	return CreateRequestInput{
		Title:        "Winter clothes",
		Description:  "Family of four",
		Category:     domain.CategoryClothes,
		Region:       "Kharkivska",
		Settlement:   "Kharkiv",
		DeliveryType: domain.DeliveryVolunteer,
		ContactPhone: "+380501234567",
		Amount:       4,
		Priority:     domain.PriorityHigh,
		ValidUntil:   time.Now().UTC().Add(30 * 24 * time.Hour),
	}
}

// seedRequest creates a request directly through the service.
func seedRequest(t *testing.T, db *gorm.DB, authorID string, amount int) *domain.HelpRequest {
	t.Helper()
	in := validCreateInput()
	in.Amount = amount
	r, err := NewRequestService(db).Create(context.Background(), authorID, in)
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return r
}

func TestRequest_Create_ReportsAllViolations(t *testing.T) {
	db := newTestDB(t)
	svc := NewRequestService(db)

	_, err := svc.Create(context.Background(), "u1", CreateRequestInput{
		Title:        "  ",
		Description:  "",
		Category:     "SNACKS",
		Region:       "",
		Settlement:   "",
		DeliveryType: "TELEPORT",
		ContactPhone: "0501234567", // missing leading +countrycode
		Amount:       0,
		Priority:     "URGENT-ISH",
		ValidUntil:   time.Now().UTC().Add(-time.Hour),
	})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	want := []string{"title", "description", "category", "region", "settlement", "deliveryType", "contactPhone", "amount", "priority", "validUntil"}
	if len(ve.Fields) != len(want) {
		t.Fatalf("expected %d violations, got %d: %v", len(want), len(ve.Fields), ve.Fields)
	}
	seen := map[string]bool{}
	for _, f := range ve.Fields {
		seen[f.Field] = true
	}
	for _, f := range want {
		if !seen[f] {
			t.Fatalf("missing violation for %q in %v", f, ve.Fields)
		}
	}
}

func TestRequest_Create_Success_NormalizesAndDefaults(t *testing.T) {
	db := newTestDB(t)
	svc := NewRequestService(db)

	in := validCreateInput()
	in.Title = "  winter   clothes "
	in.Region = "  kharkivska  "
	in.Settlement = "kharkiv"

	r, err := svc.Create(context.Background(), "author-1", in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ID == "" {
		t.Fatalf("expected generated ID")
	}
	if r.Status != domain.RequestCreated || r.ReceivedAmount != 0 {
		t.Fatalf("expected CREATED/0, got %s/%d", r.Status, r.ReceivedAmount)
	}
	if r.Title != "winter clothes" {
		t.Fatalf("title not collapsed: %q", r.Title)
	}
	if r.Region != "Kharkivska" || r.Settlement != "Kharkiv" {
		t.Fatalf("place not normalized: %q / %q", r.Region, r.Settlement)
	}
}

func TestRequest_Get_NotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewRequestService(db)

	if _, err := svc.Get(context.Background(), uuid.NewString()); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestRequest_Delete_ForbiddenForNonAuthor(t *testing.T) {
	db := newTestDB(t)
	svc := NewRequestService(db)
	r := seedRequest(t, db, "author-1", 4)

	if err := svc.Delete(context.Background(), r.ID, "someone-else"); !errors.Is(err, ErrNotAuthor) {
		t.Fatalf("expected ErrNotAuthor, got %v", err)
	}
}

func TestRequest_Delete_CancelsPendingProposals(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	reqSvc := NewRequestService(db)
	fulSvc := NewFulfillmentService(db)

	r := seedRequest(t, db, "author-1", 4)
	f, err := fulSvc.Create(ctx, r.ID, "vol-1", CreateProposalInput{Amount: 2, Region: "Lvivska", Settlement: "Lviv"})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	if err := reqSvc.Delete(ctx, r.ID, "author-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Proposal cascaded to CANCELED.
	var got domain.FulfillmentProposal
	if err := db.Where("id = ?", f.ID).First(&got).Error; err != nil {
		t.Fatalf("load proposal: %v", err)
	}
	if got.Status != domain.FulfillmentCanceled {
		t.Fatalf("expected CANCELED, got %s", got.Status)
	}

	// Request soft-deleted with CANCELED status.
	var gone domain.HelpRequest
	if err := db.Where("id = ?", r.ID).First(&gone).Error; !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected soft-deleted request, got err=%v", err)
	}
	var raw domain.HelpRequest
	if err := db.Unscoped().Where("id = ?", r.ID).First(&raw).Error; err != nil {
		t.Fatalf("load unscoped: %v", err)
	}
	if raw.Status != domain.RequestCanceled {
		t.Fatalf("expected CANCELED, got %s", raw.Status)
	}
}

func TestRequest_Delete_BlockedByActiveCommitment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	reqSvc := NewRequestService(db)
	fulSvc := NewFulfillmentService(db)

	r := seedRequest(t, db, "author-1", 4)
	f, err := fulSvc.Create(ctx, r.ID, "vol-1", CreateProposalInput{Amount: 2, Region: "Lvivska", Settlement: "Lviv"})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if err := fulSvc.Approve(ctx, f.ID, "author-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := reqSvc.Delete(ctx, r.ID, "author-1"); !errors.Is(err, ErrActiveCommitments) {
		t.Fatalf("expected ErrActiveCommitments, got %v", err)
	}
}

func TestRequest_CompleteManually_BlocksLaterApprovals(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	reqSvc := NewRequestService(db)
	fulSvc := NewFulfillmentService(db)

	r := seedRequest(t, db, "author-1", 10)
	f, err := fulSvc.Create(ctx, r.ID, "vol-1", CreateProposalInput{Amount: 3, Region: "Lvivska", Settlement: "Lviv"})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	if err := reqSvc.CompleteManually(ctx, r.ID, "author-1"); err != nil {
		t.Fatalf("CompleteManually: %v", err)
	}
	got, err := reqSvc.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.RequestCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
	// Received amount untouched by the manual edge.
	if got.ReceivedAmount != 0 {
		t.Fatalf("expected receivedAmount 0, got %d", got.ReceivedAmount)
	}

	if err := fulSvc.Approve(ctx, f.ID, "author-1"); !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("expected ErrRequestClosed for approval after manual complete, got %v", err)
	}
}

func TestRequest_CompleteManually_TerminalIsConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewRequestService(db)
	r := seedRequest(t, db, "author-1", 4)

	if err := svc.CompleteManually(ctx, r.ID, "author-1"); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if err := svc.CompleteManually(ctx, r.ID, "author-1"); !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("expected ErrRequestClosed on second complete, got %v", err)
	}
}

func TestRequest_ListPage_FiltersAndPaginates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewRequestService(db)

	for i := 0; i < 3; i++ {
		in := validCreateInput()
		in.Category = domain.CategoryFood
		if _, err := svc.Create(ctx, "author-1", in); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	in := validCreateInput()
	in.Category = domain.CategoryMedicine
	if _, err := svc.Create(ctx, "author-2", in); err != nil {
		t.Fatalf("seed medicine: %v", err)
	}

	items, total, err := svc.ListPage(ctx, repo.RequestFilter{Category: domain.CategoryFood}, 0, 2)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("expected total=3 page=2, got total=%d page=%d", total, len(items))
	}

	items, total, err = svc.ListPage(ctx, repo.RequestFilter{Category: domain.CategoryFood}, 1, 2)
	if err != nil {
		t.Fatalf("ListPage p1: %v", err)
	}
	if total != 3 || len(items) != 1 {
		t.Fatalf("expected total=3 last page=1, got total=%d page=%d", total, len(items))
	}
}

func TestRequest_ListPage_UrgentFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewRequestService(db)

	// Critical priority: urgent regardless of deadline.
	in := validCreateInput()
	in.Priority = domain.PriorityCritical
	in.ValidUntil = time.Now().UTC().Add(365 * 24 * time.Hour)
	if _, err := svc.Create(ctx, "a", in); err != nil {
		t.Fatalf("seed critical: %v", err)
	}
	// Low priority, expiring within the window: urgent.
	in = validCreateInput()
	in.Priority = domain.PriorityLow
	in.ValidUntil = time.Now().UTC().Add(24 * time.Hour)
	if _, err := svc.Create(ctx, "a", in); err != nil {
		t.Fatalf("seed expiring: %v", err)
	}
	// Low priority, far deadline: not urgent.
	in = validCreateInput()
	in.Priority = domain.PriorityLow
	in.ValidUntil = time.Now().UTC().Add(365 * 24 * time.Hour)
	if _, err := svc.Create(ctx, "a", in); err != nil {
		t.Fatalf("seed calm: %v", err)
	}

	_, total, err := svc.ListPage(ctx, repo.RequestFilter{Urgent: true}, 0, 10)
	if err != nil {
		t.Fatalf("ListPage urgent: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 urgent requests, got %d", total)
	}
}

func TestRequest_ListMinePage_StatusTabs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewRequestService(db)

	active := seedRequest(t, db, "author-1", 4)
	done := seedRequest(t, db, "author-1", 4)
	seedRequest(t, db, "author-2", 4) // other user, must not appear

	if err := svc.CompleteManually(ctx, done.ID, "author-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	items, total, err := svc.ListMinePage(ctx, "author-1", repo.RequestFilter{
		Statuses: []domain.RequestStatus{domain.RequestCreated, domain.RequestInProgress},
	}, 0, 10)
	if err != nil {
		t.Fatalf("ListMinePage active: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != active.ID {
		t.Fatalf("expected only the active request, got total=%d", total)
	}

	_, total, err = svc.ListMinePage(ctx, "author-1", repo.RequestFilter{
		Statuses: []domain.RequestStatus{domain.RequestCompleted},
	}, 0, 10)
	if err != nil {
		t.Fatalf("ListMinePage archive: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 archived request, got %d", total)
	}
}

func TestRequest_Delete_GetUnexpectedDBError(t *testing.T) {
	db := newTestDB(t)

	// Inject a query-time error ONLY for the "help_requests" table.
	if err := db.Callback().Query().Before("gorm:query").Register("force_err_on_requests", func(tx *gorm.DB) {
		if tx.Statement != nil && strings.Contains(tx.Statement.Table, "help_requests") {
			tx.AddError(errors.New("forced-getrequest-error"))
		}
	}); err != nil {
		t.Fatalf("register query callback: %v", err)
	}

	svc := NewRequestService(db)
	err := svc.Delete(context.Background(), uuid.NewString(), "u1")
	if err == nil {
		t.Fatalf("expected error from forced query callback; got nil")
	}
	// MUST NOT be mapped to a sentinel; it should bubble the raw error.
	if errors.Is(err, ErrRequestNotFound) || errors.Is(err, ErrNotAuthor) {
		t.Fatalf("unexpected mapping to sentinel: %v", err)
	}
}

func Test_normalizePlace_and_collapse(t *testing.T) {
	if got := collapse("  a   b \t c "); got != "a b c" {
		t.Fatalf("collapse: %q", got)
	}
	if got := normalizePlace("  new   york "); got != "New York" {
		t.Fatalf("normalizePlace: %q", got)
	}
	if got := normalizePlace("   "); got != "" {
		t.Fatalf("normalizePlace empty: %q", got)
	}
}

func Test_clampPage(t *testing.T) {
	cases := []struct {
		inPage, inSize   int
		outPage, outSize int
	}{
		{-1, 0, 0, 10},
		{0, 10, 0, 10},
		{3, 1000, 3, 100},
		{2, -5, 2, 10},
	}
	for _, c := range cases {
		p, s := clampPage(c.inPage, c.inSize)
		if p != c.outPage || s != c.outSize {
			t.Fatalf("clampPage(%d,%d) = (%d,%d); want (%d,%d)", c.inPage, c.inSize, p, s, c.outPage, c.outSize)
		}
	}
}
