package admin

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/db/repositories"
)

type fakeAuditLogs struct {
	logs    []*models.AuditLog
	err     error
	filters repositories.AuditFilters
	limit   int
	offset  int
}

func (f *fakeAuditLogs) ListAuditLogs(_ context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	f.filters, f.limit, f.offset = filters, limit, offset
	return f.logs, len(f.logs), f.err
}

func newAuditRouter(f *fakeAuditLogs) *gin.Engine {
	r := gin.New()
	r.GET("/audit-logs", NewAuditHandlers(f).ListAuditLogsHandler())
	return r
}

// ---------------------------------------------------------------------------
// ListAuditLogsHandler
// ---------------------------------------------------------------------------

func TestListAuditLogsHandler_Pagination(t *testing.T) {
	f := &fakeAuditLogs{logs: []*models.AuditLog{{ID: "log-1", Action: "POST /api/v1/api-keys", CreatedAt: time.Now()}}}
	w := perform(newAuditRouter(f), http.MethodGet, "/audit-logs?page=3&per_page=10", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if f.limit != 10 || f.offset != 20 {
		t.Errorf("limit/offset = %d/%d, want 10/20", f.limit, f.offset)
	}
	body := decode(t, w)
	if list, _ := body["audit_logs"].([]interface{}); len(list) != 1 {
		t.Errorf("audit_logs = %v, want 1 entry", body["audit_logs"])
	}
	pagination, _ := body["pagination"].(map[string]interface{})
	if pagination["total"] != float64(1) || pagination["page"] != float64(3) {
		t.Errorf("pagination = %v", pagination)
	}
}

func TestListAuditLogsHandler_ClampsPerPage(t *testing.T) {
	f := &fakeAuditLogs{}
	perform(newAuditRouter(f), http.MethodGet, "/audit-logs?page=0&per_page=500", nil)

	if f.limit != 20 || f.offset != 0 {
		t.Errorf("limit/offset = %d/%d, want 20/0", f.limit, f.offset)
	}
}

func TestListAuditLogsHandler_Filters(t *testing.T) {
	f := &fakeAuditLogs{}
	w := perform(newAuditRouter(f), http.MethodGet,
		"/audit-logs?user_id=user-1&action=DELETE+/api/v1/auth/tokens&since=2026-01-02T03:04:05Z", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if f.filters.UserID == nil || *f.filters.UserID != "user-1" {
		t.Errorf("UserID filter = %v", f.filters.UserID)
	}
	if f.filters.Action == nil || *f.filters.Action != "DELETE /api/v1/auth/tokens" {
		t.Errorf("Action filter = %v", f.filters.Action)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if f.filters.StartDate == nil || !f.filters.StartDate.Equal(want) {
		t.Errorf("StartDate filter = %v, want %v", f.filters.StartDate, want)
	}
}

func TestListAuditLogsHandler_Errors(t *testing.T) {
	w := perform(newAuditRouter(&fakeAuditLogs{}), http.MethodGet, "/audit-logs?since=yesterday", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad since: status = %d, want 422", w.Code)
	}

	w = perform(newAuditRouter(&fakeAuditLogs{err: errors.New("db down")}), http.MethodGet, "/audit-logs", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("repo error: status = %d, want 500", w.Code)
	}
}
