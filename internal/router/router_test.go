package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/cache"
	"github.com/ritualmate/internal/db"
	"github.com/ritualmate/internal/handler"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	db.DB = gdb
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	api := handler.NewAPI(handler.Deps{
		DB:        gdb,
		Cache:     cache.New("", "", 0),
		UploadDir: t.TempDir(),
		UploadURL: "/static/uploads",
	})
	return SetupRouter(api, "test-secret")
}

func TestPing(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "pong") {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	r := newTestRouter(t)

	protected := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/profile"},
		{http.MethodGet, "/api/v1/rituals"},
		{http.MethodPost, "/api/v1/rituals/1/complete"},
		{http.MethodGet, "/api/v1/partnerships"},
		{http.MethodGet, "/api/v1/notifications"},
		{http.MethodGet, "/api/v1/leaderboard"},
		{http.MethodGet, "/api/v1/coach/messages"},
	}

	for _, route := range protected {
		req := httptest.NewRequest(route.method, route.path, nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 without session, got %d", route.method, route.path, rr.Code)
		}
	}
}
