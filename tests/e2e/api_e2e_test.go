package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/cache"
	"github.com/ritualmate/internal/db"
	"github.com/ritualmate/internal/handler"
	"github.com/ritualmate/internal/router"
	"github.com/ritualmate/internal/service"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const baseURL = "http://example.test"

type e2eSuite struct {
	handler   http.Handler
	scheduler *service.StreakScheduler
}

// localClient 将请求直接打到内存中的 handler，带 cookie jar 维持会话。
type localClient struct {
	handler http.Handler
	jar     http.CookieJar
}

func newLocalClient(handler http.Handler) *localClient {
	jar, _ := cookiejar.New(nil)
	return &localClient{handler: handler, jar: jar}
}

func (c *localClient) do(method, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range c.jar.Cookies(req.URL) {
		req.AddCookie(cookie)
	}

	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	resp := w.Result()
	c.jar.SetCookies(req.URL, resp.Cookies())
	return resp, nil
}

func (c *localClient) doJSON(t *testing.T, method, path string, payload interface{}, wantStatus int) map[string]interface{} {
	t.Helper()

	resp, err := c.do(method, path, payload)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d (body: %s)", method, path, wantStatus, resp.StatusCode, raw)
	}

	if len(raw) == 0 {
		return nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", raw, err)
	}
	return decoded
}

func newE2ESuite(t *testing.T) *e2eSuite {
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

	disabledCache := cache.New("", "", 0)
	notifier := service.NewNotificationService(gdb, disabledCache, service.PushConfig{})
	engine := service.NewStreakEngine(gdb, notifier)
	scheduler := service.NewStreakScheduler(gdb, engine)

	api := handler.NewAPI(handler.Deps{
		DB:        gdb,
		Cache:     disabledCache,
		Scheduler: scheduler,
		UploadDir: t.TempDir(),
		UploadURL: "/static/uploads",
	})

	suite := &e2eSuite{
		handler:   router.SetupRouter(api, "test-session-secret"),
		scheduler: scheduler,
	}
	t.Cleanup(func() {
		scheduler.Stop()
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return suite
}

// register 注册并登录一个新用户，返回其已认证的客户端和用户 ID。
func (s *e2eSuite) register(t *testing.T, username string) (*localClient, uint) {
	t.Helper()

	client := newLocalClient(s.handler)
	profile := client.doJSON(t, http.MethodPost, "/api/v1/register", map[string]interface{}{
		"username":     username,
		"password":     "e2e-secret",
		"display_name": username,
	}, http.StatusCreated)

	id, ok := profile["id"].(float64)
	if !ok || id <= 0 {
		t.Fatalf("expected user id in register response, got %v", profile)
	}
	return client, uint(id)
}

func TestE2E_AuthAndRitualLifecycle(t *testing.T) {
	suite := newE2ESuite(t)
	client, _ := suite.register(t, "晨型人小王")

	// 未认证请求被拒绝
	anon := newLocalClient(suite.handler)
	anon.doJSON(t, http.MethodGet, "/api/v1/profile", nil, http.StatusUnauthorized)

	// 创建仪式
	ritual := client.doJSON(t, http.MethodPost, "/api/v1/rituals", map[string]interface{}{
		"name":          "晨跑 3 公里",
		"reminder_time": "07:00",
		"weekdays":      "mon,wed,fri",
		"steps":         1,
	}, http.StatusCreated)
	ritualID := uint(ritual["ID"].(float64))
	if suite.scheduler.Pending() != 1 {
		t.Fatalf("expected daily check registered, got %d", suite.scheduler.Pending())
	}

	// 非法提醒时间被拒绝
	client.doJSON(t, http.MethodPost, "/api/v1/rituals", map[string]interface{}{
		"name":          "坏仪式",
		"reminder_time": "25:61",
	}, http.StatusBadRequest)

	// 更新仪式
	updated := client.doJSON(t, http.MethodPut, fmt.Sprintf("/api/v1/rituals/%d", ritualID), map[string]interface{}{
		"name":          "晨跑 5 公里",
		"reminder_time": "06:30",
		"weekdays":      "mon,wed,fri",
		"steps":         1,
	}, http.StatusOK)
	if updated["Name"] != "晨跑 5 公里" {
		t.Fatalf("expected updated name, got %v", updated["Name"])
	}

	// 完整打卡
	client.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/rituals/%d/complete", ritualID), map[string]interface{}{
		"source": "manual",
	}, http.StatusCreated)

	// 档案上能看到经验与连胜
	profile := client.doJSON(t, http.MethodGet, "/api/v1/profile", nil, http.StatusOK)
	if xp := profile["xp"].(float64); xp < 60 {
		t.Fatalf("expected base + first-completion xp, got %v", xp)
	}
	if streak := profile["current_streak"].(float64); streak != 1 {
		t.Fatalf("expected personal streak 1, got %v", streak)
	}

	// 打卡日志可查
	logs := client.doJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/rituals/%d/logs", ritualID), nil, http.StatusOK)
	if entries := logs["logs"].([]interface{}); len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}

	// 删除后列表为空，定时器撤销
	client.doJSON(t, http.MethodDelete, fmt.Sprintf("/api/v1/rituals/%d", ritualID), nil, http.StatusOK)
	list := client.doJSON(t, http.MethodGet, "/api/v1/rituals", nil, http.StatusOK)
	if rituals := list["rituals"].([]interface{}); len(rituals) != 0 {
		t.Fatalf("expected empty ritual list, got %d", len(rituals))
	}
	if suite.scheduler.Pending() != 0 {
		t.Fatalf("expected timer cancelled after delete, got %d", suite.scheduler.Pending())
	}
}

func TestE2E_PartnershipFlow(t *testing.T) {
	suite := newE2ESuite(t)
	alice, _ := suite.register(t, "alice_e2e")
	bob, _ := suite.register(t, "bob_e2e")

	ritualA := alice.doJSON(t, http.MethodPost, "/api/v1/rituals", map[string]interface{}{
		"name":          "晚间阅读",
		"reminder_time": "21:00",
	}, http.StatusCreated)
	ritualAID := uint(ritualA["ID"].(float64))

	ritualB := bob.doJSON(t, http.MethodPost, "/api/v1/rituals", map[string]interface{}{
		"name":          "晚间写作",
		"reminder_time": "21:30",
	}, http.StatusCreated)
	ritualBID := uint(ritualB["ID"].(float64))

	// 签发并兑换邀请码
	invite := alice.doJSON(t, http.MethodPost, "/api/v1/partnerships/invite", map[string]interface{}{
		"ritual_id": ritualAID,
	}, http.StatusCreated)
	code := invite["code"].(string)
	if code == "" {
		t.Fatal("expected invite code")
	}

	// 自己兑换被拒绝
	alice.doJSON(t, http.MethodPost, "/api/v1/partnerships/redeem", map[string]interface{}{
		"ritual_id": ritualAID,
		"code":      code,
	}, http.StatusBadRequest)

	partnership := bob.doJSON(t, http.MethodPost, "/api/v1/partnerships/redeem", map[string]interface{}{
		"ritual_id": ritualBID,
		"code":      code,
	}, http.StatusCreated)
	partnershipID := uint(partnership["ID"].(float64))

	// 两个个人定时器换成一个搭档定时器
	if suite.scheduler.Pending() != 1 {
		t.Fatalf("expected a single partnership timer, got %d", suite.scheduler.Pending())
	}

	// 邀请方收到搭档成立通知
	notifications := alice.doJSON(t, http.MethodGet, "/api/v1/notifications", nil, http.StatusOK)
	if entries := notifications["notifications"].([]interface{}); len(entries) == 0 {
		t.Fatal("expected partner formed notification for inviter")
	}

	// 双方先后完整打卡，推进共同连胜
	alice.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/rituals/%d/complete", ritualAID), map[string]interface{}{}, http.StatusCreated)
	bob.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/rituals/%d/complete", ritualBID), map[string]interface{}{}, http.StatusCreated)

	detail := alice.doJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/partnerships/%d", partnershipID), nil, http.StatusOK)
	if streak := detail["CurrentStreak"].(float64); streak != 1 {
		t.Fatalf("expected joint streak 1, got %v", streak)
	}

	// 当天重复打卡不重复推进
	alice.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/rituals/%d/complete", ritualAID), map[string]interface{}{}, http.StatusCreated)
	detail = alice.doJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/partnerships/%d", partnershipID), nil, http.StatusOK)
	if streak := detail["CurrentStreak"].(float64); streak != 1 {
		t.Fatalf("same-day replay must not advance, got %v", streak)
	}

	// 使用搭档冻结券
	alice.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/partnerships/%d/freeze", partnershipID), nil, http.StatusOK)
	history := alice.doJSON(t, http.MethodGet, "/api/v1/freeze/history", nil, http.StatusOK)
	if entries := history["freeze_logs"].([]interface{}); len(entries) != 1 {
		t.Fatalf("expected 1 freeze log, got %d", len(entries))
	}

	// 外人不能解除搭档关系
	mallory, _ := suite.register(t, "mallory_e2e")
	mallory.doJSON(t, http.MethodDelete, fmt.Sprintf("/api/v1/partnerships/%d", partnershipID), nil, http.StatusForbidden)

	// 成员解除后恢复个人定时器
	bob.doJSON(t, http.MethodDelete, fmt.Sprintf("/api/v1/partnerships/%d", partnershipID), nil, http.StatusOK)
	if suite.scheduler.Pending() != 2 {
		t.Fatalf("expected solo timers restored, got %d", suite.scheduler.Pending())
	}

	// 删除仪式不再被搭档关系阻止
	alice.doJSON(t, http.MethodDelete, fmt.Sprintf("/api/v1/rituals/%d", ritualAID), nil, http.StatusOK)
}

func TestE2E_FriendsAndLeaderboard(t *testing.T) {
	suite := newE2ESuite(t)
	alice, aliceID := suite.register(t, "lb_alice_e2e")
	bob, bobID := suite.register(t, "lb_bob_e2e")

	// B 打一次卡攒经验
	ritualB := bob.doJSON(t, http.MethodPost, "/api/v1/rituals", map[string]interface{}{
		"name": "背单词",
	}, http.StatusCreated)
	bob.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/rituals/%d/complete", uint(ritualB["ID"].(float64))), map[string]interface{}{}, http.StatusCreated)

	alice.doJSON(t, http.MethodPost, "/api/v1/friends/request", map[string]interface{}{
		"user_id": bobID,
	}, http.StatusCreated)
	bob.doJSON(t, http.MethodPost, "/api/v1/friends/accept", map[string]interface{}{
		"user_id": aliceID,
	}, http.StatusOK)

	board := alice.doJSON(t, http.MethodGet, "/api/v1/leaderboard", nil, http.StatusOK)
	entries := board["leaderboard"].([]interface{})
	if len(entries) != 2 {
		t.Fatalf("expected 2 leaderboard entries, got %d", len(entries))
	}
	top := entries[0].(map[string]interface{})
	if uint(top["user_id"].(float64)) != bobID {
		t.Fatalf("expected bob on top, got %v", top)
	}
}
