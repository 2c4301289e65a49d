package service

import (
	"testing"
	"time"

	"github.com/ritualmate/internal/cache"
	"github.com/ritualmate/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupServiceTestDB 打开内存数据库并完成迁移，返回清理函数。
func setupServiceTestDB(t *testing.T) func() {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db.DB = gdb

	return func() {
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

// noCache 返回一个禁用状态的缓存实例。
func noCache() *cache.Cache {
	return cache.New("", "", 0)
}

func createTestUser(t *testing.T, username string) *db.User {
	t.Helper()
	user := db.User{Username: username, Password: "hashed", Level: 1, FreezeCount: 2}
	if err := db.DB.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return &user
}

func createTestRitual(t *testing.T, userID uint, name, reminder, weekdays string) *db.Ritual {
	t.Helper()
	ritual := db.Ritual{
		UserID:       userID,
		Name:         name,
		ReminderTime: reminder,
		Weekdays:     weekdays,
		Steps:        1,
	}
	if err := db.DB.Create(&ritual).Error; err != nil {
		t.Fatalf("failed to create ritual %s: %v", name, err)
	}
	return &ritual
}

func createTestPartnership(t *testing.T, ritualA, ritualB *db.Ritual) *db.Partnership {
	t.Helper()
	p := db.Partnership{
		RitualAID:   ritualA.ID,
		UserAID:     ritualA.UserID,
		RitualBID:   ritualB.ID,
		UserBID:     ritualB.UserID,
		FreezeCount: 2,
		Status:      db.PartnershipStatusActive,
	}
	if err := db.DB.Create(&p).Error; err != nil {
		t.Fatalf("failed to create partnership: %v", err)
	}
	return &p
}

func createFullCompletion(t *testing.T, ritualID, userID uint, at time.Time) {
	t.Helper()
	record := db.RitualLog{
		RitualID:    ritualID,
		UserID:      userID,
		StepIndex:   db.FullCompletionStep,
		Source:      "test",
		CompletedAt: at,
	}
	if err := db.DB.Create(&record).Error; err != nil {
		t.Fatalf("failed to create completion log: %v", err)
	}
}

func countNotifications(t *testing.T, userID uint, typeTag string) int64 {
	t.Helper()
	var count int64
	if err := db.DB.Model(&db.Notification{}).
		Where("user_id = ? AND type = ?", userID, typeTag).
		Count(&count).Error; err != nil {
		t.Fatalf("failed to count notifications: %v", err)
	}
	return count
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// testMonday 是一个固定的周一上午，避免用例受真实日期影响。
var testMonday = time.Date(2025, 3, 10, 10, 0, 0, 0, time.Local)
