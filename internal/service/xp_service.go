package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ritualmate/internal/cache"
	"github.com/ritualmate/internal/db"
	"gorm.io/gorm"
)

// ErrUserNotFound 在指定用户不存在时返回。
var ErrUserNotFound = errors.New("user not found")

// 经验与金币发放的基础数值。
const (
	// XPPerLevelBase 控制升级曲线：level = 1 + floor(sqrt(xp/100))。
	XPPerLevelBase = 100
	// CoinsPerLevelUp 为每升一级发放的金币数。
	CoinsPerLevelUp = 25
)

// XPService 维护经验账本与用户档案上的等级/金币，发徽章也归它管。
// 所有发放都会先落一条 XPTransaction 流水再改档案，保证可审计。
type XPService struct {
	db       *gorm.DB
	cache    *cache.Cache
	notifier *NotificationService
}

// NewXPService 构造 XPService。
func NewXPService(gdb *gorm.DB, c *cache.Cache, notifier *NotificationService) *XPService {
	return &XPService{db: gdb, cache: c, notifier: notifier}
}

// LevelForXP 根据累计经验计算等级。
func LevelForXP(xp int) int {
	if xp <= 0 {
		return 1
	}
	return 1 + int(math.Sqrt(float64(xp)/float64(XPPerLevelBase)))
}

// AddXP 为用户发放经验：写入账本流水、更新档案、处理升级与金币。
// amount<=0 时直接忽略。升级时附带一条站内通知（尽力而为）。
func (s *XPService) AddXP(userID uint, amount int, reason string, refID uint) error {
	if amount <= 0 {
		return nil
	}

	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}

	leveledUp := false
	newLevel := user.Level

	err := s.db.Transaction(func(tx *gorm.DB) error {
		entry := db.XPTransaction{UserID: userID, Amount: amount, Reason: reason, RefID: refID}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("append xp ledger: %w", err)
		}

		user.XP += amount
		newLevel = LevelForXP(user.XP)
		if newLevel > user.Level {
			leveledUp = true
			user.Coins += (newLevel - user.Level) * CoinsPerLevelUp
			user.Level = newLevel
		}

		if err := tx.Model(&db.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"xp":    user.XP,
			"level": user.Level,
			"coins": user.Coins,
		}).Error; err != nil {
			return fmt.Errorf("update user profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.UpdateLeaderboard(userID, user.XP)

	if leveledUp && s.notifier != nil {
		if err := s.notifier.Notify(userID, db.NotifTypeLevelUp, "升级啦",
			fmt.Sprintf("你已达到 %d 级，获得 %d 金币奖励", newLevel, CoinsPerLevelUp),
			map[string]interface{}{"level": newLevel}); err != nil {
			logSideEffect("level-up notify", err)
		}
	}
	return nil
}

// HasTransactionToday 查询今天是否已存在指定事由+关联实体的流水，
// 用于"每个里程碑每天至多发一次"的防重。today 应为当天零点。
func (s *XPService) HasTransactionToday(userID uint, reason string, refID uint, today time.Time) (bool, error) {
	var count int64
	if err := s.db.Model(&db.XPTransaction{}).
		Where("user_id = ? AND reason = ? AND ref_id = ?", userID, reason, refID).
		Where("created_at >= ?", db.NormalizeToDate(today)).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count xp transactions: %w", err)
	}
	return count > 0, nil
}

// AwardBadge 为用户发放徽章；同一徽章码只发一次，返回是否新发放。
func (s *XPService) AwardBadge(userID uint, code string) (bool, error) {
	var existing db.UserBadge
	err := s.db.Where("user_id = ? AND code = ?", userID, code).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("find badge: %w", err)
	}

	if err := s.db.Create(&db.UserBadge{UserID: userID, Code: code}).Error; err != nil {
		return false, fmt.Errorf("award badge: %w", err)
	}
	return true, nil
}

// Badges 返回用户已获得的全部徽章。
func (s *XPService) Badges(userID uint) ([]db.UserBadge, error) {
	var badges []db.UserBadge
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&badges).Error; err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	return badges, nil
}

// Ledger 返回用户最近的经验流水。
func (s *XPService) Ledger(userID uint, limit int) ([]db.XPTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []db.XPTransaction
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list xp ledger: %w", err)
	}
	return entries, nil
}
