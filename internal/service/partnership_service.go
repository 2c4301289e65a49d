package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ritualmate/internal/db"
	"gorm.io/gorm"
)

var (
	// ErrInviteNotFound 在邀请码不存在或已失效时返回
	ErrInviteNotFound = errors.New("invite not found or no longer valid")
	// ErrInviteExpired 在邀请码过期时返回
	ErrInviteExpired = errors.New("invite has expired")
	// ErrInviteSelfRedeem 在兑换自己的邀请码时返回
	ErrInviteSelfRedeem = errors.New("cannot redeem your own invite")
	// ErrPartnershipNotFound 在搭档关系不存在时返回
	ErrPartnershipNotFound = errors.New("partnership not found")
	// ErrPartnershipNotMember 在非成员操作搭档关系时返回
	ErrPartnershipNotMember = errors.New("user is not part of this partnership")
	// ErrNoFreezeAvailable 在冻结券用尽时返回
	ErrNoFreezeAvailable = errors.New("no freeze available")
)

// inviteTTL 为邀请码的有效期。
const inviteTTL = 48 * time.Hour

// PartnershipService 管理搭档关系的完整生命周期：
// 邀请码签发与兑换、关系建立/解除、冻结券的显式消耗与补充。
// 建立/解除会联动调度器在个人定时器与搭档定时器之间切换。
type PartnershipService struct {
	db        *gorm.DB
	scheduler *StreakScheduler
	notifier  *NotificationService

	now func() time.Time
}

// NewPartnershipService 构造 PartnershipService，scheduler 可为 nil（测试场景）。
func NewPartnershipService(gdb *gorm.DB, scheduler *StreakScheduler, notifier *NotificationService) *PartnershipService {
	return &PartnershipService{db: gdb, scheduler: scheduler, notifier: notifier, now: time.Now}
}

// SetClock 覆盖时间源，主要用于测试。
func (s *PartnershipService) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// FindActiveByRitual 返回包含该仪式的活跃搭档关系，不存在时返回 (nil, nil)。
func (s *PartnershipService) FindActiveByRitual(ritualID uint) (*db.Partnership, error) {
	var p db.Partnership
	err := s.db.Where("status = ?", db.PartnershipStatusActive).
		Where("ritual_a_id = ? OR ritual_b_id = ?", ritualID, ritualID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find partnership: %w", err)
	}
	return &p, nil
}

// ListByUser 返回用户参与的全部搭档关系（含已结束）。
func (s *PartnershipService) ListByUser(userID uint) ([]db.Partnership, error) {
	var partnerships []db.Partnership
	if err := s.db.Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&partnerships).Error; err != nil {
		return nil, fmt.Errorf("list partnerships: %w", err)
	}
	return partnerships, nil
}

// Get 返回搭档关系并校验成员身份。
func (s *PartnershipService) Get(userID, partnershipID uint) (*db.Partnership, error) {
	var p db.Partnership
	if err := s.db.First(&p, partnershipID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPartnershipNotFound
		}
		return nil, fmt.Errorf("get partnership: %w", err)
	}
	if p.UserAID != userID && p.UserBID != userID {
		return nil, ErrPartnershipNotMember
	}
	return &p, nil
}

// CreateInvite 为仪式签发一个 48 小时有效的邀请码。
// 前提：调用者拥有该仪式，且仪式当前没有活跃搭档。
func (s *PartnershipService) CreateInvite(userID, ritualID uint) (*db.PartnershipInvite, error) {
	var ritual db.Ritual
	if err := s.db.First(&ritual, ritualID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRitualNotFound
		}
		return nil, fmt.Errorf("load ritual: %w", err)
	}
	if ritual.UserID != userID {
		return nil, ErrRitualNotOwned
	}

	existing, err := s.FindActiveByRitual(ritualID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrRitualPartnered
	}

	invite := db.PartnershipInvite{
		Code:      uuid.New().String(),
		RitualID:  ritualID,
		UserID:    userID,
		ExpiresAt: s.now().Add(inviteTTL),
		Status:    db.InviteStatusPending,
	}
	if err := s.db.Create(&invite).Error; err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}
	return &invite, nil
}

// RedeemInvite 用邀请码将自己的仪式与邀请方的仪式绑定为搭档。
// 双方必须是不同用户，且两侧仪式都没有活跃搭档。成功后邀请置为
// accepted、搭档定时器接管两侧的个人定时器，并通知邀请方。
func (s *PartnershipService) RedeemInvite(userID, ritualID uint, code string) (*db.Partnership, error) {
	var invite db.PartnershipInvite
	if err := s.db.Where("code = ? AND status = ?", code, db.InviteStatusPending).First(&invite).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("load invite: %w", err)
	}
	if s.now().After(invite.ExpiresAt) {
		return nil, ErrInviteExpired
	}
	if invite.UserID == userID {
		return nil, ErrInviteSelfRedeem
	}

	var ritual db.Ritual
	if err := s.db.First(&ritual, ritualID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRitualNotFound
		}
		return nil, fmt.Errorf("load ritual: %w", err)
	}
	if ritual.UserID != userID {
		return nil, ErrRitualNotOwned
	}

	for _, rid := range []uint{invite.RitualID, ritualID} {
		existing, err := s.FindActiveByRitual(rid)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrRitualPartnered
		}
	}

	p := db.Partnership{
		RitualAID:   invite.RitualID,
		UserAID:     invite.UserID,
		RitualBID:   ritualID,
		UserBID:     userID,
		FreezeCount: 2,
		Status:      db.PartnershipStatusActive,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("create partnership: %w", err)
		}
		if err := tx.Model(&db.PartnershipInvite{}).Where("id = ?", invite.ID).
			Update("status", db.InviteStatusAccepted).Error; err != nil {
			return fmt.Errorf("accept invite: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.scheduler != nil {
		s.scheduler.CancelRitual(invite.UserID, invite.RitualID)
		s.scheduler.CancelRitual(userID, ritualID)
		s.scheduler.SchedulePartnership(&p)
	}

	if err := s.notifier.Notify(invite.UserID, db.NotifTypePartnerRequest, "搭档成立",
		"你的邀请被接受了，共同连胜从今天开始！",
		map[string]interface{}{"partnership_id": p.ID}); err != nil {
		logSideEffect("partner formed notify", err)
	}
	return &p, nil
}

// End 由任一成员解除搭档关系。双方各自保留自己的仪式与数据，
// 搭档定时器撤销，有提醒配置的仪式恢复个人定时器，并通知对方。
func (s *PartnershipService) End(userID, partnershipID uint) error {
	p, err := s.Get(userID, partnershipID)
	if err != nil {
		return err
	}
	if p.Status != db.PartnershipStatusActive {
		return nil
	}

	if err := s.db.Model(&db.Partnership{}).Where("id = ?", p.ID).
		Update("status", db.PartnershipStatusEnded).Error; err != nil {
		return fmt.Errorf("end partnership: %w", err)
	}

	if s.scheduler != nil {
		s.scheduler.CancelPartnership(p.ID)
		for _, rid := range []uint{p.RitualAID, p.RitualBID} {
			var ritual db.Ritual
			if err := s.db.First(&ritual, rid).Error; err == nil {
				s.scheduler.ScheduleRitual(&ritual)
			}
		}
	}

	otherUserID := p.UserAID
	if otherUserID == userID {
		otherUserID = p.UserBID
	}
	if err := s.notifier.Notify(otherUserID, db.NotifTypePartnerEnded, "搭档解除",
		"对方结束了你们的搭档关系，你的仪式和连胜记录都还在。",
		map[string]interface{}{"partnership_id": p.ID}); err != nil {
		logSideEffect("partner ended notify", err)
	}
	return nil
}

// UseFreeze 显式消耗一张搭档冻结券：计数减一、记录消耗日期、落审计日志。
// 这是冻结券唯一的扣减入口，每日检查只会提醒而从不代扣。
func (s *PartnershipService) UseFreeze(userID, partnershipID uint) error {
	p, err := s.Get(userID, partnershipID)
	if err != nil {
		return err
	}
	if p.FreezeCount <= 0 {
		return ErrNoFreezeAvailable
	}

	today := db.NormalizeToDate(s.now())
	pid := p.ID

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.Partnership{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"freeze_count":        p.FreezeCount - 1,
			"last_freeze_used_at": today,
		}).Error; err != nil {
			return fmt.Errorf("consume freeze: %w", err)
		}

		if err := tx.Create(&db.FreezeLog{
			UserID:          userID,
			PartnershipID:   &pid,
			StreakPreserved: p.CurrentStreak,
		}).Error; err != nil {
			return fmt.Errorf("append freeze log: %w", err)
		}
		return nil
	})
}

// UsePersonalFreeze 消耗一张个人冻结券保护个人连胜。
func (s *PartnershipService) UsePersonalFreeze(userID uint) error {
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}
	if user.FreezeCount <= 0 {
		return ErrNoFreezeAvailable
	}

	today := db.NormalizeToDate(s.now())

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"freeze_count":        user.FreezeCount - 1,
			"last_freeze_used_at": today,
			// 消耗冻结等价于"这一天已兑现"，让次日的检查从今天续算
			"last_completed_at": today,
		}).Error; err != nil {
			return fmt.Errorf("consume personal freeze: %w", err)
		}

		if err := tx.Create(&db.FreezeLog{
			UserID:          userID,
			StreakPreserved: user.CurrentStreak,
		}).Error; err != nil {
			return fmt.Errorf("append freeze log: %w", err)
		}
		return nil
	})
}

// EarnFreeze 为搭档关系补充一张冻结券，封顶 MaxFreezeCount。
func (s *PartnershipService) EarnFreeze(partnershipID uint) error {
	var p db.Partnership
	if err := s.db.First(&p, partnershipID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPartnershipNotFound
		}
		return fmt.Errorf("load partnership: %w", err)
	}
	if p.FreezeCount >= db.MaxFreezeCount {
		return nil
	}

	return s.db.Model(&db.Partnership{}).Where("id = ?", p.ID).
		Update("freeze_count", p.FreezeCount+1).Error
}

// FreezeHistory 返回用户的冻结消耗记录。
func (s *PartnershipService) FreezeHistory(userID uint) ([]db.FreezeLog, error) {
	var logs []db.FreezeLog
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list freeze logs: %w", err)
	}
	return logs, nil
}
