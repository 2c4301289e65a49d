package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ritualmate/internal/db"
	"gorm.io/gorm"
)

// 完整打卡相关的经验数值。
const (
	XPBaseCompletion  = 10
	XPFirstCompletion = 50
	XPPartnerBonus    = 20
)

// personalMilestones 为个人连胜的精确命中里程碑及对应奖励。
var personalMilestones = map[int]int{
	7:   70,
	14:  140,
	30:  300,
	100: 1000,
}

// partnerMilestones 为共同连胜的精确命中里程碑及对应奖励（双方各得）。
var partnerMilestones = map[int]int{
	3:  30,
	7:  70,
	30: 300,
}

// milestoneBadges 将连胜值映射到徽章码。
var milestoneBadges = map[int]string{
	7:   "streak_7",
	30:  "streak_30",
	100: "streak_100",
}

var partnerMilestoneBadges = map[int]string{
	3:  "partner_streak_3",
	7:  "partner_streak_7",
	30: "partner_streak_30",
}

// CompletionService 是打卡事件的反应式处理管线。
// 第 1 步（日志落库）是唯一会向调用方返回错误的步骤；此后的经验、
// 连胜推进、搭档联动与通知都是尽力而为——任何失败只记日志，
// 用户"我打过卡了"这件事永远不会因为次级副作用而丢失。
type CompletionService struct {
	db           *gorm.DB
	xp           *XPService
	notifier     *NotificationService
	partnerships *PartnershipService

	now func() time.Time
}

// NewCompletionService 构造 CompletionService。
func NewCompletionService(gdb *gorm.DB, xp *XPService, notifier *NotificationService, partnerships *PartnershipService) *CompletionService {
	return &CompletionService{
		db:           gdb,
		xp:           xp,
		notifier:     notifier,
		partnerships: partnerships,
		now:          time.Now,
	}
}

// SetClock 覆盖时间源，主要用于测试。
func (s *CompletionService) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// LogCompletion 处理一次打卡：
//  1. 无条件落库打卡日志（仅此步骤的错误会向上传播）；
//  2. 仅当 stepIndex 为完整打卡哨兵值时，依次执行经验发放、个人连胜、
//     仪式连胜与搭档联动，每一步独立兜底。
func (s *CompletionService) LogCompletion(ritualID, userID uint, stepIndex int, source string) (*db.RitualLog, error) {
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

	now := s.now()
	record := db.RitualLog{
		RitualID:    ritualID,
		UserID:      userID,
		StepIndex:   stepIndex,
		Source:      strings.TrimSpace(source),
		CompletedAt: now,
	}
	if err := s.db.Create(&record).Error; err != nil {
		return nil, fmt.Errorf("persist completion log: %w", err)
	}

	if stepIndex != db.FullCompletionStep {
		return &record, nil
	}

	today := db.NormalizeToDate(now)

	if err := s.awardCompletionXP(userID, ritualID); err != nil {
		logSideEffect("completion xp", err)
	}
	if err := s.advancePersonalStreak(userID, today); err != nil {
		logSideEffect("personal streak", err)
	}
	if err := s.advanceRitualStreak(ritualID, today); err != nil {
		logSideEffect("ritual streak", err)
	}
	if err := s.settlePartnership(ritualID, userID, today); err != nil {
		logSideEffect("partnership settle", err)
	}

	return &record, nil
}

// awardCompletionXP 发放基础打卡经验；历史首个完整打卡额外发放新手奖励。
func (s *CompletionService) awardCompletionXP(userID, ritualID uint) error {
	if err := s.xp.AddXP(userID, XPBaseCompletion, db.XPReasonCompletion, ritualID); err != nil {
		return err
	}

	var total int64
	if err := s.db.Model(&db.RitualLog{}).
		Where("user_id = ? AND step_index = ?", userID, db.FullCompletionStep).
		Count(&total).Error; err != nil {
		return fmt.Errorf("count lifetime completions: %w", err)
	}

	// 刚写入的这条日志也计入在内，首个完整打卡时恰好为 1
	if total == 1 {
		if err := s.xp.AddXP(userID, XPFirstCompletion, db.XPReasonFirstCompletion, ritualID); err != nil {
			return err
		}
		if _, err := s.xp.AwardBadge(userID, "first_completion"); err != nil {
			return err
		}
	}
	return nil
}

// advancePersonalStreak 推进用户档案上的个人连胜：
// 昨天打过则 +1，否则重置为 1；当天重复打卡不再变化。
// 随后按新值做精确命中的里程碑发放（每个里程碑每天至多一次）。
func (s *CompletionService) advancePersonalStreak(userID uint, today time.Time) error {
	var streakAfter int

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var user db.User
		if err := tx.First(&user, userID).Error; err != nil {
			return fmt.Errorf("load user: %w", err)
		}

		if user.LastCompletedAt != nil && db.SameDate(*user.LastCompletedAt, today) {
			streakAfter = user.CurrentStreak
			return nil
		}

		yesterday := today.AddDate(0, 0, -1)
		if user.LastCompletedAt != nil && db.SameDate(*user.LastCompletedAt, yesterday) {
			user.CurrentStreak++
		} else {
			user.CurrentStreak = 1
		}
		if user.CurrentStreak > user.LongestStreak {
			user.LongestStreak = user.CurrentStreak
		}
		streakAfter = user.CurrentStreak

		return tx.Model(&db.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"current_streak":    user.CurrentStreak,
			"longest_streak":    user.LongestStreak,
			"last_completed_at": today,
		}).Error
	})
	if err != nil {
		return err
	}

	bonus, ok := personalMilestones[streakAfter]
	if !ok {
		return nil
	}

	awarded, err := s.xp.HasTransactionToday(userID, db.XPReasonStreakMilestone, uint(streakAfter), today)
	if err != nil {
		return err
	}
	if awarded {
		return nil
	}

	if err := s.xp.AddXP(userID, bonus, db.XPReasonStreakMilestone, uint(streakAfter)); err != nil {
		return err
	}
	if badge, ok := milestoneBadges[streakAfter]; ok {
		if _, err := s.xp.AwardBadge(userID, badge); err != nil {
			return err
		}
	}

	if err := s.notifier.Notify(userID, db.NotifTypeMilestone, "里程碑达成",
		fmt.Sprintf("连续 %d 天完成仪式，奖励 %d 经验！", streakAfter, bonus),
		map[string]interface{}{"streak": streakAfter, "bonus": bonus}); err != nil {
		logSideEffect("milestone notify", err)
	}
	return nil
}

// advanceRitualStreak 推进仪式自身的连胜计数。
// 同一天出现第二条完整打卡时跳过（当天第一条已经推进过）；
// 昨天有完整打卡则 +1，否则重置为 1。整段读改写在一个事务里完成。
func (s *CompletionService) advanceRitualStreak(ritualID uint, today time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var ritual db.Ritual
		if err := tx.First(&ritual, ritualID).Error; err != nil {
			return fmt.Errorf("load ritual: %w", err)
		}

		start := today
		end := today.Add(24 * time.Hour)
		var todayCount int64
		if err := tx.Model(&db.RitualLog{}).
			Where("ritual_id = ? AND user_id = ? AND step_index = ?", ritualID, ritual.UserID, db.FullCompletionStep).
			Where("completed_at >= ? AND completed_at < ?", start, end).
			Count(&todayCount).Error; err != nil {
			return fmt.Errorf("count today completions: %w", err)
		}
		if todayCount > 1 {
			return nil
		}

		yesterdayDone, err := hasFullCompletionOn(tx, ritualID, ritual.UserID, today.AddDate(0, 0, -1))
		if err != nil {
			return err
		}

		if yesterdayDone {
			ritual.CurrentStreak++
		} else {
			ritual.CurrentStreak = 1
		}
		if ritual.CurrentStreak > ritual.LongestStreak {
			ritual.LongestStreak = ritual.CurrentStreak
		}

		return tx.Model(&db.Ritual{}).Where("id = ?", ritualID).Updates(map[string]interface{}{
			"current_streak": ritual.CurrentStreak,
			"longest_streak": ritual.LongestStreak,
		}).Error
	})
}

// settlePartnership 处理搭档联动：先给对方发"该你了"，
// 若对方今天也已完整打卡，则作为当天第一个观察到双完成的路径，
// 在 LastBothCompletedAt 幂等守卫下推进共同连胜并发放奖励。
func (s *CompletionService) settlePartnership(ritualID, userID uint, today time.Time) error {
	p, err := s.partnerships.FindActiveByRitual(ritualID)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}

	partnerRitualID, partnerUserID := counterpartOf(p, ritualID)

	var actor db.User
	actorName := "你的搭档"
	if err := s.db.First(&actor, userID).Error; err == nil {
		if actor.DisplayName != "" {
			actorName = actor.DisplayName
		} else {
			actorName = actor.Username
		}
	}

	if err := s.notifier.Notify(partnerUserID, db.NotifTypePartnerTurn, "搭档已完成",
		fmt.Sprintf("%s 今天已经完成仪式了，轮到你了！", actorName),
		map[string]interface{}{"partnership_id": p.ID, "ritual_id": partnerRitualID}); err != nil {
		logSideEffect("partner turn notify", err)
	}

	partnerDone, err := hasFullCompletionOn(s.db, partnerRitualID, partnerUserID, today)
	if err != nil {
		return err
	}
	if !partnerDone {
		return nil
	}

	newStreak, isNewRecord, advanced, err := s.advancePartnershipStreak(p.ID, today)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}

	for _, uid := range []uint{p.UserAID, p.UserBID} {
		if err := s.notifier.Notify(uid, db.NotifTypePartnerSuccess, "今日双双达成",
			fmt.Sprintf("你们的共同连胜来到 %d 天！", newStreak),
			map[string]interface{}{"partnership_id": p.ID, "streak": newStreak}); err != nil {
			logSideEffect("partner success notify", err)
		}
		if err := s.xp.AddXP(uid, XPPartnerBonus, db.XPReasonPartnerBonus, p.ID); err != nil {
			logSideEffect("partner bonus xp", err)
		}

		if bonus, ok := partnerMilestones[newStreak]; ok {
			if err := s.xp.AddXP(uid, bonus, db.XPReasonPartnerMilestone, p.ID); err != nil {
				logSideEffect("partner milestone xp", err)
			}
			if badge, ok := partnerMilestoneBadges[newStreak]; ok {
				if _, err := s.xp.AwardBadge(uid, badge); err != nil {
					logSideEffect("partner milestone badge", err)
				}
			}
		}

		if isNewRecord {
			if err := s.notifier.Notify(uid, db.NotifTypePartnerRecord, "新纪录",
				fmt.Sprintf("%d 天，你们最长的一次共同连胜！", newStreak),
				map[string]interface{}{"partnership_id": p.ID, "streak": newStreak}); err != nil {
				logSideEffect("partner record notify", err)
			}
		}
	}
	return nil
}

// advancePartnershipStreak 在事务内推进共同连胜。
// LastBothCompletedAt == today 时直接放弃（当天已推进过），这既挡住
// 同一天的重复打卡，也挡住调度器与反应式路径之间的竞态。
// 断联判定归结算引擎：只要引擎没把 CurrentStreak 清零（比如冻结卡
// 挡下了漏打的那天），这里就在现有连胜上 +1，不看间隔有多久。
func (s *CompletionService) advancePartnershipStreak(partnershipID uint, today time.Time) (newStreak int, isNewRecord bool, advanced bool, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var p db.Partnership
		if err := tx.First(&p, partnershipID).Error; err != nil {
			return fmt.Errorf("load partnership: %w", err)
		}

		if p.LastBothCompletedAt != nil && db.SameDate(*p.LastBothCompletedAt, today) {
			return nil
		}

		if p.CurrentStreak > 0 {
			p.CurrentStreak++
		} else {
			p.CurrentStreak = 1
		}

		if p.CurrentStreak > p.LongestStreak {
			p.LongestStreak = p.CurrentStreak
			isNewRecord = true
		}
		newStreak = p.CurrentStreak
		advanced = true

		return tx.Model(&db.Partnership{}).Where("id = ?", partnershipID).Updates(map[string]interface{}{
			"current_streak":         p.CurrentStreak,
			"longest_streak":         p.LongestStreak,
			"last_both_completed_at": today,
		}).Error
	})
	return newStreak, isNewRecord, advanced, err
}

// counterpartOf 返回搭档关系中另一侧的 (仪式, 用户)。
func counterpartOf(p *db.Partnership, ritualID uint) (partnerRitualID, partnerUserID uint) {
	if p.RitualAID == ritualID {
		return p.RitualBID, p.UserBID
	}
	return p.RitualAID, p.UserAID
}
