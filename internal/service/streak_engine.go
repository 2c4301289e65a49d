package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ritualmate/internal/db"
	"gorm.io/gorm"
)

// StreakEngine 判定"某一天的承诺是否兑现"，并对连胜施加
// 无事/警告/冻结保护/清零 四种结果之一。
//
// 它只处理调度器触发的"用户没来打卡"一侧：双方都完成的推进
// 由 CompletionService 的反应式路径负责，这里对该情况严格 no-op，
// 避免两条路径重复推进同一个计数器。
type StreakEngine struct {
	db       *gorm.DB
	notifier *NotificationService

	now func() time.Time
}

// NewStreakEngine 构造 StreakEngine。
func NewStreakEngine(gdb *gorm.DB, notifier *NotificationService) *StreakEngine {
	return &StreakEngine{db: gdb, notifier: notifier, now: time.Now}
}

// SetClock 覆盖时间源，主要用于测试。
func (e *StreakEngine) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.now = now
}

// hasFullCompletionOn 查询 (仪式, 用户) 在指定日期是否存在完整打卡。
func hasFullCompletionOn(gdb *gorm.DB, ritualID, userID uint, day time.Time) (bool, error) {
	start := db.NormalizeToDate(day)
	end := start.Add(24 * time.Hour)

	var count int64
	if err := gdb.Model(&db.RitualLog{}).
		Where("ritual_id = ? AND user_id = ? AND step_index = ?", ritualID, userID, db.FullCompletionStep).
		Where("completed_at >= ? AND completed_at < ?", start, end).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count completions: %w", err)
	}
	return count > 0, nil
}

// CheckRitual 执行个人仪式的当日检查。
// 今日不在生效星期、或当天已有完整打卡时直接返回；
// 否则进入个人连胜的断签流程（作用于用户档案，不碰仪式自身的连胜字段）。
func (e *StreakEngine) CheckRitual(ritualID uint) error {
	var ritual db.Ritual
	if err := e.db.First(&ritual, ritualID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[STREAK] 仪式 %d 已不存在，跳过检查", ritualID)
			return nil
		}
		return fmt.Errorf("load ritual: %w", err)
	}

	today := db.NormalizeToDate(e.now())
	if !ritual.ActiveOn(today) {
		return nil
	}

	done, err := hasFullCompletionOn(e.db, ritual.ID, ritual.UserID, today)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	return e.settlePersonalStreak(ritual.UserID, today)
}

// settlePersonalStreak 对用户档案上的个人连胜执行断签判定。
// 最近一次完整打卡在今天或昨天时视为安全；否则有冻结券只警告，
// 没有冻结券才清零并通知。冻结券从不在这里自动扣减——消耗
// 必须经由用户显式的"使用冻结"操作。
func (e *StreakEngine) settlePersonalStreak(userID uint, today time.Time) error {
	var user db.User
	if err := e.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[STREAK] 用户 %d 已不存在，跳过检查", userID)
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	if user.LastCompletedAt != nil {
		last := db.NormalizeToDate(*user.LastCompletedAt)
		if last.Equal(today) || last.Equal(today.AddDate(0, 0, -1)) {
			return nil
		}
	}

	if user.CurrentStreak <= 0 {
		return nil
	}

	if user.FreezeCount > 0 {
		e.warn(userID, user.CurrentStreak, nil)
		return nil
	}

	if err := e.db.Model(&db.User{}).Where("id = ?", userID).
		Update("current_streak", 0).Error; err != nil {
		return fmt.Errorf("reset personal streak: %w", err)
	}

	e.notifyBreak(userID, user.CurrentStreak, nil)
	return nil
}

// CheckPartnership 执行搭档关系的当日检查。
// 双方都已完整打卡时严格 no-op（推进早已由反应式路径完成）；
// 有一方缺席时按冻结策略处理：当天已用过冻结则视为受保护，
// 有冻结券则只向双方发预警，没有冻结券才清零共同连胜。
func (e *StreakEngine) CheckPartnership(partnershipID uint) error {
	var p db.Partnership
	if err := e.db.First(&p, partnershipID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[STREAK] 搭档关系 %d 已不存在，跳过检查", partnershipID)
			return nil
		}
		return fmt.Errorf("load partnership: %w", err)
	}
	if p.Status != db.PartnershipStatusActive {
		return nil
	}

	var ritualA db.Ritual
	if err := e.db.First(&ritualA, p.RitualAID).Error; err != nil {
		// 数据不一致：搭档引用的仪式消失，降级为告警而非让定时器循环崩溃
		log.Printf("[STREAK] 搭档关系 %d 引用的仪式 %d 缺失: %v", partnershipID, p.RitualAID, err)
		return nil
	}

	today := db.NormalizeToDate(e.now())
	if !ritualA.ActiveOn(today) {
		return nil
	}

	aDone, err := hasFullCompletionOn(e.db, p.RitualAID, p.UserAID, today)
	if err != nil {
		return err
	}
	bDone, err := hasFullCompletionOn(e.db, p.RitualBID, p.UserBID, today)
	if err != nil {
		return err
	}
	if aDone && bDone {
		return nil
	}

	if p.LastFreezeUsedAt != nil && db.SameDate(*p.LastFreezeUsedAt, today) {
		return nil
	}

	if p.CurrentStreak <= 0 {
		return nil
	}

	pid := p.ID
	if p.FreezeCount > 0 {
		e.warn(p.UserAID, p.CurrentStreak, &pid)
		e.warn(p.UserBID, p.CurrentStreak, &pid)
		return nil
	}

	broken := p.CurrentStreak
	if err := e.db.Model(&db.Partnership{}).Where("id = ?", p.ID).
		Update("current_streak", 0).Error; err != nil {
		return fmt.Errorf("reset partnership streak: %w", err)
	}

	e.notifyBreak(p.UserAID, broken, &pid)
	e.notifyBreak(p.UserBID, broken, &pid)
	return nil
}

func (e *StreakEngine) warn(userID uint, streak int, partnershipID *uint) {
	payload := map[string]interface{}{"streak": streak}
	body := fmt.Sprintf("今天还没打卡，%d 天连胜危在旦夕！用一张冻结券或现在补上。", streak)
	if partnershipID != nil {
		payload["partnership_id"] = *partnershipID
		body = fmt.Sprintf("你们的 %d 天共同连胜今天还差一步，快提醒搭档打卡！", streak)
	}

	if err := e.notifier.Notify(userID, db.NotifTypeStreakWarning, "连胜告急", body, payload); err != nil {
		logSideEffect("streak warning notify", err)
	}
}

func (e *StreakEngine) notifyBreak(userID uint, streak int, partnershipID *uint) {
	payload := map[string]interface{}{"streak": streak}
	body := fmt.Sprintf("%d 天连胜中断了，明天重新开始。", streak)
	if partnershipID != nil {
		payload["partnership_id"] = *partnershipID
		body = fmt.Sprintf("你们的 %d 天共同连胜中断了，和搭档重新出发吧。", streak)
	}

	if err := e.notifier.Notify(userID, db.NotifTypeStreakBroken, "连胜中断", body, payload); err != nil {
		logSideEffect("streak break notify", err)
	}
}

// logSideEffect 统一记录旁路副作用的失败，调用方不中断主流程。
func logSideEffect(action string, err error) {
	log.Printf("[SIDE-EFFECT] %s 失败: %v", action, err)
}
