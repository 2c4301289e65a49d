package service

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ritualmate/internal/db"
	"gorm.io/gorm"
)

// defaultPartnershipReminder 在两侧仪式都没有提醒时间时兜底。
const defaultPartnershipReminder = "20:00"

// checkDelay 为提醒时间之后到实际检查之间的缓冲，给用户留出打卡窗口。
const checkDelay = time.Hour

type timerEntry struct {
	timer *time.Timer
	gen   uint64
}

// StreakScheduler 维护"每个实体每天恰好一次完成度检查"的定时器注册表。
// 每个键（个人仪式或搭档关系）对应一只一次性定时器，触发后由自身链式
// 重排到下一天；重复注册同键会先撤销旧定时器，保证幂等。
//
// 生命周期归进程所有：Start 从存储重建全部定时器，Stop 全部撤销；
// 待触发状态从不持久化，重启后按提醒配置确定性重建。
// 注意：注册表是单进程内存态，水平扩容的多实例部署会重复触发检查，
// 需要外部互斥（见 DESIGN.md），当前按单实例运行。
type StreakScheduler struct {
	db     *gorm.DB
	engine *StreakEngine

	mu      sync.Mutex
	entries map[string]*timerEntry
	nextGen uint64
	stopped bool

	now func() time.Time
}

// NewStreakScheduler 构造 StreakScheduler。
func NewStreakScheduler(gdb *gorm.DB, engine *StreakEngine) *StreakScheduler {
	return &StreakScheduler{
		db:      gdb,
		engine:  engine,
		entries: make(map[string]*timerEntry),
		now:     time.Now,
	}
}

// SetClock 覆盖时间源，主要用于测试。
func (s *StreakScheduler) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

func ritualKey(userID, ritualID uint) string {
	return fmt.Sprintf("ritual:%d:%d", userID, ritualID)
}

func partnershipKey(partnershipID uint) string {
	return fmt.Sprintf("partnership:%d", partnershipID)
}

// NextFireTime 计算提醒时间对应的下一次检查时刻：
// 今天的（时+1, 分）若仍在未来则用今天，否则顺延到明天。
func NextFireTime(now time.Time, reminder string) (time.Time, error) {
	hour, minute, err := parseReminderTime(reminder)
	if err != nil {
		return time.Time{}, err
	}

	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()).Add(checkDelay)
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}
	return target, nil
}

// ScheduleRitual 为个人仪式注册每日检查；提醒时间为空时只撤销既有定时器。
func (s *StreakScheduler) ScheduleRitual(ritual *db.Ritual) {
	if ritual == nil {
		return
	}

	key := ritualKey(ritual.UserID, ritual.ID)
	if ritual.ReminderTime == "" {
		s.cancelKey(key)
		return
	}

	ritualID := ritual.ID
	userID := ritual.UserID
	s.schedule(key, ritual.ReminderTime, func() {
		s.fireRitual(userID, ritualID)
	})
}

// SchedulePartnership 为搭档关系注册每日检查。
func (s *StreakScheduler) SchedulePartnership(p *db.Partnership) {
	if p == nil || p.Status != db.PartnershipStatusActive {
		return
	}

	partnershipID := p.ID
	s.schedule(partnershipKey(partnershipID), s.partnershipReminder(p), func() {
		s.firePartnership(partnershipID)
	})
}

// partnershipReminder 取 A 侧仪式的提醒时间，缺失时退回 B 侧，再缺省兜底。
func (s *StreakScheduler) partnershipReminder(p *db.Partnership) string {
	for _, ritualID := range []uint{p.RitualAID, p.RitualBID} {
		var ritual db.Ritual
		if err := s.db.First(&ritual, ritualID).Error; err == nil && ritual.ReminderTime != "" {
			return ritual.ReminderTime
		}
	}
	return defaultPartnershipReminder
}

// CancelRitual 撤销个人仪式的定时器，不存在时为 no-op。
func (s *StreakScheduler) CancelRitual(userID, ritualID uint) {
	s.cancelKey(ritualKey(userID, ritualID))
}

// CancelPartnership 撤销搭档关系的定时器。
func (s *StreakScheduler) CancelPartnership(partnershipID uint) {
	s.cancelKey(partnershipKey(partnershipID))
}

// schedule 注册（或替换）一只一次性定时器。gen 序号保证触发回调
// 只代表最新一次注册：被替换/撤销后的旧定时器即使触发也会被忽略。
func (s *StreakScheduler) schedule(key, reminder string, check func()) {
	fireAt, err := NextFireTime(s.now(), reminder)
	if err != nil {
		log.Printf("[SCHEDULER] %s 的提醒时间非法 %q: %v", key, reminder, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if existing, ok := s.entries[key]; ok {
		existing.timer.Stop()
	}

	s.nextGen++
	gen := s.nextGen
	delay := fireAt.Sub(s.now())
	entry := &timerEntry{gen: gen}
	entry.timer = time.AfterFunc(delay, func() {
		s.fire(key, gen, reminder, check)
	})
	s.entries[key] = entry
}

// fire 执行一次检查并在 defer 中重排下一天；单次检查的 panic/错误
// 只记录日志，绝不允许打断链式重排。
func (s *StreakScheduler) fire(key string, gen uint64, reminder string, check func()) {
	if !s.isCurrent(key, gen) {
		return
	}

	defer func() {
		if s.takeIfCurrent(key, gen) {
			s.schedule(key, reminder, check)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SCHEDULER] %s 检查发生 panic: %v", key, r)
		}
	}()

	check()
}

func (s *StreakScheduler) isCurrent(key string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return ok && entry.gen == gen
}

// takeIfCurrent 在重排前移除当前条目，确保撤销/替换发生在触发之后时不会复活。
func (s *StreakScheduler) takeIfCurrent(key string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || entry.gen != gen || s.stopped {
		return false
	}
	delete(s.entries, key)
	return true
}

func (s *StreakScheduler) cancelKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		entry.timer.Stop()
		delete(s.entries, key)
	}
}

func (s *StreakScheduler) fireRitual(userID, ritualID uint) {
	if err := s.engine.CheckRitual(ritualID); err != nil {
		log.Printf("[SCHEDULER] 仪式 %d（用户 %d）检查失败: %v", ritualID, userID, err)
	}
}

func (s *StreakScheduler) firePartnership(partnershipID uint) {
	if err := s.engine.CheckPartnership(partnershipID); err != nil {
		log.Printf("[SCHEDULER] 搭档关系 %d 检查失败: %v", partnershipID, err)
	}
}

// Start 从存储重建全部定时器：配置了提醒且无活跃搭档的仪式走个人路径，
// 所有活跃搭档关系走搭档路径。可安全重复调用（注册自身幂等）。
func (s *StreakScheduler) Start() error {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	var partnerships []db.Partnership
	if err := s.db.Where("status = ?", db.PartnershipStatusActive).Find(&partnerships).Error; err != nil {
		return fmt.Errorf("load active partnerships: %w", err)
	}

	partneredRituals := make(map[uint]bool, len(partnerships)*2)
	for i := range partnerships {
		partneredRituals[partnerships[i].RitualAID] = true
		partneredRituals[partnerships[i].RitualBID] = true
	}

	var rituals []db.Ritual
	if err := s.db.Where("reminder_time <> ''").Find(&rituals).Error; err != nil {
		return fmt.Errorf("load rituals with reminders: %w", err)
	}

	for i := range rituals {
		if partneredRituals[rituals[i].ID] {
			continue
		}
		s.ScheduleRitual(&rituals[i])
	}
	for i := range partnerships {
		s.SchedulePartnership(&partnerships[i])
	}

	log.Printf("[SCHEDULER] 已重建定时器：%d 个", s.Pending())
	return nil
}

// Stop 撤销全部定时器并拒绝后续注册，直到下一次 Start。
func (s *StreakScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, entry := range s.entries {
		entry.timer.Stop()
		delete(s.entries, key)
	}
}

// Pending 返回当前已注册的定时器数量，主要用于测试与启动日志。
func (s *StreakScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
