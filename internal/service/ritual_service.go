package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ritualmate/internal/db"
	"gorm.io/gorm"
)

var (
	// ErrRitualNotFound 在指定仪式不存在时返回
	ErrRitualNotFound = errors.New("ritual not found")
	// ErrRitualNotOwned 在操作他人仪式时返回
	ErrRitualNotOwned = errors.New("ritual does not belong to user")
	// ErrRitualInvalidReminder 当提醒时间格式异常时返回
	ErrRitualInvalidReminder = errors.New("invalid reminder time, expect HH:MM")
	// ErrRitualInvalidWeekdays 当生效星期配置异常时返回
	ErrRitualInvalidWeekdays = errors.New("invalid weekday set")
	// ErrRitualPartnered 在仪式仍处于搭档关系中时返回
	ErrRitualPartnered = errors.New("ritual has an active partnership")
)

var validWeekdays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true,
	"fri": true, "sat": true, "sun": true,
}

// RitualInput 定义创建/更新仪式时可配置字段
type RitualInput struct {
	Name         string
	Description  string
	ReminderTime string
	Weekdays     string
	Steps        int
}

// RitualService 负责仪式的增删改查，并在配置变化时联动每日检查的调度。
// 删除会级联清理打卡日志并撤销定时器。
type RitualService struct {
	db        *gorm.DB
	scheduler *StreakScheduler
}

// NewRitualService 构造 RitualService，scheduler 可为 nil（测试场景）。
func NewRitualService(gdb *gorm.DB, scheduler *StreakScheduler) *RitualService {
	return &RitualService{db: gdb, scheduler: scheduler}
}

// List 返回用户的全部仪式。
func (s *RitualService) List(userID uint) ([]db.Ritual, error) {
	var rituals []db.Ritual
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&rituals).Error; err != nil {
		return nil, fmt.Errorf("list rituals: %w", err)
	}
	return rituals, nil
}

// Get 根据 ID 获取仪式并校验归属。
func (s *RitualService) Get(userID, ritualID uint) (*db.Ritual, error) {
	var ritual db.Ritual
	if err := s.db.First(&ritual, ritualID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRitualNotFound
		}
		return nil, fmt.Errorf("get ritual: %w", err)
	}
	if ritual.UserID != userID {
		return nil, ErrRitualNotOwned
	}
	return &ritual, nil
}

// Create 新建仪式；配置了提醒时间且无搭档时立即安排每日检查。
func (s *RitualService) Create(userID uint, input RitualInput) (*db.Ritual, error) {
	if err := validateRitualInput(input); err != nil {
		return nil, err
	}

	ritual := db.Ritual{
		UserID:       userID,
		Name:         strings.TrimSpace(input.Name),
		Description:  strings.TrimSpace(input.Description),
		ReminderTime: strings.TrimSpace(input.ReminderTime),
		Weekdays:     normalizeWeekdays(input.Weekdays),
		Steps:        maxInt(1, input.Steps),
	}

	if err := s.db.Create(&ritual).Error; err != nil {
		return nil, fmt.Errorf("create ritual: %w", err)
	}

	if s.scheduler != nil {
		s.scheduler.ScheduleRitual(&ritual)
	}
	return &ritual, nil
}

// Update 更新仪式配置并重排定时器（提醒清空时撤销）。
func (s *RitualService) Update(userID, ritualID uint, input RitualInput) (*db.Ritual, error) {
	if err := validateRitualInput(input); err != nil {
		return nil, err
	}

	existing, err := s.Get(userID, ritualID)
	if err != nil {
		return nil, err
	}

	existing.Name = strings.TrimSpace(input.Name)
	existing.Description = strings.TrimSpace(input.Description)
	existing.ReminderTime = strings.TrimSpace(input.ReminderTime)
	existing.Weekdays = normalizeWeekdays(input.Weekdays)
	existing.Steps = maxInt(1, input.Steps)

	if err := s.db.Save(existing).Error; err != nil {
		return nil, fmt.Errorf("update ritual: %w", err)
	}

	if s.scheduler != nil {
		// 有搭档时由搭档侧的定时器负责，个人定时器保持撤销状态
		partnered, err := s.hasActivePartnership(ritualID)
		if err != nil {
			return nil, err
		}
		if partnered || existing.ReminderTime == "" {
			s.scheduler.CancelRitual(existing.UserID, existing.ID)
		} else {
			s.scheduler.ScheduleRitual(existing)
		}
	}
	return existing, nil
}

// Delete 删除仪式：拒绝仍在搭档中的仪式，级联删除日志并撤销定时器。
func (s *RitualService) Delete(userID, ritualID uint) error {
	ritual, err := s.Get(userID, ritualID)
	if err != nil {
		return err
	}

	partnered, err := s.hasActivePartnership(ritualID)
	if err != nil {
		return err
	}
	if partnered {
		return ErrRitualPartnered
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ritual_id = ?", ritualID).Delete(&db.RitualLog{}).Error; err != nil {
			return fmt.Errorf("delete ritual logs: %w", err)
		}
		if err := tx.Delete(&db.Ritual{}, ritualID).Error; err != nil {
			return fmt.Errorf("delete ritual: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.scheduler != nil {
		s.scheduler.CancelRitual(ritual.UserID, ritual.ID)
	}
	return nil
}

// Logs 返回仪式在给定区间内的打卡日志。
func (s *RitualService) Logs(userID, ritualID uint, start, end time.Time) ([]db.RitualLog, error) {
	if _, err := s.Get(userID, ritualID); err != nil {
		return nil, err
	}

	var logs []db.RitualLog
	if err := s.db.Where("ritual_id = ?", ritualID).
		Where("completed_at BETWEEN ? AND ?", db.NormalizeToDate(start), db.NormalizeToDate(end).Add(24*time.Hour)).
		Order("completed_at ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list ritual logs: %w", err)
	}
	return logs, nil
}

func (s *RitualService) hasActivePartnership(ritualID uint) (bool, error) {
	var count int64
	if err := s.db.Model(&db.Partnership{}).
		Where("status = ?", db.PartnershipStatusActive).
		Where("ritual_a_id = ? OR ritual_b_id = ?", ritualID, ritualID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count partnerships: %w", err)
	}
	return count > 0, nil
}

func validateRitualInput(input RitualInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("ritual name is required")
	}

	reminder := strings.TrimSpace(input.ReminderTime)
	if reminder != "" {
		if _, _, err := parseReminderTime(reminder); err != nil {
			return ErrRitualInvalidReminder
		}
	}

	weekdays := strings.TrimSpace(input.Weekdays)
	if weekdays != "" {
		for _, token := range strings.Split(weekdays, ",") {
			if !validWeekdays[strings.TrimSpace(strings.ToLower(token))] {
				return fmt.Errorf("%w: %s", ErrRitualInvalidWeekdays, token)
			}
		}
	}
	return nil
}

// parseReminderTime 解析 "HH:MM" 为时分两个整数。
func parseReminderTime(reminder string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(reminder), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expect HH:MM, got %q", reminder)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", reminder)
	}

	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", reminder)
	}
	return hour, minute, nil
}

func normalizeWeekdays(weekdays string) string {
	raw := strings.TrimSpace(weekdays)
	if raw == "" {
		return ""
	}

	tokens := make([]string, 0, 7)
	seen := make(map[string]bool, 7)
	for _, token := range strings.Split(raw, ",") {
		normalized := strings.TrimSpace(strings.ToLower(token))
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		tokens = append(tokens, normalized)
	}
	return strings.Join(tokens, ",")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
