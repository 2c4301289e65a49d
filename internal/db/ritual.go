package db

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Ritual 定义了仪式（习惯）模型
// ReminderTime 为 "HH:MM" 本地时间字符串，为空表示不参与每日检查调度。
// Weekdays 以逗号分隔的缩写存储（mon,tue,...），为空视为每天生效。
// CurrentStreak/LongestStreak 只由完整打卡事件推进，每日检查从不直接改写它们。
type Ritual struct {
	gorm.Model
	UserID        uint   `gorm:"index;not null"`
	User          User   `gorm:"constraint:OnDelete:CASCADE"`
	Name          string `gorm:"not null"`
	Description   string
	ReminderTime  string
	Weekdays      string
	Steps         int `gorm:"default:1"`
	CurrentStreak int `gorm:"default:0"`
	LongestStreak int `gorm:"default:0"`
}

// FullCompletionStep 是完整打卡的哨兵步骤值；非负值表示仅完成某个具体步骤。
const FullCompletionStep = -1

// RitualLog 记录一次打卡事件，创建后不可修改（仅随仪式级联删除）。
// 只有 StepIndex == FullCompletionStep 的记录会触发连胜与经验逻辑。
type RitualLog struct {
	gorm.Model
	RitualID    uint   `gorm:"index;index:idx_ritual_log_day"`
	Ritual      Ritual `gorm:"constraint:OnDelete:CASCADE"`
	UserID      uint   `gorm:"index"`
	StepIndex   int
	Source      string
	CompletedAt time.Time `gorm:"index:idx_ritual_log_day"`
}

// TableName 保持与既有数据文件一致的表名。
func (RitualLog) TableName() string {
	return "ritual_logs"
}

var weekdayAbbr = map[time.Weekday]string{
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
	time.Sunday:    "sun",
}

// WeekdayAbbr 返回 weekday 对应的三字母缩写。
func WeekdayAbbr(d time.Weekday) string {
	return weekdayAbbr[d]
}

// ActiveOn 判断仪式在给定日期的星期是否生效；未配置 Weekdays 时每天生效。
func (r *Ritual) ActiveOn(day time.Time) bool {
	set := strings.TrimSpace(r.Weekdays)
	if set == "" {
		return true
	}

	target := WeekdayAbbr(day.Weekday())
	for _, token := range strings.Split(set, ",") {
		if strings.TrimSpace(strings.ToLower(token)) == target {
			return true
		}
	}
	return false
}
