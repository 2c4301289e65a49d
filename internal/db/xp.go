package db

import "gorm.io/gorm"

// 经验积分的发放事由标签。
const (
	XPReasonCompletion      = "completion"
	XPReasonFirstCompletion = "first_completion"
	XPReasonStreakMilestone = "streak_milestone"
	XPReasonPartnerBonus    = "partner_bonus"
	XPReasonPartnerMilestone = "partner_milestone"
)

// XPTransaction 是经验账本的一条流水，只增不改。
// RefID 指向触发发放的实体（仪式/搭档关系等），便于审计与去重排查。
type XPTransaction struct {
	gorm.Model
	UserID uint   `gorm:"index;not null"`
	Amount int    `gorm:"not null"`
	Reason string `gorm:"index"`
	RefID  uint
}

// UserBadge 记录用户获得的徽章，同一徽章码对同一用户只发一次。
type UserBadge struct {
	gorm.Model
	UserID uint   `gorm:"index;not null;index:idx_user_badge,unique"`
	Code   string `gorm:"size:64;not null;index:idx_user_badge,unique"`
}
