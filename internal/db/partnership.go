package db

import (
	"time"

	"gorm.io/gorm"
)

const (
	// PartnershipStatusActive 表示搭档关系生效中。
	PartnershipStatusActive = "active"
	// PartnershipStatusEnded 表示搭档关系已被任一方解除。
	PartnershipStatusEnded = "ended"
)

// Partnership 将两位用户各自的仪式对称地绑定为搭档对。
// 共同连胜只在"双方当天都完整打卡"时推进，LastBothCompletedAt 充当
// 同日防重的幂等键。冻结相关字段与个人侧语义一致。
// 约束：每个仪式同一时间至多存在一条 active 记录。
type Partnership struct {
	gorm.Model
	RitualAID uint `gorm:"index;not null"`
	UserAID   uint `gorm:"index;not null"`
	RitualBID uint `gorm:"index;not null"`
	UserBID   uint `gorm:"index;not null"`

	CurrentStreak       int `gorm:"default:0"`
	LongestStreak       int `gorm:"default:0"`
	LastBothCompletedAt *time.Time
	FreezeCount         int `gorm:"default:2"`
	LastFreezeUsedAt    *time.Time
	Status              string `gorm:"default:active;index"`
}

const (
	// InviteStatusPending 表示邀请码尚未被使用。
	InviteStatusPending = "pending"
	// InviteStatusAccepted 表示邀请码已兑换成搭档关系。
	InviteStatusAccepted = "accepted"
)

// PartnershipInvite 是短生命周期的邀请令牌，将邀请码兑换桥接到搭档创建。
type PartnershipInvite struct {
	gorm.Model
	Code      string `gorm:"size:64;uniqueIndex;not null"`
	RitualID  uint   `gorm:"index;not null"`
	UserID    uint   `gorm:"index;not null"`
	ExpiresAt time.Time
	Status    string `gorm:"default:pending"`
}

// FreezeLog 是冻结券消耗的审计记录，只增不改。
// PartnershipID 为空表示个人连胜上的消耗。
type FreezeLog struct {
	gorm.Model
	UserID          uint `gorm:"index;not null"`
	PartnershipID   *uint
	StreakPreserved int
}
