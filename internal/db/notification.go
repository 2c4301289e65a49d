package db

import "gorm.io/gorm"

// 通知类型标签，客户端按类型决定展示与跳转。
const (
	NotifTypeStreakWarning   = "streak_warning"
	NotifTypeStreakBroken    = "streak_broken"
	NotifTypePartnerTurn     = "partner_turn"
	NotifTypePartnerSuccess  = "partner_success"
	NotifTypePartnerRecord   = "partner_record"
	NotifTypePartnerRequest  = "partner_request"
	NotifTypePartnerEnded    = "partner_ended"
	NotifTypeFriendRequest   = "friend_request"
	NotifTypeFriendAccepted  = "friend_accepted"
	NotifTypeMilestone       = "milestone"
	NotifTypeLevelUp         = "level_up"
)

// Notification 定义了站内通知模型，核心只负责写入，读取/已读由客户端驱动。
// Payload 为 JSON 字符串，结构由 Type 决定。
type Notification struct {
	gorm.Model
	UserID  uint   `gorm:"index;not null"`
	Type    string `gorm:"index"`
	Title   string
	Body    string
	Payload string `gorm:"type:text"`
	Read    bool   `gorm:"default:false;index"`
}

// Device 记录用户注册的推送设备令牌。
type Device struct {
	gorm.Model
	UserID   uint   `gorm:"index;not null;index:idx_device_user_token,unique"`
	Token    string `gorm:"size:255;not null;index:idx_device_user_token,unique"`
	Platform string
}
