package db

import "gorm.io/gorm"

const (
	// ChatRoleUser 表示用户发出的消息。
	ChatRoleUser = "user"
	// ChatRoleCoach 表示 AI 教练的回复。
	ChatRoleCoach = "coach"
)

// ChatMessage 保存教练对话的一条消息。
// 教练回复同时保存原始 Markdown 与消毒后的 HTML，客户端直接渲染后者。
type ChatMessage struct {
	gorm.Model
	UserID      uint   `gorm:"index;not null"`
	Role        string `gorm:"size:16"`
	Content     string `gorm:"type:text"`
	ContentHTML string `gorm:"type:text"`
}
