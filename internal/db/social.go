package db

import "gorm.io/gorm"

const (
	// FriendStatusPending 表示好友请求待确认。
	FriendStatusPending = "pending"
	// FriendStatusAccepted 表示双方已互为好友。
	FriendStatusAccepted = "accepted"
)

// Friendship 定义了好友关系，单条记录表示 UserID 向 FriendID 发起的关系。
// 接受后保持单条 accepted 记录，查询时按双向匹配。
type Friendship struct {
	gorm.Model
	UserID   uint   `gorm:"index;not null;index:idx_friend_pair,unique"`
	FriendID uint   `gorm:"index;not null;index:idx_friend_pair,unique"`
	Status   string `gorm:"default:pending;index"`
}
