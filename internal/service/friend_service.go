package service

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ritualmate/internal/cache"
	"github.com/ritualmate/internal/db"
	"gorm.io/gorm"
)

var (
	// ErrFriendRequestExists 在重复发起好友请求时返回
	ErrFriendRequestExists = errors.New("friend request already exists")
	// ErrFriendRequestNotFound 在待确认的好友请求不存在时返回
	ErrFriendRequestNotFound = errors.New("friend request not found")
	// ErrFriendSelf 在向自己发起好友请求时返回
	ErrFriendSelf = errors.New("cannot befriend yourself")
)

// LeaderboardEntry 是好友排行榜中的一行。
type LeaderboardEntry struct {
	UserID        uint   `json:"user_id"`
	DisplayName   string `json:"display_name"`
	XP            int    `json:"xp"`
	Level         int    `json:"level"`
	CurrentStreak int    `json:"current_streak"`
}

// FriendService 管理好友关系与好友间的经验排行榜。
type FriendService struct {
	db       *gorm.DB
	cache    *cache.Cache
	notifier *NotificationService
}

// NewFriendService 构造 FriendService。
func NewFriendService(gdb *gorm.DB, c *cache.Cache, notifier *NotificationService) *FriendService {
	return &FriendService{db: gdb, cache: c, notifier: notifier}
}

// Request 向另一位用户发起好友请求，任一方向已有记录时拒绝重复。
func (s *FriendService) Request(userID, friendID uint) error {
	if userID == friendID {
		return ErrFriendSelf
	}

	var friend db.User
	if err := s.db.First(&friend, friendID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}

	var count int64
	if err := s.db.Model(&db.Friendship{}).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
			userID, friendID, friendID, userID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("count friendships: %w", err)
	}
	if count > 0 {
		return ErrFriendRequestExists
	}

	if err := s.db.Create(&db.Friendship{UserID: userID, FriendID: friendID, Status: db.FriendStatusPending}).Error; err != nil {
		return fmt.Errorf("create friend request: %w", err)
	}

	if err := s.notifier.Notify(friendID, db.NotifTypeFriendRequest, "新的好友请求",
		"有人想和你一起养成好习惯，去看看吧。",
		map[string]interface{}{"user_id": userID}); err != nil {
		logSideEffect("friend request notify", err)
	}
	return nil
}

// Accept 接受来自 requesterID 的好友请求。
func (s *FriendService) Accept(userID, requesterID uint) error {
	result := s.db.Model(&db.Friendship{}).
		Where("user_id = ? AND friend_id = ? AND status = ?", requesterID, userID, db.FriendStatusPending).
		Update("status", db.FriendStatusAccepted)
	if result.Error != nil {
		return fmt.Errorf("accept friend request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrFriendRequestNotFound
	}

	if err := s.notifier.Notify(requesterID, db.NotifTypeFriendAccepted, "好友请求已通过",
		"你们现在是好友了，互相监督打卡吧！",
		map[string]interface{}{"user_id": userID}); err != nil {
		logSideEffect("friend accepted notify", err)
	}
	return nil
}

// Friends 返回用户已确认的全部好友。
func (s *FriendService) Friends(userID uint) ([]db.User, error) {
	ids, err := s.friendIDs(userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var friends []db.User
	if err := s.db.Where("id IN ?", ids).Find(&friends).Error; err != nil {
		return nil, fmt.Errorf("load friends: %w", err)
	}
	return friends, nil
}

// PendingRequests 返回等待当前用户确认的请求发起者。
func (s *FriendService) PendingRequests(userID uint) ([]db.User, error) {
	var requests []db.Friendship
	if err := s.db.Where("friend_id = ? AND status = ?", userID, db.FriendStatusPending).
		Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("list friend requests: %w", err)
	}
	if len(requests) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(requests))
	for _, r := range requests {
		ids = append(ids, r.UserID)
	}

	var users []db.User
	if err := s.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load requesters: %w", err)
	}
	return users, nil
}

// Leaderboard 返回"自己 + 好友"按经验排序的排行榜。
// Redis 排行榜可用时用缓存分数排序，否则直接按数据库值。
func (s *FriendService) Leaderboard(userID uint) ([]LeaderboardEntry, error) {
	ids, err := s.friendIDs(userID)
	if err != nil {
		return nil, err
	}
	ids = append(ids, userID)

	var users []db.User
	if err := s.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load leaderboard users: %w", err)
	}

	scores, cached := s.cache.LeaderboardXP(ids)

	entries := make([]LeaderboardEntry, 0, len(users))
	for _, u := range users {
		xp := u.XP
		if cached {
			if score, ok := scores[u.ID]; ok && score > 0 {
				xp = score
			}
		}

		name := u.DisplayName
		if name == "" {
			name = u.Username
		}
		entries = append(entries, LeaderboardEntry{
			UserID:        u.ID,
			DisplayName:   name,
			XP:            xp,
			Level:         u.Level,
			CurrentStreak: u.CurrentStreak,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].XP != entries[j].XP {
			return entries[i].XP > entries[j].XP
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}

func (s *FriendService) friendIDs(userID uint) ([]uint, error) {
	var friendships []db.Friendship
	if err := s.db.Where("status = ?", db.FriendStatusAccepted).
		Where("user_id = ? OR friend_id = ?", userID, userID).
		Find(&friendships).Error; err != nil {
		return nil, fmt.Errorf("list friendships: %w", err)
	}

	ids := make([]uint, 0, len(friendships))
	for _, f := range friendships {
		if f.UserID == userID {
			ids = append(ids, f.FriendID)
		} else {
			ids = append(ids, f.UserID)
		}
	}
	return ids, nil
}
