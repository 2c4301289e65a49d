package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache 是一个可选的 Redis 缓存封装。
// 未配置 Redis 时所有方法退化为 miss/no-op，调用方直接回落到数据库，
// 因此业务代码不需要区分缓存是否启用。
type Cache struct {
	rdb *redis.Client
	ctx context.Context
}

// New 按地址创建缓存客户端；addr 为空时返回禁用状态的实例。
// 连接失败不视为致命错误，只会让后续调用全部 miss。
func New(addr, password string, dbIndex int) *Cache {
	c := &Cache{ctx: context.Background()}
	if addr == "" {
		return c
	}

	c.rdb = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbIndex,
	})
	return c
}

// Enabled 报告缓存是否已配置。
func (c *Cache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// Close 释放底层连接。
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}

func unreadKey(userID uint) string {
	return fmt.Sprintf("notif:unread:%d", userID)
}

// GetUnreadCount 返回缓存的未读通知数，miss 时 ok 为 false。
func (c *Cache) GetUnreadCount(userID uint) (int64, bool) {
	if !c.Enabled() {
		return 0, false
	}

	raw, err := c.rdb.Get(c.ctx, unreadKey(userID)).Result()
	if err != nil {
		return 0, false
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return count, true
}

// SetUnreadCount 写入未读通知数，带短 TTL 以容忍偶发的失效遗漏。
func (c *Cache) SetUnreadCount(userID uint, count int64) {
	if !c.Enabled() {
		return
	}
	c.rdb.Set(c.ctx, unreadKey(userID), count, 5*time.Minute)
}

// InvalidateUnreadCount 使未读数缓存失效，写通知后调用。
func (c *Cache) InvalidateUnreadCount(userID uint) {
	if !c.Enabled() {
		return
	}
	c.rdb.Del(c.ctx, unreadKey(userID))
}

const leaderboardKey = "xp:leaderboard"

// UpdateLeaderboard 以用户当前 XP 更新排行榜 ZSET。
func (c *Cache) UpdateLeaderboard(userID uint, xp int) {
	if !c.Enabled() {
		return
	}
	c.rdb.ZAdd(c.ctx, leaderboardKey, &redis.Z{
		Score:  float64(xp),
		Member: strconv.FormatUint(uint64(userID), 10),
	})
}

// LeaderboardXP 批量读取一组用户的排行榜分数；未入榜的用户分数为 0，
// 由调用方回落到数据库中的值。
func (c *Cache) LeaderboardXP(userIDs []uint) (map[uint]int, bool) {
	if !c.Enabled() || len(userIDs) == 0 {
		return nil, false
	}

	members := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, strconv.FormatUint(uint64(id), 10))
	}

	scores, err := c.rdb.ZMScore(c.ctx, leaderboardKey, members...).Result()
	if err != nil || len(scores) != len(userIDs) {
		return nil, false
	}

	result := make(map[uint]int, len(userIDs))
	for i, id := range userIDs {
		result[id] = int(scores[i])
	}
	return result, true
}
