package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ritualmate/internal/cache"
	"github.com/ritualmate/internal/db"
	"gorm.io/gorm"
)

// ErrDeviceNotFound 在注销不存在的设备令牌时返回。
var ErrDeviceNotFound = errors.New("device not found")

// PushConfig 描述推送网关的接入参数，URL 为空时不做远端推送。
type PushConfig struct {
	GatewayURL string
	APIKey     string
}

// NotificationService 负责站内通知的落库与尽力而为的设备推送。
// 推送失败只记录日志，绝不向调用方传播——通知是核心流程的旁路副作用。
type NotificationService struct {
	db    *gorm.DB
	cache *cache.Cache
	push  PushConfig
	http  httpDoer
}

// NewNotificationService 构造 NotificationService。
func NewNotificationService(gdb *gorm.DB, c *cache.Cache, push PushConfig) *NotificationService {
	return &NotificationService{
		db:    gdb,
		cache: c,
		push:  push,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (s *NotificationService) SetHTTPClient(client httpDoer) {
	if client == nil {
		s.http = &http.Client{Timeout: 10 * time.Second}
		return
	}
	s.http = client
}

// Notify 写入一条站内通知并向用户的所有注册设备推送。
// payload 会被序列化为 JSON 存入 Payload 字段。
func (s *NotificationService) Notify(userID uint, typeTag, title, body string, payload map[string]interface{}) error {
	encoded := ""
	if len(payload) > 0 {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode notification payload: %w", err)
		}
		encoded = string(raw)
	}

	record := db.Notification{
		UserID:  userID,
		Type:    typeTag,
		Title:   strings.TrimSpace(title),
		Body:    strings.TrimSpace(body),
		Payload: encoded,
	}

	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	s.cache.InvalidateUnreadCount(userID)
	s.pushToDevices(userID, record)
	return nil
}

// pushToDevices 将通知广播到用户的所有设备令牌，任何失败都被吞掉。
func (s *NotificationService) pushToDevices(userID uint, n db.Notification) {
	if strings.TrimSpace(s.push.GatewayURL) == "" {
		return
	}

	var devices []db.Device
	if err := s.db.Where("user_id = ?", userID).Find(&devices).Error; err != nil {
		log.Printf("[PUSH] 查询设备失败 user=%d: %v", userID, err)
		return
	}

	for _, device := range devices {
		if err := s.pushOne(device, n); err != nil {
			log.Printf("[PUSH] 推送失败 user=%d device=%d: %v", userID, device.ID, err)
		}
	}
}

func (s *NotificationService) pushOne(device db.Device, n db.Notification) error {
	payload := map[string]interface{}{
		"token": device.Token,
		"title": n.Title,
		"body":  n.Body,
		"data": map[string]interface{}{
			"type":    n.Type,
			"payload": n.Payload,
		},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, s.push.GatewayURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.push.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.push.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("push gateway status %s", resp.Status)
	}
	return nil
}

// List 返回用户的通知，按时间倒序，limit<=0 时默认 50 条。
func (s *NotificationService) List(userID uint, limit int) ([]db.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	var notifications []db.Notification
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// UnreadCount 返回未读通知数，优先走缓存。
func (s *NotificationService) UnreadCount(userID uint) (int64, error) {
	if count, ok := s.cache.GetUnreadCount(userID); ok {
		return count, nil
	}

	var count int64
	if err := s.db.Model(&db.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}

	s.cache.SetUnreadCount(userID, count)
	return count, nil
}

// MarkRead 将指定通知置为已读，归属校验防止越权。
func (s *NotificationService) MarkRead(userID, notificationID uint) error {
	result := s.db.Model(&db.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("read", true)
	if result.Error != nil {
		return fmt.Errorf("mark notification read: %w", result.Error)
	}

	s.cache.InvalidateUnreadCount(userID)
	return nil
}

// MarkAllRead 将用户全部通知置为已读。
func (s *NotificationService) MarkAllRead(userID uint) error {
	if err := s.db.Model(&db.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error; err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}

	s.cache.InvalidateUnreadCount(userID)
	return nil
}

// RegisterDevice 注册推送设备令牌，重复注册同一令牌保持幂等。
func (s *NotificationService) RegisterDevice(userID uint, token, platform string) (*db.Device, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("device token is required")
	}

	var existing db.Device
	err := s.db.Where("user_id = ? AND token = ?", userID, token).First(&existing).Error
	if err == nil {
		if existing.Platform != platform {
			existing.Platform = platform
			if err := s.db.Save(&existing).Error; err != nil {
				return nil, fmt.Errorf("update device: %w", err)
			}
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find device: %w", err)
	}

	device := db.Device{UserID: userID, Token: token, Platform: platform}
	if err := s.db.Create(&device).Error; err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}
	return &device, nil
}

// UnregisterDevice 删除设备令牌。
func (s *NotificationService) UnregisterDevice(userID uint, token string) error {
	result := s.db.Where("user_id = ? AND token = ?", userID, strings.TrimSpace(token)).Delete(&db.Device{})
	if result.Error != nil {
		return fmt.Errorf("unregister device: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}
