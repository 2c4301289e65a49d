package service

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/ritualmate/internal/db"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"gorm.io/gorm"
)

const (
	defaultOpenAICoachModel   = "gpt-4o-mini"
	defaultDeepSeekCoachModel = "deepseek-chat"
	defaultCoachMaxTokens     = 600
	defaultCoachTemperature   = 0.6
	coachHistoryWindow        = 10
	coachLogSnippetRunes      = 256
)

const defaultCoachSystemPrompt = "你是一位温和而务实的习惯养成教练。" +
	"结合用户的仪式与连胜数据给出具体、可执行的建议；回答保持简短，" +
	"鼓励但不空洞，可以使用 Markdown 列表。不要编造用户没有的数据。"

var (
	coachMarkdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	coachSanitizer = bluemonday.UGCPolicy()
)

// CoachService 提供 LLM 教练对话：带上用户当前的仪式/连胜上下文调用
// 模型，历史消息与回复都持久化，回复同时渲染为消毒后的 HTML。
type CoachService struct {
	db       *gorm.DB
	settings *SystemSettingService
	client   *coachClient
}

// NewCoachService 构造 CoachService。
func NewCoachService(gdb *gorm.DB, settings *SystemSettingService) *CoachService {
	return &CoachService{
		db:       gdb,
		settings: settings,
		client:   newCoachClient(defaultOpenAICoachModel, defaultDeepSeekCoachModel),
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (s *CoachService) SetHTTPClient(client httpDoer) {
	s.client.SetHTTPClient(client)
}

// SetOpenAIBaseURL 覆盖默认的 OpenAI API 地址。
func (s *CoachService) SetOpenAIBaseURL(base string) {
	s.client.SetOpenAIBaseURL(base)
}

// SetDeepSeekBaseURL 覆盖默认的 DeepSeek API 地址。
func (s *CoachService) SetDeepSeekBaseURL(base string) {
	s.client.SetDeepSeekBaseURL(base)
}

// History 返回用户最近的教练对话，按时间正序。
func (s *CoachService) History(userID uint, limit int) ([]db.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	var messages []db.ChatMessage
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}

	// 倒序查询取最近 N 条，再翻转为时间正序返回
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Send 处理一轮对话：保存用户消息、携带习惯上下文与近几轮历史调用
// 模型、保存并渲染教练回复。未配置 API Key 时返回 ErrAIAPIKeyMissing。
func (s *CoachService) Send(ctx context.Context, userID uint, content string) (*db.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("message content is required")
	}

	settings, err := s.settings.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("读取系统设置失败: %w", err)
	}

	history, err := s.History(userID, coachHistoryWindow)
	if err != nil {
		return nil, err
	}

	userMessage := db.ChatMessage{UserID: userID, Role: db.ChatRoleUser, Content: content}
	if err := s.db.Create(&userMessage).Error; err != nil {
		return nil, fmt.Errorf("save chat message: %w", err)
	}

	systemPrompt := defaultCoachSystemPrompt
	if persona := strings.TrimSpace(settings.CoachPersona); persona != "" {
		systemPrompt += "\n\n" + persona
	}
	if ritualContext, err := s.buildRitualContext(userID); err == nil && ritualContext != "" {
		systemPrompt += "\n\n" + ritualContext
	}

	logCoachTurn(userID, "prompt", content)

	result, err := s.client.callWithSettings(ctx, settings, coachChatRequest{
		SystemPrompt: systemPrompt,
		History:      toChatMessages(history),
		UserPrompt:   content,
		MaxTokens:    defaultCoachMaxTokens,
		Temperature:  defaultCoachTemperature,
	})
	if err != nil {
		return nil, err
	}

	logCoachTurn(userID, "reply", result.Content)

	reply := db.ChatMessage{
		UserID:      userID,
		Role:        db.ChatRoleCoach,
		Content:     result.Content,
		ContentHTML: RenderMarkdown(result.Content),
	}
	if err := s.db.Create(&reply).Error; err != nil {
		return nil, fmt.Errorf("save coach reply: %w", err)
	}
	return &reply, nil
}

// logCoachTurn 记录一轮教练对话的单侧内容，长文本截断后输出，
// 方便按用户排查模型给出的建议。
func logCoachTurn(userID uint, side, content string) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		log.Printf("[coach] user=%d %s: <empty>", userID, side)
		return
	}
	if utf8.RuneCountInString(trimmed) > coachLogSnippetRunes {
		trimmed = string([]rune(trimmed)[:coachLogSnippetRunes]) + "…"
	}
	log.Printf("[coach] user=%d %s: %s", userID, side, trimmed)
}

// buildRitualContext 汇总用户的仪式与连胜现状，作为模型的背景资料。
func (s *CoachService) buildRitualContext(userID uint) (string, error) {
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return "", err
	}

	var rituals []db.Ritual
	if err := s.db.Where("user_id = ?", userID).Find(&rituals).Error; err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "用户现状：个人连胜 %d 天（历史最长 %d 天），等级 %d。",
		user.CurrentStreak, user.LongestStreak, user.Level)
	if len(rituals) > 0 {
		b.WriteString("仪式列表：")
		for i := range rituals {
			if i > 0 {
				b.WriteString("；")
			}
			fmt.Fprintf(&b, "%s（连胜 %d 天", rituals[i].Name, rituals[i].CurrentStreak)
			if rituals[i].ReminderTime != "" {
				fmt.Fprintf(&b, "，提醒 %s", rituals[i].ReminderTime)
			}
			b.WriteString("）")
		}
		b.WriteString("。")
	}
	fmt.Fprintf(&b, "今天是 %s。", db.NormalizeToDate(time.Now()).Format("2006-01-02 Mon"))
	return b.String(), nil
}

func toChatMessages(history []db.ChatMessage) []chatMessage {
	messages := make([]chatMessage, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == db.ChatRoleCoach {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: m.Content})
	}
	return messages
}

// RenderMarkdown 将 Markdown 渲染为消毒后的 HTML，渲染失败时退回纯文本。
func RenderMarkdown(source string) string {
	var buf bytes.Buffer
	if err := coachMarkdown.Convert([]byte(source), &buf); err != nil {
		return coachSanitizer.Sanitize(source)
	}
	return coachSanitizer.Sanitize(buf.String())
}
