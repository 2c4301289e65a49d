package service

import (
	"testing"

	"github.com/ritualmate/internal/db"
)

func TestGetSettingsDefaults(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	svc := NewSystemSettingService(db.DB)
	settings, err := svc.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings returned error: %v", err)
	}
	if settings.AIProvider != AIProviderOpenAI {
		t.Fatalf("expected default provider openai, got %s", settings.AIProvider)
	}
	if settings.OpenAIAPIKey != "" || settings.DeepSeekAPIKey != "" {
		t.Fatal("expected empty keys by default")
	}
}

func TestUpdateSettingsRoundTrip(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	svc := NewSystemSettingService(db.DB)

	settings, err := svc.UpdateSettings(SystemSettingsInput{
		AIProvider:     "DeepSeek",
		DeepSeekAPIKey: "  sk-ds  ",
		CoachPersona:   "说话像一位老派田径教练",
	})
	if err != nil {
		t.Fatalf("UpdateSettings returned error: %v", err)
	}
	if settings.AIProvider != AIProviderDeepSeek {
		t.Fatalf("expected normalized provider, got %s", settings.AIProvider)
	}
	if settings.DeepSeekAPIKey != "sk-ds" {
		t.Fatalf("expected trimmed key, got %q", settings.DeepSeekAPIKey)
	}

	// 再次更新覆盖旧值
	settings, err = svc.UpdateSettings(SystemSettingsInput{AIProvider: "nonsense", OpenAIAPIKey: "sk-oa"})
	if err != nil {
		t.Fatalf("UpdateSettings returned error: %v", err)
	}
	if settings.AIProvider != AIProviderOpenAI {
		t.Fatalf("unknown provider must fall back to openai, got %s", settings.AIProvider)
	}
	if settings.OpenAIAPIKey != "sk-oa" || settings.DeepSeekAPIKey != "" {
		t.Fatalf("expected keys overwritten, got %q/%q", settings.OpenAIAPIKey, settings.DeepSeekAPIKey)
	}
	if settings.CoachPersona != "" {
		t.Fatalf("expected persona cleared, got %q", settings.CoachPersona)
	}
}
