package handler

import (
	"github.com/ritualmate/internal/cache"
	"github.com/ritualmate/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db            *gorm.DB
	rituals       *service.RitualService
	completions   *service.CompletionService
	partnerships  *service.PartnershipService
	xp            *service.XPService
	notifications *service.NotificationService
	friends       *service.FriendService
	coach         *service.CoachService
	system        *service.SystemSettingService
	uploadDir     string
	uploadURL     string
}

// Deps 列出构造 API 所需的外部依赖，由应用根（cmd/server）装配。
type Deps struct {
	DB        *gorm.DB
	Cache     *cache.Cache
	Scheduler *service.StreakScheduler
	Push      service.PushConfig
	UploadDir string
	UploadURL string
}

// NewAPI constructs a handler set with shared services.
func NewAPI(deps Deps) *API {
	notifier := service.NewNotificationService(deps.DB, deps.Cache, deps.Push)
	xp := service.NewXPService(deps.DB, deps.Cache, notifier)
	partnerships := service.NewPartnershipService(deps.DB, deps.Scheduler, notifier)
	systemService := service.NewSystemSettingService(deps.DB)

	return &API{
		db:            deps.DB,
		rituals:       service.NewRitualService(deps.DB, deps.Scheduler),
		completions:   service.NewCompletionService(deps.DB, xp, notifier, partnerships),
		partnerships:  partnerships,
		xp:            xp,
		notifications: notifier,
		friends:       service.NewFriendService(deps.DB, deps.Cache, notifier),
		coach:         service.NewCoachService(deps.DB, systemService),
		system:        systemService,
		uploadDir:     deps.UploadDir,
		uploadURL:     deps.UploadURL,
	}
}
