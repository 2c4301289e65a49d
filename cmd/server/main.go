package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/cache"
	"github.com/ritualmate/internal/config"
	"github.com/ritualmate/internal/db"
	"github.com/ritualmate/internal/handler"
	"github.com/ritualmate/internal/router"
	"github.com/ritualmate/internal/service"
)

func main() {
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	// 可选的引导账号，方便全新部署后直接登录
	if err := db.EnsureUser(cfg.SeedUsername, cfg.SeedPassword); err != nil {
		log.Fatalf("failed to seed user: %v", err)
	}

	redisDB := 0
	if cfg.RedisDB != "" {
		if parsed, err := strconv.Atoi(cfg.RedisDB); err == nil {
			redisDB = parsed
		}
	}
	appCache := cache.New(cfg.RedisAddr, cfg.RedisPassword, redisDB)
	defer appCache.Close()

	push := service.PushConfig{GatewayURL: cfg.PushGatewayURL, APIKey: cfg.PushGatewayKey}

	// 调度器与判定引擎由应用根持有，随进程启停
	notifier := service.NewNotificationService(db.DB, appCache, push)
	engine := service.NewStreakEngine(db.DB, notifier)
	scheduler := service.NewStreakScheduler(db.DB, engine)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("failed to start streak scheduler: %v", err)
	}
	defer scheduler.Stop()

	api := handler.NewAPI(handler.Deps{
		DB:        db.DB,
		Cache:     appCache,
		Scheduler: scheduler,
		Push:      push,
		UploadDir: cfg.UploadDir,
		UploadURL: cfg.UploadURLPath,
	})

	r := router.SetupRouter(api, cfg.SessionSecret)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to run server: %v", err)
		}
	}()
	log.Printf("ritualmate listening on %s", cfg.ListenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}
