package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-timetable-engine/api/swagger"
	"github.com/noah-isme/sma-timetable-engine/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-timetable-engine/internal/middleware"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/repository"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	"github.com/noah-isme/sma-timetable-engine/pkg/cache"
	"github.com/noah-isme/sma-timetable-engine/pkg/config"
	"github.com/noah-isme/sma-timetable-engine/pkg/database"
	"github.com/noah-isme/sma-timetable-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable-engine/pkg/middleware/requestid"
	"github.com/noah-isme/sma-timetable-engine/pkg/storage"
)

// @title SMA Timetable Engine API
// @version 1.0.0
// @description Timetable generation, conflict resolution and template recommendation
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type handlers struct {
	generator *handler.ScheduleGeneratorHandler
	conflicts *handler.ConflictHandler
	sessions  *handler.SessionHandler
	templates *handler.TemplateHandler
	loads     *handler.TeachingLoadHandler
	settings  *handler.GenerationSettingHandler
	exports   *handler.ExportHandler
	metrics   *handler.MetricsHandler
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if client, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, caching and queued notifications disabled", zap.Error(err))
	} else {
		redisClient = client
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr, repository.CacheRepositoryConfig{
		Namespace: cfg.Redis.Namespace,
		MaxTTL:    cfg.Templates.CacheMaxTTL,
		ListLimit: cfg.Notifications.QueueLimit,
	})
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Templates.CacheTTL, logr, cfg.Templates.CacheEnabled && cacheRepo.Enabled())

	scheduleRepo := repository.NewScheduleRepository(db)
	sessionRepo := repository.NewScheduleSessionRepository(db)
	conflictRepo := repository.NewScheduleConflictRepository(db)
	templateRepo := repository.NewScheduleTemplateRepository(db)
	loadRepo := repository.NewTeachingLoadRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	settingRepo := repository.NewGenerationSettingRepository(db)

	validate := validator.New()
	clock := service.SystemClock()
	defaults := defaultSetting(cfg.Scheduler)

	var notifier service.Notifier = service.NewLogNotifier(logr)
	if cacheRepo.Enabled() {
		notifier = service.NewRedisNotifier(cacheRepo, cfg.Notifications.QueueKey)
	}
	notifications := service.NewNotificationService(notifier, conflictRepo, metrics, logr, clock, service.NotificationConfig{
		Workers:          cfg.Notifications.Workers,
		Retries:          cfg.Notifications.Retries,
		RemindersEnabled: cfg.Notifications.RemindersEnabled,
		ReminderSchedule: cfg.Notifications.ReminderSchedule,
		ReminderAge:      cfg.Notifications.ReminderAge,
	})
	if err := notifications.Start(ctx); err != nil {
		logr.Sugar().Fatalw("failed to start notifications", "error", err)
	}
	defer notifications.Stop()

	conflictSvc := service.NewConflictService(scheduleRepo, sessionRepo, conflictRepo, loadRepo, roomRepo, db, notifications, metrics, validate, logr, clock,
		service.DetectionPolicy{TeacherWeeklyHourLimit: cfg.Scheduler.TeacherWeeklyHourLimit}).WithSettings(settingRepo)
	templateSvc := service.NewTemplateService(templateRepo, loadRepo, settingRepo, scheduleRepo, sessionRepo, cacheSvc, validate, logr, clock,
		service.RecommendationPolicy{
			MinSuccessRate: cfg.Templates.MinSuccessRate,
			MinSimilarity:  cfg.Templates.MinSimilarity,
			Limit:          cfg.Templates.RecommendLimit,
		}, defaults)
	generatorSvc := service.NewScheduleGeneratorService(loadRepo, settingRepo, roomRepo, scheduleRepo, sessionRepo, templateRepo, templateSvc, conflictSvc, db, metrics, validate, logr, clock,
		service.GeneratorConfig{
			TeacherWeeklyHourLimit: cfg.Scheduler.TeacherWeeklyHourLimit,
			Timeout:                cfg.Scheduler.GenerationTimeout,
			DefaultSetting:         defaults,
		})
	sessionSvc := service.NewSessionService(sessionRepo, scheduleRepo, settingRepo, conflictSvc, validate, logr, clock, defaults)
	loadSvc := service.NewTeachingLoadService(loadRepo, validate, logr)
	settingSvc := service.NewGenerationSettingService(settingRepo, cacheSvc, logr, defaults)
	exportSvc := service.NewExportService(scheduleRepo, sessionRepo, loadRepo, roomRepo, logr, nil)

	seedCtx, cancelSeed := context.WithTimeout(ctx, 10*time.Second)
	if err := templateSvc.SeedSystemTemplates(seedCtx); err != nil {
		logr.Warn("failed to seed system templates", zap.Error(err))
	}
	cancelSeed()

	sweeper := cron.New(cron.WithLogger(logger.Cron(logr)))
	if files, err := storage.NewFileStore(cfg.Exports.Dir); err != nil {
		logr.Warn("export publishing disabled", zap.String("dir", cfg.Exports.Dir), zap.Error(err))
	} else {
		exportSvc.WithPublishing(files, storage.NewLinkSigner(cfg.Exports.SigningSecret, cfg.Exports.LinkTTL), clock)
		if _, err := sweeper.AddFunc(cfg.Exports.SweepSchedule, func() {
			removed, err := exportSvc.SweepPublished(cfg.Exports.Retention)
			if err != nil {
				logr.Warn("export sweep failed", zap.Error(err))
				return
			}
			logr.Info("export sweep finished", zap.Int("removed", removed))
		}); err != nil {
			logr.Sugar().Fatalw("invalid export sweep schedule", "schedule", cfg.Exports.SweepSchedule, "error", err)
		}
	}
	sweeper.Start()
	defer sweeper.Stop()

	scope := service.NewInstitutionScopeService(scheduleRepo, conflictRepo, sessionRepo, templateRepo)
	h := handlers{
		generator: handler.NewScheduleGeneratorHandler(generatorSvc, scope),
		conflicts: handler.NewConflictHandler(conflictSvc, scope),
		sessions:  handler.NewSessionHandler(sessionSvc, scope),
		templates: handler.NewTemplateHandler(templateSvc, scope),
		loads:     handler.NewTeachingLoadHandler(loadSvc),
		settings:  handler.NewGenerationSettingHandler(settingSvc),
		exports:   handler.NewExportHandler(exportSvc, scope),
		metrics:   handler.NewMetricsHandler(metrics, readinessChecks(db, redisClient)),
	}
	identity := service.NewIdentityService(service.IdentityConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Swagger.Enabled && cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), h, identity)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func registerRoutes(api *gin.RouterGroup, h handlers, identity *service.IdentityService) {
	// Signed links carry their own authorisation.
	api.GET("/exports/download", h.exports.Download)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(identity))

	planners := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleScheduler)
	staff := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleScheduler, models.RoleTeacher)

	schedules := secured.Group("/schedules")
	schedules.POST("/generate", planners, h.generator.Generate)
	schedules.GET("", staff, h.generator.List)
	schedules.GET("/:id", staff, h.generator.Get)
	schedules.GET("/:id/sessions", staff, h.generator.Sessions)
	schedules.POST("/:id/detect", planners, h.conflicts.Detect)
	schedules.GET("/:id/conflicts", staff, h.conflicts.List)
	schedules.POST("/:id/conflicts", staff, h.conflicts.Report)
	schedules.GET("/:id/approval-gate", staff, h.conflicts.ApprovalGate)
	schedules.GET("/:id/export", staff, h.exports.Export)
	schedules.POST("/:id/export/publish", planners, h.exports.Publish)

	conflicts := secured.Group("/conflicts")
	conflicts.GET("/:id", staff, h.conflicts.Get)
	conflicts.POST("/:id/transition", planners, h.conflicts.Transition)

	secured.POST("/sessions/:id/:action", planners, h.sessions.Perform)

	templates := secured.Group("/templates")
	templates.POST("/recommend", planners, h.templates.Recommend)
	templates.POST("/from-schedule/:id", planners, h.templates.CreateFromSchedule)
	templates.POST("/:id/apply", planners, h.templates.Apply)
	templates.DELETE("/:id", internalmiddleware.RequireRoles(models.RoleAdmin), h.templates.Deactivate)

	loads := secured.Group("/teaching-loads")
	loads.GET("", staff, h.loads.List)
	loads.GET("/statistics", staff, h.loads.Statistics)
	loads.POST("/ready", planners, h.loads.MarkReady)
	loads.POST("/reset", planners, h.loads.Reset)

	secured.GET("/timegrid/:institutionId", staff, internalmiddleware.RequireInstitution("institutionId"), h.generator.TimeGrid)
	secured.GET("/settings/:institutionId", planners, internalmiddleware.RequireInstitution("institutionId"), h.settings.Get)
	secured.PUT("/settings/:institutionId", internalmiddleware.RequireRoles(models.RoleAdmin), internalmiddleware.RequireInstitution("institutionId"), h.settings.Update)
}

func readinessChecks(db *sqlx.DB, client *redis.Client) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{"postgres": db}
	if client != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return checks
}

func defaultSetting(cfg config.SchedulerConfig) models.ScheduleGenerationSetting {
	setting := models.ScheduleGenerationSetting{
		WorkingDays:           models.IntList(cfg.DefaultWorkingDays),
		DailyPeriods:          cfg.DefaultDailyPeriods,
		PeriodDurationMinutes: cfg.DefaultPeriodMinutes,
		BreakPeriods:          models.IntList(cfg.DefaultBreakPeriods),
		FirstPeriodStart:      cfg.DefaultFirstPeriod,
		BreakDurationMinutes:  cfg.DefaultBreakMinutes,
		LunchDurationMinutes:  cfg.DefaultLunchMinutes,
		GenerationPreferences: models.GenerationPreferences{
			MaxConsecutiveHours:    cfg.DefaultMaxConsecutive,
			TeacherWeeklyHourLimit: cfg.TeacherWeeklyHourLimit,
		},
	}
	if cfg.DefaultLunchPeriod > 0 {
		lunch := cfg.DefaultLunchPeriod
		setting.LunchBreakPeriod = &lunch
	}
	return setting
}
