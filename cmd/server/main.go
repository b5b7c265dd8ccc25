// Package main runs the TrainerMatch HTTP server with WebSocket push and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trainermatch/backend/config"
	"github.com/trainermatch/backend/internal/auth"
	"github.com/trainermatch/backend/internal/capture"
	"github.com/trainermatch/backend/internal/delivery"
	"github.com/trainermatch/backend/internal/media"
	"github.com/trainermatch/backend/internal/messages"
	"github.com/trainermatch/backend/internal/metrics"
	"github.com/trainermatch/backend/internal/middleware"
	"github.com/trainermatch/backend/internal/models"
	"github.com/trainermatch/backend/internal/realtime"
	"github.com/trainermatch/backend/internal/recording"
	"github.com/trainermatch/backend/internal/recordings"
	"github.com/trainermatch/backend/internal/worker"
	"github.com/trainermatch/backend/pkg/database"
	"github.com/trainermatch/backend/pkg/queue"
	"github.com/trainermatch/backend/pkg/redis"
	"github.com/trainermatch/backend/pkg/response"
	"github.com/trainermatch/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	appCtx, appCancel := context.WithCancel(ctx)
	defer appCancel()

	m := metrics.NewMetrics()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	// Media library and message store
	library, err := media.NewLibrary(cfg.Messages.MediaDir, logger)
	if err != nil {
		logger.Fatal("media library", zap.Error(err))
	}
	var archive media.ObjectDeleter
	var presign messages.Presigner
	if s3Client != nil {
		archive = s3Client
		presign = s3Client
	}
	cleaner := media.NewCleaner(library, archive, logger)

	var store messages.Store
	var users *auth.Repository
	switch cfg.Messages.Backend {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		store = messages.NewPostgresStore(pool, cleaner, logger)
		users = auth.NewRepository(pool)
	default:
		store = messages.OpenFileStore(cfg.Messages.File, cfg.Messages.SeedDemo, cleaner, logger)
	}

	// Redis: pub/sub fan-out and archive queue. Optional.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 5, logger)
		if err != nil {
			logger.Warn("redis disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var hub *realtime.Hub
	var jobQueue *queue.Queue
	if rdb != nil {
		redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, redisPubSub, redisPubSub)
		jobQueue = queue.NewQueue(rdb.Client, logger)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	// Capture -> recording -> delivery
	driver := capture.NewFFmpegDriver(cfg.Capture, logger)
	session := capture.NewManager(driver, cfg.Capture.TempDir, logger)
	controller := recording.NewController(session, cfg.Capture.CountdownTick, logger, m)

	opts := []delivery.Option{delivery.WithNotifier(hub), delivery.WithMetrics(m)}
	if jobQueue != nil && s3Client != nil {
		opts = append(opts, delivery.WithArchiveQueue(jobQueue))
	}
	captureStates, stopCaptureStates := session.Subscribe()
	defer stopCaptureStates()
	recordingStates, stopRecordingStates := controller.Subscribe()
	defer stopRecordingStates()
	go recordings.PushState(appCtx, captureStates, recordingStates, hub)

	orchestrator := delivery.NewOrchestrator(store, library, delivery.FFProbe{Path: cfg.Messages.FFProbePath}, logger, opts...)

	// The standalone worker shares only the Postgres store; with the file
	// store the archive processor runs here.
	if jobQueue != nil && s3Client != nil && cfg.Messages.Backend == "file" {
		processor := worker.NewArchiveProcessor(store, library, s3Client, jobQueue, m, logger)
		go processor.Run(appCtx)
		logger.Info("archive worker started in-process")
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	recordingHandler := recordings.NewHandler(appCtx, session, controller, orchestrator, cfg.Capture.DefaultSeconds, logger)
	messageHandler := messages.NewHandler(store, library, presign, hub, m, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID, string(claims.Role), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(m.Middleware())

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", metrics.Handler())

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	messageHandler.RegisterRoutes(api)
	trainer := api.Group("", middleware.RequireRole(models.RoleTrainer))
	recordingHandler.RegisterRoutes(trainer)

	// Accounts live in Postgres; with the file store tokens come from cmd/devtoken.
	if users != nil {
		authHandler := auth.NewHandler(users, jwtService, logger)
		authGroup := router.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/register", authHandler.Register)
		}
		trainer.GET("/clients", authHandler.Clients)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port),
			zap.String("message_backend", cfg.Messages.Backend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// finalize any take in progress before the process exits
	if err := session.Stop(); err != nil {
		logger.Warn("stop capture session", zap.Error(err))
	}
	appCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
