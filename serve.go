package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/selfie-capture/internal/auth"
	"github.com/example/selfie-capture/internal/config"
	"github.com/example/selfie-capture/internal/handlers"
	"github.com/example/selfie-capture/internal/imaging"
	"github.com/example/selfie-capture/internal/observer"
	"github.com/example/selfie-capture/internal/repository"
	"github.com/example/selfie-capture/internal/storage"
	"github.com/example/selfie-capture/internal/submission"
	"github.com/example/selfie-capture/internal/usecase"
	"github.com/example/selfie-capture/internal/verifyapi"
)

var serveOpts struct {
	addr       string
	production bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveOpts.addr != "" {
			cfg.HTTPAddr = serveOpts.addr
		}
		if cmd.Flags().Changed("production") {
			cfg.Production = serveOpts.production
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", "", "listen address; overrides HTTP_ADDR")
	serveCmd.Flags().BoolVar(&serveOpts.production, "production", false, "submit to the production verification endpoint")
}

func runServe(ctx context.Context) error {
	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := initDatabase(startCtx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	repo := repository.NewSessionRepository(db, logger)
	if err := repo.AutoMigrate(startCtx); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	redisClient, err := initRedis(startCtx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	faceObserver, conn, err := observer.Dial(startCtx, cfg.ObserverAddr, logger)
	if err != nil {
		return fmt.Errorf("connect to face observer: %w", err)
	}
	defer conn.Close()

	api := verifyapi.NewClient(cfg.VerifyBaseURL(), cfg.Partner.PartnerID, cfg.Partner.AuthToken,
		&http.Client{Timeout: 60 * time.Second}, logger)
	pipeline := submission.NewPipeline(storage.NewLocal(cfg.StorageRoot, logger), api, submission.Options{
		KeepArtifacts: cfg.KeepArtifacts,
		CallbackURL:   cfg.CallbackURL,
	}, logger)

	uc := usecase.NewCaptureUseCase(repo, usecase.NewRedisCache(redisClient, "selfie-capture:"), faceObserver, imaging.NewExtractor(), pipeline,
		useCaseOptions(cfg), logger)

	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience, logger))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("capture API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Bool("production", cfg.Production),
		zap.String("verify_url", cfg.VerifyBaseURL()),
	)
	serveErr := serveHTTPServer(server, cfg.ShutdownTimeout, logger)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer drainCancel()
	if err := uc.Shutdown(drainCtx); err != nil {
		logger.Warn("capture sessions did not stop in time", zap.Error(err))
	}
	return serveErr
}

func useCaseOptions(c config.Config) usecase.Options {
	return usecase.Options{
		Engine:         c.Engine(),
		SnapshotTTL:    c.SnapshotTTL,
		SessionTimeout: c.SessionTimeout,
	}
}

func initDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	return client, nil
}
