package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/example/retina-check/internal/auth"
	"github.com/example/retina-check/internal/classifier"
	"github.com/example/retina-check/internal/config"
	"github.com/example/retina-check/internal/handlers"
	"github.com/example/retina-check/internal/imagestore"
	"github.com/example/retina-check/internal/logging"
	"github.com/example/retina-check/internal/repository"
	"github.com/example/retina-check/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(os.Getenv("RETINA_CONFIG"))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db := initDatabase(ctx, cfg.Database, logger)
	repo := repository.NewAnalysisRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	cache := initCache(ctx, cfg.Redis, logger)
	images := initImageStore(ctx, cfg.Uploads, logger)

	cls, err := classifier.NewONNXClassifier(cfg.Model.Path, cfg.Model.SharedLibrary, cfg.Model.InputSize, logger)
	if err != nil {
		logger.Fatal("failed to load classifier model", zap.Error(err))
	}
	defer cls.Close() //nolint:errcheck

	uc := usecase.NewAnalysisUseCase(repo, cache, cls, images, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Audience)
	handlers.RegisterRoutes(r, uc, authMiddleware)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("retina-check API listening", zap.String("addr", cfg.Server.Addr))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) *gorm.DB {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		zapLogger.Fatal("unsupported database driver", zap.String("driver", cfg.Driver))
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initCache(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) usecase.Cache {
	if strings.TrimSpace(cfg.Addr) == "" {
		zapLogger.Info("redis not configured, record cache disabled")
		return usecase.NoopCache{}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(pingCtx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return usecase.NewRedisCache(client)
}

func initImageStore(ctx context.Context, cfg config.UploadsConfig, zapLogger *zap.Logger) imagestore.Store {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "disk":
		store, err := imagestore.NewDiskStore(cfg.Dir, zapLogger)
		if err != nil {
			zapLogger.Fatal("failed to initialize upload directory", zap.Error(err))
		}
		return store
	case "minio":
		store, err := imagestore.NewMinioStore(ctx, cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.Region, cfg.Minio.UseSSL, zapLogger)
		if err != nil {
			zapLogger.Fatal("failed to connect to object storage", zap.Error(err))
		}
		return store
	default:
		zapLogger.Fatal("unsupported upload backend", zap.String("backend", cfg.Backend))
		return nil
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
