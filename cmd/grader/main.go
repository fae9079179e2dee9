package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autograde/internal/common/cache"
	"autograde/internal/common/db"
	commonmw "autograde/internal/common/http/middleware"
	"autograde/internal/common/mq"
	"autograde/internal/common/storage"
	"autograde/internal/grading/controller"
	"autograde/internal/grading/files"
	"autograde/internal/grading/notify"
	"autograde/internal/grading/orchestrator"
	"autograde/internal/grading/outputs"
	"autograde/internal/grading/repository"
	"autograde/internal/grading/resultcache"
	"autograde/internal/grading/runner"
	"autograde/internal/grading/sandbox"
	"autograde/internal/grading/service"
	"autograde/pkg/utils/logger"
	"autograde/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/grader.yaml"
	defaultEnvPath    = ".env"
	healthTimeout     = 2 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", defaultEnvPath, "Path to .env file with secret overrides")
	migrate := flag.Bool("migrate", false, "Create grading tables and exit")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	if *migrate {
		if err := repository.Migrate(context.Background(), mysqlDB); err != nil {
			logger.Error(context.Background(), "migrate failed", zap.Error(err))
			return
		}
		logger.Info(context.Background(), "migrate finished")
		return
	}

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}
	if err := objStorage.EnsureBucket(context.Background(), appCfg.MinIO.Bucket); err != nil {
		logger.Error(context.Background(), "init minio bucket failed", zap.Error(err))
		return
	}

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	sandboxes, err := sandbox.NewDockerFactory(context.Background(), appCfg.Sandbox)
	if err != nil {
		logger.Error(context.Background(), "init docker sandbox failed", zap.Error(err))
		return
	}
	defer func() {
		_ = sandboxes.Close()
	}()

	outputStore, err := outputs.New(appCfg.Grading.Outputs, objStorage)
	if err != nil {
		logger.Error(context.Background(), "init output store failed", zap.Error(err))
		return
	}
	fileStore := files.NewStore(objStorage, appCfg.Grading.Files)
	gradingRepo := repository.NewRepository(mysqlDB)
	results := resultcache.New(redisCache)

	grader, err := orchestrator.New(orchestrator.Config{
		Repository:          gradingRepo,
		Sandboxes:           sandboxes,
		Runner:              runner.New(appCfg.Grading.Runner),
		Files:               fileStore,
		Outputs:             outputStore,
		Notifier:            notify.NewQueueNotifier(mqClient, appCfg.Topics.Alerts, appCfg.Topics.AlertTimeout),
		Cache:               results,
		RecoverableAttempts: appCfg.Grading.RecoverableAttempts,
		RecoverableBackoff:  appCfg.Grading.RecoverableBackoff,
	})
	if err != nil {
		logger.Error(context.Background(), "init orchestrator failed", zap.Error(err))
		return
	}

	gradingSvc, err := service.NewGradingService(service.GradingConfig{
		Grader:          grader,
		Queue:           mqClient,
		Topic:           appCfg.Topics.Jobs,
		DeadLetterTopic: appCfg.Topics.DeadLetter,
		ConsumerGroup:   appCfg.Kafka.ConsumerGroup,
		WorkerPoolSize:  appCfg.Grading.WorkerPoolSize,
		JobTimeout:      appCfg.Grading.JobTimeout,
		SlotTimeout:     appCfg.Grading.SlotTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init grading service failed", zap.Error(err))
		return
	}
	feedbackSvc, err := service.NewFeedbackService(service.FeedbackConfig{
		Repository: gradingRepo,
		Outputs:    outputStore,
		Expected:   fileStore,
		Cache:      results,
	})
	if err != nil {
		logger.Error(context.Background(), "init feedback service failed", zap.Error(err))
		return
	}

	err = mqClient.SubscribeWithOptions(context.Background(), gradingSvc.Topic(), gradingSvc.HandleMessage, gradingSvc.SubscribeOptions())
	if err != nil {
		logger.Error(context.Background(), "subscribe kafka failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	checks := healthChecks{"mysql": mysqlDB.Ping, "redis": redisCache.Ping, "kafka": mqClient.Ping}
	httpServer := buildHTTPServer(appCfg.Server, appCfg.Auth, controller.NewGradingController(gradingSvc, feedbackSvc), checks)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "grader http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("jobs_topic", appCfg.Topics.Jobs),
			zap.Int("worker_pool_size", appCfg.Grading.WorkerPoolSize),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	// Stop waits for in-flight gradings so their teardown runs before exit.
	_ = mqClient.Stop()
}

type healthChecks map[string]func(ctx context.Context) error

func buildHTTPServer(cfg ServerConfig, auth AuthConfig, grading *controller.GradingController, checks healthChecks) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", healthHandler(checks))

	verifier := commonmw.NewTokenVerifier(auth.Secret, auth.Issuer)
	api := router.Group("/api/v1/grading", commonmw.AuthMiddleware(verifier, auth.Roles...))
	grading.Register(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func healthHandler(checks healthChecks) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		status := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn(ctx, "health check failed", zap.String("component", name), zap.Error(err))
				status[name] = "down"
				continue
			}
			status[name] = "up"
		}
		response.Success(c, status)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
