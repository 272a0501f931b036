package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medea/internal/core/ports"
	"medea/internal/core/services"
	httphandlers "medea/internal/handlers/http"
	roombackup "medea/internal/infrastructure/backup"
	"medea/internal/infrastructure/callback"
	"medea/internal/infrastructure/distributed"
	"medea/internal/infrastructure/middleware"
	"medea/internal/infrastructure/monitoring"
	"medea/internal/infrastructure/repositories"
	"medea/internal/infrastructure/repositories/static"
	wssignal "medea/internal/infrastructure/signal"
	"medea/internal/infrastructure/turn"
	"medea/pkg/backup"
	"medea/pkg/circuitbreaker"
	"medea/pkg/config"
	"medea/pkg/logger"
	"medea/pkg/retry"
	"medea/pkg/tracing"
	"medea/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "config.yml"
	roomLockPrefix    = "medea:room:"
	snapshotVersion   = "1"
)

func main() {
	configPath := os.Getenv("MEDEA_CONF")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// medea token <operator> prints a control API token and exits.
	if len(os.Args) == 3 && os.Args[1] == "token" {
		os.Exit(printToken(cfg, os.Args[2]))
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err := run(cfg, zapLogger, log); err != nil {
		log.Fatalw("Medea stopped with error", "error", err)
	}
}

func printToken(cfg *config.Config, operator string) int {
	if cfg.Control.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "control.jwt_secret is not set")
		return 1
	}
	token, err := services.NewAuthService(cfg.Control.JWTSecret, cfg.Control.TokenTTL).GenerateToken(operator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

func run(cfg *config.Config, zapLogger *zap.Logger, log *zap.SugaredLogger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	instanceID := utils.GenerateInstanceID()
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	redisClient := repoFactory.Redis()

	var (
		collector *monitoring.PrometheusCollector
		metrics   ports.SignallingMetrics
	)
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(nil)
		metrics = collector
	}

	var (
		bus       *distributed.EventBus
		events    ports.RoomEventPublisher
		ownership *distributed.RoomOwnership
	)
	if redisClient != nil {
		bus = distributed.NewEventBus(redisClient, instanceID, cfg.Redis.Channel, log)
		events = bus
		ownership = distributed.NewRoomOwnership(redisClient, roomLockPrefix, instanceID, 0, log)

		go func() {
			err := bus.Subscribe(ctx, redisClient, func(event *distributed.Event) error {
				log.Infow("Remote room event",
					"type", event.Type,
					"instance_id", event.InstanceID,
					"room_id", event.RoomID,
					"member_id", event.MemberID,
				)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				log.Errorw("Event bus subscription ended", "error", err)
			}
		}()
	}

	// Callbacks
	breaker := circuitbreaker.DefaultConfig()
	breaker.FailureThreshold = cfg.Callback.Breaker.FailureThreshold
	breaker.Timeout = cfg.Callback.Breaker.Timeout
	httpTransport := callback.NewHTTPTransport(&http.Client{Timeout: cfg.Callback.Timeout}, breaker, log)
	if collector != nil {
		httpTransport.ObserveBreakers(collector.BreakerStateChanged)
	}
	transports := map[string]ports.CallbackTransport{
		"http":  httpTransport,
		"https": httpTransport,
	}
	if bus != nil {
		transports["redis"] = callback.NewRedisTransport(bus)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Enabled = cfg.Callback.Retry.MaxAttempts > 0
	retryCfg.MaxAttempts = cfg.Callback.Retry.MaxAttempts
	retryCfg.InitialDelay = cfg.Callback.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Callback.Retry.MaxDelay
	callbackService := services.NewCallbackService(services.CallbackServiceConfig{
		Workers:   cfg.Callback.Workers,
		QueueSize: cfg.Callback.QueueSize,
		Timeout:   cfg.Callback.Timeout,
		Retry:     retryCfg,
	}, transports, metrics, log)
	callbackService.Start()

	// Rooms
	iceServers, err := turn.ICEServers(turn.Config{
		Host: cfg.Turn.Host,
		Port: cfg.Turn.Port,
		User: cfg.Turn.User,
		Pass: cfg.Turn.Pass,
		TLS:  cfg.Turn.TLS,
	})
	if err != nil {
		return fmt.Errorf("turn: %w", err)
	}

	roomService := services.NewRoomService(services.RoomServiceConfig{
		PublicURL: cfg.Server.Client.PublicURL,
		Room: services.RoomConfig{
			Rpc: services.RpcDefaults{
				IdleTimeout:      cfg.Rpc.IdleTimeout,
				ReconnectTimeout: cfg.Rpc.ReconnectTimeout,
				PingInterval:     cfg.Rpc.PingInterval,
			},
			IceServers: iceServers,
			ForceRelay: cfg.Turn.ForceRelay,
		},
	}, services.NewRoomRegistry(), repoFactory.PeerRepositories(), callbackService, events, metrics, log)
	if ownership != nil {
		roomService.UseOwnership(ownership)
	}

	if dir := cfg.Control.StaticSpecsDir; dir != "" {
		specs, err := static.LoadSpecs(dir)
		if err != nil {
			return fmt.Errorf("load static specs: %w", err)
		}
		for _, spec := range specs {
			if _, err := roomService.CreateRoom(ctx, spec); err != nil {
				return fmt.Errorf("start static room %s: %w", spec.ID, err)
			}
			log.Infow("Static room started", "room_id", spec.ID, "members", len(spec.Members))
		}
	}

	var snapshots *roombackup.Scheduler
	if cfg.Backup.Enabled {
		storage, err := backup.NewFileStorage(cfg.Backup.Dir)
		if err != nil {
			return err
		}
		backups := backup.NewBackupService(storage, snapshotVersion)
		if cfg.Backup.RestoreOnStart {
			restored, err := roombackup.NewRestoreService(backups, roomService, log).Restore(ctx, roombackup.RestoreOptions{})
			if err != nil {
				return fmt.Errorf("restore rooms: %w", err)
			}
			log.Infow("Room snapshot restored", "rooms", restored)
		}
		snapshots = roombackup.NewScheduler(backups, roomService, roombackup.Config{
			Interval:  cfg.Backup.Interval,
			Retention: cfg.Backup.Retention,
		}, log)
		go snapshots.Start(ctx)
	}

	// Health
	health := monitoring.NewHealthChecker()
	if redisClient != nil {
		health.AddRedisCheck(redisClient, 10*time.Second, 2*time.Second)
	}
	health.AddRoomsCheck(roomService, 10*time.Second, 2*time.Second)
	health.AddCallbackQueueCheck(callbackService.Backlog, 10*time.Second)
	health.StartBackgroundChecks(ctx, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Client API
	wsCfg := wssignal.DefaultConfig()
	wsCfg.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	if cfg.RateLimiting.Enabled {
		wsCfg.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsCfg.Burst = cfg.RateLimiting.WebSocket.Burst
		wsCfg.MaxThrottle = cfg.RateLimiting.WebSocket.MaxThrottle
	}
	wsServer := wssignal.NewWebSocketServer(roomService, wsCfg, log)

	clientRouter := gin.New()
	clientRouter.Use(middleware.RecoveryMiddleware(log))
	wsServer.RegisterRoutes(clientRouter)
	clientRouter.GET("/health", monitoring.LivenessHandler)
	clientRouter.GET("/ready", health.ReadinessHandler)
	if cfg.Monitoring.PrometheusEnabled {
		clientRouter.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
		log.Infow("Prometheus metrics enabled", "path", cfg.Monitoring.MetricsPath)
	}

	// Control API
	controlRouter := gin.New()
	controlRouter.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)
	var auth []gin.HandlerFunc
	if cfg.Control.JWTSecret != "" {
		auth = append(auth, middleware.AuthMiddleware(services.NewAuthService(cfg.Control.JWTSecret, cfg.Control.TokenTTL)))
	} else {
		log.Warnw("Control API is not authenticated, set control.jwt_secret to protect it")
	}
	var controlHandler ports.ControlHandler = httphandlers.NewControlHandler(roomService, cfg.Control.RequestTimeout, log)
	controlHandler.SetupRoutes(controlRouter, auth...)

	clientSrv := &http.Server{
		Addr:              cfg.Server.Client.Address,
		Handler:           clientRouter,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
	controlSrv := &http.Server{
		Addr:         cfg.Server.Control.Address,
		Handler:      controlRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 2)
	for name, srv := range map[string]*http.Server{"client": clientSrv, "control": controlSrv} {
		go func(name string, srv *http.Server) {
			log.Infow("Starting server", "api", name, "address", srv.Addr, "instance_id", instanceID)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- fmt.Errorf("%s server: %w", name, err)
			}
		}(name, srv)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErr:
		log.Errorw("Server failed", "error", runErr)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Infow("Shutting down Medea")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	for name, srv := range map[string]*http.Server{"client": clientSrv, "control": controlSrv} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "api", name, "error", err)
			_ = srv.Close()
		}
	}
	if snapshots != nil {
		snapshots.Stop()
		if _, err := snapshots.Snapshot(shutdownCtx); err != nil {
			log.Errorw("Failed to snapshot rooms", "error", err)
		}
	}
	if err := roomService.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error closing rooms", "error", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error closing client sessions", "error", err)
	}
	if err := callbackService.Stop(shutdownCtx); err != nil {
		log.Errorw("Error flushing callbacks", "error", err)
	}
	if ownership != nil {
		for _, id := range ownership.Held() {
			if err := ownership.Release(shutdownCtx, id); err != nil {
				log.Warnw("Failed to release room", "room_id", id, "error", err)
			}
		}
	}

	stop()
	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Warnw("Error closing event bus", "error", err)
		}
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracing", "error", err)
	}

	log.Infow("Medea stopped")
	return runErr
}
