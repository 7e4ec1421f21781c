package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/config"
	"alarmd/internal/credential"
	"alarmd/internal/deletion"
	"alarmd/internal/device"
	"alarmd/internal/dismissal"
	"alarmd/internal/httpserver"
	"alarmd/internal/mqhandler"
	"alarmd/internal/osalarm"
	"alarmd/internal/presentation"
	"alarmd/internal/repository"
	"alarmd/internal/supervisor"
	"alarmd/pkg/circuitbreaker"
	"alarmd/pkg/clock"
	pkgconfig "alarmd/pkg/config"
	"alarmd/pkg/db"
	"alarmd/pkg/logger"
	"alarmd/pkg/mq"
	redisclient "alarmd/pkg/redis"
	"alarmd/pkg/util"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	env := pkgconfig.GetConfigEnv()
	cfg, err := config.Load(env, pkgconfig.StringFromEnv("CONFIG_DIR", "config"))
	if err != nil {
		logger.NewLogger("info").Fatal("Failed to load config", zap.String("env", env), zap.Error(err))
	}

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	log.Info("Starting alarmd...",
		zap.String("env", env),
		zap.String("registry_backend", cfg.Registry.Backend),
		zap.String("task_service_url", cfg.TaskService.BaseURL),
		zap.Bool("db_enabled", cfg.DB.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb, err := redisclient.NewRedisClient(cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ, log)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// 展示历史（可选）
	var pool *pgxpool.Pool
	var writer *repository.Recorder
	var recorder presentation.OutcomeRecorder = repository.NopHistory{}
	var history httpserver.HistoryReader = repository.NopHistory{}
	if cfg.DB.Enabled {
		pool, err = db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to init DB", zap.Error(err))
		}
		defer pool.Close()

		repo := repository.NewAlarmHistoryRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to prepare alarm history schema", zap.Error(err))
		}
		writer = repository.NewRecorder(repo, log).WithBufferSize(cfg.Presentation.HistoryBuffer)
		writer.Start()
		recorder = writer
		history = repo
	}

	c := clock.Real()
	mirror := credential.NewRedisMirror(rdb, cfg.Credential.Key, log)
	session := credential.NewSession(mirror)
	bus := dismissal.NewBus()
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(), c).
		OnStateChange(func(from, to circuitbreaker.State) {
			log.Warn("Task service breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		})
	deleter := deletion.NewDeleter(cfg.TaskService.BaseURL, mirror, bus, log).
		WithTimeout(cfg.TaskService.Timeout).
		WithBreaker(breaker)
	perms := alarm.StaticPermissions{
		ExactAlarm:     cfg.Permissions.ExactAlarm,
		FullScreen:     cfg.Permissions.FullScreenIntent,
		OverlayGranted: cfg.Permissions.Overlay,
	}

	// Presentation
	channels := device.NewChannels(log)
	if err := channels.EnsureChannel(presentation.AlarmChannel); err != nil {
		log.Warn("Failed to declare alarm notification channel", zap.Error(err))
	}
	devices := device.New(device.SoundCatalog{
		Alarm:        cfg.Presentation.AlarmSound,
		Notification: cfg.Presentation.NotificationSound,
	}, cfg.Presentation.VibratorDisabled, log)
	presenter := presentation.NewPresenter(devices, bus, deleter, perms, recorder, c, log).
		WithTimeout(cfg.Presentation.Timeout)

	// 闹钟注册表 + 常驻后台存在
	heartbeat := device.NewHeartbeat(rdb, c, log).WithInterval(cfg.Supervisor.HeartbeatInterval)
	var registry osalarm.Service
	var presence supervisor.Presence = heartbeat
	switch cfg.Registry.Backend {
	case config.RegistryRedis:
		rs := osalarm.NewRedisService(rdb, c, presenter.Fire, log).WithPollInterval(cfg.Registry.PollInterval)
		registry = rs
		presence = supervisor.All(heartbeat, rs)
	default:
		registry = osalarm.NewTimerService(c, presenter.Fire, log)
	}
	registrar := alarm.NewRegistrar(registry, perms, mirror, session.Token, c, log)

	sup := supervisor.NewSupervisor(presence, device.NewMQLauncher(publisher, log), c, log).
		WithRestartDelay(cfg.Supervisor.RestartDelay).
		WithScreenOnDelay(cfg.Supervisor.ScreenOnDelay)

	// MQ Handlers
	deduper := util.NewDeduper(rdb, cfg.Consumer.DedupTTL, log)
	handlers := mqhandler.Handlers{
		Schedule: mqhandler.NewAlarmScheduleHandler(registrar, publisher, log),
		Cancel:   mqhandler.NewAlarmCancelHandler(registrar, log),
		Delete:   mqhandler.NewDeleteRequestedHandler(deleter, deduper, log),
		Dismiss:  mqhandler.NewDismissHandler(bus, log),
		Session:  mqhandler.NewSessionHandler(session, log),
		Device:   mqhandler.NewDeviceSignalHandler(sup, log),
	}

	log.Info("Initializing MQ consumer...",
		zap.String("queue", cfg.Consumer.Queue),
		zap.Strings("routing_keys", mqhandler.RoutingKeys()),
	)
	consumer, err := mq.NewConsumer(cfg.MQ, cfg.Consumer.Queue, mqhandler.RoutingKeys(), log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	mqhandler.Bind(consumer, handlers)

	go func() {
		if err := consumer.StartConsuming(); err != nil {
			log.Fatal("Alarm consumer failed", zap.Error(err))
		}
	}()

	// 进程启动等同于开机完成
	sup.OnBoot()

	// HTTP Server
	checks := map[string]httpserver.ReadinessCheck{}
	checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	checks["mq"] = func(context.Context) error {
		if !publisher.IsConnected() {
			return errors.New("publisher disconnected")
		}
		return nil
	}
	if pool != nil {
		checks["db"] = pool.Ping
	}
	alarmHandler := httpserver.NewAlarmHandler(registrar, presenter, bus, session, history, log)
	router := httpserver.NewRouter(alarmHandler, cfg.JWT.Secret, checks, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("alarmd is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down alarmd gracefully...")

	consumer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	presenter.Destroy()
	sup.Shutdown()
	deleter.Wait()
	if writer != nil {
		writer.Close()
	}
	cancel()

	log.Info("alarmd shutdown complete")
}
