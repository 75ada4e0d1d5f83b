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

	"algohub/internal/algorithm/buildbot"
	"algohub/internal/algorithm/controller"
	"algohub/internal/algorithm/language"
	"algohub/internal/algorithm/repository"
	"algohub/internal/algorithm/sandbox/engine"
	"algohub/internal/algorithm/sandbox/observer"
	"algohub/internal/algorithm/service"
	"algohub/internal/algorithm/testbot"
	"algohub/internal/algorithm/workspace"
	"algohub/internal/common/cache"
	"algohub/internal/common/db"
	commonmw "algohub/internal/common/http/middleware"
	"algohub/internal/common/mq"
	"algohub/internal/common/storage"
	"algohub/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultConfigPath = "configs/algorithm_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "algorithm service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.NewEngine(appCfg.Engine)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	registry, err := language.NewDefaultRegistry(eng, appCfg.Languages)
	if err != nil {
		return fmt.Errorf("init languages: %w", err)
	}
	workspaces, err := workspace.NewManager(appCfg.Workspace.Root, appCfg.Workspace.ExecutableExt)
	if err != nil {
		return fmt.Errorf("init workspace: %w", err)
	}

	var redisCache *cache.RedisCache
	if appCfg.Redis != nil && appCfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCacheWithConfig(appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
	}

	store, closeStore, err := buildStore(appCfg, redisCache)
	if err != nil {
		return err
	}
	defer closeStore()

	var locker service.Locker = service.NewKeyedLocker()
	if appCfg.Lock.Distributed {
		locker = service.ChainLocker{locker, service.NewRedisLocker(redisCache, appCfg.Lock.Prefix, appCfg.Lock.TTL, appCfg.Lock.Retry)}
	}

	var events repository.EventPublisher
	if appCfg.Events.Enabled {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka: %w", err)
		}
		defer func() {
			_ = producer.Close()
		}()
		events = repository.NewMQEventPublisher(producer, appCfg.Events.Topic)
	}

	var archive repository.ArtifactArchive
	if appCfg.Archive.Enabled {
		objects, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio: %w", err)
		}
		if appCfg.MinIO.CreateBucket {
			if err := objects.EnsureBucket(ctx, appCfg.MinIO.Bucket); err != nil {
				return fmt.Errorf("ensure bucket: %w", err)
			}
		}
		archive = repository.NewObjectArtifactArchive(objects, appCfg.MinIO.Bucket, appCfg.Archive.Prefix)
	}

	ids, err := service.NewIDGenerator(appCfg.IDs)
	if err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}
	pool, err := service.NewBuildPool(appCfg.Lifecycle.BuildWorkers)
	if err != nil {
		return fmt.Errorf("init build pool: %w", err)
	}
	defer pool.Release()

	metrics := observer.LogMetricsRecorder{}
	svc, err := service.NewService(service.Config{
		Store:     store,
		Registry:  registry,
		Workspace: workspaces,
		Builder:   buildbot.NewWithObserver(appCfg.Build, metrics),
		Runner:    testbot.New(appCfg.Run, eng, metrics),
		IDs:       ids,
		Locker:    locker,
		Events:    events,
		Archive:   archive,
		Pool:      pool,
		Lifecycle: appCfg.Lifecycle,
	})
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer svc.Close()

	httpServer := buildHTTPServer(appCfg.Server, svc)
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcListener, err := net.Listen("tcp", appCfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("init grpc listener: %w", err)
	}
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "algorithm http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("store", appCfg.Store.Backend),
			zap.Strings("languages", registry.ListSupported()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info(gctx, "algorithm health server started", zap.String("addr", appCfg.GRPC.Addr))
		return grpcServer.Serve(grpcListener)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down")
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}

// buildStore picks the metadata store and fronts it with redis when available.
func buildStore(appCfg *AppConfig, redisCache *cache.RedisCache) (repository.Store, func(), error) {
	var (
		store     repository.Store
		closeFunc = func() {}
	)
	switch appCfg.Store.Backend {
	case storeSQL:
		database, err := db.Open(&appCfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("init database: %w", err)
		}
		closeFunc = func() { _ = database.Close() }
		store = repository.NewSQLStore(db.NewManager(database))
	default:
		store = repository.NewMemoryStore()
	}
	if redisCache != nil {
		store = repository.NewCachedStore(store, redisCache, appCfg.Store.CacheTTL, appCfg.Store.EmptyTTL)
	}
	return store, closeFunc, nil
}

func buildHTTPServer(cfg ServerConfig, svc *service.Service) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	controller.RegisterRoutes(router.Group("/api/v1/algorithms"), controller.NewAlgorithmController(svc))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
