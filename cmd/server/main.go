package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gsarma/examrunner/internal/api"
	"github.com/gsarma/examrunner/internal/config"
	"github.com/gsarma/examrunner/internal/dispatch"
	"github.com/gsarma/examrunner/internal/exam"
	"github.com/gsarma/examrunner/internal/logging"
	"github.com/gsarma/examrunner/internal/metrics"
	"github.com/gsarma/examrunner/internal/quota"
	"github.com/gsarma/examrunner/internal/store"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal(err)
	}
	var conf config.Server
	if err := conf.Load(os.Args[1:]); err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(logging.Options{Release: conf.Release, Silent: conf.Silent, Debug: conf.Debug})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &conf, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, conf *config.Server, logger *zap.Logger) error {
	queries, closeStore, err := openStore(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	guard, closeGuard, err := newGuard(ctx, conf, queries, logger)
	if err != nil {
		return err
	}
	defer closeGuard()

	var m *metrics.Server
	if conf.EnableMetrics {
		m = metrics.NewServer(prometheus.DefaultRegisterer)
	}
	h := api.NewHandler(
		exam.NewService(queries, guard, m, logger),
		dispatch.NewService(queries, m, logger),
		logger,
	)
	if conf.AgentKey == "" {
		logger.Warn("agent key is empty, /agent endpoints are unauthenticated")
	}

	servers := []*http.Server{{Addr: conf.HTTPAddr, Handler: initHTTPMux(conf, h, logger)}}
	if conf.EnableMetrics && conf.MonitorAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: conf.MonitorAddr, Handler: mux})
	}
	return serve(ctx, servers, logger)
}

func openStore(ctx context.Context, conf *config.Server, logger *zap.Logger) (store.Querier, func(), error) {
	if conf.Store == "memory" {
		logger.Warn("using the in-memory job store, jobs are lost on restart")
		return store.NewMemory(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, conf.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if conf.AutoMigrate {
		m, err := store.NewMigrator(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		applied, err := m.Up(ctx)
		m.Close()
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("migrations applied", zap.Int64s("versions", applied))
	}
	return store.New(pool), pool.Close, nil
}

func newGuard(ctx context.Context, conf *config.Server, counter quota.Counter, logger *zap.Logger) (quota.Guard, func(), error) {
	if conf.QuotaBackend != "redis" {
		return quota.NewCountGuard(counter, conf.QuotaCeiling), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.RedisAddr,
		Password: conf.RedisPassword,
		DB:       conf.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	logger.Info("using redis quota guard", zap.String("addr", conf.RedisAddr))
	return quota.NewRedisGuard(rdb, counter, conf.QuotaCeiling, conf.RedisKeyTTL), func() { rdb.Close() }, nil
}

func initHTTPMux(conf *config.Server, h *api.Handler, logger *zap.Logger) http.Handler {
	if conf.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(ginzap.Ginzap(logger, "", false))
	r.Use(ginzap.RecoveryWithZap(logger, true))
	if conf.EnableMetrics {
		p := ginprometheus.NewWithConfig(ginprometheus.Config{
			Subsystem:          "gin",
			DisableBodyReading: true,
		})
		p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
			return c.FullPath()
		}
		r.Use(p.HandlerFunc())
	}
	api.RegisterRoutes(r, h, conf.AgentKey)
	return r
}

// serve runs every server until ctx is done or one of them fails, then shuts
// them all down.
func serve(ctx context.Context, servers []*http.Server, logger *zap.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		eg.Go(func() error {
			logger.Info("starting http server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			logger.Info("http server shutting down", zap.String("addr", srv.Addr))
			return srv.Shutdown(shutdownCtx)
		})
	}
	err := eg.Wait()
	logger.Info("shutdown finished", zap.Error(err))
	return err
}
