package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shopdesk/merchant-portal/internal/auth"
	"github.com/shopdesk/merchant-portal/internal/config"
	"github.com/shopdesk/merchant-portal/internal/db"
	"github.com/shopdesk/merchant-portal/internal/logging"
	"github.com/shopdesk/merchant-portal/internal/media"
	"github.com/shopdesk/merchant-portal/internal/metrics"
	"github.com/shopdesk/merchant-portal/internal/middleware"
	"github.com/shopdesk/merchant-portal/internal/storage"
	"github.com/shopdesk/merchant-portal/internal/utils"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("Server is up!\n"))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	pool, err := db.Get()
	if err != nil {
		utils.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	sqlDB, err := pool.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), db.QueryTimeout)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		utils.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// connectRedis returns nil when Redis is not configured or not reachable;
// callers then fall back to in-process state.
func connectRedis(cfg config.RedisConfig, log *logrus.Logger) redis.UniversalClient {
	if len(cfg.Addrs) == 0 {
		log.Info("REDIS_ADDR not set, using in-process rate limiter and revocation list")
		return nil
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      cfg.Addrs,
		MasterName: cfg.MasterName,
		Password:   cfg.Password,
		DB:         cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).WithField("addrs", strings.Join(cfg.Addrs, ",")).
			Warn("redis unreachable, using in-process rate limiter and revocation list")
		_ = rdb.Close()
		return nil
	}
	log.WithField("addrs", strings.Join(cfg.Addrs, ",")).Info("connected to redis")
	return rdb
}

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.Log.Level)
	log.WithField("config", cfg.String()).Info("starting merchant portal")

	pool := db.MustConnect(cfg.Database, log)
	defer db.Close()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	db.Init(initCtx, pool, log)
	cancelInit()

	rdb := connectRedis(cfg.Redis, log)
	if rdb != nil {
		defer rdb.Close()
	}

	authSvc, err := auth.NewFromConfig(cfg, pool, rdb, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build auth service")
	}
	files, err := storage.New(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("failed to build storage provider")
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	r.Get("/", RootHandler)
	r.Get("/healthz", healthHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/auth", auth.SetupRoutes(authSvc, log))
	r.Mount("/api/media", media.SetupRoutes(media.NewStore(pool), files, cfg.Storage.MaxBytes, authSvc, log.WithField("component", "media")))
	if local, ok := files.(*storage.LocalProvider); ok {
		r.Handle("/files/*", http.StripPrefix("/files", local.FileServer()))
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
