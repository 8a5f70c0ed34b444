package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gym-checkin-backend/config"
	"gym-checkin-backend/internal/api"
	"gym-checkin-backend/internal/checkin"
	"gym-checkin-backend/internal/codes"
	"gym-checkin-backend/internal/db"
	"gym-checkin-backend/internal/logging"
	"gym-checkin-backend/internal/model"
	"gym-checkin-backend/internal/mw"
	"gym-checkin-backend/internal/notification"
	"gym-checkin-backend/internal/store"
	"gym-checkin-backend/internal/syncer"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		return
	}

	logger := logging.New(cfg.Log)
	logger.Info("configuration loaded", zap.String("path", configPath))

	os.Exit(serve(cfg, logger))
}

// serve runs the daemon and turns its outcome into an exit code. It never
// exits itself, so the deferred closes in run and the final Sync happen first.
func serve(cfg *config.Config, logger *zap.Logger) int {
	err := run(cfg, logger)
	if err != nil {
		logger.Error("gymd stopped with error", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		return 1
	}
	return 0
}

// issueToken prints a bearer token, e.g. `gymd token -sub desk-1 -role trainer`.
func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "", "subject (member ID for the member role)")
	roleName := fs.String("role", string(model.RoleTrainer), "admin, trainer or member")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sub == "" {
		return errors.New("-sub is required")
	}
	role, err := model.ParseRole(*roleName)
	if err != nil {
		return err
	}
	tok, err := mw.IssueToken([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, *sub, role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	logger.Info("database initialized", zap.String("driver", cfg.Database.Driver))

	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	issuer := codes.NewIssuer(cfg.Checkin.CodePrefix)
	opts := []checkin.Option{
		checkin.WithLocation(cfg.Checkin.Location),
		checkin.WithDebounce(cfg.Checkin.DebounceWindow),
		checkin.WithIssuer(issuer),
		checkin.WithLogger(logger.Named("checkin")),
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		opts = append(opts, checkin.WithLocker(checkin.NewRedisLocker(rdb, cfg.Redis.Prefix, cfg.Checkin.LockTTL, logger)))
		logger.Info("using redis member lock", zap.String("addr", cfg.Redis.Addr))
	}

	var webpushOptions *webpush.Options
	var pool *notification.WorkerPool
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool = notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, webpushOptions, cfg.Checkin.Location, logger)
		pool.Start(ctx)
		opts = append(opts, checkin.WithNotifier(pool))
	} else {
		logger.Warn("VAPID keys are not configured, push receipts are disabled")
	}

	engine := checkin.NewService(appStore, appStore, opts...)

	reports := mw.NewResponseCache(cfg.Server.CacheTTL)
	directory := syncer.NewService(cfg.DirectorySync, appStore, logger)
	directory.OnChange(reports.Flush)
	go directory.Run(ctx)

	router := api.NewRouter(api.Deps{
		Store:               appStore,
		Engine:              engine,
		Issuer:              issuer,
		WebPush:             webpushOptions,
		Log:                 logger,
		JWTSecret:           []byte(cfg.Auth.JWTSecret),
		JWTIssuer:           cfg.Auth.Issuer,
		RateLimitPerSec:     cfg.Server.RateLimitPerSec,
		RateLimitBurst:      cfg.Server.RateLimitBurst,
		ScanRateLimitPerSec: cfg.Server.ScanRateLimitPerSec,
		CacheTTL:            cfg.Server.CacheTTL,
		RequestTimeout:      cfg.Server.RequestTimeout,
		Reports:             reports,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	cancel()
	if pool != nil {
		pool.Wait()
	}
	logger.Info("server gracefully stopped")
	return nil
}
