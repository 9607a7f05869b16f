package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sydlexius/media-reaper/internal/api"
	"github.com/sydlexius/media-reaper/internal/api/middleware"
	"github.com/sydlexius/media-reaper/internal/auth"
	"github.com/sydlexius/media-reaper/internal/backup"
	"github.com/sydlexius/media-reaper/internal/config"
	"github.com/sydlexius/media-reaper/internal/connection"
	"github.com/sydlexius/media-reaper/internal/database"
	"github.com/sydlexius/media-reaper/internal/encryption"
	"github.com/sydlexius/media-reaper/internal/event"
	"github.com/sydlexius/media-reaper/internal/filesystem"
	"github.com/sydlexius/media-reaper/internal/healthcheck"
	"github.com/sydlexius/media-reaper/internal/logging"
	"github.com/sydlexius/media-reaper/internal/maintenance"
	"github.com/sydlexius/media-reaper/internal/metrics"
	"github.com/sydlexius/media-reaper/internal/prober"
	"github.com/sydlexius/media-reaper/internal/registry"
	"github.com/sydlexius/media-reaper/internal/version"
	"github.com/sydlexius/media-reaper/internal/webhook"
)

func main() {
	// Handle subcommands before starting the server
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "gen-key":
			err = genKey(os.Args[2:])
		case "rotate-key":
			err = rotateKey()
		case "version":
			fmt.Printf("media-reaper %s (%s)\n", version.Version, version.Commit)
		default:
			err = fmt.Errorf("unknown command %q (want gen-key, rotate-key or version)", os.Args[1])
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(cfg.Logging, os.Stdout)
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	encKey, err := cfg.EncryptionKey()
	if err != nil {
		return err
	}
	encryptor, err := encryption.NewEncryptor(encKey)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	m := metrics.New()
	eventBus := event.NewBus(logger, 256)
	go eventBus.Run(ctx)
	defer eventBus.Stop()

	if len(cfg.Webhooks) > 0 {
		webhook.NewDispatcher(cfg.Webhooks, nil, logger).Subscribe(eventBus)
		logger.Info("webhook notifications enabled", slog.Int("count", len(cfg.Webhooks)))
	}

	store := connection.NewStore(db, encryptor, logger)
	p := prober.New(store, logger, prober.Options{
		Timeout: cfg.Probe.Timeout,
		Metrics: m,
		Bus:     eventBus,
	})
	reg := registry.New(store, p, eventBus, logger)

	authService := auth.NewService(db, cfg.Auth.SessionTTL)
	created, err := authService.Bootstrap(ctx, cfg.Auth.AdminUser, cfg.Auth.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrapping admin account: %w", err)
	}
	if created {
		logger.Info("created admin account", slog.String("username", cfg.Auth.AdminUser))
	}

	logger.Info("starting media-reaper",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	if cfg.HealthCheck.Enabled {
		checker := healthcheck.New(store, p, logger, healthcheck.Options{
			Interval:    cfg.HealthCheck.Interval,
			Concurrency: cfg.HealthCheck.Concurrency,
			Metrics:     m,
		})
		checker.Subscribe(eventBus)
		go checker.Run(ctx)
	}

	maintenanceService := maintenance.NewService(db, cfg.Database.Path, logger)
	if cfg.Database.OptimizeInterval > 0 {
		go maintenanceService.StartScheduler(ctx, cfg.Database.OptimizeInterval)
	}

	backupService := backup.NewService(db, cfg.Database.Backup.Dir, cfg.Database.Backup.Retention, logger)
	if cfg.Database.Backup.Enabled {
		go backupService.StartScheduler(ctx, cfg.Database.Backup.Interval)
	}

	// Start session cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := authService.CleanExpiredSessions(ctx)
				if err != nil {
					logger.Error("session cleanup failed", "error", err)
				} else if n > 0 {
					logger.Debug("removed expired sessions", "count", n)
				}
			}
		}
	}()

	// Logging settings follow the config file at runtime.
	watcher := config.NewWatcher(configPath, func(next *config.Config) {
		logManager.Reconfigure(next.Logging)
	}, logger)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn("config watcher stopped", "error", err)
		}
	}()

	router := api.NewRouter(api.RouterDeps{
		Registry:     reg,
		AuthService:  authService,
		Metrics:      m,
		Maintenance:  maintenanceService,
		Backups:      backupService,
		LoginLimiter: middleware.NewLoginRateLimiter(ctx),
		Logger:       logger,
		BasePath:     cfg.Server.BasePath,
		SessionTTL:   cfg.Auth.SessionTTL,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func openDatabase(ctx context.Context, path string) (*sql.DB, error) {
	db, err := database.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// genKey prints a fresh base64 encryption key, or writes it to the file
// named by the first argument. An existing key file is never replaced.
func genKey(args []string) error {
	key, err := encryption.GenerateKey()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Println(key)
		return nil
	}
	if err := filesystem.WriteNewFileAtomic(args[0], []byte(key+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	fmt.Printf("wrote encryption key to %s; set encryption.key_file or REAPER_ENCRYPTION_KEY_FILE\n", args[0])
	return nil
}

// rotateKey re-encrypts every stored API key under REAPER_NEW_ENCRYPTION_KEY.
// It is an offline operation; stop the server first.
func rotateKey() error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	newKey := strings.TrimSpace(os.Getenv("REAPER_NEW_ENCRYPTION_KEY"))
	if newKey == "" {
		return errors.New("REAPER_NEW_ENCRYPTION_KEY is not set")
	}
	next, err := encryption.NewEncryptor(newKey)
	if err != nil {
		return fmt.Errorf("new key: %w", err)
	}
	oldKey, err := cfg.EncryptionKey()
	if err != nil {
		return err
	}
	current, err := encryption.NewEncryptor(oldKey)
	if err != nil {
		return fmt.Errorf("current key: %w", err)
	}

	ctx := context.Background()
	db, err := openDatabase(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	n, err := connection.NewStore(db, current, logger).ReencryptAll(ctx, next)
	if err != nil {
		return fmt.Errorf("re-encrypting connections: %w", err)
	}
	fmt.Printf("re-encrypted %d connection(s); update REAPER_ENCRYPTION_KEY before restarting\n", n)
	return nil
}
