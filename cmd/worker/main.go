package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"jobalert/internal/bot"
	"jobalert/internal/config"
	"jobalert/internal/lock"
	"jobalert/internal/metrics"
	"jobalert/internal/notify"
	"jobalert/internal/scheduler"
	"jobalert/internal/source"
	"jobalert/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireMail(); err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.LogLevel, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !cfg.IsPostgres() {
		if dir := filepath.Dir(cfg.DatabaseURL); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				log.Error("create data directory", "path", dir, "error", err)
				os.Exit(1)
			}
		}
	}

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	src, err := source.New(cfg, &http.Client{Timeout: cfg.FetchTimeout})
	if err != nil {
		log.Error("create job source", "error", err)
		os.Exit(1)
	}

	mailer, err := notify.NewEmail(notify.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.EmailUser,
		Password: cfg.EmailPassword,
		From:     cfg.EmailFrom,
	})
	if err != nil {
		log.Error("create mailer", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sched := scheduler.New(store, src, mailer, log)
	sched.SetSchedule(cfg.PollSchedule)
	sched.SetRunOnStart(cfg.RunOnStart)
	sched.SetFetchTimeout(cfg.FetchTimeout)
	sched.SetConcurrency(cfg.Concurrency)
	sched.SetRetention(cfg.SentIDsRetain, cfg.SentIDsMaxBytes)
	sched.SetDefaultLocation(cfg.DefaultLocation)
	sched.SetMetrics(metrics.New(reg))

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() { _ = rdb.Close() }()
		sched.SetLocker(lock.NewRedis(rdb, lock.DefaultKey, cfg.PassLeaseTTL))
	}

	var wg sync.WaitGroup

	if cfg.TelegramToken != "" {
		b, err := bot.New(cfg.TelegramToken, store, cfg.TelegramChat, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		b.SetChecker(sched)
		sched.SetReporter(b, cfg.TelegramChat)

		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(ctx)
		}()
	}

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		srv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
	}

	log.Info("starting worker", "source", src.Name(), "schedule", cfg.PollSchedule)

	runErr := sched.Run(ctx)
	if runErr != nil {
		log.Error("run scheduler", "error", runErr)
		cancel()
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", "error", err)
		}
		shutdownCancel()
	}
	wg.Wait()

	log.Info("worker stopped")
	if runErr != nil {
		os.Exit(1)
	}
}
