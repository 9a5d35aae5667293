package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/telebot.v3"

	"standup_attendance_service/internal/app"
	"standup_attendance_service/internal/domain/notify"
	"standup_attendance_service/internal/infra/config"
	idb "standup_attendance_service/internal/infra/database"
	"standup_attendance_service/internal/infra/httpapi"
	"standup_attendance_service/internal/infra/logger"
	"standup_attendance_service/internal/infra/scheduler"
	"standup_attendance_service/internal/infra/telegram"
)

func main() {
	fmt.Println("Standup Attendance Service starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	log := logger.Get()
	log.Infof("Configuration loaded. LogLevel: %s, Environment: %s, GracePeriod: %s", cfg.LogLevel, cfg.Environment, cfg.GracePeriod)

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()
	log.Info("Database connection established successfully.")

	// Initialize Repositories
	sessionRepo := idb.NewPostgresSessionRepository(db)
	rosterRepo := idb.NewPostgresRosterRepository(db)
	ledgerRepo := idb.NewPostgresLedgerRepository(db)
	log.Info("Repositories initialized.")

	// Initialize Notifier (Telegram announcements are optional)
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.TelegramEnabled() {
		pref := telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		}
		bot, err := telebot.NewBot(pref)
		if err != nil {
			log.Fatalf("Could not create Telegram bot: %v", err)
		}
		notifier = telegram.NewTelebotNotifier(bot, cfg.AdminChatID)
		log.Info("Telegram notifier initialized.")
	} else {
		log.Info("Telegram notifier not configured; lifecycle announcements disabled.")
	}

	// Initialize SessionService
	sessionService := app.NewSessionServiceImpl(sessionRepo, rosterRepo, ledgerRepo, notifier, log, cfg.GracePeriod)
	log.Info("Session service initialized.")

	// Initialize change subscription (LISTEN/NOTIFY feed of the session store)
	changeListener, err := idb.NewChangeListener(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatalf("Could not start session change listener: %v", err)
	}
	listenerCtx, stopListener := context.WithCancel(context.Background())
	go changeListener.Run(listenerCtx)
	log.Info("Session change listener started.")

	// Initialize SessionScheduler (activation trigger + timeout watcher)
	sessionScheduler := scheduler.NewSessionScheduler(
		sessionService,
		log,
		cfg.CronSpecActivation,
		cfg.CronSpecTimeout,
	)
	sessionScheduler.Start()

	// Initialize HTTP API
	router := httpapi.NewRouter(sessionService, changeListener, cfg.JWTSecret, log)
	go func() {
		log.Infof("HTTP API listening on %s", cfg.HTTPListenAddr)
		if err := router.Listen(cfg.HTTPListenAddr); err != nil {
			log.Fatalf("HTTP server stopped: %v", err)
		}
	}()

	log.Info("Application setup complete.")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received

	log.Info("Shutting down application...")
	sessionScheduler.Stop()
	if err := router.Shutdown(); err != nil {
		log.Errorf("Error during HTTP server shutdown: %v", err)
	}
	stopListener()
	if err := changeListener.Close(); err != nil {
		log.Errorf("Error closing session change listener: %v", err)
	}
	// db.Close() is handled by defer
	log.Info("Application shut down gracefully.")
}
