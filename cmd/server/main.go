package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/davecook88/thrive-booking/internal/app"
	"github.com/davecook88/thrive-booking/internal/clock"
	"github.com/davecook88/thrive-booking/internal/config"
	"github.com/davecook88/thrive-booking/internal/events"
	"github.com/davecook88/thrive-booking/internal/notify"
	"github.com/davecook88/thrive-booking/internal/repository"
	"github.com/davecook88/thrive-booking/internal/repository/base"
	"github.com/davecook88/thrive-booking/internal/service"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("Failed to create connection pool", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// Применяем миграции
	migrator, err := app.NewMigrator(pool, cfg.MigrationsPath, logger)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	migrator.Close()

	// Репозитории
	db := base.NewDB(pool)
	sessionRepo := repository.NewSessionRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	packageRepo := repository.NewPackageRepository(db)
	policyRepo := repository.NewPolicyRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)

	// Сервисы
	clk := clock.NewSystem()
	bus := events.NewBus(logger)
	defer bus.Close()

	availabilityService := service.NewAvailabilityService(bookingRepo, logger)
	ledgerService := service.NewLedgerService(db, packageRepo, clk, logger)
	policyService := service.NewPolicyService(db, policyRepo, logger)
	bookingService := service.NewBookingService(
		db, sessionRepo, bookingRepo,
		availabilityService, ledgerService, policyService,
		bus, clk, logger,
	)
	waitlistService := service.NewWaitlistService(
		db, waitlistRepo, sessionRepo, bookingRepo,
		bookingService, bus, clk, logger,
	)
	bookingService.SetPromoter(waitlistService)

	// Уведомления (опциональны: без токена сервис работает молча)
	if cfg.NotificationsEnabled() {
		tgBot, err := bot.New(cfg.TelegramToken)
		if err != nil {
			logger.Fatal("Failed to create telegram bot", zap.Error(err))
		}
		notifier := notify.NewNotifier(tgBot, bookingRepo, bus, cfg.TelegramAdminChat, logger)
		notifier.Start(ctx)
	} else {
		logger.Info("Telegram notifications disabled")
	}

	logger.Info("Booking service started", zap.String("environment", cfg.Environment))

	<-ctx.Done()
	logger.Info("Shutting down")
}
