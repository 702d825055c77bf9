package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/amenity-booking/internal/booking"
	"github.com/iliyamo/amenity-booking/internal/clock"
	"github.com/iliyamo/amenity-booking/internal/config"
	"github.com/iliyamo/amenity-booking/internal/credits"
	"github.com/iliyamo/amenity-booking/internal/database"
	"github.com/iliyamo/amenity-booking/internal/handler"
	"github.com/iliyamo/amenity-booking/internal/memstore"
	"github.com/iliyamo/amenity-booking/internal/metrics"
	"github.com/iliyamo/amenity-booking/internal/middleware"
	"github.com/iliyamo/amenity-booking/internal/repository"
	"github.com/iliyamo/amenity-booking/internal/router"
	"github.com/iliyamo/amenity-booking/internal/scheduler"
	"github.com/iliyamo/amenity-booking/internal/service"
	"github.com/iliyamo/amenity-booking/internal/slots"
	"github.com/iliyamo/amenity-booking/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// storage groups the persistence collaborators of one backend.
type storage struct {
	db        *sql.DB
	tx        booking.Transactor
	slots     slots.Store
	grants    credits.Store
	bookings  booking.BookingStore
	settings  booking.SettingsStore
	penalties interface {
		booking.PenaltyStore
		handler.PenaltyLister
	}
}

func openStorage(ctx context.Context, cfg config.Config, log *zap.Logger) (*storage, error) {
	if cfg.StorageDriver == config.StorageMemory {
		log.Warn("using in-memory storage, data is lost on restart")
		m := memstore.New(nil)
		return &storage{tx: m, slots: m, grants: m, bookings: m, settings: m, penalties: m}, nil
	}
	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		return nil, err
	}
	if cfg.DBMigrate {
		if err := database.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("database migrations applied")
	}
	return &storage{
		db:        db,
		tx:        repository.NewTxManager(db),
		slots:     repository.NewSlotRepo(db),
		grants:    repository.NewGrantRepo(db),
		bookings:  repository.NewBookingRepo(db),
		settings:  repository.NewSettingsRepo(db),
		penalties: repository.NewPenaltyRepo(db),
	}, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARN: .env not loaded: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := utils.NewLogger(cfg.IsProduction())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := openStorage(startupCtx, cfg, logger)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	if store.db != nil {
		defer store.db.Close()
	}

	rdb := config.NewRedisClient(startupCtx)
	if rdb == nil {
		logger.Warn("redis unavailable, using in-process rate limiting without response cache")
	} else {
		defer rdb.Close()
	}

	clk := clock.NewSystem()
	dir := slots.NewDirectory(store.slots, logger.Named("slots"))
	ledger := credits.NewLedger(store.grants, store.tx, clk, logger.Named("credits"))

	deps := booking.Deps{
		Tx:        store.tx,
		Slots:     dir,
		Ledger:    ledger,
		Bookings:  store.bookings,
		Settings:  store.settings,
		Penalties: store.penalties,
		Clock:     clk,
	}
	if cfg.RabbitURL != "" {
		pub := service.NewPublisher(cfg.RabbitURL, cfg.EventsExchange, logger.Named("events"))
		defer pub.Close()
		deps.Events = pub
	} else {
		logger.Warn("RABBITMQ_URL not set, booking events are not published")
	}
	engine := booking.NewEngine(deps,
		booking.WithCheckInGrace(cfg.CheckInGrace),
		booking.WithNoShowGrace(cfg.NoShowGrace),
		booking.WithLogger(logger.Named("booking")),
	)

	sched := scheduler.New(logger.Named("scheduler"), clk, 0)
	if err := sched.AddNoShowSweep(cfg.NoShowSweepSpec, engine); err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}
	if err := sched.AddExpireSweep(cfg.ExpireSweepSpec, ledger); err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}
	sched.Start()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger.Named("http")))
	e.Use(metrics.Middleware())

	var pinger handler.Pinger
	if store.db != nil {
		pinger = store.db
	}
	limit := middleware.NewTokenBucket(cfg.RateLimit, rdb, logger.Named("ratelimit"))
	router.RegisterRoutes(e, pinger)
	router.RegisterMember(e, handler.NewMemberHandler(engine, ledger), cfg.JWTSecret, limit,
		middleware.NewRedisCache(cfg.Cache, rdb))
	router.RegisterStaff(e, handler.NewStaffHandler(engine, dir, ledger, store.penalties), cfg.JWTSecret, limit)

	addr := ":" + cfg.Port
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("storage", cfg.StorageDriver))
		srvErr <- e.Start(addr)
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	case <-stopCtx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown error", zap.Error(err))
	}
	sched.Stop(shutdownCtx)
	logger.Info("server stopped")
}
