package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/tkaykim/moveit-sub006/internal/config"
	"github.com/tkaykim/moveit-sub006/internal/database"
	"github.com/tkaykim/moveit-sub006/internal/handler"
	"github.com/tkaykim/moveit-sub006/internal/middleware"
	"github.com/tkaykim/moveit-sub006/internal/queue"
	"github.com/tkaykim/moveit-sub006/internal/recurrence"
	"github.com/tkaykim/moveit-sub006/internal/repository"
	"github.com/tkaykim/moveit-sub006/internal/router"
	"github.com/tkaykim/moveit-sub006/internal/service"
)

func setupLogging(cfg config.Config) {
	if strings.EqualFold(cfg.LogFormat, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Warn("unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	var (
		db      *sql.DB
		dialect database.Dialect
		err     error
	)
	switch cfg.DBDriver {
	case "sqlite":
		db, err = database.OpenSQLite(cfg.DBPath)
		dialect = database.SQLite
	default:
		db, err = database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		dialect = database.MySQL
	}
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg)

	bookingCfg, err := config.LoadBooking()
	if err != nil {
		logrus.WithError(err).Fatal("booking config")
	}
	loc, err := recurrence.LoadLocation(cfg.Timezone)
	if err != nil {
		logrus.WithError(err).Fatal("timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg)
	if err != nil {
		logrus.WithError(err).WithField("driver", cfg.DBDriver).Fatal("database")
	}
	defer db.Close()

	settings := service.Settings{
		Location:       loc,
		MaxSpanDays:    bookingCfg.MaxSpanDays,
		MaxAttempts:    bookingCfg.MaxAttempts,
		BackoffInitial: bookingCfg.BackoffInitial,
		BackoffMax:     bookingCfg.BackoffMax,
	}
	var publisher service.EventPublisher = service.NopPublisher{}
	if bookingCfg.PublishEvents {
		publisher = queue.NewPublisher(cfg.AMQPURL)
	}

	academies := repository.NewAcademyRepo(db)
	access := service.NewAccessResolver()
	catalog := service.NewSessionCatalog(repository.NewTemplateRepo(db), repository.NewRuleRepo(db), repository.NewSessionRepo(db), settings)
	ledger := service.NewEntitlementLedger(repository.NewTicketRepo(db), repository.NewUserTicketRepo(db), academies, repository.NewExtensionRequestRepo(db), access, settings)
	coord := service.NewBookingCoordinator(catalog, ledger, access, repository.NewBookingRepo(db), publisher, settings)

	redisCfg, err := config.LoadRedisConfig()
	if err != nil {
		logrus.WithError(err).Fatal("redis config")
	}
	rlCfg, err := config.LoadRateLimitConfig()
	if err != nil {
		logrus.WithError(err).Fatal("rate limit config")
	}
	cacheCfg, err := config.LoadCacheConfig()
	if err != nil {
		logrus.WithError(err).Fatal("cache config")
	}
	rdb := config.NewRedisClient(redisCfg)
	if rdb != nil {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger())
	router.RegisterRoutes(e)
	router.RegisterPublic(e, handler.NewPublicHandler(catalog, ledger, loc), middleware.NewRedisCache(cacheCfg, rdb))
	limiter := middleware.NewTokenBucket(rlCfg, rdb)
	router.RegisterCustomer(e, handler.NewBookingHandler(coord, ledger), cfg.JWTSecret, limiter)
	router.RegisterAdmin(e, handler.NewAdminHandler(academies, catalog, ledger, coord), cfg.JWTSecret, limiter)

	if bookingCfg.ConsumePayments {
		consumer := queue.NewPaymentConsumer(cfg.AMQPURL, bookingCfg.PaymentQueue, ledger)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Error("payment consumer stopped")
			}
		}()
	}

	go func() {
		addr := ":" + cfg.Port
		logrus.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "driver": cfg.DBDriver}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("shutdown")
	}
	logrus.Info("stopped")
}
