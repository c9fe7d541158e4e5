package main // Entry point package

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/broadcast"
	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/database"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/lock"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/router"
	"github.com/iliyamo/bus-seat-reservation/internal/worker"
)

func main() {
	// .env is a development convenience; absence is fine in prod.
	_ = godotenv.Load()

	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Env == "dev" {
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatal("mysql connection failed")
	}
	defer func() { _ = db.Close() }()

	rdb, err := config.NewRedisClient()
	if err != nil {
		// Without Redis there are no seat locks and no broadcasts, so
		// the service cannot do its one job.
		log.WithError(err).Fatal("redis connection failed")
	}
	defer func() { _ = rdb.Close() }()

	locks := lock.NewManager(rdb, cfg.SeatLockTTL)
	publisher := broadcast.NewPublisher(rdb, log)

	layoutRepo := repository.NewLayoutRepo(db)
	routeRepo := repository.NewRouteRepo(db)
	tripRepo := repository.NewTripRepo(db)
	tripSeatRepo := repository.NewTripSeatRepo(db)
	bookingRepo := repository.NewBookingRepo(db)

	queuePub := queue.NewPublisher(cfg.AMQPURL, log)

	tripHandler := handler.NewTripHandler(tripRepo, layoutRepo)
	seatHandler := handler.NewSeatHandler(tripRepo, layoutRepo, tripSeatRepo, locks, log)
	bookingHandler := handler.NewBookingHandler(
		tripRepo, routeRepo, layoutRepo, tripSeatRepo, bookingRepo,
		locks, publisher, queuePub, cfg.BookingWindow, log,
	)

	// Reap lapsed locks and broadcast their release for as long as the
	// server lives.
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sweeper := worker.NewLockSweeper(locks, cfg.LockSweepInterval, log)
	go sweeper.Run(sweepCtx)

	// The booking.confirmed consumer is optional, like the publisher.
	if cfg.AMQPURL != "" {
		go queue.StartBookingConsumer(cfg.AMQPURL, log)
	}

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e, tripHandler)
	router.RegisterSeatmap(e, seatHandler, bookingHandler, cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
	if err := e.Start(addr); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
