package main

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	httpapi "github.com/rBhagat4196/music-party/internal/api/http"
	"github.com/rBhagat4196/music-party/internal/config"
	"github.com/rBhagat4196/music-party/internal/service"
	"github.com/rBhagat4196/music-party/internal/store"
	"github.com/rBhagat4196/music-party/lib/logger/slogpretty"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	st, err := buildStore(cfg.Store)
	if err != nil {
		log.Error("failed to initialize store", slog.Any("error", err))
		os.Exit(1)
	}

	sessionService := service.NewSessionService(st, log)
	playbackService := service.NewPlaybackService(st, log)

	roomController := httpapi.NewRoomController(sessionService, playbackService, cfg.Playback.TickInterval, log)
	signalController := httpapi.NewSignalController(cfg.WebRTC.STUNServers, log)

	router := httpapi.SetupRouter(roomController, signalController)

	log.Info("starting application",
		slog.String("addr", cfg.HTTP.Address),
		slog.String("store", cfg.Store.Driver),
	)
	if err := router.Run(cfg.HTTP.Address); err != nil {
		log.Error("http server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func buildStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemory(), nil
	case "postgres":
		db, err := connectDatabase(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(db, cfg.PollInterval)
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}

func connectDatabase(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
