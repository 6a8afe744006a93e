package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CrowderSoup/devtrack/database"
	"github.com/CrowderSoup/devtrack/handlers"
	"github.com/CrowderSoup/devtrack/services"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := LoadConfig(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	// Initialize database
	conn, err := database.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	db := database.New(conn)
	defer db.Close()

	// Initialize services
	authService := services.NewAuthService(cfg.JWTSecret, cfg.TokenTTL)
	if err := authService.EnsureAdmin(context.Background(), db.Users(), cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
		log.Fatal().Err(err).Msg("failed to seed admin account")
	}

	// Initialize WebSocket hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := services.NewHub()
	go hub.Run(hubCtx)

	router := handlers.NewRouter(handlers.Deps{
		DB:          db,
		Auth:        authService,
		Hub:         hub,
		AllowOrigin: cfg.AllowOrigin,
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AcceptedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errChannel := make(chan error, 2)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChannel <- err
		}
	}()

	// Listen for interrupt signals to gracefully shutdown the server
	go listenToInterrupt(errChannel)

	fatalErr := <-errChannel
	log.Info().Err(fatalErr).Msg("closing server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	stopHub()
	log.Info().Msg("server stopped")
}

// listenToInterrupt waits for SIGINT or SIGTERM and then sends an error to the error channel.
func listenToInterrupt(errChannel chan<- error) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	errChannel <- fmt.Errorf("%s", <-c)
}

func setupLogging(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
