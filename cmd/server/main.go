package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Tyrowin/gochat-presence/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	config := server.NewConfigFromEnv()

	pflag.StringVarP(&config.Port, "port", "p", config.Port, "listen address, e.g. :8080")
	pflag.StringVar(&config.StaticDir, "static-dir", config.StaticDir, "directory of static assets served at /")
	pflag.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level (debug, info, warn, error)")
	pflag.BoolVar(&config.Reaper.AnnounceEvictions, "announce-evictions", config.Reaper.AnnounceEvictions,
		"broadcast user_offline when the reaper evicts a stale identity")
	pflag.Parse()
	config.ApplyDefaults()

	logger := server.NewLogger(config)

	hub := server.NewHub(config, logger)
	server.StartHub(hub)

	mux := server.SetupRoutes(hub, config, logger)
	httpServer := server.CreateServer(config.Port, mux)

	go func() {
		if err := server.StartServer(httpServer, logger); err != nil {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := server.ShutdownServer(httpServer, shutdownTimeout, logger); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("hub shutdown incomplete")
	}

	logger.Info().Msg("server stopped")
}
