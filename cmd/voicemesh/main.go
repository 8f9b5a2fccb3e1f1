package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/voicemesh/internal/adapters/http"
	"github.com/dkeye/voicemesh/internal/adapters/capture"
	"github.com/dkeye/voicemesh/internal/adapters/playback"
	"github.com/dkeye/voicemesh/internal/adapters/rest"
	"github.com/dkeye/voicemesh/internal/adapters/rtc"
	sigclient "github.com/dkeye/voicemesh/internal/adapters/signal"
	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	self := domain.User{
		ID:       domain.UserID(cfg.Auth.UserID),
		Username: cfg.Auth.Username,
		FullName: cfg.Auth.FullName,
	}
	if err := self.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid identity")
	}

	rooms := rest.NewRoomsClient(cfg.API.BaseURL, cfg.Auth.Token, cfg.API.Timeout)
	signaling := sigclient.NewClient(sigclient.Options{
		WSBaseURL:  cfg.API.WSBaseURL,
		Token:      cfg.Auth.Token,
		ReadLimit:  cfg.Signal.ReadLimit,
		PingPeriod: cfg.Signal.PingPeriod,
		WriteWait:  cfg.Signal.WriteWait,
		SendBuffer: cfg.Signal.SendBuffer,
	})
	media, err := rtc.NewFactory(rtc.FactoryConfig{ICEServers: cfg.RTC.ICEServers})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init webrtc")
	}

	session := orch.NewSession(ctx, orch.Deps{
		Self:           self,
		Rooms:          rooms,
		Signal:         signaling,
		Media:          media,
		Capture:        capture.NewOggDevice(cfg.Audio.CapturePath),
		Playback:       playback.NewFactory(cfg.Audio.PlaybackDir),
		ChatLimiter:    app.NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateWindow),
		SampleInterval: cfg.Audio.SampleInterval,
	})

	r := router.SetupRouter(cfg, session, rooms)
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Str("user", self.Username).Msg("voicemesh control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	go runConsole(ctx, os.Stdin, session, rooms)

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	session.Close()
	log.Info().Msg("voicemesh exited gracefully")
}
