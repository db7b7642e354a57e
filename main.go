package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/mailwatch/mailwatch/internal/api"
	"github.com/mailwatch/mailwatch/internal/config"
	"github.com/mailwatch/mailwatch/internal/events"
	"github.com/mailwatch/mailwatch/internal/mailbox"
	"github.com/mailwatch/mailwatch/internal/mailbox/gmail"
	"github.com/mailwatch/mailwatch/internal/mailbox/outlook"
	"github.com/mailwatch/mailwatch/internal/store"
	"github.com/mailwatch/mailwatch/internal/sync"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "mailwatch").Logger()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	box, err := newMailbox(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create mailbox adapter")
	}

	engine := sync.NewEngine(box, st, log)
	engine.Provider = string(cfg.Provider)

	if cfg.NATSURL != "" {
		publisher, err := events.NewPublisher(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer publisher.Close()

		if err := publisher.EnsureStream(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure event stream")
		}

		engine.PublishEvents = true
		dispatcher := &events.Dispatcher{Store: st, Publisher: publisher, Log: log}
		go dispatcher.Run(ctx)
	}

	manager := sync.NewManager(engine, log, cfg.SyncInterval)
	go manager.Run(ctx)

	snapshot := sync.NewSnapshotReader(box, st, log)

	server := api.New(manager, snapshot, log, cfg.AuthSecret, cfg.AllowedOrigins)

	log.Info().Str("addr", cfg.Addr).Str("provider", string(cfg.Provider)).Msg("starting server")
	if err := server.Router().Run(cfg.Addr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// newMailbox builds the provider adapter selected by configuration.
func newMailbox(ctx context.Context, cfg config.Config) (mailbox.API, error) {
	switch cfg.Provider {
	case config.ProviderMicrosoft:
		return outlook.New(ctx, cfg.OutlookAccessToken, cfg.OutlookUserID)
	default:
		return gmail.New(ctx, gmail.Credentials{
			ClientID:     cfg.GmailClientID,
			ClientSecret: cfg.GmailClientSecret,
			RedirectURL:  cfg.GmailRedirectURI,
			RefreshToken: cfg.GmailRefreshToken,
		})
	}
}
