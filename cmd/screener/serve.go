package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/square-key-labs/strawgo-screener/src/actions"
	"github.com/square-key-labs/strawgo-screener/src/audio/vad"
	"github.com/square-key-labs/strawgo-screener/src/calendar"
	"github.com/square-key-labs/strawgo-screener/src/config"
	"github.com/square-key-labs/strawgo-screener/src/conversation"
	"github.com/square-key-labs/strawgo-screener/src/failover"
	"github.com/square-key-labs/strawgo-screener/src/logger"
	"github.com/square-key-labs/strawgo-screener/src/metrics"
	"github.com/square-key-labs/strawgo-screener/src/recording"
	"github.com/square-key-labs/strawgo-screener/src/services/gemini"
	"github.com/square-key-labs/strawgo-screener/src/services/openai"
	"github.com/square-key-labs/strawgo-screener/src/session"
	"github.com/square-key-labs/strawgo-screener/src/storage"
	"github.com/square-key-labs/strawgo-screener/src/storage/postgres"
	redisstore "github.com/square-key-labs/strawgo-screener/src/storage/redis"
	"github.com/square-key-labs/strawgo-screener/src/telephony"
	"github.com/square-key-labs/strawgo-screener/src/transports"
)

var (
	configPath string
	portFlag   int
	verbose    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Twilio webhook, media stream and voicemail API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = portFlag
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger.Configure(logger.ParseLevel(cfg.Log.Level), cfg.Log.Color)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (environment variables override it)")
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 8080, "HTTP listen port")
	serveCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.WithPrefix("Screener")
	m := metrics.New("screener")

	pool, err := buildPool(ctx, cfg, m)
	if err != nil {
		return err
	}

	var cal conversation.Calendar
	if cfg.Calendar.Enabled {
		c, err := calendar.New(ctx, calendar.Config{
			CalendarID:      cfg.Calendar.CalendarID,
			CredentialsFile: cfg.Calendar.CredentialsFile,
			TimeZone:        cfg.Calendar.TimeZone,
		})
		if err != nil {
			return err
		}
		cal = c
	}

	engine := conversation.NewEngine(pool, cal, conversation.Config{
		OwnerName:    cfg.Owner.Name,
		SystemPrompt: cfg.Owner.SystemPrompt,
		Greeting:     cfg.Owner.Greeting,
		Voice:        cfg.Backend.Voice,
		MinExchanges: cfg.Turn.MinExchanges,

		CalendarTimeout: cfg.Calendar.Timeout,
	})

	twilio, err := telephony.New(&telephony.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
	})
	if err != nil {
		log.Warn("Call control disabled: %v", err)
	}
	var controller actions.CallController
	if twilio != nil {
		controller = twilio
	}
	executor := actions.NewExecutor(controller, telephony.ForwardTarget{
		Number:      cfg.Owner.ForwardNumber,
		CallerID:    cfg.Owner.CallerID,
		HoldMessage: cfg.Owner.HoldMessage,
	})

	records, err := recording.NewStore(cfg.Recordings.Dir, recording.WithMaxDuration(cfg.Recordings.MaxDuration))
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	manager := session.NewManager(sessionConfig(cfg), engine, executor,
		session.WithRecordings(records),
		session.WithStore(store),
		session.WithMetrics(m),
	)
	server := transports.NewServer(transports.Config{
		Port:            cfg.Server.Port,
		StreamURL:       cfg.StreamURL(),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, manager,
		transports.WithStore(store),
		transports.WithRecordings(records),
		transports.WithMetrics(m),
	)

	log.Info("Screening calls for %s with %d %s credential(s), storage=%s", cfg.Owner.Name, pool.Len(), cfg.Backend.Provider, cfg.Storage.Driver)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		// open calls end when the server closes their streams
		waitCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := manager.Wait(waitCtx); err != nil {
			log.Warn("Calls still open or records unsaved at shutdown: %v", err)
		}
		return nil
	})
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Shut down")
	return nil
}

func buildPool(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*failover.Pool, error) {
	b := cfg.Backend
	var creds []failover.Credential

	switch b.Provider {
	case "openai":
		for i, key := range b.APIKeys {
			name := fmt.Sprintf("openai-%d", i+1)
			creds = append(creds, failover.Credential{Name: name, Backend: openai.New(openai.Config{
				Name:            name,
				APIKey:          key,
				BaseURL:         b.BaseURL,
				TranscribeModel: b.TranscribeModel,
				ChatModel:       b.ChatModel,
				SpeechModel:     b.SpeechModel,
				Temperature:     b.Temperature,
				MaxTokens:       b.MaxTokens,
			})})
		}
	case "gemini":
		keys := b.APIKeys
		if b.VertexAI {
			keys = []string{""}
		}
		for i, key := range keys {
			name := fmt.Sprintf("gemini-%d", i+1)
			backend, err := gemini.New(ctx, gemini.Config{
				Name:        name,
				APIKey:      key,
				VertexAI:    b.VertexAI,
				Project:     b.Project,
				Location:    b.Location,
				ChatModel:   b.ChatModel,
				SpeechModel: b.SpeechModel,
				Temperature: float32(b.Temperature),
			})
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			creds = append(creds, failover.Credential{Name: name, Backend: backend})
		}
	default:
		return nil, fmt.Errorf("unknown backend provider %q", b.Provider)
	}

	return failover.NewPool(creds,
		failover.WithAttemptTimeout(b.AttemptTimeout),
		failover.WithObserver(m),
	)
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresDSN)
	case "redis":
		opts := []redisstore.Option{redisstore.WithTTL(cfg.RecordTTL)}
		if cfg.RedisPrefix != "" {
			opts = append(opts, redisstore.WithPrefix(cfg.RedisPrefix))
		}
		return redisstore.Open(ctx, cfg.RedisURL, opts...)
	default:
		return storage.NewMemoryStore(), nil
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.Endpoint = vad.EndpointParams{
		SampleRate:     8000,
		FrameMs:        20,
		EndSilenceMs:   cfg.Endpoint.EndSilenceMs,
		MaxUtteranceMs: cfg.Endpoint.MaxUtteranceMs,
		MinSpeechMs:    cfg.Endpoint.MinSpeechMs,
	}
	sc.Energy.SpeechThreshold = cfg.Endpoint.SpeechThreshold
	sc.Energy.SilenceThreshold = cfg.Endpoint.SilenceThreshold
	sc.PostAudioBuffer = cfg.Turn.PostAudioBuffer
	sc.ActionTimeout = 10 * time.Second
	return sc
}
