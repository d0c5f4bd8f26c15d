package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/alertify-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/alertify-service/internal/adapter/kafka"
	"github.com/couchcryptid/alertify-service/internal/adapter/mapbox"
	"github.com/couchcryptid/alertify-service/internal/adapter/memory"
	"github.com/couchcryptid/alertify-service/internal/adapter/postgres"
	"github.com/couchcryptid/alertify-service/internal/classifier"
	"github.com/couchcryptid/alertify-service/internal/config"
	"github.com/couchcryptid/alertify-service/internal/hub"
	"github.com/couchcryptid/alertify-service/internal/incident"
	"github.com/couchcryptid/alertify-service/internal/lexicon"
	"github.com/couchcryptid/alertify-service/internal/observability"
	"github.com/couchcryptid/alertify-service/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("alertify stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	table, err := lexicon.Load(cfg.LexiconPath)
	if err != nil {
		return err
	}
	logger.Info("lexicon loaded",
		"path", cfg.LexiconPath,
		"types", len(table.Types),
		"locations", len(table.Locations),
		"terms", table.TermCount(),
	)
	rules := classifier.NewRules(lexicon.NewMatcher(table))

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	h := hub.New(cfg.HubQueueSize, logger, metrics)

	var opts []incident.Option

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		geocoder, err := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		if err != nil {
			return err
		}
		opts = append(opts, incident.WithGeocoder(geocoder))
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var writer *kafkaadapter.EventWriter
	if cfg.KafkaEventsEnabled {
		writer = kafkaadapter.NewEventWriter(cfg, logger)
		opts = append(opts, incident.WithEventSink(writer))
		logger.Info("kafka event mirror enabled", "topic", cfg.KafkaEventsTopic)
	}

	svc := incident.NewService(repo, rules, h, logger, metrics, opts...)

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is not set, operator endpoints will reject every request")
	}
	api := httpadapter.NewAPI(svc, httpadapter.APIConfig{
		AdminToken: cfg.AdminToken,
		KeepAlive:  cfg.StreamKeepAlive,
	}, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, api, svc, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var reader *kafkaadapter.Reader
	if cfg.KafkaIngestEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		p := pipeline.New(reader, pipeline.NewTransformer(logger), pipeline.NewServiceLoader(svc), logger, metrics, cfg.BatchSize)
		g.Go(func() error { return p.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Live streams never finish on their own; closing the hub ends them
		// so Shutdown can drain.
		h.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()

	if reader != nil {
		if cerr := reader.Close(); cerr != nil {
			logger.Error("kafka reader close error", "error", cerr)
		}
	}
	if writer != nil {
		if cerr := writer.Close(); cerr != nil {
			logger.Error("kafka writer close error", "error", cerr)
		}
	}

	logger.Info("shutdown complete")
	return err
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (incident.Repository, func(), error) {
	if cfg.StoreBackend != config.StorePostgres {
		logger.Info("using in-memory store, posts are lost on restart")
		return memory.New(), func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	repo := postgres.New(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	logger.Info("using postgres store")
	return repo, func() {
		if err := db.Close(); err != nil {
			logger.Error("postgres close error", "error", err)
		}
	}, nil
}
