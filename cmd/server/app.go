package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vendorgrid/internal/ingestion/handler"
	"vendorgrid/internal/ingestion/metrics"
	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/normalize"
	"vendorgrid/internal/ingestion/outbox"
	"vendorgrid/internal/ingestion/pipeline"
	"vendorgrid/internal/ingestion/provenance"
	"vendorgrid/internal/ingestion/ratelimit"
	"vendorgrid/internal/ingestion/resolve"
	"vendorgrid/internal/ingestion/scheduler"
	"vendorgrid/internal/ingestion/service"
	"vendorgrid/internal/ingestion/sources"
	"vendorgrid/internal/ingestion/sources/delimited"
	"vendorgrid/internal/ingestion/sources/document"
	"vendorgrid/internal/ingestion/sources/tagged"
	"vendorgrid/internal/ingestion/store"
	"vendorgrid/internal/platform/config"
	"vendorgrid/internal/platform/kafka/producer"
	platformmetrics "vendorgrid/internal/platform/metrics"
	"vendorgrid/internal/platform/redis"
	"vendorgrid/internal/platform/secrets"
)

// gateway is everything the process needs from one persistence backend.
type gateway interface {
	service.Store
	pipeline.Gateway
	outbox.EventStore
}

// app holds the wired components shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store     gateway
	tx        outbox.TxRunner
	registry  *sources.Registry
	limiter   ratelimit.Limiter
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	service   *service.Service
	relay     *outbox.Relay
	metrics   *metrics.Metrics

	closers []func() error
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.buildRegistry(ctx); err != nil {
		return nil, err
	}
	if err := a.openLimiter(ctx); err != nil {
		return nil, err
	}
	if err := a.buildPipeline(); err != nil {
		return nil, err
	}
	if err := a.buildOutbox(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	var cipher store.Cipher
	if a.cfg.FieldKey != "" {
		c, err := secrets.NewFieldCipher(a.cfg.FieldKey)
		if err != nil {
			return fmt.Errorf("field cipher: %w", err)
		}
		cipher = c
	} else {
		a.logger.WarnContext(ctx, "VENDORGRID_FIELD_KEY not set, sensitive fields are stored unencrypted")
	}

	if a.cfg.Database.URL == "" {
		var opts []store.MemoryOption
		if cipher != nil {
			opts = append(opts, store.WithCipher(cipher))
		}
		a.store = store.NewInMemoryStore(opts...)
		a.logger.InfoContext(ctx, "using in-memory store")
		return nil
	}

	db, err := sql.Open("pgx", a.cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	db.SetMaxOpenConns(a.cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(a.cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(a.cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	opts := []store.PostgresOption{store.WithTxTimeout(a.cfg.Database.TxTimeout)}
	if cipher != nil {
		opts = append(opts, store.WithPostgresCipher(cipher))
	}
	pg := store.NewPostgres(db, opts...)
	a.store = pg
	a.tx = pg
	a.logger.InfoContext(ctx, "using postgres store")
	return nil
}

func (a *app) buildRegistry(ctx context.Context) error {
	reg := sources.NewRegistry()
	for _, p := range []sources.Parser{delimited.New(), tagged.New(), document.New()} {
		if err := reg.RegisterParser(p); err != nil {
			return err
		}
	}
	reg.RegisterFetcher(sources.NewHTTPFetcher(sources.WithUserAgent("vendorgrid/1.0")))
	reg.RegisterFetcher(sources.NewFileFetcher())

	if a.cfg.ObjectStorage.S3Region != "" {
		s3f, err := sources.NewS3Fetcher(ctx, sources.S3Config{
			Region:   a.cfg.ObjectStorage.S3Region,
			Endpoint: a.cfg.ObjectStorage.S3Endpoint,
		})
		if err != nil {
			return err
		}
		reg.RegisterFetcher(s3f)
	}
	if a.cfg.ObjectStorage.GCS {
		gcs, err := sources.NewGCSFetcher(ctx)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, gcs.Close)
		reg.RegisterFetcher(gcs)
	}
	a.registry = reg
	return nil
}

func (a *app) openLimiter(ctx context.Context) error {
	client, err := redis.New(ctx, a.cfg.Redis)
	if err != nil {
		return err
	}
	if client == nil {
		a.limiter = ratelimit.NewMemory()
		return nil
	}
	a.closers = append(a.closers, client.Close)
	a.limiter = ratelimit.NewRedis(client)
	a.logger.InfoContext(ctx, "using redis rate limiter")
	return nil
}

func (a *app) buildPipeline() error {
	resolver, err := resolve.New(a.store, resolve.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.pipeline, err = pipeline.New(a.registry, normalize.New(), resolver, provenance.New(), a.store,
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.service, err = service.New(a.store, a.pipeline,
		service.WithLogger(a.logger),
		service.WithMetrics(a.metrics),
	)
	return err
}

// loadScheduler reads the source catalog. A missing catalog leaves the
// scheduler with nothing to poll.
func (a *app) loadScheduler(ctx context.Context) error {
	cfgs, err := config.LoadSources(a.cfg.SourcesFile)
	if errors.Is(err, fs.ErrNotExist) {
		a.logger.WarnContext(ctx, "source catalog not found, no sources scheduled", "path", a.cfg.SourcesFile)
		cfgs, err = []*models.SourceConfig{}, nil
	}
	if err != nil {
		return err
	}
	a.scheduler, err = scheduler.New(a.pipeline, a.store, cfgs,
		scheduler.WithLogger(a.logger),
		scheduler.WithMetrics(a.metrics),
		scheduler.WithLimiter(a.limiter),
		scheduler.WithMaxConcurrent(a.cfg.Scheduler.MaxConcurrent),
		scheduler.WithTick(a.cfg.Scheduler.Tick),
		scheduler.WithFailureThreshold(a.cfg.Scheduler.FailureThreshold),
	)
	return err
}

func (a *app) buildOutbox(ctx context.Context) error {
	var publishers []outbox.Publisher
	if len(a.cfg.Kafka.Brokers) > 0 {
		prod, err := producer.New(producer.Config{
			Brokers:  a.cfg.Kafka.Brokers,
			ClientID: a.cfg.Kafka.ClientID,
			Topic:    a.cfg.Kafka.Topic,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { prod.Close(); return nil })
		if err := prod.EnsureTopic(ctx); err != nil {
			return fmt.Errorf("ensure topic %s: %w", prod.Topic(), err)
		}
		publishers = append(publishers, outbox.NewKafkaPublisher(prod))
	}
	if a.cfg.Webhook.URL != "" {
		var opts []outbox.WebhookOption
		if a.cfg.Webhook.Secret != "" {
			opts = append(opts, outbox.WithSigningSecret(a.cfg.Webhook.Secret))
		}
		publishers = append(publishers, outbox.NewWebhookPublisher(a.cfg.Webhook.URL, opts...))
	}
	if len(publishers) == 0 {
		a.logger.InfoContext(ctx, "no event publishers configured, change events stay in the outbox")
		return nil
	}

	opts := []outbox.Option{
		outbox.WithLogger(a.logger),
		outbox.WithMetrics(a.metrics),
		outbox.WithBatchSize(a.cfg.Outbox.BatchSize),
		outbox.WithInterval(a.cfg.Outbox.Interval),
	}
	if a.tx != nil {
		opts = append(opts, outbox.WithTxRunner(a.tx))
	}
	relay, err := outbox.New(a.store, publishers, opts...)
	if err != nil {
		return err
	}
	a.relay = relay
	return nil
}

// router mounts the admin API and the Prometheus endpoint.
func (a *app) router() (http.Handler, error) {
	hash := a.cfg.Server.OperatorTokenHash
	if hash == "" {
		return nil, errors.New("VENDORGRID_OPERATOR_TOKEN_HASH is required, generate one with the keygen command")
	}
	verify := func(token string) error { return secrets.Verify(token, hash) }

	r := chi.NewRouter()
	h := handler.New(a.service, a.scheduler, verify, a.logger, platformmetrics.New())
	h.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	return r, nil
}

// flush drains the outbox once, if publishers are configured.
func (a *app) flush(ctx context.Context) {
	if a.relay == nil {
		return
	}
	n, err := a.relay.RunOnce(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "outbox flush failed", "error", err)
		return
	}
	a.logger.InfoContext(ctx, "outbox flushed", "published", n)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
