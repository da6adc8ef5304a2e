package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-opsdash/pkg/config"
	"github.com/illmade-knight/go-opsdash/pkg/history"
	"github.com/illmade-knight/go-opsdash/pkg/microservice"
	"github.com/illmade-knight/go-opsdash/pkg/notify"
	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/illmade-knight/go-opsdash/pkg/sources"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	_ "modernc.org/sqlite"
)

// app owns every long-lived resource built from the configuration. Closers
// run in reverse order of creation.
type app struct {
	registry  *poll.Registry
	scheduler *poll.Scheduler
	server    *microservice.DashboardServer
	notifier  *notify.PubSubNotifier
	recorder  *history.Recorder
	bqClient  *bigquery.Client

	redisInstances []*sources.RedisInstance
	closers        []func() error
	logger         zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		registry: poll.NewRegistry(),
		logger:   logger,
	}
	if err := a.build(ctx, cfg); err != nil {
		_ = a.close()
		return nil, err
	}
	logger.Info().Int("items", a.registry.Len()).Msg("Sources initialized.")
	return a, nil
}

func (a *app) build(ctx context.Context, cfg *config.Config) error {
	logger := a.logger
	var gcpOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		gcpOpts = append(gcpOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	observers := []poll.Observer{notify.NewLogObserver(logger)}
	if cfg.Notify != nil {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, gcpOpts...)
		if err != nil {
			return fmt.Errorf("pubsub.NewClient: %w", err)
		}
		a.addCloser(psClient.Close)

		ncfg := notify.NewPubSubNotifierDefaults(cfg.Notify.TopicID)
		ncfg.FailuresOnly = cfg.Notify.FailuresOnly
		a.notifier, err = notify.NewPubSubNotifier(ctx, ncfg, psClient, logger)
		if err != nil {
			return err
		}
		observers = append(observers, a.notifier)
	}
	if cfg.History != nil {
		if err := a.buildHistory(ctx, cfg); err != nil {
			return err
		}
		observers = append(observers, a.recorder)
	}

	opts := []poll.Option{
		poll.WithRegistry(a.registry),
		poll.WithLogger(logger),
		poll.WithObserver(poll.Observers(observers...)),
	}

	if err := a.buildRedis(ctx, cfg, opts); err != nil {
		return err
	}
	if err := a.buildSQL(cfg, opts); err != nil {
		return err
	}
	if err := a.buildGCP(ctx, cfg, gcpOpts, opts); err != nil {
		return err
	}

	schedCfg := poll.NewSchedulerDefaults()
	schedCfg.Interval = cfg.PollInterval.Duration
	var err error
	a.scheduler, err = poll.NewScheduler(schedCfg, poll.WithRegistry(a.registry), poll.WithLogger(logger))
	if err != nil {
		return err
	}

	a.server, err = microservice.NewDashboardServer(logger, cfg.HTTPPort, a.registry, a.scheduler)
	return err
}

func (a *app) buildRedis(ctx context.Context, cfg *config.Config, opts []poll.Option) error {
	for _, rc := range cfg.Redis {
		client, err := sources.NewRedisClient(ctx, &sources.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("redis instance %s: %w", rc.Name, err)
		}
		a.addCloser(client.Close)

		icfg := sources.NewRedisInstanceDefaults(rc.Name)
		icfg.ConfigTTL = config.TTLOr(rc.ConfigTTL, icfg.ConfigTTL)
		icfg.SlowLogTTL = config.TTLOr(rc.SlowLogTTL, icfg.SlowLogTTL)
		icfg.KeyCountTTL = config.TTLOr(rc.KeyCountTTL, icfg.KeyCountTTL)
		if rc.SlowLogCount > 0 {
			icfg.SlowLogCount = rc.SlowLogCount
		}

		instance, err := sources.NewRedisInstance(icfg, sources.NewRedisServer(client), a.logger, opts...)
		if err != nil {
			return err
		}
		a.addCloser(instance.Close)
		a.redisInstances = append(a.redisInstances, instance)
	}
	return nil
}

func (a *app) buildSQL(cfg *config.Config, opts []poll.Option) error {
	if cfg.SQL == nil || len(cfg.SQL.Queries) == 0 {
		return nil
	}
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return fmt.Errorf("sql.Open: %w", err)
	}
	a.addCloser(db.Close)

	for _, qc := range cfg.SQL.Queries {
		q, err := sources.NewSQLQuery[map[string]any](&sources.SQLQueryConfig{
			Name:  qc.Name,
			Query: qc.Query,
			TTL:   config.TTLOr(qc.TTL, config.DefaultRedisTTL),
		}, db, sources.ScanMap, a.logger, opts...)
		if err != nil {
			return err
		}
		a.addCloser(q.Close)
	}
	return nil
}

func (a *app) buildGCP(ctx context.Context, cfg *config.Config, gcpOpts []option.ClientOption, opts []poll.Option) error {
	if len(cfg.BigQuery) > 0 {
		client, err := a.bigQuery(ctx, cfg)
		if err != nil {
			return err
		}
		for _, qc := range cfg.BigQuery {
			q, err := sources.NewBigQueryQuery[map[string]bigquery.Value](&sources.BigQueryQueryConfig{
				Name:    qc.Name,
				SQL:     qc.SQL,
				TTL:     config.TTLOr(qc.TTL, config.DefaultRedisTTL),
				MaxRows: qc.MaxRows,
			}, client, a.logger, opts...)
			if err != nil {
				return err
			}
			a.addCloser(q.Close)
		}
	}

	if len(cfg.Firestore) > 0 {
		client, err := firestore.NewClient(ctx, cfg.ProjectID, gcpOpts...)
		if err != nil {
			return fmt.Errorf("firestore.NewClient: %w", err)
		}
		a.addCloser(client.Close)
		for _, dc := range cfg.Firestore {
			d, err := sources.NewFirestoreDocument[map[string]any](&sources.FirestoreDocumentConfig{
				Name:           dc.Name,
				CollectionName: dc.Collection,
				DocumentID:     dc.Document,
				TTL:            config.TTLOr(dc.TTL, config.DefaultRedisTTL),
			}, client, a.logger, opts...)
			if err != nil {
				return err
			}
			a.addCloser(d.Close)
		}
	}

	if len(cfg.Buckets) > 0 {
		client, err := storage.NewClient(ctx, gcpOpts...)
		if err != nil {
			return fmt.Errorf("storage.NewClient: %w", err)
		}
		a.addCloser(client.Close)
		gcs := sources.NewGCSClientAdapter(client)
		for _, bc := range cfg.Buckets {
			b, err := sources.NewBucketUsage(&sources.BucketUsageConfig{
				Name:       bc.Name,
				BucketName: bc.Bucket,
				Prefix:     bc.Prefix,
				TTL:        config.TTLOr(bc.TTL, config.DefaultRedisTTL),
			}, gcs, a.logger, opts...)
			if err != nil {
				return err
			}
			a.addCloser(b.Close)
		}
	}
	return nil
}

func (a *app) buildHistory(ctx context.Context, cfg *config.Config) error {
	client, err := a.bigQuery(ctx, cfg)
	if err != nil {
		return err
	}
	inserter, err := history.NewBigQueryInserter[history.FetchRecord](ctx, client, &history.BigQueryTableConfig{
		DatasetID: cfg.History.DatasetID,
		TableID:   cfg.History.TableID,
	}, a.logger)
	if err != nil {
		return err
	}
	rcfg := history.NewRecorderDefaults()
	if cfg.History.BatchSize > 0 {
		rcfg.BatchSize = cfg.History.BatchSize
	}
	rcfg.FlushInterval = config.TTLOr(cfg.History.FlushInterval, rcfg.FlushInterval)
	a.recorder, err = history.NewRecorder(rcfg, inserter, a.logger)
	return err
}

// bigQuery returns the shared BigQuery client, creating it on first use.
func (a *app) bigQuery(ctx context.Context, cfg *config.Config) (*bigquery.Client, error) {
	if a.bqClient != nil {
		return a.bqClient, nil
	}
	client, err := sources.NewProductionBigQueryClient(ctx, cfg.ProjectID, cfg.CredentialsFile, a.logger)
	if err != nil {
		return nil, err
	}
	a.addCloser(client.Close)
	a.bqClient = client
	return client, nil
}

// start launches the scheduler and then the HTTP server.
func (a *app) start(ctx context.Context) error {
	if a.recorder != nil {
		a.recorder.Start(ctx)
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	return a.server.Start()
}

// shutdown stops the server, then the scheduler, flushes notifications and
// history and releases every client.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil && !errors.Is(err, poll.ErrSchedulerStopped) {
			errs = append(errs, err)
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.recorder != nil {
		if err := a.recorder.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) addCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
