package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/noah-isme/printshop-api/internal/config"
	"github.com/noah-isme/printshop-api/internal/obs"
)

// Dependencies holds the shared infrastructure handles of a process.
type Dependencies struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
	Tasks *asynq.Client
	// TaskRedis is the asynq connection option derived from REDIS_URL; workers build servers from it.
	TaskRedis asynq.RedisConnOpt
	// MeterProvider is the otel provider bridged into the Prometheus registry, or a
	// no-op provider when metrics are disabled.
	MeterProvider metric.MeterProvider

	meters *sdkmetric.MeterProvider
	logger zerolog.Logger
}

// Open connects to Postgres and Redis and prepares the asynq client. name is reported as
// the Postgres application_name.
func Open(ctx context.Context, cfg *config.Config, name string, logger zerolog.Logger) (*Dependencies, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = name

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	var (
		meters   *sdkmetric.MeterProvider
		provider metric.MeterProvider = noop.NewMeterProvider()
	)
	if cfg.MetricsEnabled {
		if meters, err = obs.InitMeter(ctx, nil, name, Version); err != nil {
			logger.Error().Err(err).Msg("initialise meter provider")
		} else {
			provider = meters
			otel.SetMeterProvider(meters)
			if err := redisotel.InstrumentMetrics(redisClient, redisotel.WithMeterProvider(meters)); err != nil {
				logger.Error().Err(err).Msg("instrument redis metrics")
			}
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	connOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("parse asynq redis uri: %w", err)
	}

	return &Dependencies{
		DB:            pool,
		Redis:         redisClient,
		Tasks:         asynq.NewClient(connOpt),
		TaskRedis:     connOpt,
		MeterProvider: provider,
		meters:        meters,
		logger:        logger,
	}, nil
}

// Close releases every handle, logging close failures.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.Tasks != nil {
		if err := d.Tasks.Close(); err != nil {
			d.logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.meters != nil {
		if err := d.meters.Shutdown(context.Background()); err != nil {
			d.logger.Error().Err(err).Msg("shutdown meter provider")
		}
	}
}

// PingDB implements health.Checker.
func (d *Dependencies) PingDB(ctx context.Context, timeout time.Duration) error {
	if d == nil || d.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.DB.Ping(ctx)
}

// PingRedis implements health.Checker.
func (d *Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d == nil || d.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// Version is stamped at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

// InitTracing installs the global tracer provider when tracing is enabled. The returned
// function flushes spans and is always safe to call.
func InitTracing(ctx context.Context, cfg *config.Config, service string, logger zerolog.Logger) func() {
	if !cfg.TracingEnabled {
		return func() {}
	}
	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:    service,
		ServiceVersion: Version,
		Endpoint:       cfg.OTLPEndpoint,
		Exporter:       cfg.TracingExporter,
		SamplingRatio:  cfg.TracingSamplingRatio,
		Environment:    cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}
}
