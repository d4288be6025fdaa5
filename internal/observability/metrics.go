package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tabletop-session-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type AppMetrics struct {
	commandCounter         metric.Int64Counter
	registryCounter        metric.Int64Counter
	sweeperPurgedCounter   metric.Int64Counter
	tokenValidationCounter metric.Int64Counter
	rateLimitCounter       metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("tabletop-session-service")
	commandCounter, err := meter.Int64Counter("session.command.executions")
	if err != nil {
		return nil, err
	}
	registryCounter, err := meter.Int64Counter("registry.operations")
	if err != nil {
		return nil, err
	}
	sweeperCounter, err := meter.Int64Counter("sweeper.grants.purged")
	if err != nil {
		return nil, err
	}
	tokenCounter, err := meter.Int64Counter("auth.token.validations")
	if err != nil {
		return nil, err
	}
	rateLimitCounter, err := meter.Int64Counter("http.rate_limit.decisions")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		commandCounter:         commandCounter,
		registryCounter:        registryCounter,
		sweeperPurgedCounter:   sweeperCounter,
		tokenValidationCounter: tokenCounter,
		rateLimitCounter:       rateLimitCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func load() *AppMetrics {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	return m
}

// RecordCommand counts one coordinator command by name and outcome.
func RecordCommand(ctx context.Context, command, outcome string) {
	m := load()
	if m == nil {
		return
	}
	m.commandCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	))
}

// RecordRegistryOperation counts one registry mutation or lookup.
func RecordRegistryOperation(ctx context.Context, op, outcome string) {
	m := load()
	if m == nil {
		return
	}
	m.registryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

// RecordSweep counts temporary grants purged by the expiry sweeper.
func RecordSweep(ctx context.Context, purged int) {
	m := load()
	if m == nil || purged <= 0 {
		return
	}
	m.sweeperPurgedCounter.Add(ctx, int64(purged))
}

// RecordTokenValidation counts one identity verification attempt.
func RecordTokenValidation(ctx context.Context, outcome, source string) {
	m := load()
	if m == nil {
		return
	}
	m.tokenValidationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

// RecordRateLimitDecision counts one rate limiter verdict.
func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	m := load()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
	))
}
