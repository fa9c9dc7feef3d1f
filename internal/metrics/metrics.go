// Package metrics exposes boarding instruments through OpenTelemetry and
// serves them in Prometheus format.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/dandantas/boarding"

// Provider owns the meter provider and the Prometheus registry behind /metrics
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	handler       http.Handler
}

// Setup installs a Prometheus-backed meter provider as the global provider
func Setup() (*Provider, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("metrics: start prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	return &Provider{
		meterProvider: mp,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// Handler serves the registry
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Shutdown flushes and stops the meter provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}

// Recorder holds the instruments. A nil *Recorder records nothing.
type Recorder struct {
	meter       metric.Meter
	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
	boarded     metric.Int64Counter
	invitations metric.Int64Counter
	expired     metric.Int64Counter
	evicted     metric.Int64Counter
	lockWait    metric.Float64Histogram
}

// New creates a Recorder on the global meter provider
func New() *Recorder {
	meter := otel.Meter(meterName)
	r := &Recorder{meter: meter}
	var err error

	r.runs, err = meter.Int64Counter(
		"boarding.job.runs",
		metric.WithDescription("Scheduler and sweeper runs by outcome"),
	)
	logInitError("boarding.job.runs", err)

	r.runDuration, err = meter.Float64Histogram(
		"boarding.job.duration",
		metric.WithDescription("Job run duration"),
		metric.WithUnit("ms"),
	)
	logInitError("boarding.job.duration", err)

	r.boarded, err = meter.Int64Counter(
		"boarding.fulfillment.boarded",
		metric.WithDescription("Entries boarded by the fulfillment scheduler"),
	)
	logInitError("boarding.fulfillment.boarded", err)

	r.invitations, err = meter.Int64Counter(
		"boarding.invitations",
		metric.WithDescription("Group invitations by final status"),
	)
	logInitError("boarding.invitations", err)

	r.expired, err = meter.Int64Counter(
		"boarding.orders.expired",
		metric.WithDescription("Orders expired by the expiration sweeper"),
	)
	logInitError("boarding.orders.expired", err)

	r.evicted, err = meter.Int64Counter(
		"boarding.groups.evicted",
		metric.WithDescription("Members removed by the overcapacity sweeper"),
	)
	logInitError("boarding.groups.evicted", err)

	r.lockWait, err = meter.Float64Histogram(
		"boarding.lock.wait",
		metric.WithDescription("Time spent queued for a keyed lock"),
		metric.WithUnit("ms"),
	)
	logInitError("boarding.lock.wait", err)

	return r
}

// ObserveQueueDepth registers a gauge fed by fn on every collection
func (r *Recorder) ObserveQueueDepth(fn func(ctx context.Context) (int64, error)) {
	if r == nil {
		return
	}
	gauge, err := r.meter.Int64ObservableGauge(
		"boarding.queue.waiting",
		metric.WithDescription("Entries currently waiting"),
	)
	if err != nil {
		logInitError("boarding.queue.waiting", err)
		return
	}
	if _, err := r.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := fn(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, n)
		return nil
	}, gauge); err != nil {
		slog.Warn("Metric callback registration failed", "name", "boarding.queue.waiting", "error", err)
	}
}

// RecordRun records a finished job run and its job-specific counters
func (r *Recorder) RecordRun(ctx context.Context, run *model.JobRun) {
	if r == nil || run == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("job", run.Job),
		attribute.String("trigger", run.Trigger),
		attribute.String("outcome", string(run.Outcome)),
		attribute.String("reason", run.Reason),
	)
	r.runs.Add(ctx, 1, attrs)
	r.runDuration.Record(ctx, float64(run.DurationMs), metric.WithAttributes(attribute.String("job", run.Job)))

	switch run.Job {
	case model.JobFulfillment:
		if run.Outcome == model.OutcomeCompleted {
			r.boarded.Add(ctx, 1)
		}
		if run.InviteStatus != "" {
			r.invitations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", run.InviteStatus)))
		}
	case model.JobOrderExpiry:
		if n := run.Counters["expired"]; n > 0 {
			r.expired.Add(ctx, int64(n))
		}
	case model.JobOvercapacity:
		if n := run.Counters["evicted"]; n > 0 {
			r.evicted.Add(ctx, int64(n))
		}
	}
}

// LockWait matches keymutex.WaitObserver. Keys are reduced to their scope
// prefix to keep label cardinality bounded.
func (r *Recorder) LockWait(key string, waited time.Duration) {
	if r == nil {
		return
	}
	scope := key
	if i := strings.IndexByte(key, ':'); i >= 0 {
		scope = key[:i]
	}
	r.lockWait.Record(context.Background(), float64(waited.Microseconds())/1000,
		metric.WithAttributes(attribute.String("scope", scope)))
}

func logInitError(name string, err error) {
	if err != nil {
		slog.Warn("Metric init failed", "name", name, "error", err)
	}
}
