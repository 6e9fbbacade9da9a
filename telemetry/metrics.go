// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	VoiceChannelsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "guild_voice_channels_created_total", Help: "Number of ephemeral voice channels created"})
	VoiceChannelsDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "guild_voice_channels_deleted_total", Help: "Number of ephemeral voice channels deleted"})
	VoiceCreateFailures  = promauto.NewCounter(prometheus.CounterOpts{Name: "guild_voice_create_failures_total", Help: "Number of failed channel create attempts"})

	VerificationsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "guild_verifications_succeeded_total", Help: "Number of completed verifications"})
	VerificationsRejected  = promauto.NewCounter(prometheus.CounterOpts{Name: "guild_verifications_rejected_total", Help: "Number of rejected verification attempts (duplicates, unknown identities)"})
	RoleGrantFailures      = promauto.NewCounter(prometheus.CounterOpts{Name: "guild_role_grant_failures_total", Help: "Number of failed role grants"})
	TokenExchangeFailures  = promauto.NewCounter(prometheus.CounterOpts{Name: "guild_token_exchange_failures_total", Help: "Number of failed OAuth token exchanges"})

	// Histograms (seconds)
	AuthorizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "guild_authorize_duration_seconds", Help: "Authorize flow duration seconds", Buckets: prometheus.DefBuckets})

	// Gauges
	ManagedChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "guild_managed_voice_channels", Help: "Current number of ephemeral voice channels in the managed category"})
)

// SetManagedChannels records the current ephemeral channel count.
func SetManagedChannels(n int) { ManagedChannelsGauge.Set(float64(n)) }

// TimeFunc measures the duration of fn and records it in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns the default logger with the correlation id attached, if any.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if corr := GetCorrelation(ctx); corr != "" {
		return slog.Default().With(slog.String("corr", corr))
	}
	return slog.Default()
}
