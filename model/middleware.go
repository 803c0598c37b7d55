package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/hupe1980/xagent/logging"
)

// Default circuit breaker settings.
const (
	DefaultBreakerMaxFailures uint32        = 5
	DefaultBreakerTimeout     time.Duration = 30 * time.Second
	DefaultBreakerInterval    time.Duration = 60 * time.Second
)

// ErrCircuitOpen is wrapped by calls rejected while the breaker is open.
var ErrCircuitOpen = errors.New("model circuit open")

// BreakerOptions configures WithCircuitBreaker.
type BreakerOptions struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration
	// Interval clears failure counts while closed. Zero never clears.
	Interval time.Duration
	Logger   logging.Logger
}

type breakerModel struct {
	inner   Model
	breaker *gobreaker.CircuitBreaker[any]
}

// WithCircuitBreaker wraps m so that repeated provider failures open the
// circuit and later calls fail fast with ErrCircuitOpen until a probe succeeds.
// Context cancellation does not count as a provider failure.
func WithCircuitBreaker(m Model, optFns ...func(o *BreakerOptions)) Model {
	opts := BreakerOptions{
		MaxFailures: DefaultBreakerMaxFailures,
		Timeout:     DefaultBreakerTimeout,
		Interval:    DefaultBreakerInterval,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxFailures == 0 {
		opts.MaxFailures = DefaultBreakerMaxFailures
	}

	info := m.Info()

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "model:" + info.Provider + ":" + info.Name,
		MaxRequests: 1,
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Warn("model.breaker.state_change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})

	return &breakerModel{inner: m, breaker: cb}
}

func (b *breakerModel) SelectTools(ctx context.Context, req Request) ([]ToolCall, error) {
	res, err := b.breaker.Execute(func() (any, error) {
		return b.inner.SelectTools(ctx, req)
	})
	if err != nil {
		return nil, b.wrap(err)
	}

	calls, _ := res.([]ToolCall)

	return calls, nil
}

func (b *breakerModel) Generate(ctx context.Context, req Request) (*Response, error) {
	res, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Generate(ctx, req)
	})
	if err != nil {
		return nil, b.wrap(err)
	}

	resp, _ := res.(*Response)

	return resp, nil
}

func (b *breakerModel) Info() Info { return b.inner.Info() }

func (b *breakerModel) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w (%s): %w", ErrCircuitOpen, b.breaker.Name(), err)
	}

	return err
}

type rateLimitedModel struct {
	inner   Model
	limiter *rate.Limiter
}

// WithRateLimit paces calls to m at rps requests per second with the given
// burst. Waiting honours ctx. Non-positive rps disables limiting.
func WithRateLimit(m Model, rps float64, burst int) Model {
	if rps <= 0 {
		return m
	}

	if burst < 1 {
		burst = 1
	}

	return &rateLimitedModel{inner: m, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimitedModel) SelectTools(ctx context.Context, req Request) ([]ToolCall, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	return r.inner.SelectTools(ctx, req)
}

func (r *rateLimitedModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	return r.inner.Generate(ctx, req)
}

func (r *rateLimitedModel) Info() Info { return r.inner.Info() }
