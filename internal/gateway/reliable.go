package gateway

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/logging"
	"github.com/hpungsan/overseer/internal/metrics"
)

// ReliableOptions configures Reliable.
type ReliableOptions struct {
	// Caller labels metrics and logs ("dispatcher", "supervisor").
	Caller string

	// Timeout bounds each attempt. 0 disables the per-attempt deadline.
	Timeout time.Duration

	// RatePerSec limits attempts. 0 disables limiting.
	RatePerSec float64

	// MaxRetries is the number of extra attempts after a failure.
	MaxRetries int

	// Backoff is the delay before the first retry, doubled per retry. Defaults to 500ms.
	Backoff time.Duration

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Reliable wraps a Gateway with pacing, per-attempt timeouts and retries.
// Every failure it returns is an ErrGateway.
type Reliable struct {
	next    Gateway
	opts    ReliableOptions
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewReliable wraps next.
func NewReliable(next Gateway, opts ReliableOptions) *Reliable {
	r := &Reliable{
		next:   next,
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
	}
	if r.opts.Backoff <= 0 {
		r.opts.Backoff = 500 * time.Millisecond
	}
	if r.opts.MaxRetries < 0 {
		r.opts.MaxRetries = 0
	}
	if opts.RatePerSec > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return r
}

func (r *Reliable) Model() string {
	return r.next.Model()
}

// Generate calls the wrapped gateway until it succeeds, retries run out or ctx is done.
func (r *Reliable) Generate(ctx context.Context, req Request) (string, error) {
	backoff := r.opts.Backoff
	var lastErr error

	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", errors.NewGateway(ctx.Err())
			case <-timer.C:
			}
			backoff *= 2
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return "", errors.NewGateway(err)
			}
		}

		text, err := r.attempt(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		r.logger.Warn("gateway call failed",
			zap.String("caller", r.opts.Caller),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", errors.NewGateway(lastErr)
}

func (r *Reliable) attempt(ctx context.Context, req Request) (string, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := r.next.Generate(ctx, req)
	if err == nil && ctx.Err() != nil {
		// a backend that ignores ctx must not outlive the deadline
		err = ctx.Err()
	}
	r.opts.Metrics.ObserveGateway(r.opts.Caller, time.Since(start).Seconds(), err)

	if stderrors.Is(err, context.DeadlineExceeded) {
		r.logger.Debug("gateway attempt timed out", zap.String("caller", r.opts.Caller))
	}
	return text, err
}
