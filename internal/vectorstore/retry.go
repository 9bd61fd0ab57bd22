package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrCircuitOpen is returned without calling the backend while too many
// recent calls have failed.
var ErrCircuitOpen = errors.New("vector index circuit breaker open")

// IsTransientError reports whether a gRPC error is worth retrying:
// unavailability, timeouts, aborts and exhausted quotas.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if err == nil || !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	return status.Code(err) == grpccodes.NotFound
}

// retrier retries transient failures with doubling backoff. After
// threshold consecutive transient failures it rejects calls until cooldown
// has passed since the last one.
type retrier struct {
	retries   int
	backoff   time.Duration
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	failures int
	lastFail time.Time
}

func newRetrier(retries int, backoff time.Duration, threshold int, logger *zap.Logger) *retrier {
	return &retrier{
		retries:   retries,
		backoff:   backoff,
		threshold: threshold,
		cooldown:  30 * time.Second,
		logger:    logger,
		now:       time.Now,
	}
}

// do runs fn until it succeeds, fails permanently, runs out of retries or
// ctx is done.
func (r *retrier) do(ctx context.Context, op string, fn func() error) error {
	if r.open() {
		return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
	}
	wait := r.backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			r.succeeded()
			return nil
		case !IsTransientError(err):
			return err
		}

		if r.failed() {
			return fmt.Errorf("%s: %w: %w", op, ErrCircuitOpen, err)
		}
		if attempt >= r.retries {
			return fmt.Errorf("%s failed after %d retries: %w", op, r.retries, err)
		}
		r.logger.Debug("retrying vector index call",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-timer.C:
		}
		wait *= 2
	}
}

func (r *retrier) open() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures < r.threshold {
		return false
	}
	if r.now().Sub(r.lastFail) > r.cooldown {
		r.failures = 0
		return false
	}
	return true
}

// failed records a transient failure and reports whether it tripped the
// breaker.
func (r *retrier) failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	r.lastFail = r.now()
	return r.failures >= r.threshold
}

func (r *retrier) succeeded() {
	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()
}
