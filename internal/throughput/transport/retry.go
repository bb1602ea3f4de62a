package transport

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"github.com/armadaproject/jobthroughput/internal/common/logging"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
)

// Retrier retries calls that fail transiently, with exponential backoff.
// Only the call is retried; a business level rejection is returned straight away.
type Retrier struct {
	attempts       uint
	initialBackoff time.Duration
	maxBackoff     time.Duration
	log            *logrus.Entry
}

func NewRetrier(config configuration.TransportConfig, log *logrus.Entry) *Retrier {
	attempts := config.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return &Retrier{
		attempts:       attempts,
		initialBackoff: config.InitialBackoff,
		maxBackoff:     config.MaxBackoff,
		log:            log,
	}
}

// Do calls fn until it succeeds, returns an error for which retriable is false, the attempts run out
// or ctx is done. The last error is returned.
func (r *Retrier) Do(ctx context.Context, operation string, retriable func(error) bool, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.initialBackoff),
		retry.MaxDelay(r.maxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && retriable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			logging.WithStacktrace(r.log, err).Warnf("%s failed on attempt %d of %d", operation, n+1, r.attempts)
		}),
	)
}
