package transport

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/armadaproject/jobthroughput/internal/common/logging"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
)

var (
	errTransient = errors.New("connection reset")
	errFinal     = errors.New("queue does not exist")
)

func testRetrier(attempts uint) *Retrier {
	return NewRetrier(configuration.TransportConfig{
		Attempts:       attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, logging.NullEntry())
}

func isTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func TestRetrier_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := testRetrier(3).Do(context.Background(), "submit", isTransient, func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_GivesUp(t *testing.T) {
	calls := 0
	err := testRetrier(2).Do(context.Background(), "submit", isTransient, func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, calls)
}

func TestRetrier_DoesNotRetryFinalErrors(t *testing.T) {
	calls := 0
	err := testRetrier(5).Do(context.Background(), "submit", isTransient, func() error {
		calls++
		return errFinal
	})
	assert.ErrorIs(t, err, errFinal)
	assert.Equal(t, 1, calls)
}

func TestRetrier_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := testRetrier(5).Do(ctx, "query", isTransient, func() error {
		calls++
		cancel()
		return errTransient
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
