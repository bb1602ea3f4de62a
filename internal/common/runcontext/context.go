package runcontext

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Context is a context.Context that also carries the logger of the benchmark run it belongs to.
// Components add their own fields (seq, jobId, classId) to Log rather than logging through the standard logger.
type Context struct {
	context.Context
	Log *logrus.Entry
}

func New(ctx context.Context, log *logrus.Entry) *Context {
	return &Context{Context: ctx, Log: log}
}

func (c *Context) derive(ctx context.Context) *Context {
	return &Context{Context: ctx, Log: c.Log}
}

func WithCancel(parent *Context) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent.Context)
	return parent.derive(ctx), cancel
}

// Detached keeps the logger of parent but none of its cancellation, for work that has to finish after the
// run was interrupted, such as storing the final run state. The returned context expires after timeout.
func Detached(parent *Context, timeout time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return parent.derive(ctx), cancel
}

func WithLogField(parent *Context, key string, val interface{}) *Context {
	return &Context{Context: parent.Context, Log: parent.Log.WithField(key, val)}
}

// ErrGroup is errgroup.WithContext for a Context: the first goroutine to fail cancels the others.
func ErrGroup(parent *Context) (*errgroup.Group, *Context) {
	group, ctx := errgroup.WithContext(parent.Context)
	return group, parent.derive(ctx)
}
