package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// CreateContextWithShutdown returns a context that reports done when SIGINT or SIGTERM is received.
// A benchmark run treats this as an operator abort: submissions stop and jobs already on the cluster are left running.
func CreateContextWithShutdown() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c:
			log.Warnf("received %s, aborting run; submitted jobs are not cancelled", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
