package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes a function in a goroutine with:
//   - Context cancellation support
//   - Panic recovery
//   - Timeout enforcement
//   - Error logging
//
// The task runs under context.WithoutCancel(parentCtx) so request-scoped
// values survive the end of the request while its cancellation does not.
//
// Example:
//
//	SafeGo(r.Context(), 5*time.Second, logger, "publish event", func(ctx context.Context) error {
//	    return publisher.Publish(ctx, subject, event)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, logger logrus.FieldLogger, taskName string, fn func(context.Context) error) {
	go run(parentCtx, timeout, logger, taskName, fn)
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, logger logrus.FieldLogger, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, logger, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func run(parentCtx context.Context, timeout time.Duration, logger logrus.FieldLogger, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"task":  taskName,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Background task panicked")
		}
	}()

	if err := fn(ctx); err != nil {
		logger.WithError(err).WithField("task", taskName).Warn("Background task failed")
	}
}

// Runner tracks SafeGo tasks so they can be drained on shutdown
type Runner struct {
	logger  logrus.FieldLogger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRunner creates a Runner whose tasks are bounded by timeout
func NewRunner(logger logrus.FieldLogger, timeout time.Duration) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{logger: logger, timeout: timeout}
}

// Go starts a tracked background task
func (r *Runner) Go(parentCtx context.Context, taskName string, fn func(context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		run(parentCtx, r.timeout, r.logger, taskName, fn)
	}()
}

// Wait blocks until every started task returns or the timeout elapses
func (r *Runner) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("background tasks still running after %v", timeout)
	}
}
