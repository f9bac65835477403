package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/async"
)

// Emitter publishes events in the background. A failed publish is logged and
// never reaches the operation that triggered it.
type Emitter struct {
	publisher Publisher
	runner    *async.Runner
	logger    logrus.FieldLogger
}

const defaultPublishTimeout = 5 * time.Second

// NewEmitter wraps publisher. A nil publisher drops everything; a nil runner
// gets a private one with a five second publish timeout.
func NewEmitter(publisher Publisher, runner *async.Runner, logger logrus.FieldLogger) *Emitter {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if runner == nil {
		runner = async.NewRunner(logger, defaultPublishTimeout)
	}
	return &Emitter{publisher: publisher, runner: runner, logger: logger}
}

// Emit builds an event for subject and publishes it asynchronously
func (e *Emitter) Emit(ctx context.Context, subject string, payload interface{}) {
	if e == nil {
		return
	}

	event, err := NewEvent(subject, payload)
	if err != nil {
		e.logger.WithError(err).WithField("subject", subject).Error("Failed to build event")
		return
	}

	e.runner.Go(ctx, "publish "+subject, func(ctx context.Context) error {
		return e.publisher.Publish(ctx, subject, event)
	})
}
