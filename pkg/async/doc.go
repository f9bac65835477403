// Package async provides safe execution of best-effort background tasks.
//
// # Key Functions
//
// SafeGo: Execute a function in a goroutine with panic recovery, a timeout
// and error logging. The task keeps request context values but not the
// request's cancellation.
//
//	async.SafeGo(ctx, 5*time.Second, logger, "publish event", func(ctx context.Context) error {
//		return publisher.Publish(ctx, subject, event)
//	})
//
// Runner: SafeGo with a wait group, so the process can drain in-flight tasks
// during graceful shutdown.
//
//	runner := async.NewRunner(logger, 5*time.Second)
//	runner.Go(ctx, "publish event", publish)
//	_ = runner.Wait(10 * time.Second)
//
// # Related Packages
//
//   - pkg/events: Emitter publishes events through a Runner
package async
