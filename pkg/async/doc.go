// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, context cancellation, and error collection. Failures are logged
// through observability.Logger instead of crashing the process.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features. Used for the
// retention email sent when a subscription is set to cancel.
//
//	async.SafeGo(context.WithoutCancel(ctx), logger, 30*time.Second, "retention email", func(ctx context.Context) error {
//		return sender.Send(ctx, msg)
//	})
//
// WorkerPool: Managed pool of concurrent workers. The job queue worker runs each
// claimed job on a pool so a slow job never blocks polling.
//
//	pool := async.NewWorkerPool(ctx, logger, 2, "jobs", 10*time.Minute)
//	defer pool.Shutdown(30 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//		return handler(ctx, job)
//	})
//
// # Shutdown
//
// Shutdown closes the queue, waits for in-flight tasks up to the given timeout,
// then cancels the pool context. Submit after Shutdown returns ErrPoolShutDown.
package async
