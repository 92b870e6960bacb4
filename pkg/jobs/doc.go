// Package jobs is a small durable job queue on PostgreSQL.
//
// A Scheduler enqueues named jobs from cron expressions; each tick carries a
// singleton key so that replicas sharing the database enqueue a single job.
// A Worker polls for due jobs and runs their handlers on an async.WorkerPool.
// Fetching claims rows with FOR UPDATE SKIP LOCKED, and a partial unique
// index keeps at most one job of each name active at a time.
//
// Failed jobs are recorded and not retried; the next scheduled tick runs the
// job again.
package jobs
