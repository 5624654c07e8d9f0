// Package queue implements the durable action queue.
//
// Actions are enqueued by upstream events (sequence steps, replies, batch
// imports), claimed atomically by the dispatch layer on behalf of a worker,
// and finalised as complete, failed, or re-queued with exponential backoff.
// A recovery pass returns actions stranded in running by a crashed worker.
//
// The service depends only on the Repository interface in repository.go;
// the Postgres implementation lives in internal/repository/postgres.
// Batch enqueue keeps its job state in Redis so any server instance can
// advance a job.
package queue
