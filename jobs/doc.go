// Package jobs provides the bounded-concurrency execution substrate: a
// priority job queue with retry, timeout, and optional durable persistence,
// dispatching onto an autoscaling worker pool.
package jobs
