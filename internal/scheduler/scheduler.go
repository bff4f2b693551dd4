// Package scheduler runs delayed background jobs for intent monitoring behind
// a single interface with durable and in-process backends.
package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Kind names a job handler.
type Kind string

const (
	KindRelayStatus Kind = "relay_status"
	KindPlaceOrder  Kind = "place_order"
	KindOrderStatus Kind = "order_status"
)

// Job is a unit of delayed work for one intent.
type Job struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	IntentID string    `json:"intentId"`
	Attempt  int       `json:"attempt"`
	RunAt    time.Time `json:"runAt"`
}

// JobID is unique per (kind, intent, attempt) so that scheduling the same
// step twice collapses into one job.
func JobID(kind Kind, intentID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", kind, intentID, attempt)
}

// NewJob builds a job with its deterministic id.
func NewJob(kind Kind, intentID string, attempt int) Job {
	return Job{
		ID:       JobID(kind, intentID, attempt),
		Kind:     kind,
		IntentID: intentID,
		Attempt:  attempt,
	}
}

// Next returns the follow-up job for the next attempt.
func (j Job) Next() Job {
	return NewJob(j.Kind, j.IntentID, j.Attempt+1)
}

// Scheduler enqueues a job to run after delay. Scheduling a job whose id is
// already pending is a no-op.
type Scheduler interface {
	Schedule(ctx context.Context, job Job, delay time.Duration) error
}

// Queue is a durable backend drained by a Worker.
type Queue interface {
	Scheduler
	// Claim leases up to n jobs due at or before now.
	Claim(ctx context.Context, now time.Time, n int) ([]Job, error)
	// Ack removes a finished job.
	Ack(ctx context.Context, job Job) error
	// DeadLetter records a failed job and removes it from the queue.
	DeadLetter(ctx context.Context, job Job, reason string) error
}

// Observer is told the outcome of every executed job.
type Observer func(kind Kind, outcome string)
