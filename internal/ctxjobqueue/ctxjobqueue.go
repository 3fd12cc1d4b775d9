// Package ctxjobqueue makes the background worker reachable from request
// handlers and job functions through their context.
package ctxjobqueue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fknsrs.biz/p/ytfeeds/internal/ctxclock"
	"fknsrs.biz/p/ytfeeds/internal/jobqueue"
)

var ErrNoWorker = errors.New("ctxjobqueue: no worker found in context")

var workerKey int

func WithWorker(ctx context.Context, w *jobqueue.Worker) context.Context {
	return context.WithValue(ctx, &workerKey, w)
}

func GetWorker(ctx context.Context) *jobqueue.Worker {
	w, _ := ctx.Value(&workerKey).(*jobqueue.Worker)
	return w
}

func Register(w *jobqueue.Worker) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithWorker(r.Context(), w)))
	}
}

// Option adjusts a job before it is stored.
type Option func(ctx context.Context, job *jobqueue.Job) error

// Delay holds the job back for d from now.
func Delay(d time.Duration) Option {
	return func(ctx context.Context, job *jobqueue.Job) error {
		now, err := ctxclock.NowOr(ctx, nil)
		if err != nil {
			return err
		}

		job.RunAfter = now.UTC().Add(d)

		return nil
	}
}

// Attempts overrides how many times the job may run before it is failed.
func Attempts(n int) Option {
	return func(ctx context.Context, job *jobqueue.Job) error {
		if n < 1 {
			return fmt.Errorf("attempts must be at least 1; got %d", n)
		}

		job.AttemptsRemaining = n

		return nil
	}
}

// Enqueue stores a job for payload on the named queue using the worker on
// ctx. It joins any transaction already open on ctx.
func Enqueue(ctx context.Context, queueName, payload string, opts ...Option) (*jobqueue.Job, error) {
	w := GetWorker(ctx)
	if w == nil {
		return nil, fmt.Errorf("ctxjobqueue.Enqueue: %w", ErrNoWorker)
	}

	job := &jobqueue.Job{QueueName: queueName, Payload: payload}

	for _, opt := range opts {
		if err := opt(ctx, job); err != nil {
			return nil, fmt.Errorf("ctxjobqueue.Enqueue: %w", err)
		}
	}

	if err := w.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("ctxjobqueue.Enqueue: %w", err)
	}

	return job, nil
}
