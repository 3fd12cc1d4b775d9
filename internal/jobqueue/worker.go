package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytfeeds/internal/catchpanic"
	"fknsrs.biz/p/ytfeeds/internal/ctxclock"
	"fknsrs.biz/p/ytfeeds/internal/ctxdb"
	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
)

var (
	ErrWorkerExists       = errors.New("worker already exists")
	ErrWorkerDoesNotExist = errors.New("worker does not exist")
	ErrNoPendingJobs      = errors.New("no pending jobs")
)

// WorkerFunction runs one job. The returned string is kept as the job's
// output; an error is kept as its error message and the job is retried
// while it has attempts left.
type WorkerFunction func(ctx context.Context, w *Worker, j *Job) (string, error)

// Worker runs jobs from every queue it has a function for. Any number of
// goroutines may call Run on the same Worker.
type Worker struct {
	mu     sync.RWMutex
	queues map[string]WorkerFunction
	wake   chan struct{}

	// IdleDelay is how long Run waits between polls when the queue is empty.
	IdleDelay time.Duration
	// BusyRetries bounds how often reserving a job is retried while sqlite
	// reports the database as busy.
	BusyRetries int
}

func NewWorker(queues map[string]WorkerFunction) *Worker {
	w := &Worker{
		queues:      make(map[string]WorkerFunction, len(queues)),
		wake:        make(chan struct{}, 1),
		IdleDelay:   time.Second * 30,
		BusyRetries: 25,
	}

	for name, fn := range queues {
		w.queues[name] = fn
	}

	return w
}

// checkQueues fails when any of names is registered (or, with registered
// false, is not).
func (w *Worker) checkQueues(names []string, registered bool) error {
	var bad []string

	for _, name := range names {
		if _, ok := w.queues[name]; ok == registered {
			bad = append(bad, name)
		}
	}

	switch {
	case len(bad) == 0:
		return nil
	case registered:
		return fmt.Errorf("queue(s) %v: %w", bad, ErrWorkerExists)
	default:
		return fmt.Errorf("queue(s) %v: %w", bad, ErrWorkerDoesNotExist)
	}
}

func (w *Worker) Register(queueName string, fn WorkerFunction) error {
	if err := w.RegisterAll(map[string]WorkerFunction{queueName: fn}); err != nil {
		return fmt.Errorf("jobqueue.Worker.Register: %w", err)
	}

	return nil
}

// RegisterAll adds every function or, if any queue is taken, none of them.
func (w *Worker) RegisterAll(queues map[string]WorkerFunction) error {
	names := make([]string, 0, len(queues))
	for name := range queues {
		names = append(names, name)
	}
	sort.Strings(names)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkQueues(names, true); err != nil {
		return fmt.Errorf("jobqueue.Worker.RegisterAll: %w", err)
	}

	for name, fn := range queues {
		w.queues[name] = fn
	}

	return nil
}

func (w *Worker) GetQueueNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.queues))
	for name := range w.queues {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (w *Worker) function(queueName string) (WorkerFunction, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	fn, ok := w.queues[queueName]

	return fn, ok
}

// Add creates the job record inside tx and wakes a waiting Run.
func (w *Worker) Add(ctx context.Context, tx *sql.Tx, job *Job) error {
	w.mu.RLock()
	err := w.checkQueues([]string{job.QueueName}, false)
	w.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("jobqueue.Worker.Add: %w", err)
	}

	t, err := now(ctx)
	if err != nil {
		return fmt.Errorf("jobqueue.Worker.Add: could not get current time: %w", err)
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = t
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = t
	}
	if job.FailureDelay == 0 {
		job.FailureDelay = DefaultFailureDelay
	}
	if job.AttemptsRemaining == 0 {
		job.AttemptsRemaining = DefaultAttemptsRemaining
	}

	if err := sorm.CreateRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.Worker.Add: could not create job record: %w", err)
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}

	return nil
}

// Enqueue adds the job in its own transaction, or in the one already
// running on ctx.
func (w *Worker) Enqueue(ctx context.Context, job *Job) error {
	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return w.Add(ctx, tx, job)
	}); err != nil {
		return fmt.Errorf("jobqueue.Worker.Enqueue: %w", err)
	}

	return nil
}

func isBusy(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && (serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked)
}

func now(ctx context.Context) (time.Time, error) {
	t, err := ctxclock.NowOr(ctx, nil)
	if err != nil {
		return time.Time{}, err
	}

	return t.UTC(), nil
}

// inTx runs fn in a transaction on db, retrying with jitter while sqlite
// reports the database as busy.
func (w *Worker) inTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx *sql.Tx, now time.Time) error) error {
	for attempt := 1; ; attempt++ {
		err := ctxdb.UsingTx(ctxdb.WithDB(ctx, db), nil, func(ctx context.Context, tx *sql.Tx) error {
			t, err := now(ctx)
			if err != nil {
				return err
			}

			return fn(ctx, tx, t)
		})
		if err == nil || !isBusy(err) || attempt >= w.BusyRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(rand.Int63n(int64(time.Millisecond * 500)))):
		}
	}
}

func (w *Worker) reserveNext(ctx context.Context, db *sql.DB) (*Job, error) {
	var job *Job

	if err := w.inTx(ctx, db, func(ctx context.Context, tx *sql.Tx, t time.Time) error {
		j, err := findNextAndReserve(ctx, tx, w.GetQueueNames(), t, DefaultReserveDuration)
		job = j
		return err
	}); err != nil {
		return nil, err
	}

	return job, nil
}

// execute calls the job's function, turning a panic into an error.
func (w *Worker) execute(ctx context.Context, job *Job) (output, errorMessage string) {
	fn, ok := w.function(job.QueueName)
	if !ok {
		return "", fmt.Sprintf("worker function not set for queue %s", job.QueueName)
	}

	output, err := catchpanic.CatchErr1(func() (string, error) {
		return fn(ctx, w, job)
	})
	if err != nil {
		errorMessage = err.Error()
	}

	return output, errorMessage
}

// RunOnce reserves and runs a single pending job. Panics in the worker
// function are recorded as job errors.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	db := ctxdb.GetDB(ctx)
	if db == nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: %w", ctxdb.ErrNoDB)
	}

	job, err := w.reserveNext(ctx, db)
	if err != nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: could not find/reserve job: %w", err)
	}

	if job == nil {
		return false, ErrNoPendingJobs
	}

	ctx, l := ctxlogger.WithFields(ctx, logrus.Fields{
		"job.queue_name": job.QueueName,
		"job.id":         job.ID,
		"job.payload":    job.Payload,
	})

	l.Info("running job")

	output, errorMessage := w.execute(ctx, job)

	l = l.WithField("job.output_message", output)
	if errorMessage != "" {
		l.WithField("job.error_message", errorMessage).Warn("job failed")
	} else {
		l.Info("job finished")
	}

	if err := w.inTx(ctx, db, func(ctx context.Context, tx *sql.Tx, t time.Time) error {
		return finish(ctx, tx, job, t, errorMessage, output)
	}); err != nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: could not finish job: %w", err)
	}

	return true, nil
}

// Run works through the queue until ctx is done, polling every IdleDelay
// and waking early when a job is added.
func (w *Worker) Run(ctx context.Context) error {
	var delay time.Duration

	for {
		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-w.wake:
			timer.Stop()
		}

		ran, err := w.RunOnce(ctx)
		switch {
		case err != nil && !errors.Is(err, ErrNoPendingJobs):
			ctxlogger.GetLogger(ctx).WithError(err).Error("could not run job")
			delay = w.IdleDelay
		case ran:
			delay = 0
		default:
			delay = w.IdleDelay
		}
	}
}
