package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/ytfeeds/internal/sqltypes"
)

func init() {
	sorm.SetParameterPrefix("?")
}

// ParsePayload splits "subject?key=value" into the subject and its
// parameters.
func ParsePayload(s string) (string, url.Values, error) {
	if !strings.Contains(s, "?") {
		return s, url.Values{}, nil
	}

	a := strings.SplitN(s, "?", 2)

	m, err := url.ParseQuery(a[1])
	if err != nil {
		return a[0], url.Values{}, fmt.Errorf("jobqueue.ParsePayload: %w", err)
	}

	return a[0], m, nil
}

func FormatPayload(s string, m url.Values) string {
	if len(m) == 0 {
		return s
	}

	return s + "?" + m.Encode()
}

const (
	DefaultFailureDelay      = time.Second * 5
	DefaultReserveDuration   = time.Minute * 5
	DefaultAttemptsRemaining = 3
)

var (
	ErrJobNotFound = fmt.Errorf("job not found")
)

type Job struct {
	ID                int                      `sql:",table:jobs" json:"id"`
	CreatedAt         time.Time                `json:"created_at"`
	QueueName         string                   `json:"queue_name"`
	Payload           string                   `json:"payload"`
	RunAfter          time.Time                `json:"run_after"`
	FailureDelay      time.Duration            `json:"failure_delay"`
	AttemptsRemaining int                      `json:"attempts_remaining"`
	ReservedAt        *time.Time               `json:"reserved_at"`
	ReservedUntil     *time.Time               `json:"reserved_until"`
	FinishedAt        *time.Time               `json:"finished_at"`
	ErrorMessages     sqltypes.JSONStringSlice `json:"error_messages"`
	OutputMessages    sqltypes.JSONStringSlice `json:"output_messages"`
}

// Failed reports whether the job ran out of attempts on an error.
func (j *Job) Failed() bool {
	return j.FinishedAt != nil && len(j.ErrorMessages) > 0 && j.ErrorMessages[len(j.ErrorMessages)-1] != ""
}

type Status string

const (
	StatusPending  = Status("pending")
	StatusRunning  = Status("running")
	StatusFinished = Status("finished")
	StatusFailed   = Status("failed")
)

// Status reports where the job is at now. A job whose reservation has
// lapsed is pending again.
func (j *Job) Status(now time.Time) Status {
	switch {
	case j.Failed():
		return StatusFailed
	case j.FinishedAt != nil:
		return StatusFinished
	case j.ReservedUntil != nil && j.ReservedUntil.After(now):
		return StatusRunning
	default:
		return StatusPending
	}
}

func GetJob(ctx context.Context, db sorm.Querier, id int) (*Job, error) {
	var job Job
	if err := sorm.FindFirstWhere(ctx, db, &job, "where id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("jobqueue.GetJob: %d: %w", id, ErrJobNotFound)
		}

		return nil, fmt.Errorf("jobqueue.GetJob: %w", err)
	}

	return &job, nil
}

// RecentJobs returns the newest jobs first.
func RecentJobs(ctx context.Context, db sorm.Querier, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}

	var jobs []Job
	if err := sorm.FindWhere(ctx, db, &jobs, "order by created_at desc, id desc limit ?", limit); err != nil {
		return nil, fmt.Errorf("jobqueue.RecentJobs: %w", err)
	}

	return jobs, nil
}

func findNext(ctx context.Context, db sorm.Querier, queueNames []string, now time.Time) (*Job, error) {
	if len(queueNames) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(queueNames)+1)
	for _, name := range queueNames {
		args = append(args, name)
	}
	args = append(args, now)

	query := "where queue_name in (" + strings.TrimSuffix(strings.Repeat("?, ", len(queueNames)), ", ") + ")" +
		fmt.Sprintf(" and run_after <= ?%[1]d and (reserved_until is null or reserved_until < ?%[1]d)", len(args)) +
		" and finished_at is null order by run_after asc, id asc"

	var job Job
	if err := sorm.FindFirstWhere(ctx, db, &job, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("jobqueue.findNext: could not find pending job record: %w", err)
	}

	return &job, nil
}

// reserve claims the job until now+d.
func (j *Job) reserve(now time.Time, d time.Duration) error {
	switch {
	case j.FinishedAt != nil:
		return fmt.Errorf("can't reserve a job that has already finished")
	case j.ReservedUntil != nil && j.ReservedUntil.After(now):
		return fmt.Errorf("can't reserve a job with a non-expired reservation")
	}

	if d == 0 {
		d = DefaultReserveDuration
	}

	until := now.Add(d)
	j.ReservedAt = &now
	j.ReservedUntil = &until

	return nil
}

// record notes the outcome of one attempt. A failure uses up an attempt;
// while any remain the job goes back in the queue after its failure delay.
func (j *Job) record(now time.Time, errorMessage, outputMessage string) error {
	if j.FinishedAt != nil {
		return fmt.Errorf("can't finish a job that has already finished")
	}

	j.ErrorMessages = append(j.ErrorMessages, errorMessage)
	j.OutputMessages = append(j.OutputMessages, outputMessage)
	j.ReservedAt = nil
	j.ReservedUntil = nil

	if errorMessage != "" {
		j.AttemptsRemaining--

		if j.AttemptsRemaining > 0 {
			j.RunAfter = now.Add(j.FailureDelay)
			return nil
		}
	}

	j.FinishedAt = &now

	return nil
}

func findNextAndReserve(ctx context.Context, tx *sql.Tx, queueNames []string, now time.Time, reserveDuration time.Duration) (*Job, error) {
	j, err := findNext(ctx, tx, queueNames, now)
	if err != nil || j == nil {
		return nil, err
	}

	if err := j.reserve(now, reserveDuration); err != nil {
		return nil, fmt.Errorf("jobqueue.findNextAndReserve: job %d: %w", j.ID, err)
	}

	if err := sorm.SaveRecord(ctx, tx, j); err != nil {
		return nil, fmt.Errorf("jobqueue.findNextAndReserve: could not save job record: %w", err)
	}

	return j, nil
}

func finish(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, errorMessage, outputMessage string) error {
	if err := job.record(now, errorMessage, outputMessage); err != nil {
		return fmt.Errorf("jobqueue.finish: job %d: %w", job.ID, err)
	}

	if err := sorm.SaveRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.finish: could not save job record: %w", err)
	}

	return nil
}
