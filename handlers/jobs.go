package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"fknsrs.biz/p/ytfeeds/internal/ctxclock"
	"fknsrs.biz/p/ytfeeds/internal/ctxdb"
	"fknsrs.biz/p/ytfeeds/internal/ctxjobqueue"
	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
	"fknsrs.biz/p/ytfeeds/internal/feederr"
	"fknsrs.biz/p/ytfeeds/internal/httputil"
	"fknsrs.biz/p/ytfeeds/internal/jobqueue"
	"fknsrs.biz/p/ytfeeds/internal/queuenames"
	"fknsrs.biz/p/ytfeeds/internal/seeder"
	"fknsrs.biz/p/ytfeeds/internal/tasks"
)

// RefreshAll queues a refresh of every subscribed channel.
func (a *API) RefreshAll(rw http.ResponseWriter, r *http.Request) {
	job, err := ctxjobqueue.Enqueue(r.Context(), queuenames.RefreshAll, tasks.RefreshAllPayload(a.opts.PageSize))
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusAccepted, job)
}

type seedState struct {
	State seeder.State `json:"state"`
}

func (a *API) SeedState(rw http.ResponseWriter, r *http.Request) {
	state, err := a.seeder.State(r.Context())
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, seedState{State: state})
}

// Reseed queues a fresh subscription to every default channel.
func (a *API) Reseed(rw http.ResponseWriter, r *http.Request) {
	job, err := ctxjobqueue.Enqueue(r.Context(), queuenames.Seed, tasks.SeedPayload(true))
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusAccepted, job)
}

func (a *API) Jobs(rw http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	jobs, err := jobqueue.RecentJobs(r.Context(), ctxdb.GetDB(r.Context()), limit)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(jobs))
}

func (a *API) Job(rw http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(rw, r, fmt.Errorf("%w: job id must be an integer", feederr.ErrInvalidInput))
		return
	}

	job, err := jobqueue.GetJob(r.Context(), ctxdb.GetDB(r.Context()), id)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, job)
}

type JobEvent struct {
	ID                int             `json:"id"`
	QueueName         string          `json:"queue_name"`
	Status            jobqueue.Status `json:"status"`
	AttemptsRemaining int             `json:"attempts_remaining"`
	Output            string          `json:"output,omitempty"`
	Error             string          `json:"error,omitempty"`
}

func jobEvent(job *jobqueue.Job, now time.Time) JobEvent {
	ev := JobEvent{
		ID:                job.ID,
		QueueName:         job.QueueName,
		Status:            job.Status(now),
		AttemptsRemaining: job.AttemptsRemaining,
	}

	if n := len(job.OutputMessages); n > 0 {
		ev.Output = job.OutputMessages[n-1]
	}
	if n := len(job.ErrorMessages); n > 0 {
		ev.Error = job.ErrorMessages[n-1]
	}

	return ev
}

// JobEvents streams recent job changes as server-sent events until the
// client goes away.
func (a *API) JobEvents(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := ctxlogger.GetLogger(ctx)

	rw.Header().Set("content-type", "text/event-stream")
	rw.Header().Set("cache-control", "no-cache")
	rw.Header().Set("connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)

	flusher, _ := rw.(http.Flusher)

	last := make(map[int]JobEvent)

	send := func() error {
		now, err := ctxclock.NowOr(ctx, nil)
		if err != nil {
			return err
		}

		jobs, err := jobqueue.RecentJobs(ctx, ctxdb.GetDB(ctx), 100)
		if err != nil {
			return err
		}

		for i := len(jobs) - 1; i >= 0; i-- {
			ev := jobEvent(&jobs[i], now)
			if prev, ok := last[ev.ID]; ok && prev == ev {
				continue
			}
			last[ev.ID] = ev

			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}

			if _, err := fmt.Fprintf(rw, "event: job\ndata: %s\n\n", data); err != nil {
				return err
			}
		}

		if flusher != nil {
			flusher.Flush()
		}

		return nil
	}

	ticker := time.NewTicker(a.opts.EventInterval)
	defer ticker.Stop()

	for {
		if err := send(); err != nil {
			l.WithError(err).Warn("could not send job events")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
