package tasks

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
	"fknsrs.biz/p/ytfeeds/internal/jobqueue"
	"fknsrs.biz/p/ytfeeds/internal/queuenames"
	"fknsrs.biz/p/ytfeeds/internal/stringutil"
	"fknsrs.biz/p/ytfeeds/internal/syncer"
	"fknsrs.biz/p/ytfeeds/models"
)

type Store interface {
	GetAllChannels(ctx context.Context) ([]models.Channel, error)
	ChannelExists(ctx context.Context, id string) (bool, error)
}

type Syncer interface {
	RefreshChannel(ctx context.Context, channelID string, pageSize int) ([]models.Video, error)
	RefreshAllSubscriptions(ctx context.Context, channels []models.Channel, pageSize int) syncer.Tally
	ImportPlaylist(ctx context.Context, remotePlaylistID, name string, description *string) (*models.Playlist, error)
}

type Seeder interface {
	SeedDefaultChannelsIfNeeded(ctx context.Context) (syncer.Tally, error)
	Reseed(ctx context.Context) (syncer.Tally, error)
}

// Tasks runs the background work behind the job queues.
type Tasks struct {
	store  Store
	syncer Syncer
	seeder Seeder
}

func New(store Store, syncer Syncer, seeder Seeder) *Tasks {
	return &Tasks{store: store, syncer: syncer, seeder: seeder}
}

func (t *Tasks) Register(w *jobqueue.Worker) error {
	if err := w.RegisterAll(map[string]jobqueue.WorkerFunction{
		queuenames.RefreshAll:     t.refreshAll,
		queuenames.RefreshChannel: t.refreshChannel,
		queuenames.Seed:           t.seed,
		queuenames.ImportPlaylist: t.importPlaylist,
	}); err != nil {
		return fmt.Errorf("tasks.Register: %w", err)
	}

	return nil
}

func RefreshAllPayload(pageSize int) string {
	return jobqueue.FormatPayload("all", pageSizeValues(pageSize))
}

func RefreshChannelPayload(channelID string, pageSize int) string {
	return jobqueue.FormatPayload(channelID, pageSizeValues(pageSize))
}

func SeedPayload(reseed bool) string {
	if reseed {
		return jobqueue.FormatPayload("default", url.Values{"reseed": {"true"}})
	}

	return "default"
}

func ImportPlaylistPayload(remotePlaylistID, name string, description *string) string {
	m := url.Values{"name": {name}}
	if description != nil {
		m.Set("description", *description)
	}

	return jobqueue.FormatPayload(remotePlaylistID, m)
}

func pageSizeValues(pageSize int) url.Values {
	if pageSize <= 0 {
		return nil
	}

	return url.Values{"page_size": {strconv.Itoa(pageSize)}}
}

func pageSizeFrom(m url.Values) (int, error) {
	s := m.Get("page_size")
	if s == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid page_size %q: %w", s, err)
	}

	return n, nil
}

// summarize turns a tally into job output. The job only fails when nothing
// in the batch worked, so one bad channel doesn't retry the rest.
func summarize(t syncer.Tally) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "%d succeeded, %d failed", len(t.Succeeded), len(t.Failed))
	for _, f := range t.Failed {
		fmt.Fprintf(&b, "\n%s: %s", f.Key, f.Message)
	}

	if len(t.Succeeded) == 0 && len(t.Failed) > 0 {
		return b.String(), fmt.Errorf("every item failed; first error: %w", t.Failed[0].Err)
	}

	return b.String(), nil
}

func (t *Tasks) refreshAll(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	_, m, err := jobqueue.ParsePayload(j.Payload)
	if err != nil {
		return "", fmt.Errorf("tasks.refreshAll: %w", err)
	}

	pageSize, err := pageSizeFrom(m)
	if err != nil {
		return "", fmt.Errorf("tasks.refreshAll: %w", err)
	}

	channels, err := t.store.GetAllChannels(ctx)
	if err != nil {
		return "", fmt.Errorf("tasks.refreshAll: %w", err)
	}

	return summarize(t.syncer.RefreshAllSubscriptions(ctx, channels, pageSize))
}

func (t *Tasks) refreshChannel(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	channelID, m, err := jobqueue.ParsePayload(j.Payload)
	if err != nil {
		return "", fmt.Errorf("tasks.refreshChannel: %w", err)
	}

	pageSize, err := pageSizeFrom(m)
	if err != nil {
		return "", fmt.Errorf("tasks.refreshChannel: %w", err)
	}

	// unsubscribed while the job was waiting
	if exists, err := t.store.ChannelExists(ctx, channelID); err != nil {
		return "", fmt.Errorf("tasks.refreshChannel: %w", err)
	} else if !exists {
		return "channel no longer subscribed", nil
	}

	videos, err := t.syncer.RefreshChannel(ctx, channelID, pageSize)
	if err != nil {
		return "", fmt.Errorf("tasks.refreshChannel: %w", err)
	}

	return fmt.Sprintf("%d videos", len(videos)), nil
}

func (t *Tasks) seed(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	_, m, err := jobqueue.ParsePayload(j.Payload)
	if err != nil {
		return "", fmt.Errorf("tasks.seed: %w", err)
	}

	run := t.seeder.SeedDefaultChannelsIfNeeded
	if stringutil.LooksTrue(m.Get("reseed")) {
		run = t.seeder.Reseed
	}

	tally, err := run(ctx)
	if err != nil {
		return "", fmt.Errorf("tasks.seed: %w", err)
	}

	return summarize(tally)
}

func (t *Tasks) importPlaylist(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	remoteID, m, err := jobqueue.ParsePayload(j.Payload)
	if err != nil {
		return "", fmt.Errorf("tasks.importPlaylist: %w", err)
	}

	var description *string
	if m.Has("description") {
		d := m.Get("description")
		description = &d
	}

	p, err := t.syncer.ImportPlaylist(ctx, remoteID, m.Get("name"), description)
	if err != nil {
		return "", fmt.Errorf("tasks.importPlaylist: %w", err)
	}

	return fmt.Sprintf("playlist %s with %d videos", p.ID, p.VideoCount), nil
}

// Schedule enqueues a refresh of every channel each interval until ctx is
// done.
func Schedule(ctx context.Context, w *jobqueue.Worker, interval time.Duration, pageSize int) error {
	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"schedule.interval":  interval.String(),
		"schedule.page_size": pageSize,
	})

	if interval <= 0 {
		l.Info("periodic refresh disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Enqueue(ctx, &jobqueue.Job{QueueName: queuenames.RefreshAll, Payload: RefreshAllPayload(pageSize)}); err != nil {
				l.WithError(err).Error("could not enqueue periodic refresh")
				continue
			}

			l.Debug("enqueued periodic refresh")
		}
	}
}
