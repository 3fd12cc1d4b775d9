package composer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fknsrs.biz/p/ytfeeds/internal/ctxclock"
	"fknsrs.biz/p/ytfeeds/internal/ptr"
	"fknsrs.biz/p/ytfeeds/internal/stringutil"
	"fknsrs.biz/p/ytfeeds/models"
)

// Store is the read side of the entity store.
type Store interface {
	GetAllChannels(ctx context.Context) ([]models.Channel, error)
	GetAllVideos(ctx context.Context) ([]models.Video, error)
	GetChannelVideos(ctx context.Context, channelID string) ([]models.Video, error)
	GetUnwatchedVideos(ctx context.Context) ([]models.Video, error)
	GetWatchedVideos(ctx context.Context) ([]models.Video, error)
	GetPlaylistVideos(ctx context.Context, playlistID string) ([]models.PlaylistEntry, error)
	SearchVideos(ctx context.Context, query string, limit int) ([]models.Video, error)
}

type Options struct {
	// Clock is used when the context carries none.
	Clock ctxclock.Clock
}

// Composer shapes cached data for display. It never talks to the remote.
type Composer struct {
	store Store
	opts  Options
}

func New(store Store, opts Options) *Composer {
	if opts.Clock == nil {
		opts.Clock = ctxclock.NewRealClock()
	}

	return &Composer{store: store, opts: opts}
}

// Home is the default feed: unwatched videos of visible channels, newest
// first.
func (c *Composer) Home(ctx context.Context) ([]models.Video, error) {
	videos, err := c.store.GetUnwatchedVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("composer.Home: %w", err)
	}

	return videos, nil
}

// List runs the filter pipeline over every video of a visible channel,
// then sorts and takes the first q.Limit.
func (c *Composer) List(ctx context.Context, q Query) ([]models.Video, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("composer.List: %w", err)
	}

	now, err := ctxclock.NowOr(ctx, c.opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("composer.List: %w", err)
	}

	videos, err := c.store.GetAllVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("composer.List: %w", err)
	}

	return Window(Sort(Filter(videos, q, now), q.Sort), q.Limit), nil
}

// ChannelVideos lists one channel's videos whether or not it is hidden.
func (c *Composer) ChannelVideos(ctx context.Context, channelID string) ([]models.Video, error) {
	videos, err := c.store.GetChannelVideos(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("composer.ChannelVideos: %w", err)
	}

	return videos, nil
}

func (c *Composer) PlaylistVideos(ctx context.Context, playlistID string) ([]models.Video, error) {
	entries, err := c.store.GetPlaylistVideos(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("composer.PlaylistVideos: %w", err)
	}

	videos := make([]models.Video, len(entries))
	for i := range entries {
		videos[i] = entries[i].Video()
	}

	return videos, nil
}

// History is the watched list, most recently watched first.
func (c *Composer) History(ctx context.Context) ([]models.Video, error) {
	videos, err := c.store.GetWatchedVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("composer.History: %w", err)
	}

	return videos, nil
}

// ShortMaxSeconds is the longest a video can run and still be a short.
const ShortMaxSeconds = 60

// Shorts lists visible videos with a known duration of at most a minute,
// newest first.
func (c *Composer) Shorts(ctx context.Context) ([]models.Video, error) {
	videos, err := c.store.GetAllVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("composer.Shorts: %w", err)
	}

	var out []models.Video
	for _, v := range videos {
		if d := ptr.ValueOr(v.DurationSeconds, 0); d > 0 && d <= ShortMaxSeconds {
			out = append(out, v)
		}
	}

	return out, nil
}

// SearchChannels matches text against channel names and descriptions.
func (c *Composer) SearchChannels(ctx context.Context, text string) ([]models.Channel, error) {
	channels, err := c.store.GetAllChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("composer.SearchChannels: %w", err)
	}

	var out []models.Channel
	for _, ch := range channels {
		if stringutil.ContainsFoldAny(text, &ch.Name, ch.Description) {
			out = append(out, ch)
		}
	}

	return out, nil
}

func (c *Composer) SearchVideos(ctx context.Context, text string, limit int) ([]models.Video, error) {
	videos, err := c.store.SearchVideos(ctx, text, limit)
	if err != nil {
		return nil, fmt.Errorf("composer.SearchVideos: %w", err)
	}

	return videos, nil
}

// Filter narrows videos by q's text, channel list, upload window and
// watched toggle, in that order. Sort and Limit are not applied.
func Filter(videos []models.Video, q Query, now time.Time) []models.Video {
	var channels map[string]bool
	if len(q.ChannelIDs) > 0 {
		channels = make(map[string]bool, len(q.ChannelIDs))
		for _, id := range q.ChannelIDs {
			channels[id] = true
		}
	}

	cutoff, bounded := q.Window.Cutoff(now)

	out := make([]models.Video, 0, len(videos))
	for i := range videos {
		v := &videos[i]

		if !stringutil.ContainsFoldAny(q.Text, &v.Title, &v.ChannelName, v.Description) {
			continue
		}

		if channels != nil && !channels[v.ChannelID] {
			continue
		}

		if bounded && (v.UploadDate == nil || v.UploadDate.Before(cutoff)) {
			continue
		}

		if v.Watched && !q.IncludeWatched {
			continue
		}

		out = append(out, *v)
	}

	return out
}

// Sort returns a sorted copy. Videos without an upload date go last for
// date orders; missing view counts count as zero.
func Sort(videos []models.Video, order SortOrder) []models.Video {
	out := make([]models.Video, len(videos))
	copy(out, videos)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]

		switch order {
		case SortOldest:
			return byUpload(a, b, false)
		case SortViews:
			if av, bv := views(a), views(b); av != bv {
				return av > bv
			}
			return byUpload(a, b, true)
		default:
			return byUpload(a, b, true)
		}
	})

	return out
}

// byUpload puts dated videos ahead of undated ones in either direction.
func byUpload(a, b *models.Video, newest bool) bool {
	switch {
	case a.UploadDate == nil:
		return false
	case b.UploadDate == nil:
		return true
	case newest:
		return a.UploadDate.After(*b.UploadDate)
	default:
		return a.UploadDate.Before(*b.UploadDate)
	}
}

func views(v *models.Video) int64 {
	return ptr.ValueOr(v.ViewCount, 0)
}

// Window takes the first n videos, for showing a long list a screen at a
// time. A non-positive n takes everything.
func Window(videos []models.Video, n int) []models.Video {
	if n <= 0 || n >= len(videos) {
		return videos
	}

	return videos[:n]
}
