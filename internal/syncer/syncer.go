package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
	"fknsrs.biz/p/ytfeeds/internal/cursor"
	"fknsrs.biz/p/ytfeeds/internal/feederr"
	"fknsrs.biz/p/ytfeeds/internal/httpcache"
	"fknsrs.biz/p/ytfeeds/internal/remote"
	"fknsrs.biz/p/ytfeeds/internal/timeutil"
	"fknsrs.biz/p/ytfeeds/internal/ytutil"
	"fknsrs.biz/p/ytfeeds/models"
)

// Store is the part of the entity store the syncer writes through.
type Store interface {
	ChannelExists(ctx context.Context, id string) (bool, error)
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	UpsertChannel(ctx context.Context, in models.ChannelInput) error
	UpsertVideos(ctx context.Context, in []models.VideoInput) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	CreatePlaylist(ctx context.Context, name string, description *string) (*models.Playlist, error)
	AddVideoToPlaylist(ctx context.Context, in models.PlaylistVideoInput) error
	GetPlaylist(ctx context.Context, id string) (*models.Playlist, error)
	DeletePlaylist(ctx context.Context, id string) error
}

// HandleResolver maps a handle to a channel id without a search call.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

type Options struct {
	// PageSize is used when a caller passes zero.
	PageSize int
	// Resolver is tried for handles before falling back to a search.
	Resolver HandleResolver
}

const DefaultPageSize = 25

type Syncer struct {
	store  Store
	client remote.Client
	opts   Options

	// locks serializes paging per cursor key, so concurrent callers never
	// fetch the same page twice or lose a reset.
	locks     keyLock
	videos    *cursor.Tracker[remote.VideoDTO]
	playlists *cursor.Tracker[remote.PlaylistDTO]
	items     *cursor.Tracker[remote.VideoDTO]
}

func New(store Store, client remote.Client, opts Options) *Syncer {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	s := &Syncer{store: store, client: client, opts: opts}

	s.videos = cursor.NewTracker(func(ctx context.Context, channelID, token string, pageSize int) (cursor.Page[remote.VideoDTO], error) {
		page, err := client.SearchVideosByChannel(ctx, channelID, token, pageSize)
		if err != nil || page == nil {
			return cursor.Page[remote.VideoDTO]{}, err
		}

		return videoPage(page), nil
	})

	s.playlists = cursor.NewTracker(func(ctx context.Context, channelID, token string, pageSize int) (cursor.Page[remote.PlaylistDTO], error) {
		page, err := client.ListChannelPlaylists(ctx, channelID, token, pageSize)
		if err != nil || page == nil {
			return cursor.Page[remote.PlaylistDTO]{}, err
		}

		return cursor.Page[remote.PlaylistDTO]{Items: page.Items, NextToken: page.NextPageToken}, nil
	})

	s.items = cursor.NewTracker(func(ctx context.Context, playlistID, token string, pageSize int) (cursor.Page[remote.VideoDTO], error) {
		page, err := client.ListPlaylistItems(ctx, playlistID, token, pageSize)
		if err != nil || page == nil {
			return cursor.Page[remote.VideoDTO]{}, err
		}

		return videoPage(page), nil
	})

	return s
}

func videoPage(p *remote.VideoPage) cursor.Page[remote.VideoDTO] {
	return cursor.Page[remote.VideoDTO]{Items: p.Items, NextToken: p.NextPageToken, Skipped: p.Skipped}
}

func videosKey(channelID string) string { return "videos/" + channelID }
func playlistsKey(channelID string) string { return "playlists/" + channelID }
func itemsKey(playlistID string) string { return "items/" + playlistID }

func (s *Syncer) pageSize(n int) int {
	if n <= 0 {
		return s.opts.PageSize
	}

	return n
}

// ResolveChannel turns user input into a channel record ready to upsert.
func (s *Syncer) ResolveChannel(ctx context.Context, input string) (*models.ChannelInput, error) {
	parsed, err := ytutil.ParseChannelInput(input)
	if err != nil {
		return nil, fmt.Errorf("syncer.ResolveChannel: %w: %w", feederr.ErrChannelNotFound, err)
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"channel.input": input,
		"channel.kind":  parsed.Kind,
	})

	var id string

	if parsed.Kind == ytutil.CanonicalID {
		id = parsed.Value
	}

	if parsed.Kind == ytutil.Handle && s.opts.Resolver != nil {
		if resolved, err := s.opts.Resolver.ResolveHandle(ctx, parsed.Value); err != nil {
			l.WithError(err).Debug("syncer.ResolveChannel: handle lookup failed; falling back to search")
		} else {
			id = resolved
		}
	}

	if id == "" {
		found, err := s.client.SearchChannelByQuery(ctx, parsed.Query())
		if err != nil {
			return nil, fmt.Errorf("syncer.ResolveChannel: %w", err)
		}
		if found == nil {
			return nil, fmt.Errorf("syncer.ResolveChannel: %q: %w", input, feederr.ErrChannelNotFound)
		}

		id = found.ID
	}

	ch, err := s.client.GetChannel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("syncer.ResolveChannel: %w", err)
	}
	if ch == nil {
		return nil, fmt.Errorf("syncer.ResolveChannel: %q: %w", id, feederr.ErrChannelNotFound)
	}

	l.WithField("channel.id", ch.ID).Debug("syncer.ResolveChannel: resolved")

	in := channelInput(ch)

	return &in, nil
}

// Subscribe stores the channel named by input and loads its newest page of
// videos. A failure to load videos is logged; the subscription stands and a
// refresh can fill the channel in later.
func (s *Syncer) Subscribe(ctx context.Context, input string, pageSize int) (*models.Channel, error) {
	in, err := s.ResolveChannel(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("syncer.Subscribe: %w", err)
	}

	exists, err := s.store.ChannelExists(ctx, in.ID)
	if err != nil {
		return nil, fmt.Errorf("syncer.Subscribe: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("syncer.Subscribe: %q: %w", in.ID, feederr.ErrChannelAlreadyExists)
	}

	if err := s.store.UpsertChannel(ctx, *in); err != nil {
		return nil, fmt.Errorf("syncer.Subscribe: %w", err)
	}

	unlock := s.locks.lock(videosKey(in.ID))
	s.videos.Reset(in.ID)
	_, err = s.fetchChannelVideosPage(ctx, in.ID, pageSize)
	unlock()

	if err != nil {
		ctxlogger.GetLogger(ctx).WithError(err).WithField("channel.id", in.ID).Warn("syncer.Subscribe: could not fetch first page")
	}

	ch, err := s.store.GetChannel(ctx, in.ID)
	if err != nil {
		return nil, fmt.Errorf("syncer.Subscribe: %w", err)
	}

	return ch, nil
}

// FetchChannelVideosPage stores and returns the channel's next page of
// videos, newest first. It returns nothing once the channel is exhausted.
func (s *Syncer) FetchChannelVideosPage(ctx context.Context, channelID string, pageSize int) ([]models.Video, error) {
	defer s.locks.lock(videosKey(channelID))()

	return s.fetchChannelVideosPage(ctx, channelID, pageSize)
}

func (s *Syncer) fetchChannelVideosPage(ctx context.Context, channelID string, pageSize int) ([]models.Video, error) {
	items, err := s.videos.GetNext(ctx, channelID, s.pageSize(pageSize))
	if err != nil {
		return nil, fmt.Errorf("syncer.FetchChannelVideosPage: %w", err)
	}

	for i := range items {
		if items[i].ChannelID == "" {
			items[i].ChannelID = channelID
		}
	}

	videos, err := s.ingest(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("syncer.FetchChannelVideosPage: %w", err)
	}

	return videos, nil
}

func (s *Syncer) HasMoreChannelVideos(channelID string) bool {
	return !s.videos.State(channelID).Exhausted
}

// RefreshChannel starts the channel over from its newest page, skipping any
// cached responses.
func (s *Syncer) RefreshChannel(ctx context.Context, channelID string, pageSize int) ([]models.Video, error) {
	defer s.locks.lock(videosKey(channelID))()

	s.videos.Reset(channelID)

	videos, err := s.fetchChannelVideosPage(httpcache.Fresh(ctx), channelID, pageSize)
	if err != nil {
		return nil, fmt.Errorf("syncer.RefreshChannel: %w", err)
	}

	return videos, nil
}

// RefreshAllSubscriptions refreshes each channel in turn. A failing channel
// is recorded and the rest still run.
func (s *Syncer) RefreshAllSubscriptions(ctx context.Context, channels []models.Channel, pageSize int) Tally {
	var t Tally

	for _, ch := range channels {
		l := ctxlogger.GetLogger(ctx).WithField("channel.id", ch.ID)

		if _, err := s.RefreshChannel(ctx, ch.ID, pageSize); err != nil {
			l.WithError(err).Warn("syncer.RefreshAllSubscriptions: channel failed")
			t.Fail(ch.ID, err)
			continue
		}

		t.Succeed(ch.ID)
	}

	ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"sync.succeeded": len(t.Succeeded),
		"sync.failed":    len(t.Failed),
	}).Info("syncer.RefreshAllSubscriptions: done")

	return t
}

func (s *Syncer) FetchChannelPlaylistsPage(ctx context.Context, channelID string, pageSize int) ([]remote.PlaylistDTO, error) {
	defer s.locks.lock(playlistsKey(channelID))()

	items, err := s.playlists.GetNext(ctx, channelID, s.pageSize(pageSize))
	if err != nil {
		return nil, fmt.Errorf("syncer.FetchChannelPlaylistsPage: %w", err)
	}

	return items, nil
}

func (s *Syncer) ResetChannelPlaylists(channelID string) {
	defer s.locks.lock(playlistsKey(channelID))()

	s.playlists.Reset(channelID)
}

func (s *Syncer) HasMoreChannelPlaylists(channelID string) bool {
	return !s.playlists.State(channelID).Exhausted
}

type PlaylistItems struct {
	// Items is the whole remote page, in playlist order.
	Items []remote.VideoDTO `json:"items"`
	// Stored holds the items whose channel is subscribed, which are the
	// only ones written to the store.
	Stored []models.Video `json:"stored"`
}

func (s *Syncer) FetchPlaylistItemsPage(ctx context.Context, playlistID string, pageSize int) (*PlaylistItems, error) {
	defer s.locks.lock(itemsKey(playlistID))()

	return s.fetchPlaylistItemsPage(ctx, playlistID, pageSize)
}

func (s *Syncer) fetchPlaylistItemsPage(ctx context.Context, playlistID string, pageSize int) (*PlaylistItems, error) {
	items, err := s.items.GetNext(ctx, playlistID, s.pageSize(pageSize))
	if err != nil {
		return nil, fmt.Errorf("syncer.FetchPlaylistItemsPage: %w", err)
	}

	known := make(map[string]bool)

	var keep []remote.VideoDTO
	for _, item := range items {
		ok, seen := known[item.ChannelID]
		if !seen {
			if ok, err = s.store.ChannelExists(ctx, item.ChannelID); err != nil {
				return nil, fmt.Errorf("syncer.FetchPlaylistItemsPage: %w", err)
			}
			known[item.ChannelID] = ok
		}

		if ok {
			keep = append(keep, item)
		}
	}

	stored, err := s.ingest(ctx, keep)
	if err != nil {
		return nil, fmt.Errorf("syncer.FetchPlaylistItemsPage: %w", err)
	}

	return &PlaylistItems{Items: items, Stored: stored}, nil
}

func (s *Syncer) ResetPlaylistItems(playlistID string) {
	defer s.locks.lock(itemsKey(playlistID))()

	s.items.Reset(playlistID)
}

func (s *Syncer) HasMorePlaylistItems(playlistID string) bool {
	return !s.items.State(playlistID).Exhausted
}

// ImportPlaylist copies a remote playlist into a new local one. Every page is
// read first; only videos from subscribed channels can be linked, and they
// keep their remote order.
func (s *Syncer) ImportPlaylist(ctx context.Context, remotePlaylistID, name string, description *string) (*models.Playlist, error) {
	l := ctxlogger.GetLogger(ctx).WithField("playlist.remote_id", remotePlaylistID)

	videos, err := s.drainPlaylistItems(ctx, remotePlaylistID)
	if err != nil {
		return nil, fmt.Errorf("syncer.ImportPlaylist: %w", err)
	}

	p, err := s.store.CreatePlaylist(ctx, name, description)
	if err != nil {
		return nil, fmt.Errorf("syncer.ImportPlaylist: %w", err)
	}

	for _, v := range videos {
		if err := s.store.AddVideoToPlaylist(ctx, models.PlaylistVideoInput{PlaylistID: p.ID, VideoID: v.ID}); err != nil {
			if derr := s.store.DeletePlaylist(ctx, p.ID); derr != nil {
				l.WithError(derr).Warn("syncer.ImportPlaylist: could not remove partial playlist")
			}

			return nil, fmt.Errorf("syncer.ImportPlaylist: %w", err)
		}
	}

	l.WithFields(logrus.Fields{
		"playlist.id":          p.ID,
		"playlist.video_count": len(videos),
	}).Info("syncer.ImportPlaylist: imported")

	p, err = s.store.GetPlaylist(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("syncer.ImportPlaylist: %w", err)
	}

	return p, nil
}

// drainPlaylistItems reads the playlist from its first page to its last,
// holding the playlist's lock throughout.
func (s *Syncer) drainPlaylistItems(ctx context.Context, playlistID string) ([]models.Video, error) {
	defer s.locks.lock(itemsKey(playlistID))()

	s.items.Reset(playlistID)

	var videos []models.Video
	for !s.items.State(playlistID).Exhausted {
		page, err := s.fetchPlaylistItemsPage(ctx, playlistID, 50)
		if err != nil {
			return nil, err
		}

		videos = append(videos, page.Stored...)
	}

	return videos, nil
}

// ingest enriches items with durations and view counts and upserts them.
// Enrichment is best effort: without it the base records are still stored.
func (s *Syncer) ingest(ctx context.Context, items []remote.VideoDTO) ([]models.Video, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	details := make(map[string]remote.DetailDTO)
	if found, err := s.client.GetVideoDetails(ctx, ids); err != nil {
		ctxlogger.GetLogger(ctx).WithError(err).WithField("video.count", len(ids)).Warn("syncer.ingest: could not fetch video details")
	} else {
		for _, d := range found {
			details[d.ID] = d
		}
	}

	inputs := make([]models.VideoInput, len(items))
	for i, item := range items {
		var detail *remote.DetailDTO
		if d, ok := details[item.ID]; ok {
			detail = &d
		}

		inputs[i] = videoInput(item, detail)
	}

	if err := s.store.UpsertVideos(ctx, inputs); err != nil {
		return nil, fmt.Errorf("syncer.ingest: %w", err)
	}

	videos := make([]models.Video, 0, len(items))
	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		v, err := s.store.GetVideo(ctx, id)
		if err != nil {
			if errors.Is(err, feederr.ErrVideoNotFound) {
				continue
			}

			return nil, fmt.Errorf("syncer.ingest: %w", err)
		}

		videos = append(videos, *v)
	}

	return videos, nil
}

func optionalString(s string) models.Field[string] {
	if s == "" {
		return models.Null[string]()
	}

	return models.Set(s)
}

func channelInput(ch *remote.ChannelDTO) models.ChannelInput {
	return models.ChannelInput{
		ID:              ch.ID,
		Name:            ch.Title,
		URL:             ytutil.ChannelURL(ch.ID),
		Description:     optionalString(ch.Description),
		ThumbnailURL:    optionalString(ch.ThumbnailURL),
		SubscriberCount: models.FromPointer(ch.SubscriberCount),
	}
}

// videoInput never carries watch state, so a refetch leaves it alone.
func videoInput(item remote.VideoDTO, detail *remote.DetailDTO) models.VideoInput {
	in := models.VideoInput{
		ID:           item.ID,
		ChannelID:    item.ChannelID,
		ChannelName:  item.ChannelTitle,
		Title:        item.Title,
		URL:          ytutil.VideoURL(item.ID),
		Description:  optionalString(item.Description),
		ThumbnailURL: optionalString(item.ThumbnailURL),
	}

	if item.PublishedAt != nil {
		in.UploadDate = models.Set(*item.PublishedAt)
	}

	if detail != nil {
		if seconds, ok := timeutil.ParseVideoDuration(detail.Duration); ok {
			in.DurationSeconds = models.Set(seconds)
		}
		if detail.ViewCount != nil {
			in.ViewCount = models.Set(*detail.ViewCount)
		}
	}

	return in
}
