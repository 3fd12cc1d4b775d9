package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fknsrs.biz/p/ytfeeds/internal/ctxclock"
	"fknsrs.biz/p/ytfeeds/internal/feederr"
	"fknsrs.biz/p/ytfeeds/models"
)

var epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *ctxclock.ManualClock) {
	t.Helper()

	clock := ctxclock.NewManualClock(epoch)

	s := New(Options{Path: filepath.Join(t.TempDir(), "feeds.db"), Clock: clock})
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { s.Close() })

	return s, clock
}

func channelInput(id, name string) models.ChannelInput {
	return models.ChannelInput{
		ID:   id,
		Name: name,
		URL:  "https://www.youtube.com/channel/" + id,
	}
}

func videoInput(id, channelID string, uploaded time.Time) models.VideoInput {
	return models.VideoInput{
		ID:          id,
		ChannelID:   channelID,
		ChannelName: "Channel " + channelID,
		Title:       "Video " + id,
		URL:         "https://www.youtube.com/watch?v=" + id,
		UploadDate:  models.Set(uploaded),
	}
}

func videoIDs(videos []models.Video) []string {
	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}
	return ids
}

func TestNotInitialized(t *testing.T) {
	a := assert.New(t)

	s := New(Options{})
	ctx := context.Background()

	_, err := s.GetAllChannels(ctx)
	a.ErrorIs(err, feederr.ErrNotInitialized)

	a.ErrorIs(s.UpsertVideo(ctx, videoInput("v1", "c1", epoch)), feederr.ErrNotInitialized)

	_, _, err = s.GetSetting(ctx, "seeded")
	a.ErrorIs(err, feederr.ErrNotInitialized)
}

func TestInitIdempotent(t *testing.T) {
	a := assert.New(t)

	s, _ := newStore(t)
	db := s.DB()

	a.NoError(s.Init(context.Background()))
	a.Same(db, s.DB())
}

func TestUpsertChannelKeepsLocalFlags(t *testing.T) {
	a := assert.New(t)

	s, clock := newStore(t)
	ctx := context.Background()

	in := channelInput("UC1", "First")
	in.Description = models.Set("about")
	a.NoError(s.UpsertChannel(ctx, in))
	a.NoError(s.HideChannel(ctx, "UC1"))

	clock.Advance(time.Hour)

	refreshed := channelInput("UC1", "First Renamed")
	refreshed.SubscriberCount = models.Set(int64(42))
	a.NoError(s.UpsertChannel(ctx, refreshed))

	c, err := s.GetChannel(ctx, "UC1")
	if a.NoError(err) {
		a.Equal("First Renamed", c.Name)
		a.True(c.Hidden)
		if a.NotNil(c.Description) {
			a.Equal("about", *c.Description)
		}
		if a.NotNil(c.SubscriberCount) {
			a.Equal(int64(42), *c.SubscriberCount)
		}
		a.True(epoch.Equal(c.AddedDate), "added date should not move on refresh")
	}
}

func TestUpsertChannelEmptyID(t *testing.T) {
	s, _ := newStore(t)

	assert.ErrorIs(t, s.UpsertChannel(context.Background(), channelInput("", "x")), feederr.ErrConstraintViolation)
}

func TestChannelNotFound(t *testing.T) {
	a := assert.New(t)

	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.GetChannel(ctx, "nope")
	a.ErrorIs(err, feederr.ErrChannelNotFound)
	a.ErrorIs(s.DeleteChannel(ctx, "nope"), feederr.ErrChannelNotFound)
	a.ErrorIs(s.HideChannel(ctx, "nope"), feederr.ErrChannelNotFound)
	a.ErrorIs(s.UnhideChannel(ctx, "nope"), feederr.ErrChannelNotFound)

	exists, err := s.ChannelExists(ctx, "nope")
	a.NoError(err)
	a.False(exists)
}

func TestChannelOrdering(t *testing.T) {
	a := assert.New(t)

	s, _ := newStore(t)
	ctx := context.Background()

	a.NoError(s.UpsertChannel(ctx, channelInput("UC3", "charlie")))
	a.NoError(s.UpsertChannel(ctx, channelInput("UC1", "Bravo")))
	a.NoError(s.UpsertChannel(ctx, channelInput("UC2", "alpha")))
	a.NoError(s.HideChannel(ctx, "UC1"))

	all, err := s.GetAllChannels(ctx)
	a.NoError(err)
	if a.Len(all, 3) {
		a.Equal("UC2", all[0].ID)
		a.Equal("UC1", all[1].ID)
		a.Equal("UC3", all[2].ID)
	}

	visible, err := s.GetVisibleChannels(ctx)
	a.NoError(err)
	a.Len(visible, 2)

	n, err := s.CountChannels(ctx)
	a.NoError(err)
	a.Equal(3, n)
}

func TestVideoOrphanRejected(t *testing.T) {
	s, _ := newStore(t)

	err := s.UpsertVideo(context.Background(), videoInput("v1", "UC404", epoch))
	assert.ErrorIs(t, err, feederr.ErrConstraintViolation)
}

func TestUpsertVideoKeepsWatchState(t *testing.T) {
	a := assert.New(t)

	s, clock := newStore(t)
	ctx := context.Background()

	a.NoError(s.UpsertChannel(ctx, channelInput("UC1", "One")))
	a.NoError(s.UpsertVideo(ctx, videoInput("v1", "UC1", epoch)))
	a.NoError(s.MarkVideoAsWatched(ctx, "v1"))

	clock.Advance(time.Hour)

	again := videoInput("v1", "UC1", epoch)
	again.Title = "New Title"
	again.ViewCount = models.Set(int64(100))
	a.NoError(s.UpsertVideo(ctx, again))

	v, err := s.GetVideo(ctx, "v1")
	if a.NoError(err) {
		a.Equal("New Title", v.Title)
		a.True(v.Watched)
		if a.NotNil(v.WatchedDate) {
			a.True(epoch.Equal(*v.WatchedDate))
		}
		if a.NotNil(v.ViewCount) {
			a.Equal(int64(100), *v.ViewCount)
		}
	}
}

func TestUpsertVideoExplicitWatchState(t *testing.T) {
	a := assert.New(t)

	s, _ := newStore(t)
	ctx := context.Background()

	a.NoError(s.UpsertChannel(ctx, channelInput("UC1", "One")))

	in := videoInput("v1", "UC1", epoch)
	in.Watched = models.Set(true)
	a.NoError(s.UpsertVideo(ctx, in))

	v, err := s.GetVideo(ctx, "v1")
	if a.NoError(err) {
		a.True(v.Watched)
		if a.NotNil(v.WatchedDate) {
			a.True(epoch.Equal(*v.WatchedDate))
		}
	}

	in.Watched = models.Set(false)
	a.NoError(s.UpsertVideo(ctx, in))

	v, err = s.GetVideo(ctx, "v1")
	if a.NoError(err) {
		a.False(v.Watched)
		a.Nil(v.WatchedDate)
	}
}

func TestUpsertVideosRollsBack(t *testing.T) {
	a := assert.New(t)

	s, _ := newStore(t)
	ctx := context.Background()

	a.NoError(s.UpsertChannel(ctx, channelInput("UC1", "One")))

	err := s.UpsertVideos(ctx, []models.VideoInput{
		videoInput("v1", "UC1", epoch),
		videoInput("v2", "UC404", epoch),
	})
	a.ErrorIs(err, feederr.ErrConstraintViolation)

	videos, err := s.GetChannelVideos(ctx, "UC1")
	a.NoError(err)
	a.Empty(videos)
}

func TestWatchRoundTrip(t *testing.T) {
	a := assert.New(t)

	s, clock := newStore(t)
	ctx := context.Background()

	a.NoError(s.UpsertChannel(ctx, channelInput("UC1", "One")))
	a.NoError(s.UpsertVideo(ctx, videoInput("v1", "UC1", epoch)))

	a.NoError(s.MarkVideoAsWatched(ctx, "v1"))
	clock.Advance(time.Minute)
	a.NoError(s.MarkVideoAsWatched(ctx, "v1"))

	watched, err := s.GetWatchedVideos(ctx)
	a.NoError(err)
	if a.Len(watched, 1) && a.NotNil(watched[0].WatchedDate) {
		a.True(epoch.Equal(*watched[0].WatchedDate), "second mark should keep the first date")
	}

	a.NoError(s.MarkVideoAsUnwatched(ctx, "v1"))

	watched, err = s.GetWatchedVideos(ctx)
	a.NoError(err)
	a.Empty(watched)

	unwatched, err := s.GetUnwatchedVideos(ctx)
	a.NoError(err)
	a.Equal([]string{"v1"}, videoIDs(unwatched))

	a.ErrorIs(s.MarkVideoAsWatched(ctx, "nope"), feederr.ErrVideoNotFound)
	a.ErrorIs(s.MarkVideoAsUnwatched(ctx, "nope"), feederr.ErrVideoNotFound)
}

func TestHiddenChannelsExcluded(t *testing.T) {
	a := assert.New(t)

	s, _ := newStore(t)
	ctx := context.Background()

	a.NoError(s.UpsertChannel(ctx, channelInput("UC1", "One")))
	a.NoError(s.UpsertChannel(ctx, channelInput("UC2", "Two")))
	a.NoError(s.UpsertVideos(ctx, []models.VideoInput{
		videoInput("a", "UC1", epoch.Add(-time.Hour)),
		videoInput("b", "UC2", epoch),
		videoInput("c", "UC1", epoch.Add(-2*time.Hour)),
	}))

	all, err := s.GetAllVideos(ctx)
	a.NoError(err)
	a.Equal([]string{"b", "a", "c"}, videoIDs(all))

	a.NoError(s.HideChannel(ctx, "UC2"))

	all, err = s.GetAllVideos(ctx)
	a.NoError(err)
	a.Equal([]string{"a", "c"}, videoIDs(all))

	own, err := s.GetChannelVideos(ctx, "UC2")
	a.NoError(err)
	a.Equal([]string{"b"}, videoIDs(own))

	a.NoError(s.UnhideChannel(ctx, "UC2"))

	all, err = s.GetAllVideos(ctx)
	a.NoError(err)
	a.Len(all, 3)
}

func TestSearchVideos(t *testing.T) {
	a := assert.New(t)

	s, _ := newStore(t)
	ctx := context.Background()

	a.NoError(s.UpsertChannel(ctx, channelInput("UC1", "One")))
	a.NoError(s.UpsertChannel(ctx, channelInput("UC2", "Two")))

	rust := videoInput("a", "UC1", epoch)
	rust.Title = "Learning RUST in a day"
	golang := videoInput("b", "UC1", epoch.Add(-time.Hour))
	golang.Description = models.Set("we talk about rust and go")
	hidden := videoInput("c", "UC2", epoch)
	hidden.Title = "rust on a hidden channel"

	a.NoError(s.UpsertVideos(ctx, []models.VideoInput{rust, golang, hidden}))
	a.NoError(s.HideChannel(ctx, "UC2"))

	found, err := s.SearchVideos(ctx, "Rust", 10)
	a.NoError(err)
	a.Equal([]string{"a", "b"}, videoIDs(found))

	found, err = s.SearchVideos(ctx, "rust", 1)
	a.NoError(err)
	a.Equal([]string{"a"}, videoIDs(found))

	found, err = s.SearchVideos(ctx, "  ", 10)
	a.NoError(err)
	a.Equal([]string{"a", "b"}, videoIDs(found))

	found, err = s.SearchVideos(ctx, "python", 10)
	a.NoError(err)
	a.Empty(found)
}

func TestDeleteChannelCascades(t *testing.T) {
	a := assert.New(t)

	s, _ := newStore(t)
	ctx := context.Background()

	a.NoError(s.UpsertChannel(ctx, channelInput("UC1", "One")))
	a.NoError(s.UpsertChannel(ctx, channelInput("UC2", "Two")))
	a.NoError(s.UpsertVideos(ctx, []models.VideoInput{
		videoInput("a", "UC1", epoch),
		videoInput("b", "UC2", epoch),
	}))

	p, err := s.CreatePlaylist(ctx, "mix", nil)
	require.NoError(t, err)
	a.NoError(s.AddVideoToPlaylist(ctx, models.PlaylistVideoInput{PlaylistID: p.ID, VideoID: "a"}))
	a.NoError(s.AddVideoToPlaylist(ctx, models.PlaylistVideoInput{PlaylistID: p.ID, VideoID: "b"}))

	a.NoError(s.DeleteChannel(ctx, "UC1"))

	_, err = s.GetVideo(ctx, "a")
	a.ErrorIs(err, feederr.ErrVideoNotFound)

	entries, err := s.GetPlaylistVideos(ctx, p.ID)
	a.NoError(err)
	if a.Len(entries, 1) {
		a.Equal("b", entries[0].VideoID)
	}
}

func TestPlaylistLinks(t *testing.T) {
	a := assert.New(t)

	s, clock := newStore(t)
	ctx := context.Background()

	a.NoError(s.UpsertChannel(ctx, channelInput("UC1", "One")))
	a.NoError(s.UpsertVideos(ctx, []models.VideoInput{
		videoInput("a", "UC1", epoch),
		videoInput("b", "UC1", epoch),
	}))

	description := "things"
	p, err := s.CreatePlaylist(ctx, "mix", &description)
	require.NoError(t, err)
	a.NotEmpty(p.ID)
	a.Equal(0, p.VideoCount)

	clock.Advance(time.Minute)
	a.NoError(s.AddVideoToPlaylist(ctx, models.PlaylistVideoInput{PlaylistID: p.ID, VideoID: "a"}))
	a.NoError(s.AddVideoToPlaylist(ctx, models.PlaylistVideoInput{PlaylistID: p.ID, VideoID: "b"}))

	clock.Advance(time.Minute)
	a.NoError(s.AddVideoToPlaylist(ctx, models.PlaylistVideoInput{PlaylistID: p.ID, VideoID: "a"}))

	got, err := s.GetPlaylist(ctx, p.ID)
	if a.NoError(err) {
		a.Equal(2, got.VideoCount)
		a.True(epoch.Add(time.Minute).Equal(got.UpdatedDate), "re-adding a linked video should not bump the playlist")
	}

	entries, err := s.GetPlaylistVideos(ctx, p.ID)
	a.NoError(err)
	if a.Len(entries, 2) {
		a.Equal("a", entries[0].VideoID)
		a.Equal(0, entries[0].Position)
		a.Equal("b", entries[1].VideoID)
		a.Equal(1, entries[1].Position)
	}

	a.NoError(s.AddVideoToPlaylist(ctx, models.PlaylistVideoInput{PlaylistID: p.ID, VideoID: "a", Position: models.Set(5)}))

	entries, err = s.GetPlaylistVideos(ctx, p.ID)
	a.NoError(err)
	if a.Len(entries, 2) {
		a.Equal("b", entries[0].VideoID)
		a.Equal("a", entries[1].VideoID)
	}

	in, err := s.IsVideoInPlaylist(ctx, p.ID, "a")
	a.NoError(err)
	a.True(in)

	playlists, err := s.GetVideoPlaylists(ctx, "a")
	a.NoError(err)
	a.Len(playlists, 1)

	a.NoError(s.RemoveVideoFromPlaylist(ctx, p.ID, "a"))
	a.NoError(s.RemoveVideoFromPlaylist(ctx, p.ID, "a"))

	in, err = s.IsVideoInPlaylist(ctx, p.ID, "a")
	a.NoError(err)
	a.False(in)

	a.ErrorIs(s.AddVideoToPlaylist(ctx, models.PlaylistVideoInput{PlaylistID: "nope", VideoID: "a"}), feederr.ErrPlaylistNotFound)
}

func TestUpdateAndDeletePlaylist(t *testing.T) {
	a := assert.New(t)

	s, clock := newStore(t)
	ctx := context.Background()

	p, err := s.CreatePlaylist(ctx, "first", nil)
	require.NoError(t, err)

	_, err = s.CreatePlaylist(ctx, "second", nil)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	a.NoError(s.UpdatePlaylist(ctx, p.ID, models.PlaylistPatch{Description: models.Set("desc")}))

	got, err := s.GetPlaylist(ctx, p.ID)
	if a.NoError(err) {
		a.Equal("first", got.Name)
		if a.NotNil(got.Description) {
			a.Equal("desc", *got.Description)
		}
		a.True(epoch.Add(time.Hour).Equal(got.UpdatedDate))
		a.True(epoch.Equal(got.CreatedDate))
	}

	a.ErrorIs(s.UpdatePlaylist(ctx, p.ID, models.PlaylistPatch{Name: models.Null[string]()}), feederr.ErrConstraintViolation)
	a.ErrorIs(s.UpdatePlaylist(ctx, "nope", models.PlaylistPatch{}), feederr.ErrPlaylistNotFound)

	all, err := s.GetAllPlaylists(ctx)
	a.NoError(err)
	if a.Len(all, 2) {
		a.Equal("first", all[0].Name)
	}

	a.NoError(s.DeletePlaylist(ctx, p.ID))
	a.ErrorIs(s.DeletePlaylist(ctx, p.ID), feederr.ErrPlaylistNotFound)

	_, err = s.GetPlaylist(ctx, p.ID)
	a.ErrorIs(err, feederr.ErrPlaylistNotFound)
}

func TestSettings(t *testing.T) {
	a := assert.New(t)

	s, _ := newStore(t)
	ctx := context.Background()

	_, ok, err := s.GetSetting(ctx, "seeded")
	a.NoError(err)
	a.False(ok)

	a.NoError(s.SetSetting(ctx, "seeded", "1"))
	a.NoError(s.SetSetting(ctx, "seeded", "true"))

	v, ok, err := s.GetSetting(ctx, "seeded")
	a.NoError(err)
	a.True(ok)
	a.Equal("true", v)

	a.NoError(s.DeleteSetting(ctx, "seeded"))

	_, ok, err = s.GetSetting(ctx, "seeded")
	a.NoError(err)
	a.False(ok)
}

func TestClearAllVideos(t *testing.T) {
	a := assert.New(t)

	s, _ := newStore(t)
	ctx := context.Background()

	a.NoError(s.UpsertChannel(ctx, channelInput("UC1", "One")))
	a.NoError(s.UpsertVideos(ctx, []models.VideoInput{videoInput("a", "UC1", epoch), videoInput("b", "UC1", epoch)}))
	a.NoError(s.DeleteVideo(ctx, "a"))
	a.ErrorIs(s.DeleteVideo(ctx, "a"), feederr.ErrVideoNotFound)

	a.NoError(s.ClearAllVideos(ctx))

	videos, err := s.GetChannelVideos(ctx, "UC1")
	a.NoError(err)
	a.Empty(videos)

	exists, err := s.ChannelExists(ctx, "UC1")
	a.NoError(err)
	a.True(exists)
}

func TestMigratesLegacySchema(t *testing.T) {
	a := assert.New(t)

	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, q := range []string{
		"create table channels (id text not null primary key, name text not null, description text, thumbnail_url text, url text not null, subscriber_count integer, added_date datetime not null)",
		"create table videos (id text not null primary key, title text not null, channel_id text not null, channel_name text not null, description text, thumbnail_url text, url text not null, duration_seconds integer, upload_date datetime, view_count integer)",
		"insert into channels (id, name, url, added_date) values ('UC1', 'One', 'u', '2023-01-01 00:00:00+00:00')",
		"insert into videos (id, title, channel_id, channel_name, url, upload_date) values ('v1', 'Old', 'UC1', 'One', 'u', '2023-01-02 00:00:00+00:00')",
	} {
		_, err := db.Exec(q)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	s := New(Options{Path: path, Clock: ctxclock.NewStaticClock(epoch)})
	require.NoError(t, s.Init(context.Background()))
	defer s.Close()

	ctx := context.Background()

	c, err := s.GetChannel(ctx, "UC1")
	if a.NoError(err) {
		a.False(c.Hidden)
	}

	v, err := s.GetVideo(ctx, "v1")
	if a.NoError(err) {
		a.False(v.Watched)
		a.Nil(v.WatchedDate)
	}

	a.NoError(s.MarkVideoAsWatched(ctx, "v1"))
	a.NoError(s.HideChannel(ctx, "UC1"))
}
