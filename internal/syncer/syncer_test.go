package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fknsrs.biz/p/ytfeeds/internal/ctxclock"
	"fknsrs.biz/p/ytfeeds/internal/feederr"
	"fknsrs.biz/p/ytfeeds/internal/remote"
	"fknsrs.biz/p/ytfeeds/internal/remote/remotetest"
	"fknsrs.biz/p/ytfeeds/internal/store"
	"fknsrs.biz/p/ytfeeds/models"
)

const chanID = "UCabcdefghijklmnopqrstuv"

var epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func newSyncer(t *testing.T, opts Options) (*Syncer, *store.Store, *remotetest.Client) {
	t.Helper()

	st := store.New(store.Options{Path: filepath.Join(t.TempDir(), "feeds.db"), Clock: ctxclock.NewStaticClock(epoch)})
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { st.Close() })

	c := &remotetest.Client{}

	return New(st, c, opts), st, c
}

func addChannel(t *testing.T, st *store.Store, id string) {
	t.Helper()

	require.NoError(t, st.UpsertChannel(context.Background(), models.ChannelInput{
		ID:   id,
		Name: "Channel " + id,
		URL:  "https://www.youtube.com/channel/" + id,
	}))
}

func dtoIDs(items []remote.VideoDTO) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

func videoIDs(videos []models.Video) []string {
	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}
	return ids
}

func details(items []remote.VideoDTO) []remote.DetailDTO {
	out := make([]remote.DetailDTO, len(items))
	for i, item := range items {
		views := int64(100 + i)
		out[i] = remote.DetailDTO{ID: item.ID, Duration: "PT1M30S", ViewCount: &views}
	}
	return out
}

func TestSubscribeHandle(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, st, c := newSyncer(t, Options{})

	items := remotetest.Videos("UC123", "v", 5)

	c.On("SearchChannelByQuery", mock.Anything, "@abc").Return(&remote.ChannelDTO{ID: "UC123", Title: "ABC"}, nil).Once()
	c.On("GetChannel", mock.Anything, "UC123").Return(&remote.ChannelDTO{ID: "UC123", Title: "ABC", Description: "about"}, nil).Once()
	c.On("SearchVideosByChannel", mock.Anything, "UC123", "", DefaultPageSize).Return(&remote.VideoPage{Items: items}, nil).Once()
	c.On("GetVideoDetails", mock.Anything, dtoIDs(items)).Return(details(items), nil).Once()

	ch, err := s.Subscribe(ctx, "@abc", 0)
	require.NoError(t, err)
	a.Equal("UC123", ch.ID)
	a.Equal("ABC", ch.Name)
	a.Equal("https://www.youtube.com/channel/UC123", ch.URL)
	if a.NotNil(ch.Description) {
		a.Equal("about", *ch.Description)
	}
	a.Nil(ch.ThumbnailURL)
	a.Equal(epoch, ch.AddedDate)

	videos, err := st.GetChannelVideos(ctx, "UC123")
	a.NoError(err)
	a.Equal([]string{"va", "vb", "vc", "vd", "ve"}, videoIDs(videos))
	if a.Len(videos, 5) {
		a.Equal("https://www.youtube.com/watch?v=va", videos[0].URL)
		a.Equal("Channel UC123", videos[0].ChannelName)
		if a.NotNil(videos[0].DurationSeconds) {
			a.Equal(int64(90), *videos[0].DurationSeconds)
		}
		if a.NotNil(videos[0].ViewCount) {
			a.Equal(int64(100), *videos[0].ViewCount)
		}
	}

	a.False(s.HasMoreChannelVideos("UC123"))

	more, err := s.FetchChannelVideosPage(ctx, "UC123", 0)
	a.NoError(err)
	a.Empty(more)

	all, err := st.GetAllVideos(ctx)
	a.NoError(err)
	a.Equal([]string{"va", "vb", "vc", "vd", "ve"}, videoIDs(all))

	require.NoError(t, st.MarkVideoAsWatched(ctx, "vc"))

	unwatched, err := st.GetUnwatchedVideos(ctx)
	a.NoError(err)
	a.Equal([]string{"va", "vb", "vd", "ve"}, videoIDs(unwatched))

	watched, err := st.GetWatchedVideos(ctx)
	a.NoError(err)
	a.Equal([]string{"vc"}, videoIDs(watched))

	c.AssertExpectations(t)
	c.AssertNumberOfCalls(t, "SearchVideosByChannel", 1)
}

type fakeResolver map[string]string

func (f fakeResolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	if id, ok := f[handle]; ok {
		return id, nil
	}

	return "", errors.New("no such handle")
}

func TestResolveChannelWithResolver(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, _, c := newSyncer(t, Options{Resolver: fakeResolver{"abc": chanID}})

	c.On("GetChannel", mock.Anything, chanID).Return(&remote.ChannelDTO{ID: chanID, Title: "ABC"}, nil)
	c.On("SearchChannelByQuery", mock.Anything, "@other").Return(&remote.ChannelDTO{ID: chanID}, nil).Once()

	in, err := s.ResolveChannel(ctx, "https://www.youtube.com/@abc")
	a.NoError(err)
	if a.NotNil(in) {
		a.Equal(chanID, in.ID)
	}

	c.AssertNotCalled(t, "SearchChannelByQuery", mock.Anything, "@abc")

	in, err = s.ResolveChannel(ctx, "@other")
	a.NoError(err, "failed lookups fall back to search")
	if a.NotNil(in) {
		a.Equal(chanID, in.ID)
	}

	c.AssertExpectations(t)
}

func TestResolveChannelErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty input", func(t *testing.T) {
		a := assert.New(t)

		s, _, _ := newSyncer(t, Options{})

		_, err := s.ResolveChannel(ctx, "  ")
		a.ErrorIs(err, feederr.ErrChannelNotFound)
	})

	t.Run("no search match", func(t *testing.T) {
		a := assert.New(t)

		s, _, c := newSyncer(t, Options{})
		c.On("SearchChannelByQuery", mock.Anything, "nobody").Return(nil, nil)

		_, err := s.ResolveChannel(ctx, "nobody")
		a.ErrorIs(err, feederr.ErrChannelNotFound)
		c.AssertNotCalled(t, "GetChannel", mock.Anything, mock.Anything)
	})

	t.Run("unknown id", func(t *testing.T) {
		a := assert.New(t)

		s, _, c := newSyncer(t, Options{})
		c.On("GetChannel", mock.Anything, chanID).Return(nil, nil)

		_, err := s.ResolveChannel(ctx, chanID)
		a.ErrorIs(err, feederr.ErrChannelNotFound)
	})

	t.Run("remote failure", func(t *testing.T) {
		a := assert.New(t)

		s, _, c := newSyncer(t, Options{})
		c.On("GetChannel", mock.Anything, chanID).Return(nil, &remote.Error{Op: "GetChannel", Message: "quota exceeded", StatusCode: 403})

		_, err := s.ResolveChannel(ctx, "https://youtube.com/channel/"+chanID)

		var rerr *remote.Error
		if a.ErrorAs(err, &rerr) {
			a.Equal(403, rerr.StatusCode)
		}
		a.NotErrorIs(err, feederr.ErrChannelNotFound)
	})
}

func TestSubscribeExisting(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, st, c := newSyncer(t, Options{})
	addChannel(t, st, chanID)

	c.On("GetChannel", mock.Anything, chanID).Return(&remote.ChannelDTO{ID: chanID, Title: "ABC"}, nil)

	_, err := s.Subscribe(ctx, chanID, 10)
	a.ErrorIs(err, feederr.ErrChannelAlreadyExists)

	c.AssertNotCalled(t, "SearchVideosByChannel", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscribeKeepsChannelWhenFirstPageFails(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, st, c := newSyncer(t, Options{})

	c.On("GetChannel", mock.Anything, chanID).Return(&remote.ChannelDTO{ID: chanID, Title: "ABC"}, nil)
	c.On("SearchVideosByChannel", mock.Anything, chanID, "", 10).Return(nil, &remote.Error{Op: "SearchVideosByChannel", Message: "boom"})

	ch, err := s.Subscribe(ctx, chanID, 10)
	a.NoError(err)
	if a.NotNil(ch) {
		a.Equal(chanID, ch.ID)
	}

	exists, err := st.ChannelExists(ctx, chanID)
	a.NoError(err)
	a.True(exists)

	a.True(s.HasMoreChannelVideos(chanID), "a failed fetch leaves the cursor where it was")
}

func TestFetchChannelVideosPages(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, st, c := newSyncer(t, Options{})
	addChannel(t, st, chanID)

	items := remotetest.Videos(chanID, "p", 4)

	c.On("SearchVideosByChannel", mock.Anything, chanID, "", 2).Return(&remote.VideoPage{Items: items[:2], NextPageToken: "t2"}, nil).Once()
	c.On("SearchVideosByChannel", mock.Anything, chanID, "t2", 2).Return(&remote.VideoPage{Items: items[2:]}, nil).Once()
	c.On("GetVideoDetails", mock.Anything, mock.Anything).Return([]remote.DetailDTO{}, nil)

	first, err := s.FetchChannelVideosPage(ctx, chanID, 2)
	a.NoError(err)
	a.Equal([]string{"pa", "pb"}, videoIDs(first))
	a.True(s.HasMoreChannelVideos(chanID))

	second, err := s.FetchChannelVideosPage(ctx, chanID, 2)
	a.NoError(err)
	a.Equal([]string{"pc", "pd"}, videoIDs(second))
	a.False(s.HasMoreChannelVideos(chanID))

	third, err := s.FetchChannelVideosPage(ctx, chanID, 2)
	a.NoError(err)
	a.Empty(third)

	all, err := st.GetChannelVideos(ctx, chanID)
	a.NoError(err)
	a.Equal([]string{"pa", "pb", "pc", "pd"}, videoIDs(all))

	c.AssertExpectations(t)
	c.AssertNumberOfCalls(t, "SearchVideosByChannel", 2)
}

func TestEnrichmentFailureStoresBaseRecords(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, st, c := newSyncer(t, Options{})
	addChannel(t, st, chanID)

	items := remotetest.Videos(chanID, "e", 2)

	c.On("SearchVideosByChannel", mock.Anything, chanID, "", 10).Return(&remote.VideoPage{Items: items}, nil)
	c.On("GetVideoDetails", mock.Anything, dtoIDs(items)).Return(nil, &remote.Error{Op: "GetVideoDetails", Message: "quota exceeded"})

	videos, err := s.FetchChannelVideosPage(ctx, chanID, 10)
	a.NoError(err)
	if a.Len(videos, 2) {
		a.Nil(videos[0].DurationSeconds)
		a.Nil(videos[0].ViewCount)
		if a.NotNil(videos[0].UploadDate) {
			a.Equal(remotetest.Published, *videos[0].UploadDate)
		}
	}
}

func TestRefreshKeepsWatchState(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, st, c := newSyncer(t, Options{})
	addChannel(t, st, chanID)

	items := remotetest.Videos(chanID, "w", 3)

	c.On("SearchVideosByChannel", mock.Anything, chanID, "", 10).Return(&remote.VideoPage{Items: items}, nil)
	c.On("GetVideoDetails", mock.Anything, dtoIDs(items)).Return(details(items), nil)

	_, err := s.FetchChannelVideosPage(ctx, chanID, 10)
	require.NoError(t, err)

	require.NoError(t, st.MarkVideoAsWatched(ctx, "wb"))

	videos, err := s.RefreshChannel(ctx, chanID, 10)
	a.NoError(err)
	a.Len(videos, 3)

	v, err := st.GetVideo(ctx, "wb")
	a.NoError(err)
	if a.NotNil(v) {
		a.True(v.Watched)
		if a.NotNil(v.WatchedDate) {
			a.Equal(epoch, *v.WatchedDate)
		}
	}

	all, err := st.GetChannelVideos(ctx, chanID)
	a.NoError(err)
	a.Len(all, 3, "refetching converges on the same rows")

	c.AssertNumberOfCalls(t, "SearchVideosByChannel", 2)
}

func TestRefreshAllSubscriptions(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, st, c := newSyncer(t, Options{})
	addChannel(t, st, "UCgood")
	addChannel(t, st, "UCbad")

	good := remotetest.Videos("UCgood", "g", 2)

	c.On("SearchVideosByChannel", mock.Anything, "UCbad", "", 5).Return(nil, &remote.Error{Op: "SearchVideosByChannel", Message: "boom", StatusCode: 500})
	c.On("SearchVideosByChannel", mock.Anything, "UCgood", "", 5).Return(&remote.VideoPage{Items: good}, nil)
	c.On("GetVideoDetails", mock.Anything, dtoIDs(good)).Return(details(good), nil)

	channels, err := st.GetAllChannels(ctx)
	require.NoError(t, err)

	tally := s.RefreshAllSubscriptions(ctx, channels, 5)
	a.Equal([]string{"UCgood"}, tally.Succeeded)
	if a.Len(tally.Failed, 1) {
		a.Equal("UCbad", tally.Failed[0].Key)

		var rerr *remote.Error
		a.ErrorAs(tally.Failed[0].Err, &rerr)
	}

	videos, err := st.GetAllVideos(ctx)
	a.NoError(err)
	a.Equal([]string{"ga", "gb"}, videoIDs(videos))
}

func TestChannelPlaylists(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, _, c := newSyncer(t, Options{})

	page := &remote.PlaylistPage{Items: []remote.PlaylistDTO{{ID: "PL1", ChannelID: chanID, Title: "Best of", ItemCount: 3}}}
	c.On("ListChannelPlaylists", mock.Anything, chanID, "", 10).Return(page, nil)

	playlists, err := s.FetchChannelPlaylistsPage(ctx, chanID, 10)
	a.NoError(err)
	a.Equal(page.Items, playlists)
	a.False(s.HasMoreChannelPlaylists(chanID))

	playlists, err = s.FetchChannelPlaylistsPage(ctx, chanID, 10)
	a.NoError(err)
	a.Empty(playlists)

	s.ResetChannelPlaylists(chanID)

	playlists, err = s.FetchChannelPlaylistsPage(ctx, chanID, 10)
	a.NoError(err)
	a.Len(playlists, 1)

	c.AssertNumberOfCalls(t, "ListChannelPlaylists", 2)
}

func TestImportPlaylist(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, st, c := newSyncer(t, Options{})
	addChannel(t, st, chanID)

	own := remotetest.Videos(chanID, "x", 3)
	foreign := remotetest.Videos("UCother", "y", 1)

	c.On("ListPlaylistItems", mock.Anything, "PL1", "", 50).Return(&remote.VideoPage{Items: []remote.VideoDTO{own[0], foreign[0], own[1]}, NextPageToken: "p2"}, nil).Once()
	c.On("ListPlaylistItems", mock.Anything, "PL1", "p2", 50).Return(&remote.VideoPage{Items: []remote.VideoDTO{own[2]}}, nil).Once()
	c.On("GetVideoDetails", mock.Anything, mock.Anything).Return([]remote.DetailDTO{}, nil)

	desc := "from remote"

	p, err := s.ImportPlaylist(ctx, "PL1", "Saved", &desc)
	require.NoError(t, err)
	a.Equal("Saved", p.Name)
	a.Equal(3, p.VideoCount)

	entries, err := st.GetPlaylistVideos(ctx, p.ID)
	a.NoError(err)

	var ids []string
	for _, e := range entries {
		ids = append(ids, e.VideoID)
	}
	a.Equal([]string{"xa", "xb", "xc"}, ids)

	_, err = st.GetVideo(ctx, "ya")
	a.ErrorIs(err, feederr.ErrVideoNotFound, "videos of unsubscribed channels are not stored")

	c.AssertExpectations(t)
}

func TestFetchPlaylistItemsPage(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, st, c := newSyncer(t, Options{})
	addChannel(t, st, chanID)

	own := remotetest.Videos(chanID, "x", 1)
	foreign := remotetest.Videos("UCother", "y", 1)

	c.On("ListPlaylistItems", mock.Anything, "PL1", "", 10).Return(&remote.VideoPage{Items: []remote.VideoDTO{foreign[0], own[0]}}, nil)
	c.On("GetVideoDetails", mock.Anything, []string{"xa"}).Return([]remote.DetailDTO{}, nil)

	page, err := s.FetchPlaylistItemsPage(ctx, "PL1", 10)
	a.NoError(err)
	a.Equal([]string{"ya", "xa"}, dtoIDs(page.Items))
	a.Equal([]string{"xa"}, videoIDs(page.Stored))
	a.False(s.HasMorePlaylistItems("PL1"))

	s.ResetPlaylistItems("PL1")
	a.True(s.HasMorePlaylistItems("PL1"))
}

func TestImportPlaylistContinuesPastSkippedPage(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, st, c := newSyncer(t, Options{})
	addChannel(t, st, chanID)

	own := remotetest.Videos(chanID, "x", 3)

	c.On("ListPlaylistItems", mock.Anything, "PL1", "", 50).Return(&remote.VideoPage{NextPageToken: "tok2", Skipped: 2}, nil).Once()
	c.On("ListPlaylistItems", mock.Anything, "PL1", "tok2", 50).Return(&remote.VideoPage{Items: own}, nil).Once()
	c.On("GetVideoDetails", mock.Anything, mock.Anything).Return([]remote.DetailDTO{}, nil)

	p, err := s.ImportPlaylist(ctx, "PL1", "Saved", nil)
	require.NoError(t, err)
	a.Equal(3, p.VideoCount)

	c.AssertExpectations(t)
}

func TestFetchChannelVideosPageSerializesPerChannel(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	s, st, c := newSyncer(t, Options{})
	addChannel(t, st, chanID)

	items := remotetest.Videos(chanID, "p", 4)

	c.On("SearchVideosByChannel", mock.Anything, chanID, "", 2).
		Run(func(mock.Arguments) { time.Sleep(time.Millisecond * 20) }).
		Return(&remote.VideoPage{Items: items[:2], NextPageToken: "t2"}, nil).Once()
	c.On("SearchVideosByChannel", mock.Anything, chanID, "t2", 2).Return(&remote.VideoPage{Items: items[2:]}, nil).Once()
	c.On("GetVideoDetails", mock.Anything, mock.Anything).Return([]remote.DetailDTO{}, nil)

	results := make([][]models.Video, 2)
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.FetchChannelVideosPage(ctx, chanID, 2)
		}(i)
	}
	wg.Wait()

	a.NoError(errs[0])
	a.NoError(errs[1])

	ids := append(videoIDs(results[0]), videoIDs(results[1])...)
	sort.Strings(ids)
	a.Equal([]string{"pa", "pb", "pc", "pd"}, ids)

	c.AssertExpectations(t)
	c.AssertNumberOfCalls(t, "SearchVideosByChannel", 2)
}
