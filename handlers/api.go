package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"fknsrs.biz/p/ytfeeds/internal/composer"
	"fknsrs.biz/p/ytfeeds/internal/feederr"
	"fknsrs.biz/p/ytfeeds/internal/httputil"
	"fknsrs.biz/p/ytfeeds/internal/remote"
	"fknsrs.biz/p/ytfeeds/internal/seeder"
	"fknsrs.biz/p/ytfeeds/models"
)

// Store is the part of the entity store the handlers read and write
// directly. Anything that talks to the remote goes through Syncer.
type Store interface {
	GetAllChannels(ctx context.Context) ([]models.Channel, error)
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	DeleteChannel(ctx context.Context, id string) error
	HideChannel(ctx context.Context, id string) error
	UnhideChannel(ctx context.Context, id string) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	MarkVideoAsWatched(ctx context.Context, id string) error
	MarkVideoAsUnwatched(ctx context.Context, id string) error
	GetVideoPlaylists(ctx context.Context, videoID string) ([]models.Playlist, error)
	GetAllPlaylists(ctx context.Context) ([]models.Playlist, error)
	GetPlaylist(ctx context.Context, id string) (*models.Playlist, error)
	GetPlaylistVideos(ctx context.Context, playlistID string) ([]models.PlaylistEntry, error)
	CreatePlaylist(ctx context.Context, name string, description *string) (*models.Playlist, error)
	UpdatePlaylist(ctx context.Context, id string, patch models.PlaylistPatch) error
	DeletePlaylist(ctx context.Context, id string) error
	AddVideoToPlaylist(ctx context.Context, in models.PlaylistVideoInput) error
	RemoveVideoFromPlaylist(ctx context.Context, playlistID, videoID string) error
}

type Syncer interface {
	Subscribe(ctx context.Context, input string, pageSize int) (*models.Channel, error)
	FetchChannelVideosPage(ctx context.Context, channelID string, pageSize int) ([]models.Video, error)
	HasMoreChannelVideos(channelID string) bool
	RefreshChannel(ctx context.Context, channelID string, pageSize int) ([]models.Video, error)
	FetchChannelPlaylistsPage(ctx context.Context, channelID string, pageSize int) ([]remote.PlaylistDTO, error)
	ResetChannelPlaylists(channelID string)
	HasMoreChannelPlaylists(channelID string) bool
}

type Composer interface {
	Home(ctx context.Context) ([]models.Video, error)
	List(ctx context.Context, q composer.Query) ([]models.Video, error)
	ChannelVideos(ctx context.Context, channelID string) ([]models.Video, error)
	History(ctx context.Context) ([]models.Video, error)
	Shorts(ctx context.Context) ([]models.Video, error)
	SearchChannels(ctx context.Context, text string) ([]models.Channel, error)
	SearchVideos(ctx context.Context, text string, limit int) ([]models.Video, error)
}

type Seeder interface {
	State(ctx context.Context) (seeder.State, error)
}

type Options struct {
	// PageSize is passed to the syncer; zero uses the syncer's default.
	PageSize int
	// EventInterval is how often the job event stream polls the queue.
	EventInterval time.Duration
}

// API serves the JSON interface over the store, syncer and composer.
// Background work is enqueued through the worker carried on the request
// context.
type API struct {
	store    Store
	syncer   Syncer
	composer Composer
	seeder   Seeder
	opts     Options
}

func New(store Store, syncer Syncer, composer Composer, seeder Seeder, opts Options) *API {
	if opts.EventInterval <= 0 {
		opts.EventInterval = time.Second * 2
	}

	return &API{
		store:    store,
		syncer:   syncer,
		composer: composer,
		seeder:   seeder,
		opts:     opts,
	}
}

func (a *API) Routes(m *mux.Router) {
	m.NotFoundHandler = http.HandlerFunc(httputil.NotFound)
	m.MethodNotAllowedHandler = http.HandlerFunc(httputil.MethodNotAllowed)

	m.Methods(http.MethodGet).Path("/channels").HandlerFunc(a.Channels)
	m.Methods(http.MethodPost).Path("/channels").HandlerFunc(a.Subscribe)
	m.Methods(http.MethodGet).Path("/channels/search").HandlerFunc(a.SearchChannels)
	m.Methods(http.MethodGet).Path("/channels/{id}").HandlerFunc(a.Channel)
	m.Methods(http.MethodDelete).Path("/channels/{id}").HandlerFunc(a.Unsubscribe)
	m.Methods(http.MethodPost).Path("/channels/{id}/hide").HandlerFunc(a.HideChannel)
	m.Methods(http.MethodPost).Path("/channels/{id}/unhide").HandlerFunc(a.UnhideChannel)
	m.Methods(http.MethodGet).Path("/channels/{id}/videos").HandlerFunc(a.ChannelVideos)
	m.Methods(http.MethodPost).Path("/channels/{id}/videos/next").HandlerFunc(a.ChannelVideosNext)
	m.Methods(http.MethodPost).Path("/channels/{id}/refresh").HandlerFunc(a.RefreshChannel)
	m.Methods(http.MethodGet).Path("/channels/{id}/playlists").HandlerFunc(a.ChannelPlaylists)

	m.Methods(http.MethodGet).Path("/videos").HandlerFunc(a.Videos)
	m.Methods(http.MethodGet).Path("/videos/home").HandlerFunc(a.Home)
	m.Methods(http.MethodGet).Path("/videos/history").HandlerFunc(a.History)
	m.Methods(http.MethodGet).Path("/videos/shorts").HandlerFunc(a.Shorts)
	m.Methods(http.MethodGet).Path("/videos/search").HandlerFunc(a.SearchVideos)
	m.Methods(http.MethodGet).Path("/videos/{id}").HandlerFunc(a.Video)
	m.Methods(http.MethodPost).Path("/videos/{id}/watched").HandlerFunc(a.MarkWatched)
	m.Methods(http.MethodDelete).Path("/videos/{id}/watched").HandlerFunc(a.MarkUnwatched)
	m.Methods(http.MethodGet).Path("/videos/{id}/playlists").HandlerFunc(a.VideoPlaylists)

	m.Methods(http.MethodGet).Path("/playlists").HandlerFunc(a.Playlists)
	m.Methods(http.MethodPost).Path("/playlists").HandlerFunc(a.CreatePlaylist)
	m.Methods(http.MethodPost).Path("/playlists/import").HandlerFunc(a.ImportPlaylist)
	m.Methods(http.MethodGet).Path("/playlists/{id}").HandlerFunc(a.Playlist)
	m.Methods(http.MethodPatch).Path("/playlists/{id}").HandlerFunc(a.UpdatePlaylist)
	m.Methods(http.MethodDelete).Path("/playlists/{id}").HandlerFunc(a.DeletePlaylist)
	m.Methods(http.MethodGet).Path("/playlists/{id}/videos").HandlerFunc(a.PlaylistVideos)
	m.Methods(http.MethodPost).Path("/playlists/{id}/videos").HandlerFunc(a.AddPlaylistVideo)
	m.Methods(http.MethodDelete).Path("/playlists/{id}/videos/{video_id}").HandlerFunc(a.RemovePlaylistVideo)

	m.Methods(http.MethodPost).Path("/refresh").HandlerFunc(a.RefreshAll)
	m.Methods(http.MethodGet).Path("/seed").HandlerFunc(a.SeedState)
	m.Methods(http.MethodPost).Path("/seed/reseed").HandlerFunc(a.Reseed)
	m.Methods(http.MethodGet).Path("/jobs").HandlerFunc(a.Jobs)
	m.Methods(http.MethodGet).Path("/jobs/events").HandlerFunc(a.JobEvents)
	m.Methods(http.MethodGet).Path("/jobs/{id}").HandlerFunc(a.Job)
}

// intParam reads an optional non-negative integer query parameter.
func intParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", feederr.ErrInvalidInput, name)
	}

	return n, nil
}
