package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"fknsrs.biz/p/ytfeeds/internal/ctxjobqueue"
	"fknsrs.biz/p/ytfeeds/internal/feederr"
	"fknsrs.biz/p/ytfeeds/internal/httputil"
	"fknsrs.biz/p/ytfeeds/internal/queuenames"
	"fknsrs.biz/p/ytfeeds/internal/remote"
	"fknsrs.biz/p/ytfeeds/internal/stringutil"
	"fknsrs.biz/p/ytfeeds/internal/tasks"
	"fknsrs.biz/p/ytfeeds/models"
)

func (a *API) Channels(rw http.ResponseWriter, r *http.Request) {
	channels, err := a.store.GetAllChannels(r.Context())
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(channels))
}

type subscribeRequest struct {
	Input string `formam:"input" json:"input"`
}

// Subscribe resolves the input to a channel, stores it and its first page
// of videos.
func (a *API) Subscribe(rw http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := httputil.DecodeBody(r, &req); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	if strings.TrimSpace(req.Input) == "" {
		httputil.WriteError(rw, r, fmt.Errorf("%w: input is required", feederr.ErrInvalidInput))
		return
	}

	channel, err := a.syncer.Subscribe(r.Context(), req.Input, a.opts.PageSize)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusCreated, channel)
}

func (a *API) SearchChannels(rw http.ResponseWriter, r *http.Request) {
	channels, err := a.composer.SearchChannels(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(channels))
}

func (a *API) Channel(rw http.ResponseWriter, r *http.Request) {
	channel, err := a.store.GetChannel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, channel)
}

func (a *API) Unsubscribe(rw http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteChannel(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}

func (a *API) HideChannel(rw http.ResponseWriter, r *http.Request) {
	a.setHidden(rw, r, a.store.HideChannel)
}

func (a *API) UnhideChannel(rw http.ResponseWriter, r *http.Request) {
	a.setHidden(rw, r, a.store.UnhideChannel)
}

func (a *API) setHidden(rw http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id := mux.Vars(r)["id"]

	if err := fn(r.Context(), id); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	a.Channel(rw, r)
}

func (a *API) ChannelVideos(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := a.store.GetChannel(r.Context(), id); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	videos, err := a.composer.ChannelVideos(r.Context(), id)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(videos))
}

type videoPage struct {
	Videos  []models.Video `json:"videos"`
	HasMore bool           `json:"has_more"`
}

// ChannelVideosNext pulls the channel's next page from the remote.
func (a *API) ChannelVideosNext(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	pageSize, err := intParam(r, "page_size")
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}
	if pageSize == 0 {
		pageSize = a.opts.PageSize
	}

	if _, err := a.store.GetChannel(r.Context(), id); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	videos, err := a.syncer.FetchChannelVideosPage(r.Context(), id, pageSize)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, videoPage{
		Videos:  nonNil(videos),
		HasMore: a.syncer.HasMoreChannelVideos(id),
	})
}

// RefreshChannel refetches the channel's newest page. With ?async=true the
// refresh is queued instead and the job is returned.
func (a *API) RefreshChannel(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := a.store.GetChannel(r.Context(), id); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	if stringutil.LooksTrue(r.URL.Query().Get("async")) {
		job, err := ctxjobqueue.Enqueue(r.Context(), queuenames.RefreshChannel, tasks.RefreshChannelPayload(id, a.opts.PageSize))
		if err != nil {
			httputil.WriteError(rw, r, err)
			return
		}

		httputil.WriteJSON(rw, r, http.StatusAccepted, job)
		return
	}

	videos, err := a.syncer.RefreshChannel(r.Context(), id, a.opts.PageSize)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, videoPage{
		Videos:  nonNil(videos),
		HasMore: a.syncer.HasMoreChannelVideos(id),
	})
}

type playlistPage struct {
	Playlists []remote.PlaylistDTO `json:"playlists"`
	HasMore   bool                 `json:"has_more"`
}

// ChannelPlaylists lists the channel's public playlists a page at a time.
// ?reset=true starts over from the first page.
func (a *API) ChannelPlaylists(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := a.store.GetChannel(r.Context(), id); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	if stringutil.LooksTrue(r.URL.Query().Get("reset")) {
		a.syncer.ResetChannelPlaylists(id)
	}

	playlists, err := a.syncer.FetchChannelPlaylistsPage(r.Context(), id, a.opts.PageSize)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, playlistPage{
		Playlists: nonNil(playlists),
		HasMore:   a.syncer.HasMoreChannelPlaylists(id),
	})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}
