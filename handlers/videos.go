package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"fknsrs.biz/p/ytfeeds/internal/composer"
	"fknsrs.biz/p/ytfeeds/internal/httputil"
)

// parseQuery reads a composer.Query from the url. Channels may be given as
// repeated "channel" values, comma separated, or both.
func parseQuery(vs url.Values) (composer.Query, error) {
	var q composer.Query

	rest := url.Values{}
	for k, v := range vs {
		if k != "channel" {
			rest[k] = v
		}
	}

	if err := httputil.DecodeValues(rest, &q); err != nil {
		return q, err
	}

	for _, v := range vs["channel"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				q.ChannelIDs = append(q.ChannelIDs, id)
			}
		}
	}

	if err := q.Validate(); err != nil {
		return q, err
	}

	return q, nil
}

// Videos lists cached videos filtered and sorted by the query string.
func (a *API) Videos(rw http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	videos, err := a.composer.List(r.Context(), q)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(videos))
}

func (a *API) Home(rw http.ResponseWriter, r *http.Request) {
	videos, err := a.composer.Home(r.Context())
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(videos))
}

func (a *API) History(rw http.ResponseWriter, r *http.Request) {
	videos, err := a.composer.History(r.Context())
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(videos))
}

func (a *API) Shorts(rw http.ResponseWriter, r *http.Request) {
	videos, err := a.composer.Shorts(r.Context())
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(videos))
}

func (a *API) SearchVideos(rw http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	videos, err := a.composer.SearchVideos(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(videos))
}

func (a *API) Video(rw http.ResponseWriter, r *http.Request) {
	video, err := a.store.GetVideo(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, video)
}

func (a *API) MarkWatched(rw http.ResponseWriter, r *http.Request) {
	if err := a.store.MarkVideoAsWatched(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	a.Video(rw, r)
}

func (a *API) MarkUnwatched(rw http.ResponseWriter, r *http.Request) {
	if err := a.store.MarkVideoAsUnwatched(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	a.Video(rw, r)
}

func (a *API) VideoPlaylists(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := a.store.GetVideo(r.Context(), id); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	playlists, err := a.store.GetVideoPlaylists(r.Context(), id)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(playlists))
}
