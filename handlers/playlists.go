package handlers

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"fknsrs.biz/p/ytfeeds/internal/ctxjobqueue"
	"fknsrs.biz/p/ytfeeds/internal/feederr"
	"fknsrs.biz/p/ytfeeds/internal/httputil"
	"fknsrs.biz/p/ytfeeds/internal/queuenames"
	"fknsrs.biz/p/ytfeeds/internal/tasks"
	"fknsrs.biz/p/ytfeeds/internal/ytutil"
	"fknsrs.biz/p/ytfeeds/models"
)

func (a *API) Playlists(rw http.ResponseWriter, r *http.Request) {
	playlists, err := a.store.GetAllPlaylists(r.Context())
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(playlists))
}

type createPlaylistRequest struct {
	Name        string  `formam:"name" json:"name"`
	Description *string `formam:"description" json:"description"`
}

func (a *API) CreatePlaylist(rw http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if err := httputil.DecodeBody(r, &req); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	playlist, err := a.store.CreatePlaylist(r.Context(), req.Name, req.Description)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusCreated, playlist)
}

func (a *API) Playlist(rw http.ResponseWriter, r *http.Request) {
	playlist, err := a.store.GetPlaylist(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, playlist)
}

// decodePatch reads a partial update. In JSON an explicit null clears a
// field; in a form every field that appears is set.
func decodePatch(r *http.Request) (models.PlaylistPatch, error) {
	var patch models.PlaylistPatch

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("content-type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return patch, fmt.Errorf("%w: %w", feederr.ErrInvalidInput, err)
		}

		if r.PostForm.Has("name") {
			patch.Name = models.Set(r.PostForm.Get("name"))
		}
		if r.PostForm.Has("description") {
			patch.Description = models.Set(r.PostForm.Get("description"))
		}

		return patch, nil
	}

	if r.Body == nil || r.ContentLength == 0 {
		return patch, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		return patch, fmt.Errorf("%w: %w", feederr.ErrInvalidInput, err)
	}

	return patch, nil
}

func (a *API) UpdatePlaylist(rw http.ResponseWriter, r *http.Request) {
	patch, err := decodePatch(r)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	if err := a.store.UpdatePlaylist(r.Context(), mux.Vars(r)["id"], patch); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	a.Playlist(rw, r)
}

func (a *API) DeletePlaylist(rw http.ResponseWriter, r *http.Request) {
	if err := a.store.DeletePlaylist(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}

func (a *API) PlaylistVideos(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := a.store.GetPlaylist(r.Context(), id); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	entries, err := a.store.GetPlaylistVideos(r.Context(), id)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusOK, nonNil(entries))
}

type addPlaylistVideoRequest struct {
	VideoID  string `formam:"video_id" json:"video_id"`
	Position *int   `formam:"position" json:"position"`
}

// AddPlaylistVideo links a cached video to the playlist. The video may be
// given as an id or a watch url.
func (a *API) AddPlaylistVideo(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req addPlaylistVideoRequest
	if err := httputil.DecodeBody(r, &req); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	videoID, err := ytutil.ExtractVideoID(req.VideoID)
	if err != nil {
		httputil.WriteError(rw, r, fmt.Errorf("%w: %w", feederr.ErrInvalidInput, err))
		return
	}

	in := models.PlaylistVideoInput{PlaylistID: id, VideoID: videoID}
	if req.Position != nil {
		in.Position = models.Set(*req.Position)
	}

	if err := a.store.AddVideoToPlaylist(r.Context(), in); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	a.PlaylistVideos(rw, r)
}

func (a *API) RemovePlaylistVideo(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if _, err := a.store.GetPlaylist(r.Context(), vars["id"]); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	if err := a.store.RemoveVideoFromPlaylist(r.Context(), vars["id"], vars["video_id"]); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}

type importPlaylistRequest struct {
	Playlist    string  `formam:"playlist" json:"playlist"`
	Name        string  `formam:"name" json:"name"`
	Description *string `formam:"description" json:"description"`
}

// ImportPlaylist queues a copy of a remote playlist into a new local one.
// The name defaults to the remote playlist id.
func (a *API) ImportPlaylist(rw http.ResponseWriter, r *http.Request) {
	var req importPlaylistRequest
	if err := httputil.DecodeBody(r, &req); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	remoteID, err := ytutil.ExtractPlaylistID(req.Playlist)
	if err != nil {
		httputil.WriteError(rw, r, fmt.Errorf("%w: %w", feederr.ErrInvalidInput, err))
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = remoteID
	}

	job, err := ctxjobqueue.Enqueue(r.Context(), queuenames.ImportPlaylist, tasks.ImportPlaylistPayload(remoteID, name, req.Description))
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, r, http.StatusAccepted, job)
}
