package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"

	"github.com/monoculum/formam"

	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
	"fknsrs.biz/p/ytfeeds/internal/feederr"
	"fknsrs.biz/p/ytfeeds/internal/jobqueue"
	"fknsrs.biz/p/ytfeeds/internal/remote"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func WriteJSON(rw http.ResponseWriter, r *http.Request, status int, v interface{}) {
	rw.Header().Set("content-type", "application/json; charset=utf-8")
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		ctxlogger.GetLogger(r.Context()).WithError(err).Warn("could not write response body")
	}
}

// StatusForError picks the response status for an error returned from the
// store, the sync engine or the remote client.
func StatusForError(err error) int {
	var rerr *remote.Error

	switch {
	case errors.Is(err, feederr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, feederr.ErrChannelNotFound),
		errors.Is(err, feederr.ErrVideoNotFound),
		errors.Is(err, feederr.ErrPlaylistNotFound),
		errors.Is(err, jobqueue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, feederr.ErrChannelAlreadyExists),
		errors.Is(err, feederr.ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, feederr.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.As(err, &rerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError logs err and writes it as an ErrorResponse. Internal errors are
// not echoed to the client.
func WriteError(rw http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)

	l := ctxlogger.GetLogger(r.Context()).WithError(err).WithField("http.status_code", status)

	message := err.Error()
	if status == http.StatusInternalServerError {
		l.Error("request failed")
		message = http.StatusText(status)
	} else {
		l.Info("request rejected")
	}

	WriteJSON(rw, r, status, ErrorResponse{Error: message, Status: status})
}

func NotFound(rw http.ResponseWriter, r *http.Request) {
	WriteJSON(rw, r, http.StatusNotFound, ErrorResponse{Error: "not found", Status: http.StatusNotFound})
}

func MethodNotAllowed(rw http.ResponseWriter, r *http.Request) {
	WriteJSON(rw, r, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", Status: http.StatusMethodNotAllowed})
}

var formDecoder = formam.NewDecoder(&formam.DecoderOptions{
	TagName:           "formam",
	IgnoreUnknownKeys: true,
})

// DecodeValues fills dst from query or form values using formam tags.
func DecodeValues(vs url.Values, dst interface{}) error {
	if err := formDecoder.Decode(vs, dst); err != nil {
		return fmt.Errorf("httputil.DecodeValues: %w: %w", feederr.ErrInvalidInput, err)
	}

	return nil
}

// DecodeBody reads a form-encoded or JSON request body into dst. Form bodies
// use formam tags and JSON bodies use json tags.
func DecodeBody(r *http.Request, dst interface{}) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("content-type"))

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			return fmt.Errorf("httputil.DecodeBody: %w: %w", feederr.ErrInvalidInput, err)
		}

		return DecodeValues(r.PostForm, dst)
	default:
		if r.Body == nil || r.ContentLength == 0 {
			return nil
		}

		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return fmt.Errorf("httputil.DecodeBody: %w: %w", feederr.ErrInvalidInput, err)
		}

		return nil
	}
}
