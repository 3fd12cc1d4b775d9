package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/googleapi"
)

// Client is the remote video host. Lookups that find nothing return nil
// without an error; every failure is an *Error.
type Client interface {
	SearchChannelByQuery(ctx context.Context, q string) (*ChannelDTO, error)
	GetChannel(ctx context.Context, id string) (*ChannelDTO, error)
	SearchVideosByChannel(ctx context.Context, channelID, token string, pageSize int) (*VideoPage, error)
	GetVideoDetails(ctx context.Context, ids []string) ([]DetailDTO, error)
	ListChannelPlaylists(ctx context.Context, channelID, token string, pageSize int) (*PlaylistPage, error)
	ListPlaylistItems(ctx context.Context, playlistID, token string, pageSize int) (*VideoPage, error)
}

type ChannelDTO struct {
	ID              string
	Title           string
	Description     string
	ThumbnailURL    string
	SubscriberCount *int64
}

type VideoDTO struct {
	ID           string
	ChannelID    string
	ChannelTitle string
	Title        string
	Description  string
	ThumbnailURL string
	PublishedAt  *time.Time
}

type DetailDTO struct {
	ID        string
	Duration  string
	ViewCount *int64
}

type VideoPage struct {
	Items         []VideoDTO
	NextPageToken string
	// Skipped counts entries on the upstream page that were not videos or
	// were no longer available.
	Skipped int
}

type PlaylistDTO struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ThumbnailURL string    `json:"thumbnail_url"`
	ItemCount    int64     `json:"item_count"`
	PublishedAt  time.Time `json:"published_at"`
}

type PlaylistPage struct {
	Items         []PlaylistDTO
	NextPageToken string
}

// Error is an upstream failure. StatusCode is zero when no HTTP response was
// received.
type Error struct {
	Op         string
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote.%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}

	return fmt.Sprintf("remote.%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	var rerr *Error
	if errors.As(err, &rerr) {
		return err
	}

	e := &Error{Op: op, Message: err.Error(), Err: err}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		e.StatusCode = gerr.Code
		if gerr.Message != "" {
			e.Message = gerr.Message
		}
	}

	return e
}

func clampPageSize(n int) int64 {
	switch {
	case n < 1:
		return 1
	case n > 50:
		return 50
	default:
		return int64(n)
	}
}
