// Package remotetest provides a testify mock of remote.Client.
package remotetest

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"fknsrs.biz/p/ytfeeds/internal/remote"
)

type Client struct {
	mock.Mock
}

var _ remote.Client = (*Client)(nil)

func (m *Client) SearchChannelByQuery(ctx context.Context, q string) (*remote.ChannelDTO, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.ChannelDTO), args.Error(1)
}

func (m *Client) GetChannel(ctx context.Context, id string) (*remote.ChannelDTO, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.ChannelDTO), args.Error(1)
}

func (m *Client) SearchVideosByChannel(ctx context.Context, channelID, token string, pageSize int) (*remote.VideoPage, error) {
	args := m.Called(ctx, channelID, token, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.VideoPage), args.Error(1)
}

func (m *Client) GetVideoDetails(ctx context.Context, ids []string) ([]remote.DetailDTO, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]remote.DetailDTO), args.Error(1)
}

func (m *Client) ListChannelPlaylists(ctx context.Context, channelID, token string, pageSize int) (*remote.PlaylistPage, error) {
	args := m.Called(ctx, channelID, token, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.PlaylistPage), args.Error(1)
}

func (m *Client) ListPlaylistItems(ctx context.Context, playlistID, token string, pageSize int) (*remote.VideoPage, error) {
	args := m.Called(ctx, playlistID, token, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.VideoPage), args.Error(1)
}

// Published is the publish time of the first video Videos builds.
var Published = time.Date(2024, time.February, 1, 12, 0, 0, 0, time.UTC)

// Videos builds n videos for a channel, newest first, an hour apart.
func Videos(channelID, prefix string, n int) []remote.VideoDTO {
	out := make([]remote.VideoDTO, n)
	for i := range out {
		id := prefix + string(rune('a'+i))
		published := Published.Add(-time.Duration(i) * time.Hour)
		out[i] = remote.VideoDTO{
			PublishedAt:  &published,
			ID:           id,
			ChannelID:    channelID,
			ChannelTitle: "Channel " + channelID,
			Title:        "Video " + id,
		}
	}

	return out
}
