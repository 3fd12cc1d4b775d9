package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"fknsrs.biz/p/ytfeeds/internal/ptr"
)

type Options struct {
	APIKey string
	// HTTPClient carries the cache and rate limit layers. The API key is
	// added outside of its transport.
	HTTPClient *http.Client
	// Endpoint overrides the API base URL; used by tests.
	Endpoint string
}

// YouTube implements Client against the YouTube Data API v3.
type YouTube struct {
	svc *youtube.Service
}

var _ Client = (*YouTube)(nil)

func NewYouTube(ctx context.Context, opts Options) (*YouTube, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("remote.NewYouTube: api key is required")
	}

	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}

	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	clientOptions := []option.ClientOption{
		option.WithHTTPClient(&http.Client{
			Timeout:   base.Timeout,
			Transport: &transport.APIKey{Key: opts.APIKey, Transport: next},
		}),
	}
	if opts.Endpoint != "" {
		clientOptions = append(clientOptions, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := youtube.NewService(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("remote.NewYouTube: could not create service: %w", err)
	}

	return &YouTube{svc: svc}, nil
}

func (y *YouTube) SearchChannelByQuery(ctx context.Context, q string) (*ChannelDTO, error) {
	res, err := y.svc.Search.List([]string{"snippet"}).Q(q).Type("channel").MaxResults(1).Context(ctx).Do()
	if err != nil {
		return nil, wrap("SearchChannelByQuery", err)
	}

	for _, item := range res.Items {
		if item.Id == nil || item.Id.ChannelId == "" {
			continue
		}

		c := ChannelDTO{ID: item.Id.ChannelId}
		if item.Snippet != nil {
			c.Title = item.Snippet.Title
			c.Description = item.Snippet.Description
			c.ThumbnailURL = thumbnailURL(item.Snippet.Thumbnails)
		}

		return &c, nil
	}

	return nil, nil
}

func (y *YouTube) GetChannel(ctx context.Context, id string) (*ChannelDTO, error) {
	res, err := y.svc.Channels.List([]string{"snippet", "statistics"}).Id(id).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return nil, wrap("GetChannel", err)
	}

	if len(res.Items) == 0 {
		return nil, nil
	}

	item := res.Items[0]

	c := ChannelDTO{ID: item.Id}
	if item.Snippet != nil {
		c.Title = item.Snippet.Title
		c.Description = item.Snippet.Description
		c.ThumbnailURL = thumbnailURL(item.Snippet.Thumbnails)
	}
	if item.Statistics != nil && !item.Statistics.HiddenSubscriberCount {
		c.SubscriberCount = ptr.To(int64(item.Statistics.SubscriberCount))
	}

	return &c, nil
}

func (y *YouTube) SearchVideosByChannel(ctx context.Context, channelID, token string, pageSize int) (*VideoPage, error) {
	call := y.svc.Search.List([]string{"snippet"}).
		ChannelId(channelID).
		Order("date").
		Type("video").
		MaxResults(clampPageSize(pageSize)).
		Context(ctx)
	if token != "" {
		call = call.PageToken(token)
	}

	res, err := call.Do()
	if err != nil {
		return nil, wrap("SearchVideosByChannel", err)
	}

	page := VideoPage{NextPageToken: res.NextPageToken}
	for _, item := range res.Items {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			page.Skipped++
			continue
		}

		page.Items = append(page.Items, VideoDTO{
			ID:           item.Id.VideoId,
			ChannelID:    item.Snippet.ChannelId,
			ChannelTitle: item.Snippet.ChannelTitle,
			Title:        item.Snippet.Title,
			Description:  item.Snippet.Description,
			ThumbnailURL: thumbnailURL(item.Snippet.Thumbnails),
			PublishedAt:  parseTime(item.Snippet.PublishedAt),
		})
	}

	return &page, nil
}

// GetVideoDetails looks ids up in batches of 50, the most videos.list
// accepts. Ids the API does not know are left out of the result.
func (y *YouTube) GetVideoDetails(ctx context.Context, ids []string) ([]DetailDTO, error) {
	var out []DetailDTO

	for len(ids) > 0 {
		batch := ids
		if len(batch) > 50 {
			batch = batch[:50]
		}
		ids = ids[len(batch):]

		res, err := y.svc.Videos.List([]string{"contentDetails", "statistics"}).Id(batch...).Context(ctx).Do()
		if err != nil {
			return nil, wrap("GetVideoDetails", err)
		}

		for _, item := range res.Items {
			d := DetailDTO{ID: item.Id}
			if item.ContentDetails != nil {
				d.Duration = item.ContentDetails.Duration
			}
			if item.Statistics != nil {
				d.ViewCount = ptr.To(int64(item.Statistics.ViewCount))
			}

			out = append(out, d)
		}
	}

	return out, nil
}

func (y *YouTube) ListChannelPlaylists(ctx context.Context, channelID, token string, pageSize int) (*PlaylistPage, error) {
	call := y.svc.Playlists.List([]string{"snippet", "contentDetails"}).
		ChannelId(channelID).
		MaxResults(clampPageSize(pageSize)).
		Context(ctx)
	if token != "" {
		call = call.PageToken(token)
	}

	res, err := call.Do()
	if err != nil {
		return nil, wrap("ListChannelPlaylists", err)
	}

	page := PlaylistPage{NextPageToken: res.NextPageToken}
	for _, item := range res.Items {
		p := PlaylistDTO{ID: item.Id, ChannelID: channelID}
		if item.Snippet != nil {
			p.ChannelID = item.Snippet.ChannelId
			p.ChannelTitle = item.Snippet.ChannelTitle
			p.Title = item.Snippet.Title
			p.Description = item.Snippet.Description
			p.ThumbnailURL = thumbnailURL(item.Snippet.Thumbnails)
			if t := parseTime(item.Snippet.PublishedAt); t != nil {
				p.PublishedAt = *t
			}
		}
		if item.ContentDetails != nil {
			p.ItemCount = item.ContentDetails.ItemCount
		}

		page.Items = append(page.Items, p)
	}

	return &page, nil
}

// ListPlaylistItems returns the playlist's videos in playlist order. Deleted
// and private entries have no owning channel and are dropped.
func (y *YouTube) ListPlaylistItems(ctx context.Context, playlistID, token string, pageSize int) (*VideoPage, error) {
	call := y.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		PlaylistId(playlistID).
		MaxResults(clampPageSize(pageSize)).
		Context(ctx)
	if token != "" {
		call = call.PageToken(token)
	}

	res, err := call.Do()
	if err != nil {
		return nil, wrap("ListPlaylistItems", err)
	}

	page := VideoPage{NextPageToken: res.NextPageToken}
	for _, item := range res.Items {
		if item.Snippet == nil || item.ContentDetails == nil || item.ContentDetails.VideoId == "" || item.Snippet.VideoOwnerChannelId == "" {
			page.Skipped++
			continue
		}

		page.Items = append(page.Items, VideoDTO{
			ID:           item.ContentDetails.VideoId,
			ChannelID:    item.Snippet.VideoOwnerChannelId,
			ChannelTitle: item.Snippet.VideoOwnerChannelTitle,
			Title:        item.Snippet.Title,
			Description:  item.Snippet.Description,
			ThumbnailURL: thumbnailURL(item.Snippet.Thumbnails),
			PublishedAt:  parseTime(item.ContentDetails.VideoPublishedAt),
		})
	}

	return &page, nil
}

func thumbnailURL(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}

	for _, e := range []*youtube.Thumbnail{t.High, t.Medium, t.Default} {
		if e != nil && e.Url != "" {
			return e.Url
		}
	}

	return ""
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}

	t = t.UTC()

	return &t
}
