package ytdirect

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"fknsrs.biz/p/ytfeeds/internal/ctxhttpclient"
	"fknsrs.biz/p/ytfeeds/internal/ytutil"
)

func getDocument(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.getDocument: %w", err)
	}

	// without this the consent interstitial is served in some regions
	req.AddCookie(&http.Cookie{Name: "CONSENT", Value: "YES+"})

	res, err := ctxhttpclient.GetHTTPClient(ctx).Do(req)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.getDocument: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ytdirect.getDocument: status code: %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.getDocument: %w", err)
	}

	return doc, nil
}

func initialData(doc *goquery.Document) (*gabs.Container, error) {
	for _, node := range doc.Find("script").Nodes {
		if node.FirstChild == nil || node.FirstChild.Type != html.TextNode {
			continue
		}

		jsContent := strings.TrimSpace(node.FirstChild.Data)

		if !strings.HasPrefix(jsContent, "var ytInitialData =") {
			continue
		}

		jsContent = strings.TrimPrefix(jsContent, "var ytInitialData =")
		jsContent = strings.TrimSuffix(jsContent, ";")

		j, err := gabs.ParseJSON([]byte(jsContent))
		if err != nil {
			return nil, fmt.Errorf("ytdirect.initialData: %w", err)
		}

		return j, nil
	}

	return nil, nil
}

func stringAt(j *gabs.Container, path string) string {
	if j == nil {
		return ""
	}

	s, _ := j.Path(path).Data().(string)

	return s
}

type Channel struct {
	ID           string
	Title        string
	Description  string
	ThumbnailURL string
	VanityURL    string
}

// LookupChannel reads a channel page. Fields come from the page's initial
// data when it is present and from its meta tags otherwise.
func LookupChannel(ctx context.Context, pageURL string) (*Channel, error) {
	doc, err := getDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.LookupChannel: %w", err)
	}

	j, err := initialData(doc)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.LookupChannel: %w", err)
	}

	const (
		idPath          = "metadata.channelMetadataRenderer.externalId"
		titlePath       = "metadata.channelMetadataRenderer.title"
		descriptionPath = "metadata.channelMetadataRenderer.description"
		avatarPath      = "metadata.channelMetadataRenderer.avatar.thumbnails.0.url"
		vanityURLPath   = "metadata.channelMetadataRenderer.vanityChannelUrl"
	)

	ch := Channel{
		ID:           stringAt(j, idPath),
		Title:        stringAt(j, titlePath),
		Description:  stringAt(j, descriptionPath),
		ThumbnailURL: stringAt(j, avatarPath),
		VanityURL:    stringAt(j, vanityURLPath),
	}

	if ch.ID == "" {
		ch.ID = doc.Find("meta[itemprop=channelId]").AttrOr("content", "")
	}
	if ch.ID == "" {
		ch.ID = doc.Find("meta[itemprop=identifier]").AttrOr("content", "")
	}
	if ch.Title == "" {
		ch.Title = doc.Find("meta[property='og:title']").AttrOr("content", "")
	}
	if ch.Description == "" {
		ch.Description = doc.Find("meta[property='og:description']").AttrOr("content", "")
	}
	if ch.ThumbnailURL == "" {
		ch.ThumbnailURL = doc.Find("meta[property='og:image']").AttrOr("content", "")
	}

	if !ytutil.IsChannelID(ch.ID) {
		return nil, fmt.Errorf("ytdirect.LookupChannel: no channel id found at %s", pageURL)
	}

	return &ch, nil
}

// Resolver turns handles into channel ids by reading the handle's page,
// which costs no API quota.
type Resolver struct {
	// BaseURL replaces https://www.youtube.com; used by tests.
	BaseURL string
}

func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	u := ytutil.HandleURL(handle)
	if r != nil && r.BaseURL != "" {
		u = strings.TrimSuffix(r.BaseURL, "/") + strings.TrimPrefix(u, "https://www.youtube.com")
	}

	ch, err := LookupChannel(ctx, u)
	if err != nil {
		return "", fmt.Errorf("ytdirect.Resolver.ResolveHandle: %w", err)
	}

	return ch.ID, nil
}
