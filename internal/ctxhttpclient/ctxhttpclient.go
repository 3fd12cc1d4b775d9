package ctxhttpclient

import (
	"context"
	"net/http"
	"time"
)

// DefaultClient is used when the context carries no client. Scraping
// requests should never hang a background job.
var DefaultClient = &http.Client{Timeout: time.Second * 30}

var httpClientKey int

func WithHTTPClient(ctx context.Context, httpClient *http.Client) context.Context {
	return context.WithValue(ctx, &httpClientKey, httpClient)
}

func GetHTTPClient(ctx context.Context) *http.Client {
	if v, ok := ctx.Value(&httpClientKey).(*http.Client); ok && v != nil {
		return v
	}

	return DefaultClient
}
