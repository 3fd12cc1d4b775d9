package models

import (
	"time"

	"fknsrs.biz/p/ytfeeds/internal/sqlbuilderutil"
)

var (
	VideoTable *sqlbuilderutil.Table
)

func init() {
	VideoTable = sqlbuilderutil.MustMakeTable(Video{})
}

type Video struct {
	ID              string     `sql:",table:videos" json:"id"`
	Title           string     `json:"title"`
	ChannelID       string     `json:"channel_id"`
	ChannelName     string     `json:"channel_name"`
	Description     *string    `json:"description"`
	ThumbnailURL    *string    `sql:"thumbnail_url" json:"thumbnail_url"`
	URL             string     `sql:"url" json:"url"`
	DurationSeconds *int64     `json:"duration_seconds"`
	UploadDate      *time.Time `json:"upload_date"`
	ViewCount       *int64     `json:"view_count"`
	Watched         bool       `json:"watched"`
	WatchedDate     *time.Time `json:"watched_date"`
}

// VideoInput is an upsert payload. Remote ingestion leaves Watched and
// WatchedDate absent so local watch state survives a refetch.
type VideoInput struct {
	ID              string
	ChannelID       string
	ChannelName     string
	Title           string
	URL             string
	Description     Field[string]
	ThumbnailURL    Field[string]
	DurationSeconds Field[int64]
	UploadDate      Field[time.Time]
	ViewCount       Field[int64]
	Watched         Field[bool]
	WatchedDate     Field[time.Time]
}
