package models

import (
	"database/sql"
	"time"

	"fknsrs.biz/p/ytfeeds/internal/sqlbuilderutil"
	"fknsrs.biz/p/ytfeeds/internal/sqltypes"
)

var (
	PlaylistEntryTable *sqlbuilderutil.Table
)

func init() {
	PlaylistEntryTable = sqlbuilderutil.MustMakeTable(PlaylistEntry{})
}

type PlaylistEntry struct {
	PlaylistID      string     `sql:",table:playlist_video_listing" json:"playlist_id"`
	Position        int        `json:"position"`
	AddedDate       time.Time  `json:"added_date"`
	VideoID         string     `json:"video_id"`
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

func (e *PlaylistEntry) OverrideScan(names []string, scanners []sql.Scanner) error {
	for i, name := range names {
		switch name {
		case "AddedDate":
			scanners[i] = &sqltypes.TimeScanner{Value: &e.AddedDate}
		case "UploadDate":
			scanners[i] = &sqltypes.TimePointerScanner{Value: &e.UploadDate}
		case "WatchedDate":
			scanners[i] = &sqltypes.TimePointerScanner{Value: &e.WatchedDate}
		}
	}

	return nil
}

func (e *PlaylistEntry) Video() Video {
	return Video{
		ID:              e.VideoID,
		Title:           e.Title,
		ChannelID:       e.ChannelID,
		ChannelName:     e.ChannelName,
		Description:     e.Description,
		ThumbnailURL:    e.ThumbnailURL,
		URL:             e.URL,
		DurationSeconds: e.DurationSeconds,
		UploadDate:      e.UploadDate,
		ViewCount:       e.ViewCount,
		Watched:         e.Watched,
		WatchedDate:     e.WatchedDate,
	}
}
