package models

import (
	"time"

	"fknsrs.biz/p/ytfeeds/internal/sqlbuilderutil"
)

var (
	ChannelTable *sqlbuilderutil.Table
)

func init() {
	ChannelTable = sqlbuilderutil.MustMakeTable(Channel{})
}

type Channel struct {
	ID              string    `sql:",table:channels" json:"id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description"`
	ThumbnailURL    *string   `sql:"thumbnail_url" json:"thumbnail_url"`
	URL             string    `sql:"url" json:"url"`
	SubscriberCount *int64    `json:"subscriber_count"`
	AddedDate       time.Time `json:"added_date"`
	Hidden          bool      `json:"hidden"`
}

// ChannelInput is an upsert payload. Absent fields keep their stored value
// on conflict and take the column default on insert.
type ChannelInput struct {
	ID              string
	Name            string
	URL             string
	Description     Field[string]
	ThumbnailURL    Field[string]
	SubscriberCount Field[int64]
	AddedDate       Field[time.Time]
	Hidden          Field[bool]
}
