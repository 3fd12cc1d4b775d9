package models

import (
	"time"

	"fknsrs.biz/p/ytfeeds/internal/sqlbuilderutil"
)

var (
	PlaylistVideoTable *sqlbuilderutil.Table
)

func init() {
	PlaylistVideoTable = sqlbuilderutil.MustMakeTable(PlaylistVideo{})
}

type PlaylistVideo struct {
	PlaylistID string    `sql:",table:playlist_videos" json:"playlist_id"`
	VideoID    string    `json:"video_id"`
	AddedDate  time.Time `json:"added_date"`
	Position   int       `json:"position"`
}

// PlaylistVideoInput links a video to a playlist. Position is appended after
// the current maximum unless given.
type PlaylistVideoInput struct {
	PlaylistID string
	VideoID    string
	Position   Field[int]
}
