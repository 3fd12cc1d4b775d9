package models

import (
	"database/sql"
	"time"

	"fknsrs.biz/p/ytfeeds/internal/sqlbuilderutil"
	"fknsrs.biz/p/ytfeeds/internal/sqltypes"
)

var (
	PlaylistTable *sqlbuilderutil.Table
)

func init() {
	PlaylistTable = sqlbuilderutil.MustMakeTable(Playlist{})
}

// Playlist is read through the playlist_summary view, which carries the
// derived video count.
type Playlist struct {
	ID          string    `sql:",table:playlist_summary" json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedDate time.Time `json:"created_date"`
	UpdatedDate time.Time `json:"updated_date"`
	VideoCount  int       `json:"video_count"`
}

func (p *Playlist) OverrideScan(names []string, scanners []sql.Scanner) error {
	for i, name := range names {
		switch name {
		case "CreatedDate":
			scanners[i] = &sqltypes.TimeScanner{Value: &p.CreatedDate}
		case "UpdatedDate":
			scanners[i] = &sqltypes.TimeScanner{Value: &p.UpdatedDate}
		}
	}

	return nil
}

type PlaylistPatch struct {
	Name        Field[string] `json:"name"`
	Description Field[string] `json:"description"`
}

func (p PlaylistPatch) IsEmpty() bool {
	return !p.Name.Present() && !p.Description.Present()
}
