package queuenames

const (
	RefreshAll     = "refresh_all"
	RefreshChannel = "refresh_channel"
	Seed           = "seed"
	ImportPlaylist = "import_playlist"
)

var All = []string{
	RefreshAll,
	RefreshChannel,
	Seed,
	ImportPlaylist,
}
