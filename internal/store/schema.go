package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytfeeds/internal/ctxdb"
	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
)

var createTables = []string{
	`create table if not exists channels (
		id text not null primary key,
		name text not null,
		description text,
		thumbnail_url text,
		url text not null,
		subscriber_count integer,
		added_date datetime not null,
		hidden integer not null default 0
	)`,
	`create table if not exists videos (
		id text not null primary key,
		title text not null,
		channel_id text not null references channels (id) on delete cascade,
		channel_name text not null,
		description text,
		thumbnail_url text,
		url text not null,
		duration_seconds integer,
		upload_date datetime,
		view_count integer,
		watched integer not null default 0,
		watched_date datetime
	)`,
	`create table if not exists playlists (
		id text not null primary key,
		name text not null,
		description text,
		created_date datetime not null,
		updated_date datetime not null
	)`,
	`create table if not exists playlist_videos (
		playlist_id text not null references playlists (id) on delete cascade,
		video_id text not null references videos (id) on delete cascade,
		added_date datetime not null,
		position integer not null,
		primary key (playlist_id, video_id)
	)`,
	`create table if not exists settings (
		key text not null primary key,
		value text not null
	)`,
	`create table if not exists jobs (
		id integer not null primary key autoincrement,
		created_at datetime not null,
		queue_name text not null,
		payload text not null,
		run_after datetime not null,
		failure_delay integer not null,
		attempts_remaining integer not null,
		reserved_at datetime,
		reserved_until datetime,
		finished_at datetime,
		error_messages text not null default '[]',
		output_messages text not null default '[]'
	)`,
}

// columns added after the first release; older stores get them on startup
var addColumns = []struct {
	table, column, definition string
}{
	{"channels", "hidden", "integer not null default 0"},
	{"videos", "watched", "integer not null default 0"},
	{"videos", "watched_date", "datetime"},
}

var createIndexes = []string{
	"create index if not exists idx_videos_channel_id on videos (channel_id)",
	"create index if not exists idx_videos_upload_date on videos (upload_date)",
	"create index if not exists idx_videos_watched on videos (watched)",
	"create index if not exists idx_channels_hidden on channels (hidden)",
	"create index if not exists idx_playlist_videos_playlist_id on playlist_videos (playlist_id)",
	"create index if not exists idx_playlist_videos_position on playlist_videos (playlist_id, position)",
	"create index if not exists idx_jobs_pending on jobs (finished_at, queue_name, run_after)",
}

var createViews = []struct {
	name, query string
}{
	{"playlist_summary", `
		select
			p.id as id,
			p.name as name,
			p.description as description,
			p.created_date as created_date,
			p.updated_date as updated_date,
			(select count(*) from playlist_videos pv where pv.playlist_id = p.id) as video_count
		from playlists p
	`},
	{"playlist_video_listing", `
		select
			pv.playlist_id as playlist_id,
			pv.position as position,
			pv.added_date as added_date,
			v.id as video_id,
			v.title as title,
			v.channel_id as channel_id,
			v.channel_name as channel_name,
			v.description as description,
			v.thumbnail_url as thumbnail_url,
			v.url as url,
			v.duration_seconds as duration_seconds,
			v.upload_date as upload_date,
			v.view_count as view_count,
			v.watched as watched,
			v.watched_date as watched_date
		from playlist_videos pv
		join videos v on v.id = pv.video_id
	`},
}

func migrate(ctx context.Context, db *sql.DB) error {
	l := ctxlogger.GetLogger(ctx)

	return ctxdb.UsingTx(ctxdb.WithDB(ctx, db), nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, q := range createTables {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("store.migrate: could not create table: %w", err)
			}
		}

		for _, c := range addColumns {
			exists, err := columnExists(ctx, tx, c.table, c.column)
			if err != nil {
				return fmt.Errorf("store.migrate: %w", err)
			}
			if exists {
				continue
			}

			l.WithFields(logrus.Fields{
				"store.table":  c.table,
				"store.column": c.column,
			}).Info("adding missing column")

			if _, err := tx.ExecContext(ctx, fmt.Sprintf("alter table %s add column %s %s", c.table, c.column, c.definition)); err != nil {
				return fmt.Errorf("store.migrate: could not add column %s.%s: %w", c.table, c.column, err)
			}
		}

		for _, q := range createIndexes {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("store.migrate: could not create index: %w", err)
			}
		}

		for _, v := range createViews {
			if _, err := tx.ExecContext(ctx, "drop view if exists "+v.name); err != nil {
				return fmt.Errorf("store.migrate: could not drop view %s: %w", v.name, err)
			}
			if _, err := tx.ExecContext(ctx, "create view "+v.name+" as "+v.query); err != nil {
				return fmt.Errorf("store.migrate: could not create view %s: %w", v.name, err)
			}
		}

		return nil
	})
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, "select name from pragma_table_info(?)", table)
	if err != nil {
		return false, fmt.Errorf("store.columnExists: could not read columns of %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, fmt.Errorf("store.columnExists: %w", err)
		}

		if name == column {
			return true, nil
		}
	}

	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("store.columnExists: %w", err)
	}

	return false, nil
}
