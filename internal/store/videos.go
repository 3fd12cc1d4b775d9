package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fknsrs.biz/p/sorm"
	"fknsrs.biz/p/sorm/qsorm"
	sb "fknsrs.biz/p/sqlbuilder"

	"fknsrs.biz/p/ytfeeds/internal/feederr"
	"fknsrs.biz/p/ytfeeds/internal/sqlbuilderutil"
	"fknsrs.biz/p/ytfeeds/models"
)

const visibleChannels = "(select id from channels where hidden = 0)"

// UpsertVideo inserts the video or refreshes its descriptive fields. Watch
// state is only written when the input carries it.
func (s *Store) UpsertVideo(ctx context.Context, in models.VideoInput) error {
	if err := s.upsertVideo(ctx, in); err != nil {
		return fmt.Errorf("store.UpsertVideo: %w", err)
	}

	return nil
}

// UpsertVideos writes every video in one transaction; one bad row rolls back
// the batch.
func (s *Store) UpsertVideos(ctx context.Context, in []models.VideoInput) error {
	if len(in) == 0 {
		return nil
	}

	if err := s.usingTx(ctx, func(ctx context.Context) error {
		for _, v := range in {
			if err := s.upsertVideo(ctx, v); err != nil {
				return err
			}
		}

		return nil
	}); err != nil {
		return fmt.Errorf("store.UpsertVideos: %w", err)
	}

	return nil
}

func (s *Store) upsertVideo(ctx context.Context, in models.VideoInput) error {
	if in.ID == "" {
		return fmt.Errorf("empty video id: %w", feederr.ErrConstraintViolation)
	}

	u := newUpsert("videos", "id", in.ID).
		set("title", in.Title).
		set("channel_id", in.ChannelID).
		set("channel_name", in.ChannelName).
		set("url", in.URL).
		field("description", in.Description).
		field("thumbnail_url", in.ThumbnailURL).
		field("duration_seconds", in.DurationSeconds).
		field("upload_date", in.UploadDate).
		field("view_count", in.ViewCount).
		field("watched", in.Watched)

	switch watched, ok := in.Watched.Get(); {
	case in.WatchedDate.Present():
		u.field("watched_date", in.WatchedDate)
	case ok && watched:
		now, err := s.now(ctx)
		if err != nil {
			return err
		}
		u.set("watched_date", now)
	case ok && !watched:
		u.set("watched_date", nil)
	}

	query, args := u.sql()
	if _, err := s.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("video %q: %w", in.ID, err)
	}

	return nil
}

func (s *Store) findVideos(ctx context.Context, where string, args ...interface{}) ([]models.Video, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, err
	}

	var videos []models.Video
	if err := sorm.FindWhere(ctx, q, &videos, where, args...); err != nil {
		return nil, err
	}

	return videos, nil
}

func (s *Store) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.GetVideo: %w", err)
	}

	var video models.Video
	if err := sorm.FindFirstWhere(ctx, q, &video, "where id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store.GetVideo: %q: %w", id, feederr.ErrVideoNotFound)
		}

		return nil, fmt.Errorf("store.GetVideo: %w", err)
	}

	return &video, nil
}

// GetAllVideos returns videos of visible channels, newest upload first.
func (s *Store) GetAllVideos(ctx context.Context) ([]models.Video, error) {
	videos, err := s.findVideos(ctx, "where channel_id in "+visibleChannels+" order by upload_date desc, id asc")
	if err != nil {
		return nil, fmt.Errorf("store.GetAllVideos: %w", err)
	}

	return videos, nil
}

// GetChannelVideos ignores the hidden flag; a channel's own page always
// lists its videos.
func (s *Store) GetChannelVideos(ctx context.Context, channelID string) ([]models.Video, error) {
	videos, err := s.findVideos(ctx, "where channel_id = ? order by upload_date desc, id asc", channelID)
	if err != nil {
		return nil, fmt.Errorf("store.GetChannelVideos: %w", err)
	}

	return videos, nil
}

// GetWatchedVideos returns the watch history, most recently watched first.
func (s *Store) GetWatchedVideos(ctx context.Context) ([]models.Video, error) {
	videos, err := s.findVideos(ctx, "where watched = 1 order by watched_date desc, upload_date desc, id asc")
	if err != nil {
		return nil, fmt.Errorf("store.GetWatchedVideos: %w", err)
	}

	return videos, nil
}

func (s *Store) GetUnwatchedVideos(ctx context.Context) ([]models.Video, error) {
	videos, err := s.findVideos(ctx, "where watched = 0 and channel_id in "+visibleChannels+" order by upload_date desc, id asc")
	if err != nil {
		return nil, fmt.Errorf("store.GetUnwatchedVideos: %w", err)
	}

	return videos, nil
}

// SearchVideos matches query as a case-insensitive substring of the title,
// channel name or description of videos from visible channels.
func (s *Store) SearchVideos(ctx context.Context, query string, limit int) ([]models.Video, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.SearchVideos: %w", err)
	}

	if limit <= 0 {
		limit = 100
	}

	var condition sb.AsExpr = sb.BinaryOperator("in", models.VideoTable.C("ChannelID"), sb.Literal(visibleChannels))
	if query = strings.TrimSpace(query); query != "" {
		condition = sb.BooleanOperator(
			"and",
			condition,
			sqlbuilderutil.AnyContainsFold(
				query,
				models.VideoTable.C("Title"),
				models.VideoTable.C("ChannelName"),
				models.VideoTable.C("Description"),
			),
		)
	}

	var videos []models.Video
	if err := qsorm.FindWhere(
		ctx,
		q,
		&videos,
		condition,
		models.VideoTable.Order("-UploadDate", "ID"),
		sb.OffsetLimit(nil, sb.Bind(limit)),
	); err != nil {
		return nil, fmt.Errorf("store.SearchVideos: %w", err)
	}

	return videos, nil
}

// MarkVideoAsWatched stamps the watched date on the first transition only.
func (s *Store) MarkVideoAsWatched(ctx context.Context, id string) error {
	now, err := s.now(ctx)
	if err != nil {
		return fmt.Errorf("store.MarkVideoAsWatched: %w", err)
	}

	res, err := s.exec(
		ctx,
		"update videos set watched_date = case when watched = 1 and watched_date is not null then watched_date else ? end, watched = 1 where id = ?",
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("store.MarkVideoAsWatched: %w", err)
	}

	if err := expectOne(res, id, feederr.ErrVideoNotFound); err != nil {
		return fmt.Errorf("store.MarkVideoAsWatched: %w", err)
	}

	return nil
}

func (s *Store) MarkVideoAsUnwatched(ctx context.Context, id string) error {
	res, err := s.exec(ctx, "update videos set watched = 0, watched_date = null where id = ?", id)
	if err != nil {
		return fmt.Errorf("store.MarkVideoAsUnwatched: %w", err)
	}

	if err := expectOne(res, id, feederr.ErrVideoNotFound); err != nil {
		return fmt.Errorf("store.MarkVideoAsUnwatched: %w", err)
	}

	return nil
}

func (s *Store) DeleteVideo(ctx context.Context, id string) error {
	if err := s.usingTx(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, "delete from playlist_videos where video_id = ?", id); err != nil {
			return err
		}

		res, err := s.exec(ctx, "delete from videos where id = ?", id)
		if err != nil {
			return err
		}

		return expectOne(res, id, feederr.ErrVideoNotFound)
	}); err != nil {
		return fmt.Errorf("store.DeleteVideo: %w", err)
	}

	return nil
}

func (s *Store) DeleteChannelVideos(ctx context.Context, channelID string) error {
	if err := s.usingTx(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, "delete from playlist_videos where video_id in (select id from videos where channel_id = ?)", channelID); err != nil {
			return err
		}

		_, err := s.exec(ctx, "delete from videos where channel_id = ?", channelID)
		return err
	}); err != nil {
		return fmt.Errorf("store.DeleteChannelVideos: %w", err)
	}

	return nil
}

// ClearAllVideos drops every cached video and playlist link, keeping
// channels and playlists.
func (s *Store) ClearAllVideos(ctx context.Context) error {
	if err := s.usingTx(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, "delete from playlist_videos"); err != nil {
			return err
		}

		_, err := s.exec(ctx, "delete from videos")
		return err
	}); err != nil {
		return fmt.Errorf("store.ClearAllVideos: %w", err)
	}

	return nil
}

func expectOne(res sql.Result, id string, notFound error) error {
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%q: %w", id, notFound)
	}

	return nil
}
