package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fknsrs.biz/p/sorm"
	"github.com/google/uuid"

	"fknsrs.biz/p/ytfeeds/internal/feederr"
	"fknsrs.biz/p/ytfeeds/models"
)

func (s *Store) CreatePlaylist(ctx context.Context, name string, description *string) (*models.Playlist, error) {
	if name == "" {
		return nil, fmt.Errorf("store.CreatePlaylist: empty name: %w", feederr.ErrConstraintViolation)
	}

	now, err := s.now(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.CreatePlaylist: %w", err)
	}

	id := uuid.NewString()

	if _, err := s.exec(
		ctx,
		"insert into playlists (id, name, description, created_date, updated_date) values (?, ?, ?, ?, ?)",
		id,
		name,
		description,
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("store.CreatePlaylist: %w", err)
	}

	playlist, err := s.GetPlaylist(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("store.CreatePlaylist: %w", err)
	}

	return playlist, nil
}

// UpdatePlaylist applies the present fields of patch and bumps the updated
// date, even for an empty patch.
func (s *Store) UpdatePlaylist(ctx context.Context, id string, patch models.PlaylistPatch) error {
	if patch.Name.IsNull() {
		return fmt.Errorf("store.UpdatePlaylist: name cannot be null: %w", feederr.ErrConstraintViolation)
	}

	now, err := s.now(ctx)
	if err != nil {
		return fmt.Errorf("store.UpdatePlaylist: %w", err)
	}

	query := "update playlists set updated_date = ?"
	args := []interface{}{now}

	if patch.Name.Present() {
		query += ", name = ?"
		args = append(args, patch.Name.SQLValue())
	}
	if patch.Description.Present() {
		query += ", description = ?"
		args = append(args, patch.Description.SQLValue())
	}

	query += " where id = ?"
	args = append(args, id)

	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store.UpdatePlaylist: %w", err)
	}

	if err := expectOne(res, id, feederr.ErrPlaylistNotFound); err != nil {
		return fmt.Errorf("store.UpdatePlaylist: %w", err)
	}

	return nil
}

func (s *Store) DeletePlaylist(ctx context.Context, id string) error {
	if err := s.usingTx(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, "delete from playlist_videos where playlist_id = ?", id); err != nil {
			return err
		}

		res, err := s.exec(ctx, "delete from playlists where id = ?", id)
		if err != nil {
			return err
		}

		return expectOne(res, id, feederr.ErrPlaylistNotFound)
	}); err != nil {
		return fmt.Errorf("store.DeletePlaylist: %w", err)
	}

	return nil
}

// GetAllPlaylists returns playlists with their video counts, most recently
// updated first.
func (s *Store) GetAllPlaylists(ctx context.Context) ([]models.Playlist, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.GetAllPlaylists: %w", err)
	}

	var playlists []models.Playlist
	if err := sorm.FindWhere(ctx, q, &playlists, "order by updated_date desc, id asc"); err != nil {
		return nil, fmt.Errorf("store.GetAllPlaylists: %w", err)
	}

	return playlists, nil
}

func (s *Store) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.GetPlaylist: %w", err)
	}

	var playlist models.Playlist
	if err := sorm.FindFirstWhere(ctx, q, &playlist, "where id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store.GetPlaylist: %q: %w", id, feederr.ErrPlaylistNotFound)
		}

		return nil, fmt.Errorf("store.GetPlaylist: %w", err)
	}

	return &playlist, nil
}

// GetPlaylistVideos returns the playlist's videos in position order.
func (s *Store) GetPlaylistVideos(ctx context.Context, playlistID string) ([]models.PlaylistEntry, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.GetPlaylistVideos: %w", err)
	}

	var entries []models.PlaylistEntry
	if err := sorm.FindWhere(ctx, q, &entries, "where playlist_id = ? order by position asc, added_date asc", playlistID); err != nil {
		return nil, fmt.Errorf("store.GetPlaylistVideos: %w", err)
	}

	return entries, nil
}

// AddVideoToPlaylist links a video to a playlist. Adding a video that is
// already linked changes nothing unless a position is given.
func (s *Store) AddVideoToPlaylist(ctx context.Context, in models.PlaylistVideoInput) error {
	if err := s.usingTx(ctx, func(ctx context.Context) error {
		q, err := s.querier(ctx)
		if err != nil {
			return err
		}

		var playlists int
		if err := q.QueryRowContext(ctx, "select count(*) from playlists where id = ?", in.PlaylistID).Scan(&playlists); err != nil {
			return err
		}
		if playlists == 0 {
			return fmt.Errorf("%q: %w", in.PlaylistID, feederr.ErrPlaylistNotFound)
		}

		now, err := s.now(ctx)
		if err != nil {
			return err
		}

		var linked int
		if err := q.QueryRowContext(ctx, "select count(*) from playlist_videos where playlist_id = ? and video_id = ?", in.PlaylistID, in.VideoID).Scan(&linked); err != nil {
			return err
		}

		position, hasPosition := in.Position.Get()

		switch {
		case linked > 0 && !hasPosition:
			return nil
		case linked > 0:
			if _, err := s.exec(ctx, "update playlist_videos set position = ? where playlist_id = ? and video_id = ?", position, in.PlaylistID, in.VideoID); err != nil {
				return err
			}
		default:
			if !hasPosition {
				if err := q.QueryRowContext(ctx, "select coalesce(max(position), -1) + 1 from playlist_videos where playlist_id = ?", in.PlaylistID).Scan(&position); err != nil {
					return err
				}
			}

			if _, err := s.exec(
				ctx,
				"insert into playlist_videos (playlist_id, video_id, added_date, position) values (?, ?, ?, ?)",
				in.PlaylistID,
				in.VideoID,
				now,
				position,
			); err != nil {
				return err
			}
		}

		_, err = s.exec(ctx, "update playlists set updated_date = ? where id = ?", now, in.PlaylistID)
		return err
	}); err != nil {
		return fmt.Errorf("store.AddVideoToPlaylist: %w", err)
	}

	return nil
}

// RemoveVideoFromPlaylist unlinks the video. Removing a video that is not
// linked is not an error.
func (s *Store) RemoveVideoFromPlaylist(ctx context.Context, playlistID, videoID string) error {
	if err := s.usingTx(ctx, func(ctx context.Context) error {
		res, err := s.exec(ctx, "delete from playlist_videos where playlist_id = ? and video_id = ?", playlistID, videoID)
		if err != nil {
			return err
		}

		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		now, err := s.now(ctx)
		if err != nil {
			return err
		}

		_, err = s.exec(ctx, "update playlists set updated_date = ? where id = ?", now, playlistID)
		return err
	}); err != nil {
		return fmt.Errorf("store.RemoveVideoFromPlaylist: %w", err)
	}

	return nil
}

func (s *Store) IsVideoInPlaylist(ctx context.Context, playlistID, videoID string) (bool, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return false, fmt.Errorf("store.IsVideoInPlaylist: %w", err)
	}

	var n int
	if err := q.QueryRowContext(ctx, "select count(*) from playlist_videos where playlist_id = ? and video_id = ?", playlistID, videoID).Scan(&n); err != nil {
		return false, fmt.Errorf("store.IsVideoInPlaylist: %w", err)
	}

	return n > 0, nil
}

// GetVideoPlaylists returns the playlists containing the video.
func (s *Store) GetVideoPlaylists(ctx context.Context, videoID string) ([]models.Playlist, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.GetVideoPlaylists: %w", err)
	}

	var playlists []models.Playlist
	if err := sorm.FindWhere(
		ctx,
		q,
		&playlists,
		"where id in (select playlist_id from playlist_videos where video_id = ?) order by updated_date desc, id asc",
		videoID,
	); err != nil {
		return nil, fmt.Errorf("store.GetVideoPlaylists: %w", err)
	}

	return playlists, nil
}
