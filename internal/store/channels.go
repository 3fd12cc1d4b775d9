package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/ytfeeds/internal/feederr"
	"fknsrs.biz/p/ytfeeds/models"
)

// UpsertChannel inserts the channel or refreshes its descriptive fields. The
// hidden flag and added date are only written when the input carries them,
// so a remote refresh never un-hides a channel.
func (s *Store) UpsertChannel(ctx context.Context, in models.ChannelInput) error {
	if in.ID == "" {
		return fmt.Errorf("store.UpsertChannel: empty channel id: %w", feederr.ErrConstraintViolation)
	}

	u := newUpsert("channels", "id", in.ID).
		set("name", in.Name).
		set("url", in.URL).
		field("description", in.Description).
		field("thumbnail_url", in.ThumbnailURL).
		field("subscriber_count", in.SubscriberCount).
		field("hidden", in.Hidden)

	if in.AddedDate.Present() {
		u.field("added_date", in.AddedDate)
	} else {
		now, err := s.now(ctx)
		if err != nil {
			return fmt.Errorf("store.UpsertChannel: %w", err)
		}

		u.initial("added_date", now)
	}

	query, args := u.sql()
	if _, err := s.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("store.UpsertChannel: %w", err)
	}

	return nil
}

func (s *Store) GetAllChannels(ctx context.Context) ([]models.Channel, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.GetAllChannels: %w", err)
	}

	var channels []models.Channel
	if err := sorm.FindWhere(ctx, q, &channels, "order by name collate nocase asc, id asc"); err != nil {
		return nil, fmt.Errorf("store.GetAllChannels: %w", err)
	}

	return channels, nil
}

// GetVisibleChannels returns channels that are not hidden.
func (s *Store) GetVisibleChannels(ctx context.Context) ([]models.Channel, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.GetVisibleChannels: %w", err)
	}

	var channels []models.Channel
	if err := sorm.FindWhere(ctx, q, &channels, "where hidden = 0 order by name collate nocase asc, id asc"); err != nil {
		return nil, fmt.Errorf("store.GetVisibleChannels: %w", err)
	}

	return channels, nil
}

func (s *Store) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.GetChannel: %w", err)
	}

	var channel models.Channel
	if err := sorm.FindFirstWhere(ctx, q, &channel, "where id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store.GetChannel: %q: %w", id, feederr.ErrChannelNotFound)
		}

		return nil, fmt.Errorf("store.GetChannel: %w", err)
	}

	return &channel, nil
}

func (s *Store) ChannelExists(ctx context.Context, id string) (bool, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return false, fmt.Errorf("store.ChannelExists: %w", err)
	}

	var n int
	if err := q.QueryRowContext(ctx, "select count(*) from channels where id = ?", id).Scan(&n); err != nil {
		return false, fmt.Errorf("store.ChannelExists: %w", err)
	}

	return n > 0, nil
}

func (s *Store) CountChannels(ctx context.Context) (int, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return 0, fmt.Errorf("store.CountChannels: %w", err)
	}

	var n int
	if err := q.QueryRowContext(ctx, "select count(*) from channels").Scan(&n); err != nil {
		return 0, fmt.Errorf("store.CountChannels: %w", err)
	}

	return n, nil
}

// DeleteChannel removes the channel with its videos and their playlist
// links. Stores created before foreign keys were declared have no cascade,
// so the children are removed explicitly.
func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	if err := s.usingTx(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, "delete from playlist_videos where video_id in (select id from videos where channel_id = ?)", id); err != nil {
			return err
		}

		if _, err := s.exec(ctx, "delete from videos where channel_id = ?", id); err != nil {
			return err
		}

		res, err := s.exec(ctx, "delete from channels where id = ?", id)
		if err != nil {
			return err
		}

		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%q: %w", id, feederr.ErrChannelNotFound)
		}

		return nil
	}); err != nil {
		return fmt.Errorf("store.DeleteChannel: %w", err)
	}

	return nil
}

func (s *Store) HideChannel(ctx context.Context, id string) error {
	if err := s.setHidden(ctx, id, true); err != nil {
		return fmt.Errorf("store.HideChannel: %w", err)
	}

	return nil
}

func (s *Store) UnhideChannel(ctx context.Context, id string) error {
	if err := s.setHidden(ctx, id, false); err != nil {
		return fmt.Errorf("store.UnhideChannel: %w", err)
	}

	return nil
}

func (s *Store) setHidden(ctx context.Context, id string, hidden bool) error {
	res, err := s.exec(ctx, "update channels set hidden = ? where id = ?", hidden, id)
	if err != nil {
		return err
	}

	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%q: %w", id, feederr.ErrChannelNotFound)
	}

	return nil
}
