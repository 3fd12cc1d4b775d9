package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting reports whether key is set, and its value if so.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return "", false, fmt.Errorf("store.GetSetting: %w", err)
	}

	var value string
	if err := q.QueryRowContext(ctx, "select value from settings where key = ?", key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("store.GetSetting: %w", err)
	}

	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.exec(ctx, "insert into settings (key, value) values (?, ?) on conflict (key) do update set value = excluded.value", key, value); err != nil {
		return fmt.Errorf("store.SetSetting: %w", err)
	}

	return nil
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.exec(ctx, "delete from settings where key = ?", key); err != nil {
		return fmt.Errorf("store.DeleteSetting: %w", err)
	}

	return nil
}
