package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gavelbot/gavel/gavelbot/database/models"
	"github.com/uptrace/bun"
)

// ErrNotBound means the user has no channel binding yet.
var ErrNotBound = errors.New("no channel bound")

type BindingRepository interface {
	Set(ctx context.Context, userID, channelID string) error
	Get(ctx context.Context, userID string) (string, error)
}

type bindingRepository struct {
	db *bun.DB
}

func NewBindingRepository(db *bun.DB) BindingRepository {
	return &bindingRepository{db: db}
}

func (r *bindingRepository) Set(ctx context.Context, userID, channelID string) error {
	binding := &models.Binding{
		UserID:    userID,
		ChannelID: channelID,
		CreatedAt: time.Now(),
	}

	_, err := r.db.NewInsert().
		Model(binding).
		On("CONFLICT (user_id) DO UPDATE").
		Set("channel_id = EXCLUDED.channel_id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set binding: %w", err)
	}
	return nil
}

func (r *bindingRepository) Get(ctx context.Context, userID string) (string, error) {
	binding := new(models.Binding)
	err := r.db.NewSelect().
		Model(binding).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotBound
		}
		return "", fmt.Errorf("failed to get binding: %w", err)
	}
	return binding.ChannelID, nil
}
