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

var (
	// ErrNotFound means no auction matched the given key.
	ErrNotFound = errors.New("auction not found")
	// ErrConflict means a conditioned update lost the race: the row's
	// version no longer matches the one the caller read. The caller must
	// re-read and re-validate before retrying.
	ErrConflict = errors.New("auction version conflict")
)

type AuctionRepository interface {
	Create(ctx context.Context, auction *models.Auction) error
	GetByID(ctx context.Context, id int64) (*models.Auction, error)
	GetByAuctionID(ctx context.Context, auctionID string) (*models.Auction, error)
	GetByPost(ctx context.Context, channelID, messageID string) (*models.Auction, error)
	AuctionIDExists(ctx context.Context, auctionID string) (bool, error)

	// UpdateBidState writes the mutable bidding fields conditioned on the
	// version the auction was read at. On success the auction's Version is
	// advanced in place.
	UpdateBidState(ctx context.Context, auction *models.Auction) error
	// MarkPublished transitions scheduled -> live and records the post identity.
	MarkPublished(ctx context.Context, id int64, messageID string, version int64) error
	// MarkEnded transitions live -> ended. At most one caller can win this
	// transition for a given auction.
	MarkEnded(ctx context.Context, id int64, version int64) error
	// SetMessageID backfills the post identity of an already-live auction
	// whose initial publication failed.
	SetMessageID(ctx context.Context, id int64, messageID string, version int64) error

	ListLiveBefore(ctx context.Context, t time.Time) ([]*models.Auction, error)
	ListLiveUnpublished(ctx context.Context) ([]*models.Auction, error)
	ListLiveByChannel(ctx context.Context, channelID string) ([]*models.Auction, error)
	ListScheduled(ctx context.Context) ([]*models.Auction, error)
	ListScheduledByOwner(ctx context.Context, ownerID string) ([]*models.Auction, error)

	DeleteScheduled(ctx context.Context, id int64, ownerID string) error
}

type auctionRepository struct {
	db *bun.DB
}

func NewAuctionRepository(db *bun.DB) AuctionRepository {
	return &auctionRepository{db: db}
}

func (r *auctionRepository) Create(ctx context.Context, auction *models.Auction) error {
	auction.CreatedAt = time.Now()
	auction.UpdatedAt = time.Now()
	auction.Version = 0

	_, err := r.db.NewInsert().Model(auction).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

func (r *auctionRepository) GetByID(ctx context.Context, id int64) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

func (r *auctionRepository) GetByAuctionID(ctx context.Context, auctionID string) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("auction_id = ?", auctionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

func (r *auctionRepository) GetByPost(ctx context.Context, channelID, messageID string) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("channel_id = ? AND message_id = ?", channelID, messageID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction by post: %w", err)
	}
	return auction, nil
}

func (r *auctionRepository) AuctionIDExists(ctx context.Context, auctionID string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.Auction)(nil)).
		Where("auction_id = ?", auctionID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check auction ID: %w", err)
	}
	return exists, nil
}

func (r *auctionRepository) UpdateBidState(ctx context.Context, auction *models.Auction) error {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("highest_bid = ?", auction.HighestBid).
		Set("highest_bidder = ?", auction.HighestBidder).
		Set("end_time = ?", auction.EndTime).
		Set("reply_anchor = ?", auction.ReplyAnchor).
		Set("bid_count = ?", auction.BidCount).
		Set("version = version + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND version = ?", auction.ID, auction.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update bid state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}

	auction.Version++
	return nil
}

func (r *auctionRepository) MarkPublished(ctx context.Context, id int64, messageID string, version int64) error {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusLive).
		Set("message_id = ?", messageID).
		Set("version = version + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND version = ? AND status = ?", id, version, models.AuctionStatusScheduled).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark auction published: %w", err)
	}
	return rowsOrConflict(result)
}

func (r *auctionRepository) MarkEnded(ctx context.Context, id int64, version int64) error {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusEnded).
		Set("version = version + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND version = ? AND status = ?", id, version, models.AuctionStatusLive).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark auction ended: %w", err)
	}
	return rowsOrConflict(result)
}

func (r *auctionRepository) SetMessageID(ctx context.Context, id int64, messageID string, version int64) error {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("message_id = ?", messageID).
		Set("version = version + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND version = ?", id, version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set message ID: %w", err)
	}
	return rowsOrConflict(result)
}

func (r *auctionRepository) ListLiveBefore(ctx context.Context, t time.Time) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusLive).
		Where("end_time <= ?", t).
		Order("end_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired auctions: %w", err)
	}
	return auctions, nil
}

func (r *auctionRepository) ListLiveUnpublished(ctx context.Context) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusLive).
		Where("message_id = ''").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unpublished auctions: %w", err)
	}
	return auctions, nil
}

func (r *auctionRepository) ListLiveByChannel(ctx context.Context, channelID string) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusLive).
		Where("channel_id = ?", channelID).
		Order("end_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list live auctions: %w", err)
	}
	return auctions, nil
}

func (r *auctionRepository) ListScheduled(ctx context.Context) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusScheduled).
		Order("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled auctions: %w", err)
	}
	return auctions, nil
}

func (r *auctionRepository) ListScheduledByOwner(ctx context.Context, ownerID string) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusScheduled).
		Where("owner_id = ?", ownerID).
		Order("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled auctions: %w", err)
	}
	return auctions, nil
}

func (r *auctionRepository) DeleteScheduled(ctx context.Context, id int64, ownerID string) error {
	result, err := r.db.NewDelete().
		Model((*models.Auction)(nil)).
		Where("id = ? AND owner_id = ? AND status = ?", id, ownerID, models.AuctionStatusScheduled).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled auction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func rowsOrConflict(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}
