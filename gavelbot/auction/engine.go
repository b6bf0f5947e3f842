package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gavelbot/gavel/gavelbot/database/models"
	"github.com/gavelbot/gavel/gavelbot/database/repositories"
)

const (
	// maxBidRetries bounds the read-validate-write loop under contention.
	maxBidRetries     = 5
	sideEffectTimeout = 30 * time.Second
)

// Terms are the immutable parameters of a new auction.
type Terms struct {
	ChannelID    string
	OwnerID      string
	Title        string
	Description  string
	StartingBid  int64
	ReservePrice int64
	MinIncrement int64
	AntiSnipe    time.Duration
	ImageURL     string

	// Exactly one of Duration and EndAt must be set.
	Duration time.Duration
	EndAt    time.Time

	// Zero means publish immediately; a future instant means create a
	// scheduled auction published later by the scheduler.
	StartAt time.Time
}

// PostKey identifies an auction by its published post.
type PostKey struct {
	ChannelID string
	MessageID string
}

// RawBid is a bid as received from the transport. The "sb" token is only
// resolved against the auction's current state inside Bid.
type RawBid struct {
	Amount  int64
	Opening bool
}

var bidPattern = regexp.MustCompile(`^\d+$`)

// ParseRawBid recognizes a positive integer or the case-insensitive "sb"
// token. Anything else is not a bid and should be ignored by the caller.
func ParseRawBid(text string) (RawBid, bool) {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "sb") {
		return RawBid{Opening: true}, true
	}
	if !bidPattern.MatchString(text) {
		return RawBid{}, false
	}
	amount, err := strconv.ParseInt(text, 10, 64)
	if err != nil || amount <= 0 {
		return RawBid{}, false
	}
	return RawBid{Amount: amount}, true
}

// BidResult reports an accepted bid.
type BidResult struct {
	Auction  *models.Auction
	Amount   int64
	Extended bool
}

// Engine is the auction lifecycle state machine. All mutations go through the
// store's version-conditioned updates; the engine never holds locks across
// publication side effects.
type Engine struct {
	repo      repositories.AuctionRepository
	publisher Publisher
	clock     Clock
	idgen     *IDGenerator
}

func NewEngine(repo repositories.AuctionRepository, publisher Publisher, clock Clock) *Engine {
	if repo == nil {
		panic("auction repository cannot be nil")
	}
	if publisher == nil {
		panic("publisher cannot be nil")
	}
	if clock == nil {
		clock = SystemClock()
	}

	return &Engine{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		idgen:     NewIDGenerator(repo),
	}
}

// Create validates the terms, persists the auction, and publishes it unless a
// future start time defers publication to the scheduler. The record is
// durable before the post is attempted; a failed post leaves a live auction
// without a message ID, which the sweep retries.
func (e *Engine) Create(ctx context.Context, terms Terms) (*models.Auction, error) {
	now := e.clock.Now()

	if err := validateTerms(terms, now); err != nil {
		return nil, err
	}

	endTime := terms.EndAt
	if endTime.IsZero() {
		endTime = now.Add(terms.Duration)
	}

	auctionID, err := e.idgen.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate auction ID: %w", err)
	}

	auction := &models.Auction{
		AuctionID:    auctionID,
		ChannelID:    terms.ChannelID,
		Title:        terms.Title,
		Description:  terms.Description,
		StartingBid:  terms.StartingBid,
		ReservePrice: terms.ReservePrice,
		MinIncrement: terms.MinIncrement,
		AntiSnipe:    terms.AntiSnipe,
		OwnerID:      terms.OwnerID,
		EndTime:      endTime,
		ImageURL:     terms.ImageURL,
		Status:       models.AuctionStatusLive,
	}

	if terms.StartAt.After(now) {
		auction.Status = models.AuctionStatusScheduled
		auction.StartTime = terms.StartAt
	}

	if err := e.repo.Create(ctx, auction); err != nil {
		return nil, err
	}

	slog.Info("Auction created",
		slog.String("auction_id", auction.AuctionID),
		slog.String("owner_id", auction.OwnerID),
		slog.String("status", string(auction.Status)),
		slog.Time("end_time", auction.EndTime))

	if auction.Status == models.AuctionStatusLive {
		e.postAndRecord(ctx, auction)
	}

	return auction, nil
}

// Publish posts a scheduled auction and transitions it to live. It is
// idempotent: anything but a scheduled auction is a no-op. On publication
// failure the auction stays scheduled and the sweep retries.
func (e *Engine) Publish(ctx context.Context, id int64) error {
	auction, err := e.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil // cancelled before the timer fired
		}
		return err
	}

	if auction.Status != models.AuctionStatusScheduled {
		return nil
	}

	messageID, err := e.publisher.PostAuction(ctx, auction)
	if err != nil {
		slog.Error("Failed to publish scheduled auction",
			slog.String("auction_id", auction.AuctionID),
			slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrPublicationFailed, err)
	}

	err = e.repo.MarkPublished(ctx, auction.ID, messageID, auction.Version)
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			// Raced with a cancel or a concurrent publish. The post is
			// orphaned; nothing to roll back.
			slog.Warn("Publication raced with concurrent update",
				slog.String("auction_id", auction.AuctionID))
			return nil
		}
		return err
	}

	slog.Info("Auction published",
		slog.String("auction_id", auction.AuctionID),
		slog.String("message_id", messageID))
	return nil
}

// Bid validates and applies a bid against the auction identified by its post.
// Validation always runs against the current stored state: if the conditioned
// write loses to a concurrent bid or closure, the whole loop re-reads and
// re-validates.
func (e *Engine) Bid(ctx context.Context, key PostKey, bidderID string, raw RawBid, anchor string) (*BidResult, error) {
	for attempt := 0; attempt < maxBidRetries; attempt++ {
		auction, err := e.repo.GetByPost(ctx, key.ChannelID, key.MessageID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, ErrAuctionNotFound
			}
			return nil, err
		}

		now := e.clock.Now()
		if auction.Status != models.AuctionStatusLive || now.After(auction.EndTime) {
			return nil, ErrAuctionClosed
		}

		amount, err := resolveBid(auction, raw)
		if err != nil {
			return nil, err
		}

		minValid := auction.StartingBid
		if auction.HighestBid > 0 {
			minValid = auction.HighestBid + auction.MinIncrement
		}
		if amount < minValid {
			return nil, fmt.Errorf("%w: bid %d, minimum %d", ErrBidTooLow, amount, minValid)
		}

		extended := false
		if auction.AntiSnipe > 0 && !now.Before(auction.EndTime.Add(-auction.AntiSnipe)) {
			auction.EndTime = auction.EndTime.Add(auction.AntiSnipe)
			extended = true
		}

		auction.HighestBid = amount
		auction.HighestBidder = bidderID
		auction.ReplyAnchor = anchor
		auction.BidCount++

		if err := e.repo.UpdateBidState(ctx, auction); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				continue
			}
			return nil, err
		}

		slog.Info("Bid accepted",
			slog.String("auction_id", auction.AuctionID),
			slog.String("bidder_id", bidderID),
			slog.Int64("amount", amount),
			slog.Bool("extended", extended))

		e.reflectBid(auction, extended)

		return &BidResult{Auction: auction, Amount: amount, Extended: extended}, nil
	}

	return nil, fmt.Errorf("bid on auction %s/%s not applied after %d attempts", key.ChannelID, key.MessageID, maxBidRetries)
}

// Close transitions an expired live auction to ended and announces the
// outcome. It is idempotent and safe to race with late bids: the conditioned
// transition succeeds at most once, and a conflicting bid forces a re-read
// that honors any anti-snipe extension.
func (e *Engine) Close(ctx context.Context, id int64) error {
	for attempt := 0; attempt < maxBidRetries; attempt++ {
		auction, err := e.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil
			}
			return err
		}

		if auction.Status != models.AuctionStatusLive {
			return nil
		}
		if e.clock.Now().Before(auction.EndTime) {
			return nil // extended by a late bid
		}

		if err := e.repo.MarkEnded(ctx, auction.ID, auction.Version); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				continue
			}
			return err
		}

		won := auction.HighestBid >= auction.ReservePrice && auction.HighestBidder != ""

		slog.Info("Auction closed",
			slog.String("auction_id", auction.AuctionID),
			slog.Bool("won", won),
			slog.Int64("highest_bid", auction.HighestBid),
			slog.Int("bid_count", auction.BidCount))

		e.announceClose(auction, won)
		return nil
	}

	return fmt.Errorf("auction %d not closed after %d attempts", id, maxBidRetries)
}

// Cancel removes a scheduled auction. Only the owner may cancel, and only
// before publication. The caller is responsible for dropping any pending
// publish timer.
func (e *Engine) Cancel(ctx context.Context, auctionID string, requesterID string) (*models.Auction, error) {
	auction, err := e.repo.GetByAuctionID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrAuctionNotFound
		}
		return nil, err
	}

	if auction.Status != models.AuctionStatusScheduled || auction.OwnerID != requesterID {
		return nil, ErrNotCancelable
	}

	if err := e.repo.DeleteScheduled(ctx, auction.ID, requesterID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// Published or cancelled in the meantime.
			return nil, ErrNotCancelable
		}
		return nil, err
	}

	slog.Info("Scheduled auction cancelled",
		slog.String("auction_id", auction.AuctionID),
		slog.String("owner_id", requesterID))
	return auction, nil
}

// LiveAuctions returns the live auctions of a channel, soonest-ending first.
func (e *Engine) LiveAuctions(ctx context.Context, channelID string) ([]*models.Auction, error) {
	return e.repo.ListLiveByChannel(ctx, channelID)
}

// ScheduledAuctions returns the requester's pending auctions, soonest first.
func (e *Engine) ScheduledAuctions(ctx context.Context, ownerID string) ([]*models.Auction, error) {
	return e.repo.ListScheduledByOwner(ctx, ownerID)
}

// ensurePosted retries the initial publication of a live auction that has no
// message ID yet. Called from the sweep.
func (e *Engine) ensurePosted(ctx context.Context, auction *models.Auction) {
	if auction.MessageID != "" {
		return
	}
	e.postAndRecord(ctx, auction)
}

func (e *Engine) postAndRecord(ctx context.Context, auction *models.Auction) {
	messageID, err := e.publisher.PostAuction(ctx, auction)
	if err != nil {
		slog.Error("Failed to post auction, will retry on sweep",
			slog.String("auction_id", auction.AuctionID),
			slog.Any("error", err))
		return
	}

	if err := e.repo.SetMessageID(ctx, auction.ID, messageID, auction.Version); err != nil {
		slog.Error("Failed to record message ID",
			slog.String("auction_id", auction.AuctionID),
			slog.String("message_id", messageID),
			slog.Any("error", err))
		return
	}
	auction.MessageID = messageID
	auction.Version++
}

// reflectBid pushes the new state to the published post. The bid is already
// durable; transport failures are logged and never propagated.
func (e *Engine) reflectBid(auction *models.Auction, extended bool) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if err := e.publisher.EditAuction(ctx, auction); err != nil {
		slog.Error("Failed to update auction post",
			slog.String("auction_id", auction.AuctionID),
			slog.Any("error", err))
	}

	if extended {
		if err := e.publisher.NotifyExtension(ctx, auction); err != nil {
			slog.Error("Failed to send anti-snipe notice",
				slog.String("auction_id", auction.AuctionID),
				slog.Any("error", err))
		}
	}
}

// announceClose edits the post with the outcome and pings the winner. Both are
// best effort: the close is already durable.
func (e *Engine) announceClose(auction *models.Auction, won bool) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if err := e.publisher.AnnounceResult(ctx, auction, won); err != nil {
		slog.Error("Failed to announce auction result",
			slog.String("auction_id", auction.AuctionID),
			slog.Any("error", err))
	}

	if won {
		if err := e.publisher.NotifyWinner(ctx, auction); err != nil {
			slog.Error("Failed to notify winner",
				slog.String("auction_id", auction.AuctionID),
				slog.String("winner_id", auction.HighestBidder),
				slog.Any("error", err))
		}
	}
}

func resolveBid(auction *models.Auction, raw RawBid) (int64, error) {
	if !raw.Opening {
		return raw.Amount, nil
	}
	// "sb" is only the opening bid, never a shortcut past an existing one.
	if auction.HighestBid != 0 {
		return 0, fmt.Errorf("%w: starting bid token only valid as the opening bid", ErrBidTooLow)
	}
	return auction.StartingBid, nil
}

func validateTerms(terms Terms, now time.Time) error {
	if terms.Title == "" {
		return fmt.Errorf("%w: title required", ErrInvalidTerms)
	}
	if terms.StartingBid <= 0 {
		return fmt.Errorf("%w: starting bid must be positive", ErrInvalidTerms)
	}
	if terms.ReservePrice <= 0 {
		return fmt.Errorf("%w: reserve price must be positive", ErrInvalidTerms)
	}
	if terms.MinIncrement <= 0 {
		return fmt.Errorf("%w: minimum increment must be positive", ErrInvalidTerms)
	}
	if terms.AntiSnipe < 0 {
		return fmt.Errorf("%w: anti-snipe window cannot be negative", ErrInvalidTerms)
	}

	// Reserve below the starting bid is allowed: the reserve only gates the
	// WON outcome.

	switch {
	case terms.EndAt.IsZero() && terms.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidTerms)
	case !terms.EndAt.IsZero() && terms.Duration > 0:
		return fmt.Errorf("%w: give either a duration or an end time, not both", ErrInvalidTerms)
	case !terms.EndAt.IsZero() && !terms.EndAt.After(now):
		return fmt.Errorf("%w: end time must be in the future", ErrInvalidTerms)
	}

	if terms.StartAt.After(now) {
		end := terms.EndAt
		if end.IsZero() {
			end = now.Add(terms.Duration)
		}
		if !end.After(terms.StartAt) {
			return fmt.Errorf("%w: auction would end before it starts", ErrInvalidTerms)
		}
	}

	return nil
}
