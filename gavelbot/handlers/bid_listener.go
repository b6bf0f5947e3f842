package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo/events"
	"github.com/gavelbot/gavel/gavelbot/auction"
)

const bidTimeout = 10 * time.Second

// BidListener turns channel messages into bids. A bid is a reply to an
// auction post whose content is an integer amount or "sb". Replies to
// messages that are not auction posts are ignored.
func BidListener(engine *auction.Engine) func(e *events.MessageCreate) {
	return func(e *events.MessageCreate) {
		if e.Message.Author.Bot || e.Message.ReferencedMessage == nil {
			return
		}

		raw, ok := auction.ParseRawBid(e.Message.Content)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), bidTimeout)
		defer cancel()

		key := auction.PostKey{
			ChannelID: e.ChannelID.String(),
			MessageID: e.Message.ReferencedMessage.ID.String(),
		}
		anchor := fmt.Sprintf("%s:%s", e.ChannelID, e.Message.ID)

		result, err := engine.Bid(ctx, key, e.Message.Author.ID.String(), raw, anchor)
		if err != nil {
			switch {
			case errors.Is(err, auction.ErrAuctionNotFound):
				// not an auction post, nothing to do
			case errors.Is(err, auction.ErrAuctionClosed), errors.Is(err, auction.ErrBidTooLow):
				if rErr := e.Client().Rest().AddReaction(e.ChannelID, e.Message.ID, "❌"); rErr != nil {
					slog.Error("Failed to react to rejected bid",
						slog.String("type", "sys"),
						slog.Any("error", rErr))
				}
			default:
				slog.Error("Failed to place bid",
					slog.String("type", "sys"),
					slog.String("channel_id", key.ChannelID),
					slog.String("message_id", key.MessageID),
					slog.Any("error", err))
			}
			return
		}

		slog.Info("Bid accepted",
			slog.String("type", "sys"),
			slog.String("auction_id", result.Auction.AuctionID),
			slog.String("bidder", e.Message.Author.ID.String()),
			slog.Int64("amount", result.Amount),
			slog.Bool("extended", result.Extended))
	}
}
