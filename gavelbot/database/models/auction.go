package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusScheduled AuctionStatus = "scheduled"
	AuctionStatusLive      AuctionStatus = "live"
	AuctionStatusEnded     AuctionStatus = "ended"
)

type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID        int64  `bun:"id,pk,autoincrement"`
	AuctionID string `bun:"auction_id,notnull,unique"`

	// Where the auction is (or will be) posted. MessageID is empty until
	// the embed has been published.
	ChannelID string `bun:"channel_id,notnull"`
	MessageID string `bun:"message_id"`

	// Terms, immutable after creation.
	Title        string        `bun:"title,notnull"`
	Description  string        `bun:"description"`
	StartingBid  int64         `bun:"starting_bid,notnull"`
	ReservePrice int64         `bun:"reserve_price,notnull"`
	MinIncrement int64         `bun:"min_increment,notnull"`
	AntiSnipe    time.Duration `bun:"anti_snipe,notnull"`
	OwnerID      string        `bun:"owner_id"`

	// Bidding state. HighestBid == 0 means no bid has landed yet, in which
	// case HighestBidder and ReplyAnchor are empty.
	HighestBid    int64     `bun:"highest_bid,notnull,default:0"`
	HighestBidder string    `bun:"highest_bidder"`
	EndTime       time.Time `bun:"end_time,notnull"`
	ReplyAnchor   string    `bun:"reply_anchor"`
	BidCount      int       `bun:"bid_count"`

	Status AuctionStatus `bun:"status,notnull"`

	// Only meaningful while scheduled: when to publish, and the media
	// reference to publish with.
	StartTime time.Time `bun:"start_time"`
	ImageURL  string    `bun:"image_url"`

	// Optimistic concurrency token. Every conditioned update bumps it; a
	// write against a stale version matches no row.
	Version int64 `bun:"version,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Binding maps an operator to the channel their auctions publish to.
type Binding struct {
	bun.BaseModel `bun:"table:bindings,alias:b"`

	UserID    string    `bun:"user_id,pk"`
	ChannelID string    `bun:"channel_id,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
