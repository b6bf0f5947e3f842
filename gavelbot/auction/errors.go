package auction

import "errors"

var (
	// ErrInvalidTerms rejects auction creation with non-positive prices,
	// increments, or durations.
	ErrInvalidTerms = errors.New("invalid auction terms")

	// ErrAuctionNotFound means no auction matches the given key.
	ErrAuctionNotFound = errors.New("auction not found")

	// ErrAuctionClosed rejects bids against an auction that is no longer
	// live. Callers may safely ignore it.
	ErrAuctionClosed = errors.New("auction is closed")

	// ErrBidTooLow rejects bids below the minimum valid amount.
	ErrBidTooLow = errors.New("bid below minimum valid amount")

	// ErrNotCancelable rejects cancellation of anything but the requester's
	// own scheduled auctions.
	ErrNotCancelable = errors.New("auction cannot be cancelled")

	// ErrPublicationFailed means the transport refused the post. The
	// lifecycle state is already durable and the publication is retried by
	// the sweep.
	ErrPublicationFailed = errors.New("publication failed")
)
