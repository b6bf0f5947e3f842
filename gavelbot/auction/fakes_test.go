package auction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gavelbot/gavel/gavelbot/database/models"
	"github.com/gavelbot/gavel/gavelbot/database/repositories"
)

// fakeRepo is an in-memory AuctionRepository with the same conditioned-update
// semantics as the SQL implementation: a write against a stale version fails
// with ErrConflict and changes nothing.
type fakeRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Auction

	// forceConflicts makes the next n conditioned updates fail, simulating
	// a racing writer that bumped the version between read and write.
	forceConflicts int

	// afterGet fires once after the next successful read, between the
	// caller's read and its write.
	afterGet func()
}

func (r *fakeRepo) fireAfterGet() {
	r.mu.Lock()
	hook := r.afterGet
	r.afterGet = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[int64]*models.Auction{}}
}

func clone(a *models.Auction) *models.Auction {
	c := *a
	return &c
}

func (r *fakeRepo) Create(_ context.Context, auction *models.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	auction.ID = r.nextID
	auction.Version = 0
	r.rows[auction.ID] = clone(auction)
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*models.Auction, error) {
	r.mu.Lock()
	row, ok := r.rows[id]
	if !ok {
		r.mu.Unlock()
		return nil, repositories.ErrNotFound
	}
	out := clone(row)
	r.mu.Unlock()

	r.fireAfterGet()
	return out, nil
}

func (r *fakeRepo) GetByAuctionID(_ context.Context, auctionID string) (*models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.AuctionID == auctionID {
			return clone(row), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeRepo) GetByPost(_ context.Context, channelID, messageID string) (*models.Auction, error) {
	r.mu.Lock()
	var out *models.Auction
	for _, row := range r.rows {
		if row.MessageID != "" && row.ChannelID == channelID && row.MessageID == messageID {
			out = clone(row)
			break
		}
	}
	r.mu.Unlock()

	if out == nil {
		return nil, repositories.ErrNotFound
	}
	r.fireAfterGet()
	return out, nil
}

func (r *fakeRepo) AuctionIDExists(_ context.Context, auctionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.AuctionID == auctionID {
			return true, nil
		}
	}
	return false, nil
}

// casRow returns the stored row iff the version matches, consuming a forced
// conflict first.
func (r *fakeRepo) casRow(id int64, version int64) (*models.Auction, error) {
	if r.forceConflicts > 0 {
		r.forceConflicts--
		return nil, repositories.ErrConflict
	}

	row, ok := r.rows[id]
	if !ok || row.Version != version {
		return nil, repositories.ErrConflict
	}
	return row, nil
}

func (r *fakeRepo) UpdateBidState(_ context.Context, auction *models.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.casRow(auction.ID, auction.Version)
	if err != nil {
		return err
	}

	row.HighestBid = auction.HighestBid
	row.HighestBidder = auction.HighestBidder
	row.EndTime = auction.EndTime
	row.ReplyAnchor = auction.ReplyAnchor
	row.BidCount = auction.BidCount
	row.Version++
	auction.Version = row.Version
	return nil
}

func (r *fakeRepo) MarkPublished(_ context.Context, id int64, messageID string, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.casRow(id, version)
	if err != nil {
		return err
	}
	row.Status = models.AuctionStatusLive
	row.MessageID = messageID
	row.Version++
	return nil
}

func (r *fakeRepo) MarkEnded(_ context.Context, id int64, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.casRow(id, version)
	if err != nil {
		return err
	}
	row.Status = models.AuctionStatusEnded
	row.Version++
	return nil
}

func (r *fakeRepo) SetMessageID(_ context.Context, id int64, messageID string, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.casRow(id, version)
	if err != nil {
		return err
	}
	row.MessageID = messageID
	row.Version++
	return nil
}

func (r *fakeRepo) list(pred func(*models.Auction) bool, less func(a, b *models.Auction) bool) []*models.Auction {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Auction
	for _, row := range r.rows {
		if pred(row) {
			out = append(out, clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byEndTime(a, b *models.Auction) bool { return a.EndTime.Before(b.EndTime) }

func (r *fakeRepo) ListLiveBefore(_ context.Context, t time.Time) ([]*models.Auction, error) {
	return r.list(func(a *models.Auction) bool {
		return a.Status == models.AuctionStatusLive && !a.EndTime.After(t)
	}, byEndTime), nil
}

func (r *fakeRepo) ListLiveUnpublished(_ context.Context) ([]*models.Auction, error) {
	return r.list(func(a *models.Auction) bool {
		return a.Status == models.AuctionStatusLive && a.MessageID == ""
	}, byEndTime), nil
}

func (r *fakeRepo) ListLiveByChannel(_ context.Context, channelID string) ([]*models.Auction, error) {
	return r.list(func(a *models.Auction) bool {
		return a.Status == models.AuctionStatusLive && a.ChannelID == channelID
	}, byEndTime), nil
}

func (r *fakeRepo) ListScheduled(_ context.Context) ([]*models.Auction, error) {
	return r.list(func(a *models.Auction) bool {
		return a.Status == models.AuctionStatusScheduled
	}, func(a, b *models.Auction) bool { return a.StartTime.Before(b.StartTime) }), nil
}

func (r *fakeRepo) ListScheduledByOwner(_ context.Context, ownerID string) ([]*models.Auction, error) {
	return r.list(func(a *models.Auction) bool {
		return a.Status == models.AuctionStatusScheduled && a.OwnerID == ownerID
	}, func(a, b *models.Auction) bool { return a.StartTime.Before(b.StartTime) }), nil
}

func (r *fakeRepo) DeleteScheduled(_ context.Context, id int64, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.Status != models.AuctionStatusScheduled || row.OwnerID != ownerID {
		return repositories.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

// mutate applies fn to the stored row directly, bumping the version the way a
// concurrent writer would.
func (r *fakeRepo) mutate(id int64, fn func(*models.Auction)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if row, ok := r.rows[id]; ok {
		fn(row)
		row.Version++
	}
}

type announcement struct {
	auctionID string
	won       bool
}

// fakePublisher records every side effect the engine requests.
type fakePublisher struct {
	mu            sync.Mutex
	nextMessageID int

	postErr error

	posts      []string
	edits      []string
	extensions []string
	results    []announcement
	winners    []string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{nextMessageID: 1000}
}

func (p *fakePublisher) failPosts(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postErr = err
}

func (p *fakePublisher) PostAuction(_ context.Context, auction *models.Auction) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.postErr != nil {
		return "", p.postErr
	}
	p.nextMessageID++
	p.posts = append(p.posts, auction.AuctionID)
	return fmt.Sprintf("%d", p.nextMessageID), nil
}

func (p *fakePublisher) EditAuction(_ context.Context, auction *models.Auction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edits = append(p.edits, auction.AuctionID)
	return nil
}

func (p *fakePublisher) NotifyExtension(_ context.Context, auction *models.Auction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extensions = append(p.extensions, auction.AuctionID)
	return nil
}

func (p *fakePublisher) AnnounceResult(_ context.Context, auction *models.Auction, won bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, announcement{auctionID: auction.AuctionID, won: won})
	return nil
}

func (p *fakePublisher) NotifyWinner(_ context.Context, auction *models.Auction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.winners = append(p.winners, auction.HighestBidder)
	return nil
}

type publisherCalls struct {
	posts      []string
	edits      []string
	extensions []string
	results    []announcement
	winners    []string
}

func (p *fakePublisher) snapshot() publisherCalls {
	p.mu.Lock()
	defer p.mu.Unlock()
	return publisherCalls{
		posts:      append([]string(nil), p.posts...),
		edits:      append([]string(nil), p.edits...),
		extensions: append([]string(nil), p.extensions...),
		results:    append([]announcement(nil), p.results...),
		winners:    append([]string(nil), p.winners...),
	}
}
