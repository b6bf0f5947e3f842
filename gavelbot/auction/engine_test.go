package auction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gavelbot/gavel/gavelbot/database/models"
	"github.com/gavelbot/gavel/gavelbot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo  *fakeRepo
	pub   *fakePublisher
	clock *testutil.Clock
	eng   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeRepo()
	pub := newFakePublisher()
	clock := testutil.NewClock(testStart)
	return &fixture{
		repo:  repo,
		pub:   pub,
		clock: clock,
		eng:   NewEngine(repo, pub, clock),
	}
}

func baseTerms() Terms {
	return Terms{
		ChannelID:    "555",
		OwnerID:      "owner",
		Title:        "Vintage radio",
		StartingBid:  100,
		ReservePrice: 300,
		MinIncrement: 50,
		AntiSnipe:    time.Minute,
		Duration:     time.Hour,
	}
}

func (f *fixture) createLive(t *testing.T, terms Terms) *models.Auction {
	t.Helper()
	a, err := f.eng.Create(context.Background(), terms)
	require.NoError(t, err)
	require.Equal(t, models.AuctionStatusLive, a.Status)
	require.NotEmpty(t, a.MessageID)
	return a
}

func (f *fixture) key(a *models.Auction) PostKey {
	return PostKey{ChannelID: a.ChannelID, MessageID: a.MessageID}
}

func TestCreatePublishesImmediately(t *testing.T) {
	f := newFixture(t)

	a := f.createLive(t, baseTerms())

	assert.Len(t, a.AuctionID, 4)
	assert.Equal(t, testStart.Add(time.Hour), a.EndTime)
	assert.Equal(t, []string{a.AuctionID}, f.pub.snapshot().posts)

	stored, err := f.repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.MessageID, stored.MessageID)
}

func TestCreateSurvivesPostFailure(t *testing.T) {
	f := newFixture(t)
	f.pub.failPosts(errors.New("gateway down"))

	a, err := f.eng.Create(context.Background(), baseTerms())
	require.NoError(t, err)

	assert.Equal(t, models.AuctionStatusLive, a.Status)
	assert.Empty(t, a.MessageID)

	unposted, err := f.repo.ListLiveUnpublished(context.Background())
	require.NoError(t, err)
	require.Len(t, unposted, 1)
	assert.Equal(t, a.ID, unposted[0].ID)
}

func TestCreateScheduledDefersPublication(t *testing.T) {
	f := newFixture(t)

	terms := baseTerms()
	terms.StartAt = testStart.Add(30 * time.Minute)

	a, err := f.eng.Create(context.Background(), terms)
	require.NoError(t, err)

	assert.Equal(t, models.AuctionStatusScheduled, a.Status)
	assert.Empty(t, a.MessageID)
	assert.Empty(t, f.pub.snapshot().posts)
	// The end time is anchored at creation, not at publication.
	assert.Equal(t, testStart.Add(time.Hour), a.EndTime)
}

func TestCreateRejectsInvalidTerms(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*Terms)
	}{
		{"missing title", func(tr *Terms) { tr.Title = "" }},
		{"zero starting bid", func(tr *Terms) { tr.StartingBid = 0 }},
		{"negative reserve", func(tr *Terms) { tr.ReservePrice = -1 }},
		{"zero increment", func(tr *Terms) { tr.MinIncrement = 0 }},
		{"negative anti-snipe", func(tr *Terms) { tr.AntiSnipe = -time.Second }},
		{"no duration", func(tr *Terms) { tr.Duration = 0 }},
		{"duration and end time", func(tr *Terms) { tr.EndAt = testStart.Add(time.Hour) }},
		{"end time in the past", func(tr *Terms) {
			tr.Duration = 0
			tr.EndAt = testStart.Add(-time.Minute)
		}},
		{"ends before scheduled start", func(tr *Terms) {
			tr.StartAt = testStart.Add(2 * time.Hour)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := baseTerms()
			tt.mutate(&terms)
			_, err := f.eng.Create(context.Background(), terms)
			assert.ErrorIs(t, err, ErrInvalidTerms)
		})
	}
}

func TestCreateAllowsReserveBelowStartingBid(t *testing.T) {
	f := newFixture(t)

	terms := baseTerms()
	terms.ReservePrice = 50

	_, err := f.eng.Create(context.Background(), terms)
	assert.NoError(t, err)
}

func TestBidOpeningToken(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	res, err := f.eng.Bid(context.Background(), f.key(a), "alice", RawBid{Opening: true}, "555:1")
	require.NoError(t, err)

	assert.Equal(t, int64(100), res.Amount)
	assert.Equal(t, "alice", res.Auction.HighestBidder)
	assert.Equal(t, "555:1", res.Auction.ReplyAnchor)
	assert.False(t, res.Extended)

	// "sb" is only valid as the opening bid.
	_, err = f.eng.Bid(context.Background(), f.key(a), "bob", RawBid{Opening: true}, "555:2")
	assert.ErrorIs(t, err, ErrBidTooLow)
}

func TestBidMinimumValidAmount(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	// Below the starting bid with no bids yet.
	_, err := f.eng.Bid(context.Background(), f.key(a), "alice", RawBid{Amount: 99}, "555:1")
	assert.ErrorIs(t, err, ErrBidTooLow)

	// Exactly the starting bid.
	res, err := f.eng.Bid(context.Background(), f.key(a), "alice", RawBid{Amount: 100}, "555:2")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Amount)

	// Increment not met.
	_, err = f.eng.Bid(context.Background(), f.key(a), "bob", RawBid{Amount: 149}, "555:3")
	assert.ErrorIs(t, err, ErrBidTooLow)

	// Exactly highest + increment.
	res, err = f.eng.Bid(context.Background(), f.key(a), "bob", RawBid{Amount: 150}, "555:4")
	require.NoError(t, err)
	assert.Equal(t, "bob", res.Auction.HighestBidder)
	assert.Equal(t, 2, res.Auction.BidCount)
}

func TestBidUnknownPost(t *testing.T) {
	f := newFixture(t)
	f.createLive(t, baseTerms())

	_, err := f.eng.Bid(context.Background(), PostKey{ChannelID: "555", MessageID: "nope"}, "alice", RawBid{Amount: 100}, "555:1")
	assert.ErrorIs(t, err, ErrAuctionNotFound)
}

func TestBidAfterEndTime(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	f.clock.Set(a.EndTime.Add(time.Second))

	_, err := f.eng.Bid(context.Background(), f.key(a), "alice", RawBid{Amount: 100}, "555:1")
	assert.ErrorIs(t, err, ErrAuctionClosed)
}

func TestBidAntiSnipeExtension(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())
	end := a.EndTime

	// One second outside the window: no extension.
	f.clock.Set(end.Add(-time.Minute - time.Second))
	res, err := f.eng.Bid(context.Background(), f.key(a), "alice", RawBid{Amount: 100}, "555:1")
	require.NoError(t, err)
	assert.False(t, res.Extended)
	assert.Equal(t, end, res.Auction.EndTime)

	// Exactly on the window boundary: extended by the full window.
	f.clock.Set(end.Add(-time.Minute))
	res, err = f.eng.Bid(context.Background(), f.key(a), "bob", RawBid{Amount: 150}, "555:2")
	require.NoError(t, err)
	assert.True(t, res.Extended)
	assert.Equal(t, end.Add(time.Minute), res.Auction.EndTime)

	// A chain of snipes keeps the end time monotonically increasing.
	f.clock.Set(res.Auction.EndTime.Add(-time.Second))
	res2, err := f.eng.Bid(context.Background(), f.key(a), "carol", RawBid{Amount: 200}, "555:3")
	require.NoError(t, err)
	assert.True(t, res2.Extended)
	assert.True(t, res2.Auction.EndTime.After(res.Auction.EndTime))

	calls := f.pub.snapshot()
	assert.Len(t, calls.extensions, 2)
	assert.Len(t, calls.edits, 3)
}

func TestBidRetriesOnVersionConflict(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	f.repo.forceConflicts = 2

	res, err := f.eng.Bid(context.Background(), f.key(a), "alice", RawBid{Amount: 100}, "555:1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Amount)
}

func TestBidGivesUpAfterPersistentConflict(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	f.repo.forceConflicts = maxBidRetries

	_, err := f.eng.Bid(context.Background(), f.key(a), "alice", RawBid{Amount: 100}, "555:1")
	assert.Error(t, err)
}

func TestBidRevalidatesAgainstRacingBid(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	// bob's 200 lands between alice's read and her conditioned write. Her
	// 150 beat the state she read, but not the state she replays against.
	f.repo.afterGet = func() {
		f.repo.mutate(a.ID, func(row *models.Auction) {
			row.HighestBid = 200
			row.HighestBidder = "bob"
			row.BidCount = 1
		})
	}

	_, err := f.eng.Bid(context.Background(), f.key(a), "alice", RawBid{Amount: 150}, "555:1")
	assert.ErrorIs(t, err, ErrBidTooLow)

	stored, err := f.repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.HighestBidder)
}

func TestCloseBeforeEndTimeIsNoOp(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	require.NoError(t, f.eng.Close(context.Background(), a.ID))

	stored, err := f.repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusLive, stored.Status)
	assert.Empty(t, f.pub.snapshot().results)
}

func TestCloseWon(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	_, err := f.eng.Bid(context.Background(), f.key(a), "alice", RawBid{Amount: 300}, "555:1")
	require.NoError(t, err)

	f.clock.Set(a.EndTime.Add(time.Second))
	require.NoError(t, f.eng.Close(context.Background(), a.ID))

	stored, err := f.repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusEnded, stored.Status)

	calls := f.pub.snapshot()
	require.Len(t, calls.results, 1)
	assert.True(t, calls.results[0].won)
	assert.Equal(t, []string{"alice"}, calls.winners)
}

func TestCloseReserveNotMet(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	// Highest bid below the 300 reserve.
	_, err := f.eng.Bid(context.Background(), f.key(a), "alice", RawBid{Amount: 200}, "555:1")
	require.NoError(t, err)

	f.clock.Set(a.EndTime.Add(time.Second))
	require.NoError(t, f.eng.Close(context.Background(), a.ID))

	calls := f.pub.snapshot()
	require.Len(t, calls.results, 1)
	assert.False(t, calls.results[0].won)
	assert.Empty(t, calls.winners)

	// The losing bid stays on the row for audit.
	stored, err := f.repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.HighestBidder)
}

func TestCloseNoBids(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	f.clock.Set(a.EndTime.Add(time.Second))
	require.NoError(t, f.eng.Close(context.Background(), a.ID))

	calls := f.pub.snapshot()
	require.Len(t, calls.results, 1)
	assert.False(t, calls.results[0].won)
}

func TestCloseExactlyOnce(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	f.clock.Set(a.EndTime.Add(time.Second))
	require.NoError(t, f.eng.Close(context.Background(), a.ID))
	require.NoError(t, f.eng.Close(context.Background(), a.ID))

	assert.Len(t, f.pub.snapshot().results, 1)
}

func TestCloseHonorsConcurrentExtension(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	f.clock.Set(a.EndTime.Add(time.Second))

	// A sniped bid extends the auction between the sweep's read and its
	// conditioned close.
	f.repo.afterGet = func() {
		f.repo.mutate(a.ID, func(row *models.Auction) {
			row.HighestBid = 100
			row.HighestBidder = "alice"
			row.EndTime = f.clock.Now().Add(time.Minute)
		})
	}

	require.NoError(t, f.eng.Close(context.Background(), a.ID))

	stored, err := f.repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusLive, stored.Status)
	assert.Empty(t, f.pub.snapshot().results)
}

func TestBidAfterClose(t *testing.T) {
	f := newFixture(t)
	a := f.createLive(t, baseTerms())

	f.clock.Set(a.EndTime.Add(time.Second))
	require.NoError(t, f.eng.Close(context.Background(), a.ID))

	_, err := f.eng.Bid(context.Background(), f.key(a), "alice", RawBid{Amount: 500}, "555:1")
	assert.ErrorIs(t, err, ErrAuctionClosed)
}

func TestPublishScheduled(t *testing.T) {
	f := newFixture(t)

	terms := baseTerms()
	terms.StartAt = testStart.Add(10 * time.Minute)
	a, err := f.eng.Create(context.Background(), terms)
	require.NoError(t, err)

	require.NoError(t, f.eng.Publish(context.Background(), a.ID))

	stored, err := f.repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusLive, stored.Status)
	assert.NotEmpty(t, stored.MessageID)

	// Replays are no-ops.
	require.NoError(t, f.eng.Publish(context.Background(), a.ID))
	assert.Len(t, f.pub.snapshot().posts, 1)
}

func TestPublishFailureStaysScheduled(t *testing.T) {
	f := newFixture(t)

	terms := baseTerms()
	terms.StartAt = testStart.Add(10 * time.Minute)
	a, err := f.eng.Create(context.Background(), terms)
	require.NoError(t, err)

	f.pub.failPosts(errors.New("gateway down"))
	err = f.eng.Publish(context.Background(), a.ID)
	assert.ErrorIs(t, err, ErrPublicationFailed)

	stored, getErr := f.repo.GetByID(context.Background(), a.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.AuctionStatusScheduled, stored.Status)
}

func TestPublishCancelledAuction(t *testing.T) {
	f := newFixture(t)

	// The timer fires after the row is gone.
	assert.NoError(t, f.eng.Publish(context.Background(), 42))
}

func TestCancelScheduled(t *testing.T) {
	f := newFixture(t)

	terms := baseTerms()
	terms.StartAt = testStart.Add(10 * time.Minute)
	a, err := f.eng.Create(context.Background(), terms)
	require.NoError(t, err)

	cancelled, err := f.eng.Cancel(context.Background(), a.AuctionID, "owner")
	require.NoError(t, err)
	assert.Equal(t, a.AuctionID, cancelled.AuctionID)

	_, err = f.repo.GetByID(context.Background(), a.ID)
	assert.Error(t, err)
}

func TestCancelRejections(t *testing.T) {
	f := newFixture(t)

	live := f.createLive(t, baseTerms())

	terms := baseTerms()
	terms.StartAt = testStart.Add(10 * time.Minute)
	scheduled, err := f.eng.Create(context.Background(), terms)
	require.NoError(t, err)

	_, err = f.eng.Cancel(context.Background(), "ZZZZ", "owner")
	assert.ErrorIs(t, err, ErrAuctionNotFound)

	_, err = f.eng.Cancel(context.Background(), live.AuctionID, "owner")
	assert.ErrorIs(t, err, ErrNotCancelable)

	_, err = f.eng.Cancel(context.Background(), scheduled.AuctionID, "someone-else")
	assert.ErrorIs(t, err, ErrNotCancelable)
}

func TestLiveAuctionsOrderedByEndTime(t *testing.T) {
	f := newFixture(t)

	for i, d := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		terms := baseTerms()
		terms.Title = fmt.Sprintf("Lot %d", i)
		terms.Duration = d
		f.createLive(t, terms)
	}

	live, err := f.eng.LiveAuctions(context.Background(), "555")
	require.NoError(t, err)
	require.Len(t, live, 3)
	assert.Equal(t, "Lot 1", live[0].Title)
	assert.Equal(t, "Lot 2", live[1].Title)
	assert.Equal(t, "Lot 0", live[2].Title)
}

func TestParseRawBid(t *testing.T) {
	tests := []struct {
		in   string
		want RawBid
		ok   bool
	}{
		{"100", RawBid{Amount: 100}, true},
		{"  250 ", RawBid{Amount: 250}, true},
		{"sb", RawBid{Opening: true}, true},
		{"SB", RawBid{Opening: true}, true},
		{" Sb ", RawBid{Opening: true}, true},
		{"0", RawBid{}, false},
		{"-5", RawBid{}, false},
		{"1.5", RawBid{}, false},
		{"100 coins", RawBid{}, false},
		{"lol", RawBid{}, false},
		{"", RawBid{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseRawBid(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
