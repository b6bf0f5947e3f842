package auction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gavelbot/gavel/gavelbot/database/models"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSweepInterval is how often expired auctions are collected.
	// Closure may lag the true end time by up to one interval.
	DefaultSweepInterval = 15 * time.Second

	rehydrateConcurrency = 4
	sweepTimeout         = 30 * time.Second
)

// Scheduler drives the engine's time-based behavior: the fixed-interval sweep
// that closes expired auctions, and one-shot timers that publish scheduled
// auctions at their start time.
type Scheduler struct {
	engine   *Engine
	clock    Clock
	interval time.Duration

	timers   sync.Map // auction ID -> *time.Timer
	shutdown chan struct{}
	once     sync.Once
}

func NewScheduler(engine *Engine, clock Clock, interval time.Duration) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Scheduler{
		engine:   engine,
		clock:    clock,
		interval: interval,
		shutdown: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			s.Sweep(ctx)
			cancel()
		case <-s.shutdown:
			return
		}
	}
}

// Sweep closes every live auction whose end time has passed, retries
// publications that failed earlier, and publishes scheduled auctions whose
// timer was missed. Idempotent and tolerant of zero results.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock.Now()

	expired, err := s.engine.repo.ListLiveBefore(ctx, now)
	if err != nil {
		slog.Error("Sweep failed to list expired auctions", slog.Any("error", err))
	} else {
		for _, a := range expired {
			if err := s.engine.Close(ctx, a.ID); err != nil {
				slog.Error("Sweep failed to close auction",
					slog.String("auction_id", a.AuctionID),
					slog.Any("error", err))
			}
		}
	}

	unposted, err := s.engine.repo.ListLiveUnpublished(ctx)
	if err != nil {
		slog.Error("Sweep failed to list unpublished auctions", slog.Any("error", err))
	} else {
		for _, a := range unposted {
			s.engine.ensurePosted(ctx, a)
		}
	}

	scheduled, err := s.engine.repo.ListScheduled(ctx)
	if err != nil {
		slog.Error("Sweep failed to list scheduled auctions", slog.Any("error", err))
		return
	}
	for _, a := range scheduled {
		if a.StartTime.After(now) {
			continue
		}
		if err := s.engine.Publish(ctx, a.ID); err != nil {
			slog.Error("Sweep failed to publish due auction",
				slog.String("auction_id", a.AuctionID),
				slog.Any("error", err))
		}
	}
}

// SchedulePublish registers a one-shot timer that publishes the auction at
// its start time. A start time already in the past publishes on the spot.
func (s *Scheduler) SchedulePublish(auction *models.Auction) {
	delay := auction.StartTime.Sub(s.clock.Now())
	if delay <= 0 {
		go s.firePublish(auction.ID)
		return
	}

	timer := time.NewTimer(delay)
	s.timers.Store(auction.ID, timer)

	go func() {
		defer func() {
			s.timers.Delete(auction.ID)
			timer.Stop()
		}()

		select {
		case <-timer.C:
			s.firePublish(auction.ID)
		case <-s.shutdown:
		}
	}()
}

// CancelPublish drops the pending publish timer of a cancelled auction.
func (s *Scheduler) CancelPublish(auctionID int64) {
	if v, ok := s.timers.LoadAndDelete(auctionID); ok {
		if timer, ok := v.(*time.Timer); ok {
			timer.Stop()
		}
	}
}

// Rehydrate re-registers publish timers for every scheduled auction after a
// restart. Auctions whose start time already passed are published immediately
// rather than dropped.
func (s *Scheduler) Rehydrate(ctx context.Context) error {
	scheduled, err := s.engine.repo.ListScheduled(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rehydrateConcurrency)

	var pending, overdue int
	for _, a := range scheduled {
		if a.StartTime.After(now) {
			s.SchedulePublish(a)
			pending++
			continue
		}
		overdue++
		id := a.ID
		code := a.AuctionID
		g.Go(func() error {
			if err := s.engine.Publish(gctx, id); err != nil {
				slog.Error("Failed to publish overdue auction on startup",
					slog.String("auction_id", code),
					slog.Any("error", err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("Scheduler rehydrated",
		slog.Int("pending", pending),
		slog.Int("overdue", overdue))
	return nil
}

func (s *Scheduler) firePublish(auctionID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if err := s.engine.Publish(ctx, auctionID); err != nil {
		// Stays scheduled; the sweep retries it.
		slog.Error("Deferred publication failed",
			slog.Int64("auction_id", auctionID),
			slog.Any("error", err))
	}
}

// Shutdown stops the sweep loop and all pending publish timers.
func (s *Scheduler) Shutdown() {
	s.once.Do(func() { close(s.shutdown) })

	s.timers.Range(func(key, value any) bool {
		if timer, ok := value.(*time.Timer); ok {
			timer.Stop()
		}
		return true
	})

	slog.Info("Auction scheduler shutdown completed")
}
