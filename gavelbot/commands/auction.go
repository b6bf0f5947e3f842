package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/disgoorg/paginator"
	"github.com/gavelbot/gavel/gavelbot"
	"github.com/gavelbot/gavel/gavelbot/auction"
	"github.com/gavelbot/gavel/gavelbot/database/models"
	"github.com/gavelbot/gavel/gavelbot/database/repositories"
	"github.com/sahilm/fuzzy"
)

const (
	defaultQueryTimeout = 10 * time.Second
	summaryPageSize     = 5
)

var AuctionCommand = discord.SlashCommandCreate{
	Name:        "auction",
	Description: "Auction related commands",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionSubCommand{
			Name:        "create",
			Description: "Create and publish an auction",
			Options:     append(termOptions(), imageOption()),
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "schedule",
			Description: "Create an auction published at a later time",
			Options: append(termOptions(),
				discord.ApplicationCommandOptionString{
					Name:        "start",
					Description: "When to publish (YYYY-MM-DD HH:MM)",
					Required:    true,
				},
				imageOption()),
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "summary",
			Description: "List live auctions in your bound channel",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "query",
					Description: "Filter by title",
					Required:    false,
				},
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "viewschedule",
			Description: "List your scheduled auctions",
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "cancel",
			Description: "Cancel one of your scheduled auctions",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "id",
					Description: "The auction ID (e.g. AB3C)",
					Required:    true,
				},
			},
		},
	},
}

func termOptions() []discord.ApplicationCommandOption {
	return []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionString{
			Name:        "title",
			Description: "Item title",
			Required:    true,
		},
		discord.ApplicationCommandOptionInt{
			Name:        "sb",
			Description: "Starting bid",
			Required:    true,
			MinValue:    ptr(1),
		},
		discord.ApplicationCommandOptionInt{
			Name:        "rp",
			Description: "Reserve price",
			Required:    true,
			MinValue:    ptr(1),
		},
		discord.ApplicationCommandOptionInt{
			Name:        "min_increment",
			Description: "Minimum bid increment",
			Required:    true,
			MinValue:    ptr(1),
		},
		discord.ApplicationCommandOptionString{
			Name:        "duration",
			Description: "Minutes (e.g. 60) or end time (YYYY-MM-DD HH:MM)",
			Required:    true,
		},
		discord.ApplicationCommandOptionInt{
			Name:        "anti_snipe",
			Description: "Anti-snipe window in minutes",
			Required:    false,
			MinValue:    ptr(0),
		},
		discord.ApplicationCommandOptionString{
			Name:        "description",
			Description: "Item description",
			Required:    false,
		},
	}
}

func imageOption() discord.ApplicationCommandOption {
	return discord.ApplicationCommandOptionAttachment{
		Name:        "image",
		Description: "Item photo",
		Required:    false,
	}
}

type AuctionHandler struct {
	bot       *gavelbot.Bot
	engine    *auction.Engine
	scheduler *auction.Scheduler
	bindings  repositories.BindingRepository
}

func NewAuctionHandler(b *gavelbot.Bot, engine *auction.Engine, scheduler *auction.Scheduler, bindings repositories.BindingRepository) *AuctionHandler {
	return &AuctionHandler{
		bot:       b,
		engine:    engine,
		scheduler: scheduler,
		bindings:  bindings,
	}
}

func (h *AuctionHandler) Register(r handler.Router) {
	r.Route("/auction", func(r handler.Router) {
		r.Command("/create", h.HandleCreate)
		r.Command("/schedule", h.HandleSchedule)
		r.Command("/summary", h.HandleSummary)
		r.Command("/viewschedule", h.HandleViewSchedule)
		r.Command("/cancel", h.HandleCancel)
	})
}

func (h *AuctionHandler) HandleCreate(e *handler.CommandEvent) error {
	return h.create(e, false)
}

func (h *AuctionHandler) HandleSchedule(e *handler.CommandEvent) error {
	return h.create(e, true)
}

func (h *AuctionHandler) create(e *handler.CommandEvent, scheduled bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()

	channelID, err := h.bindings.Get(ctx, e.User().ID.String())
	if err != nil {
		if errors.Is(err, repositories.ErrNotBound) {
			return ephemeral(e, "❌ No channel bound. Use /bind first.")
		}
		return err
	}

	data := e.SlashCommandInteractionData()
	now := time.Now()

	duration, endAt, err := parseEndSpec(data.String("duration"), now)
	if err != nil {
		return ephemeral(e, fmt.Sprintf("❌ %v", err))
	}

	terms := auction.Terms{
		ChannelID:    channelID,
		OwnerID:      e.User().ID.String(),
		Title:        data.String("title"),
		Description:  data.String("description"),
		StartingBid:  int64(data.Int("sb")),
		ReservePrice: int64(data.Int("rp")),
		MinIncrement: int64(data.Int("min_increment")),
		AntiSnipe:    h.bot.Cfg.Auction.DefaultAntiSnipe(),
		Duration:     duration,
		EndAt:        endAt,
	}
	if minutes, ok := data.OptInt("anti_snipe"); ok {
		terms.AntiSnipe = time.Duration(minutes) * time.Minute
	}
	if attachment, ok := data.OptAttachment("image"); ok {
		terms.ImageURL = attachment.URL
	}

	if scheduled {
		start, err := parseLocalTime(data.String("start"))
		if err != nil {
			return ephemeral(e, fmt.Sprintf("❌ %v", err))
		}
		if !start.After(now) {
			return ephemeral(e, "❌ Start time must be in the future.")
		}
		terms.StartAt = start
	}

	created, err := h.engine.Create(ctx, terms)
	if err != nil {
		if errors.Is(err, auction.ErrInvalidTerms) {
			return ephemeral(e, fmt.Sprintf("❌ %v", err))
		}
		return err
	}

	if created.Status == models.AuctionStatusScheduled {
		h.scheduler.SchedulePublish(created)
		return ephemeral(e, fmt.Sprintf("✅ Auction `%s` scheduled to start at %s.",
			created.AuctionID, created.StartTime.Format(timeLayout)))
	}

	return ephemeral(e, fmt.Sprintf("✅ Auction `%s` posted to <#%s>.", created.AuctionID, created.ChannelID))
}

func (h *AuctionHandler) HandleSummary(e *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()

	channelID, err := h.bindings.Get(ctx, e.User().ID.String())
	if err != nil {
		if errors.Is(err, repositories.ErrNotBound) {
			return ephemeral(e, "❌ No channel bound. Use /bind first.")
		}
		return err
	}

	auctions, err := h.engine.LiveAuctions(ctx, channelID)
	if err != nil {
		return err
	}

	query := e.SlashCommandInteractionData().String("query")
	if query != "" {
		auctions = filterByTitle(auctions, query)
	}

	if len(auctions) == 0 {
		return ephemeral(e, "No live auctions.")
	}

	totalPages := (len(auctions) + summaryPageSize - 1) / summaryPageSize

	return h.bot.Paginator.Create(e.Respond, paginator.Pages{
		ID:      e.ID().String(),
		Creator: e.User().ID,
		PageFunc: func(page int, embed *discord.EmbedBuilder) {
			start := page * summaryPageSize
			end := min(start+summaryPageSize, len(auctions))

			var description strings.Builder
			if query != "" {
				description.WriteString(fmt.Sprintf("🔍 `%s`\n\n", query))
			}
			for _, a := range auctions[start:end] {
				description.WriteString(auction.SummaryLine(a))
				description.WriteString("\n")
			}

			embed.SetTitle("📊 Live Auction Summary").
				SetDescription(description.String()).
				SetColor(0x2b2d31).
				SetFooter(fmt.Sprintf("Page %d/%d • Total Auctions: %d", page+1, totalPages, len(auctions)), "")
		},
		Pages:      totalPages,
		ExpireMode: paginator.ExpireModeAfterLastUsage,
	}, false)
}

func (h *AuctionHandler) HandleViewSchedule(e *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()

	auctions, err := h.engine.ScheduledAuctions(ctx, e.User().ID.String())
	if err != nil {
		return err
	}

	if len(auctions) == 0 {
		return ephemeral(e, "You have no scheduled auctions.")
	}

	var description strings.Builder
	for _, a := range auctions {
		description.WriteString(auction.ScheduleLine(a))
		description.WriteString("\n")
	}

	return e.CreateMessage(discord.MessageCreate{
		Embeds: []discord.Embed{
			discord.NewEmbedBuilder().
				SetTitle("📅 Your Scheduled Auctions").
				SetDescription(description.String()).
				SetColor(0x2b2d31).
				Build(),
		},
		Flags: discord.MessageFlagEphemeral,
	})
}

func (h *AuctionHandler) HandleCancel(e *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()

	auctionID := strings.ToUpper(strings.TrimSpace(e.SlashCommandInteractionData().String("id")))

	cancelled, err := h.engine.Cancel(ctx, auctionID, e.User().ID.String())
	if err != nil {
		switch {
		case errors.Is(err, auction.ErrAuctionNotFound):
			return ephemeral(e, "❌ Auction not found.")
		case errors.Is(err, auction.ErrNotCancelable):
			return ephemeral(e, "❌ Only your own scheduled auctions can be cancelled.")
		}
		return err
	}

	h.scheduler.CancelPublish(cancelled.ID)
	return ephemeral(e, fmt.Sprintf("✅ Deleted scheduled auction `%s`.", cancelled.AuctionID))
}

func filterByTitle(auctions []*models.Auction, query string) []*models.Auction {
	titles := make([]string, len(auctions))
	for i, a := range auctions {
		titles[i] = a.Title
	}

	matches := fuzzy.Find(query, titles)
	filtered := make([]*models.Auction, 0, len(matches))
	for _, m := range matches {
		filtered = append(filtered, auctions[m.Index])
	}
	return filtered
}

func ephemeral(e *handler.CommandEvent, content string) error {
	return e.CreateMessage(discord.MessageCreate{
		Content: content,
		Flags:   discord.MessageFlagEphemeral,
	})
}
