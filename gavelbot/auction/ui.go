package auction

import (
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/gavelbot/gavel/gavelbot/database/models"
)

const embedColor = 0x2b2d31

// LiveEmbed renders a running auction. bidderName may be empty when nobody
// has bid yet or the name could not be resolved.
func LiveEmbed(auction *models.Auction, bidderName string) discord.Embed {
	builder := discord.NewEmbedBuilder().
		SetTitle(fmt.Sprintf("🛒 %s", auction.Title)).
		SetDescription(auction.Description).
		AddField("Starting Bid", fmt.Sprintf("%d 💰", auction.StartingBid), true).
		AddField("Reserve", fmt.Sprintf("%d 🏷", auction.ReservePrice), true).
		AddField("Min Increment", fmt.Sprintf("%d ➕", auction.MinIncrement), true).
		AddField("Anti-snipe", formatDuration(auction.AntiSnipe), true).
		AddField("Ends", discordTimestamp(auction.EndTime), true).
		SetFooter(fmt.Sprintf("Auction %s • Reply with a number to bid, or 'sb'", auction.AuctionID), "").
		SetColor(embedColor)

	if auction.HighestBid > 0 {
		bidder := fmt.Sprintf("<@%s>", auction.HighestBidder)
		if bidderName != "" {
			bidder = bidderName
		}
		builder.AddField("Current Bid", fmt.Sprintf("**%d** by %s", auction.HighestBid, bidder), false)
	}

	if auction.ImageURL != "" {
		builder.SetImage(auction.ImageURL)
	}

	return builder.Build()
}

// EndedEmbed renders the final state of a closed auction. The losing bidder
// is never named on a reserve-not-met outcome.
func EndedEmbed(auction *models.Auction, won bool, winnerName string) discord.Embed {
	builder := discord.NewEmbedBuilder().
		SetTitle(fmt.Sprintf("🏁 %s — Auction Ended", auction.Title)).
		SetDescription(auction.Description).
		SetColor(embedColor)

	if won {
		winner := fmt.Sprintf("<@%s>", auction.HighestBidder)
		if winnerName != "" {
			winner = winnerName
		}
		builder.AddField("Winning Bid", fmt.Sprintf("**%d**", auction.HighestBid), true)
		builder.AddField("Winner", winner, true)
	} else {
		builder.AddField("Outcome", "❌ Reserve not met.", false)
	}

	if auction.ImageURL != "" {
		builder.SetImage(auction.ImageURL)
	}

	return builder.Build()
}

// SummaryLine renders one auction for the live summary listing.
func SummaryLine(auction *models.Auction) string {
	currentBid := auction.HighestBid
	if currentBid == 0 {
		currentBid = auction.StartingBid
	}

	bidder := "—"
	if auction.HighestBidder != "" {
		bidder = fmt.Sprintf("<@%s>", auction.HighestBidder)
	}

	return fmt.Sprintf("🛒 **%s** `%s`\n💰 Current bid: **%d**\n👤 %s\n⏱ Ends: %s\n",
		auction.Title, auction.AuctionID, currentBid, bidder, discordTimestamp(auction.EndTime))
}

// ScheduleLine renders one scheduled auction for its owner.
func ScheduleLine(auction *models.Auction) string {
	return fmt.Sprintf("🆔 `%s` 🛒 **%s**\n⏰ Starts: %s\n⏱ Ends: %s\n💰 SB: %d | 🏷 RP: %d | ➕ Min Inc: %d\n🛡 Anti-snipe: %s\n",
		auction.AuctionID, auction.Title,
		discordTimestamp(auction.StartTime), discordTimestamp(auction.EndTime),
		auction.StartingBid, auction.ReservePrice, auction.MinIncrement,
		formatDuration(auction.AntiSnipe))
}

func discordTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:f>", t.Unix())
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		if s > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", s)
}
