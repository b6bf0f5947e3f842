package auction

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/gavelbot/gavel/gavelbot/database/models"
	lru "github.com/hashicorp/golang-lru"
)

// Publisher turns auction state into platform content. Implementations never
// mutate auction state; the engine calls them strictly after the state
// transition is durable.
type Publisher interface {
	// PostAuction publishes the auction embed and returns the post identity.
	PostAuction(ctx context.Context, auction *models.Auction) (messageID string, err error)
	// EditAuction reflects the current bidding state on the published post.
	EditAuction(ctx context.Context, auction *models.Auction) error
	// NotifyExtension announces an anti-snipe extension under the post.
	NotifyExtension(ctx context.Context, auction *models.Auction) error
	// AnnounceResult rewrites the post with the final outcome.
	AnnounceResult(ctx context.Context, auction *models.Auction, won bool) error
	// NotifyWinner pings the winner: a DM plus a reply to their bid message.
	NotifyWinner(ctx context.Context, auction *models.Auction) error
}

const displayNameCacheSize = 256

// DiscordPublisher implements Publisher over a disgo client.
type DiscordPublisher struct {
	mu     sync.RWMutex
	client bot.Client
	names  *lru.Cache
}

func NewDiscordPublisher() *DiscordPublisher {
	cache, _ := lru.New(displayNameCacheSize)
	return &DiscordPublisher{names: cache}
}

// SetClient attaches the bot client once the gateway is set up.
func (p *DiscordPublisher) SetClient(client bot.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = client
}

func (p *DiscordPublisher) rest() (bot.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, fmt.Errorf("publisher has no client attached")
	}
	return p.client, nil
}

func (p *DiscordPublisher) PostAuction(ctx context.Context, auction *models.Auction) (string, error) {
	client, err := p.rest()
	if err != nil {
		return "", err
	}

	channelID, err := snowflake.Parse(auction.ChannelID)
	if err != nil {
		return "", fmt.Errorf("invalid channel ID %q: %w", auction.ChannelID, err)
	}

	msg, err := client.Rest().CreateMessage(channelID, discord.MessageCreate{
		Embeds: []discord.Embed{LiveEmbed(auction, "")},
	})
	if err != nil {
		return "", fmt.Errorf("failed to post auction: %w", err)
	}

	return msg.ID.String(), nil
}

func (p *DiscordPublisher) EditAuction(ctx context.Context, auction *models.Auction) error {
	client, err := p.rest()
	if err != nil {
		return err
	}
	if auction.MessageID == "" {
		return nil
	}

	channelID, messageID, err := parsePost(auction)
	if err != nil {
		return err
	}

	bidderName := p.displayName(auction.HighestBidder)
	embeds := []discord.Embed{LiveEmbed(auction, bidderName)}
	_, err = client.Rest().UpdateMessage(channelID, messageID, discord.MessageUpdate{
		Embeds: &embeds,
	})
	if err != nil {
		return fmt.Errorf("failed to edit auction post: %w", err)
	}
	return nil
}

func (p *DiscordPublisher) NotifyExtension(ctx context.Context, auction *models.Auction) error {
	client, err := p.rest()
	if err != nil {
		return err
	}

	channelID, messageID, err := parsePost(auction)
	if err != nil {
		return err
	}

	_, err = client.Rest().CreateMessage(channelID, discord.NewMessageCreateBuilder().
		SetContentf("⏱ Anti-snipe! **%s** extended by %s", auction.Title, formatDuration(auction.AntiSnipe)).
		SetMessageReferenceByID(messageID).
		Build())
	if err != nil {
		return fmt.Errorf("failed to send anti-snipe notice: %w", err)
	}
	return nil
}

func (p *DiscordPublisher) AnnounceResult(ctx context.Context, auction *models.Auction, won bool) error {
	client, err := p.rest()
	if err != nil {
		return err
	}
	if auction.MessageID == "" {
		return nil
	}

	channelID, messageID, err := parsePost(auction)
	if err != nil {
		return err
	}

	winnerName := ""
	if won {
		winnerName = p.displayName(auction.HighestBidder)
	}
	embeds := []discord.Embed{EndedEmbed(auction, won, winnerName)}
	_, err = client.Rest().UpdateMessage(channelID, messageID, discord.MessageUpdate{
		Embeds: &embeds,
	})
	if err != nil {
		return fmt.Errorf("failed to announce result: %w", err)
	}
	return nil
}

func (p *DiscordPublisher) NotifyWinner(ctx context.Context, auction *models.Auction) error {
	client, err := p.rest()
	if err != nil {
		return err
	}

	winnerID, err := snowflake.Parse(auction.HighestBidder)
	if err != nil {
		return fmt.Errorf("invalid winner ID %q: %w", auction.HighestBidder, err)
	}

	// Reply to the winning bid message first; the anchor is best effort and
	// may point at a deleted message.
	if chID, msgID, ok := parseAnchor(auction.ReplyAnchor); ok {
		_, err = client.Rest().CreateMessage(chID, discord.NewMessageCreateBuilder().
			SetContentf("🏁 You won **%s** with a bid of %d!", auction.Title, auction.HighestBid).
			SetMessageReferenceByID(msgID).
			Build())
		if err != nil {
			return fmt.Errorf("failed to reply to winning bid: %w", err)
		}
		return nil
	}

	dm, err := client.Rest().CreateDMChannel(winnerID)
	if err != nil {
		return fmt.Errorf("failed to create DM channel with winner: %w", err)
	}

	_, err = client.Rest().CreateMessage(dm.ID(), discord.MessageCreate{
		Embeds: []discord.Embed{
			discord.NewEmbedBuilder().
				SetTitle("🏛️ Auction Won!").
				SetDescriptionf("You won **%s** with a final bid of %d!", auction.Title, auction.HighestBid).
				SetColor(embedColor).
				Build(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to DM winner: %w", err)
	}
	return nil
}

// displayName resolves a user ID to a display name via the REST API, cached.
// Falls back to a mention so the post still renders something useful.
func (p *DiscordPublisher) displayName(userID string) string {
	if userID == "" {
		return ""
	}
	if cached, ok := p.names.Get(userID); ok {
		if name, ok := cached.(string); ok {
			return name
		}
	}

	client, err := p.rest()
	if err != nil {
		return fmt.Sprintf("<@%s>", userID)
	}

	id, err := snowflake.Parse(userID)
	if err != nil {
		return fmt.Sprintf("<@%s>", userID)
	}

	user, err := client.Rest().GetUser(id)
	if err != nil {
		return fmt.Sprintf("<@%s>", userID)
	}

	name := user.EffectiveName()
	p.names.Add(userID, name)
	return name
}

func parsePost(auction *models.Auction) (snowflake.ID, snowflake.ID, error) {
	channelID, err := snowflake.Parse(auction.ChannelID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid channel ID %q: %w", auction.ChannelID, err)
	}
	messageID, err := snowflake.Parse(auction.MessageID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message ID %q: %w", auction.MessageID, err)
	}
	return channelID, messageID, nil
}

// parseAnchor splits a "channelID:messageID" reply anchor.
func parseAnchor(anchor string) (snowflake.ID, snowflake.ID, bool) {
	parts := strings.SplitN(anchor, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	chID, err := snowflake.Parse(parts[0])
	if err != nil {
		return 0, 0, false
	}
	msgID, err := snowflake.Parse(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return chID, msgID, true
}
