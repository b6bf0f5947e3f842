package commands

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/gavelbot/gavel/gavelbot"
	"github.com/gavelbot/gavel/gavelbot/database/repositories"
)

var Bind = discord.SlashCommandCreate{
	Name:        "bind",
	Description: "Bind your auctions to a channel",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionChannel{
			Name:        "channel",
			Description: "The channel auctions will be posted to",
			Required:    true,
			ChannelTypes: []discord.ChannelType{
				discord.ChannelTypeGuildText,
			},
		},
		discord.ApplicationCommandOptionString{
			Name:        "secret",
			Description: "The bind secret",
			Required:    true,
		},
	},
}

func BindHandler(b *gavelbot.Bot, bindings repositories.BindingRepository) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		data := e.SlashCommandInteractionData()

		if b.Cfg.Bot.BindSecret == "" || data.String("secret") != b.Cfg.Bot.BindSecret {
			return ephemeral(e, "❌ Invalid secret.")
		}

		channel := data.Channel("channel")

		ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
		defer cancel()

		if err := bindings.Set(ctx, e.User().ID.String(), channel.ID.String()); err != nil {
			return err
		}

		return ephemeral(e, fmt.Sprintf("✅ Auctions bound to <#%s>.", channel.ID))
	}
}
