package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/handler"
	"github.com/gavelbot/gavel/gavelbot"
	"github.com/gavelbot/gavel/gavelbot/auction"
	"github.com/gavelbot/gavel/gavelbot/commands"
	"github.com/gavelbot/gavel/gavelbot/database"
	"github.com/gavelbot/gavel/gavelbot/database/repositories"
	"github.com/gavelbot/gavel/gavelbot/handlers"
	"github.com/gavelbot/gavel/gavelbot/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	shouldSyncCommands := flag.Bool("sync-commands", false, "Whether to sync commands to discord")
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := gavelbot.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))

	slog.Info("Starting Gavel",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dbStartTime := time.Now()
	db, err := database.New(ctx, database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	})
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("type", "sys"),
			slog.Any("error", err),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("type", "sys"),
			slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Database ready",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	b := gavelbot.New(*cfg, version, commit)
	b.DB = db
	b.AuctionRepository = repositories.NewAuctionRepository(db.BunDB())
	b.BindingRepository = repositories.NewBindingRepository(db.BunDB())

	b.Publisher = auction.NewDiscordPublisher()
	b.Engine = auction.NewEngine(b.AuctionRepository, b.Publisher, auction.SystemClock())
	b.Scheduler = auction.NewScheduler(b.Engine, auction.SystemClock(), cfg.Auction.SweepInterval())

	h := handler.New()
	h.Command("/version", commands.VersionHandler(b))
	h.Command("/bind", handlers.WrapWithLogging("bind", commands.BindHandler(b, b.BindingRepository)))

	auctionHandler := commands.NewAuctionHandler(b, b.Engine, b.Scheduler, b.BindingRepository)
	auctionHandler.Register(h)

	if err = b.SetupBot(h, bot.NewListenerFunc(b.OnReady), bot.NewListenerFunc(handlers.BidListener(b.Engine))); err != nil {
		slog.Error("Failed to setup bot",
			slog.String("type", "sys"),
			slog.Any("error", err),
			slog.String("status", "failed"))
		os.Exit(-1)
	}
	b.Publisher.SetClient(b.Client)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.Client.Close(ctx)
	}()

	if *shouldSyncCommands {
		slog.Info("Syncing commands",
			slog.String("type", "sys"),
			slog.Any("guild_ids", cfg.Bot.DevGuilds))
		if err = handler.SyncCommands(b.Client, commands.Commands, cfg.Bot.DevGuilds); err != nil {
			slog.Error("Failed to sync commands",
				slog.String("type", "sys"),
				slog.Any("error", err),
				slog.String("status", "failed"))
		}
	}

	if err := b.Scheduler.Rehydrate(ctx); err != nil {
		slog.Error("Failed to rehydrate scheduled auctions",
			slog.String("type", "sys"),
			slog.Any("error", err))
		os.Exit(-1)
	}
	b.Scheduler.Start()
	defer b.Scheduler.Shutdown()

	gatewayCtx, gatewayCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer gatewayCancel()
	if err = b.Client.OpenGateway(gatewayCtx); err != nil {
		slog.Error("Failed to open gateway",
			slog.String("type", "sys"),
			slog.Any("error", err),
			slog.String("status", "failed"))
		os.Exit(-1)
	}

	slog.Info("Bot is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
	slog.Info("Shutting down bot...")
}
