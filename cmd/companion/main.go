package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/vttkit/companion/internal/config"
	"github.com/vttkit/companion/internal/dice"
	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host/bridge"
	"github.com/vttkit/companion/internal/logger"
	"github.com/vttkit/companion/internal/notify"
	"github.com/vttkit/companion/internal/repositories/snapshots"
	"github.com/vttkit/companion/internal/services/archive"
	"github.com/vttkit/companion/internal/services/ledger"
	"github.com/vttkit/companion/internal/services/relay"
	"github.com/vttkit/companion/internal/services/rolldata"
	"github.com/vttkit/companion/internal/services/rollsession"
	"github.com/vttkit/companion/internal/services/status"
	"github.com/vttkit/companion/internal/services/trigger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.Setup(cfg.Environment, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, slogger); err != nil && ctx.Err() == nil {
		slogger.Error("companion stopped", "error", err)
		stop()
		log.Fatal(err)
	}
	slogger.Info("companion shut down")
}

func run(ctx context.Context, cfg *config.Config, slogger *slog.Logger) error {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	bus := events.NewBus(slogger)

	session := bridge.New(&bridge.Config{
		URL:    cfg.Host.URL,
		Token:  cfg.Host.Token,
		Bus:    bus,
		Logger: slogger,
	})
	if err := session.Dial(ctx); err != nil {
		return err
	}

	mirror := notify.Notifier(notify.NewNoop())
	if cfg.Discord.Token != "" && cfg.Discord.ChannelID != "" {
		m, err := notify.NewDiscord(&notify.DiscordConfig{
			Token:     cfg.Discord.Token,
			ChannelID: cfg.Discord.ChannelID,
			Logger:    slogger,
		})
		if err != nil {
			return err
		}
		mirror = m
	}

	statusSvc := status.NewService(&status.ServiceConfig{
		Actors: session.Actors(),
		Users:  session.Users(),
		Logger: slogger,
	})
	status.Subscribe(bus, statusSvc, session.Users())

	rolldataSvc := rolldata.NewService(&rolldata.ServiceConfig{Logger: slogger})
	rolldata.Subscribe(bus, rolldataSvc)

	ledgerSvc := ledger.NewService(&ledger.ServiceConfig{
		Actors:     session.Actors(),
		Messages:   session.Messages(),
		Repository: snapshots.NewRedisRepository(redisClient),
		Notify:     mirror,
		Logger:     slogger,
	})
	ledger.Subscribe(bus, ledgerSvc)

	relaySvc := relay.NewService(&relay.ServiceConfig{
		Redis:    redisClient,
		Channel:  cfg.Module.Channel,
		Actors:   session.Actors(),
		Users:    session.Users(),
		Rolls:    session.Rolls(),
		Notifier: session.Notifier(),
		Logger:   slogger,
	})
	relay.Subscribe(bus, relaySvc)

	sessionSvc := rollsession.NewService(&rollsession.ServiceConfig{
		Messages:    session.Messages(),
		SettleDelay: cfg.Module.SettleDelay,
		Logger:      slogger,
	})
	rollsession.Subscribe(bus, sessionSvc)

	triggerSvc := trigger.NewService(&trigger.ServiceConfig{
		Rules:    buildRules(cfg.Module),
		Actors:   session.Actors(),
		Users:    session.Users(),
		Scene:    session.Scene(),
		Messages: session.Messages(),
		Prompter: session.Prompter(),
		Roller:   dice.NewRandomRoller(),
		Announce: relaySvc,
		Logger:   slogger,
	})
	trigger.Subscribe(bus, triggerSvc)

	archiveSvc := archive.NewService(&archive.ServiceConfig{
		Messages: session.Messages(),
		Journal:  session.Journal(),
		Users:    session.Users(),
		Notifier: session.Notifier(),
		Logger:   slogger,
	})
	archive.Subscribe(bus, archiveSvc)

	slogger.Info("companion ready",
		"host", cfg.Host.URL,
		"channel", cfg.Module.Channel,
		"settle_delay", cfg.Module.SettleDelay)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(ctx) })
	g.Go(func() error { return relaySvc.Listen(ctx) })
	return g.Wait()
}

// buildRules assembles the turn-start rules from config. Either
// predicate may be unset; a rule with neither never fires.
func buildRules(mod config.ModuleConfig) []trigger.Rule {
	var rules []trigger.Rule
	if mod.AuraActorName != "" {
		rules = append(rules, trigger.Rule{
			Name:      "Spirit Shield",
			ActorName: mod.AuraActorName,
			Range:     mod.AuraRange,
			Dice:      mod.AuraDice,
			AllowSelf: mod.AuraAllowSelf,
		})
	}
	if mod.AuraSubclass != "" {
		rules = append(rules, trigger.Rule{
			Name:       "Vitality Surge",
			Subclass:   mod.AuraSubclass,
			Range:      mod.AuraRange,
			Dice:       mod.AuraDice,
			ScaleTrait: mod.AuraScaleTrait,
			AllowSelf:  mod.AuraAllowSelf,
		})
	}
	return rules
}
