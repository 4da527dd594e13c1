// Package notify mirrors GM-facing reports to an out-of-band channel so
// the table's bookkeeping survives outside the host's chat log.
package notify

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/vttkit/companion/internal/errors"
)

// Notifier delivers a report outside the host. Implementations are
// fire-and-forget; delivery failures are logged, never returned.
type Notifier interface {
	Report(ctx context.Context, text string)
}

type noopNotifier struct{}

// NewNoop returns a notifier that drops every report. Used when no
// mirror is configured.
func NewNoop() Notifier {
	return noopNotifier{}
}

func (noopNotifier) Report(ctx context.Context, text string) {}

// DiscordConfig holds configuration for the Discord mirror
type DiscordConfig struct {
	Token     string
	ChannelID string
	Logger    *slog.Logger
}

type discordNotifier struct {
	session   *discordgo.Session
	channelID string
	log       *slog.Logger
}

// NewDiscord creates a Discord-backed notifier posting to one channel
func NewDiscord(cfg *DiscordConfig) (Notifier, error) {
	if cfg.Token == "" {
		return nil, errors.InvalidArgument("discord token is required")
	}
	if cfg.ChannelID == "" {
		return nil, errors.InvalidArgument("discord channel id is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &discordNotifier{
		session:   session,
		channelID: cfg.ChannelID,
		log:       log,
	}, nil
}

func (n *discordNotifier) Report(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if _, err := n.session.ChannelMessageSend(n.channelID, text); err != nil {
		n.log.Error("notify: discord delivery failed", "channel", n.channelID, "error", err)
	}
}
