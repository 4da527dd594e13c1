// Package archive exports the chat log to a journal for safekeeping and
// prunes messages past a chosen point. Archived cards are flattened:
// interactive controls go away and styling is forced to print colors so
// the page reads the same in every theme.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/vttkit/companion/internal/cardhtml"
	"github.com/vttkit/companion/internal/errors"
	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
)

// UI command names routed to this service
const (
	CommandArchive      = "archive-chat"
	CommandDeleteFuture = "delete-future"
)

// JournalName is the journal collecting archived transcripts
const JournalName = "Chat Archive"

const printColor = "color:#191813"

// Service archives and prunes the chat log
type Service interface {
	// Archive appends the full transcript as a journal page named by
	// its time range
	Archive(ctx context.Context) error

	// DeleteFuture removes the selected message and everything sent at
	// or after it. GM only.
	DeleteFuture(ctx context.Context, messageID string) error
}

// ServiceConfig holds configuration for the service
type ServiceConfig struct {
	Messages host.Messages
	Journal  host.Journal
	Users    host.Users
	Notifier host.Notifier
	Logger   *slog.Logger
}

type service struct {
	messages host.Messages
	journal  host.Journal
	users    host.Users
	notifier host.Notifier
	log      *slog.Logger
}

// NewService creates a new archive service
func NewService(cfg *ServiceConfig) Service {
	if cfg.Messages == nil {
		panic("messages is required")
	}
	if cfg.Journal == nil {
		panic("journal is required")
	}
	if cfg.Users == nil {
		panic("users is required")
	}
	if cfg.Notifier == nil {
		panic("notifier is required")
	}

	svc := &service{
		messages: cfg.Messages,
		journal:  cfg.Journal,
		users:    cfg.Users,
		notifier: cfg.Notifier,
		log:      cfg.Logger,
	}
	if svc.log == nil {
		svc.log = slog.Default()
	}
	return svc
}

func (s *service) Archive(ctx context.Context) error {
	msgs, err := s.messages.List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list messages")
	}
	if len(msgs) == 0 {
		s.notifier.Info("Nothing to archive")
		return nil
	}

	sorted := append([]*host.ChatMessage(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var b strings.Builder
	b.WriteString(`<ol class="chat-log">`)
	for _, msg := range sorted {
		cleaned, err := CleanCard(msg.Content)
		if err != nil {
			s.log.Warn("archive: skipping unparsable message", "message", msg.ID, "error", err)
			continue
		}
		b.WriteString(`<li class="chat-message">`)
		if msg.Speaker != "" {
			b.WriteString(fmt.Sprintf(`<div class="message-sender" style="%s">%s</div>`, printColor, msg.Speaker))
		}
		b.WriteString(cleaned)
		b.WriteString("</li>")
	}
	b.WriteString("</ol>")

	pageName := pageNameFor(sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp)
	if err := s.journal.AppendPage(ctx, JournalName, pageName, b.String()); err != nil {
		return errors.Wrap(err, "failed to append journal page")
	}

	s.notifier.Info(fmt.Sprintf("Archived %d messages to %q", len(sorted), pageName))
	s.log.Info("archive: transcript archived", "messages", len(sorted), "page", pageName)
	return nil
}

func (s *service) DeleteFuture(ctx context.Context, messageID string) error {
	user := s.users.Current()
	if user == nil || !user.GM {
		s.notifier.Warn("Only the GM can prune the chat log")
		return errors.PermissionDenied("delete-future is GM only")
	}

	selected, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch message %s", messageID)
	}

	msgs, err := s.messages.List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list messages")
	}

	var ids []string
	for _, msg := range msgs {
		if msg.Timestamp >= selected.Timestamp {
			ids = append(ids, msg.ID)
		}
	}
	if err := s.messages.Delete(ctx, ids); err != nil {
		return errors.Wrap(err, "failed to delete messages")
	}

	s.log.Info("archive: pruned chat log", "from", selected.Timestamp, "deleted", len(ids))
	return nil
}

func pageNameFor(first, last int64) string {
	const layout = "2006-01-02 15:04"
	start := time.UnixMilli(first).UTC()
	end := time.UnixMilli(last).UTC()
	return fmt.Sprintf("%s to %s", start.Format(layout), end.Format(layout))
}

// Subscribe routes the chat-log UI commands to the service
func Subscribe(bus *events.Bus, svc Service) {
	bus.Subscribe(events.EventCommandInvoked, events.HandlerFunc{
		Name: "archive.commands",
		Prio: 20,
		Fn: func(ctx context.Context, event events.Event) error {
			cmd, ok := event.(events.CommandInvoked)
			if !ok {
				return nil
			}
			switch cmd.Name {
			case CommandArchive:
				return svc.Archive(ctx)
			case CommandDeleteFuture:
				return svc.DeleteFuture(ctx, cmd.Arg)
			}
			return nil
		},
	})
}

var strippedClasses = []string{"card-buttons", "dice-formula", "dice-tooltip"}

// CleanCard flattens one message's HTML for the archive: interactive
// elements are removed, headings demoted to bold divs, and text forced
// to the print color.
func CleanCard(content string) (string, error) {
	root, err := cardhtml.Parse(content)
	if err != nil {
		return "", err
	}

	for _, class := range strippedClasses {
		for {
			n := cardhtml.FindByClass(root, class)
			if n == nil {
				break
			}
			cardhtml.Remove(n)
		}
	}
	for {
		n := cardhtml.FindElement(root, "button")
		if n == nil {
			break
		}
		cardhtml.Remove(n)
	}
	for {
		n := cardhtml.FindElement(root, "damage-application")
		if n == nil {
			break
		}
		cardhtml.Remove(n)
	}

	var headings []*cardhtml.Node
	cardhtml.Walk(root, func(n *cardhtml.Node) bool {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			headings = append(headings, n)
		}
		return true
	})
	for _, h := range headings {
		cardhtml.AddClass(h, "heading-"+h.Data)
		h.Data = "div"
		h.DataAtom = 0
		cardhtml.AppendStyle(h, "font-weight:bold")
	}

	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == cardhtml.ElementNodeType {
			cardhtml.AppendStyle(c, printColor)
		}
	}

	return cardhtml.Render(root)
}
