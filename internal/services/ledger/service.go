// Package ledger tracks expendable gear across an encounter: ammunition
// and throwable weapons are counted when combat starts and reconciled
// when it ends, so nobody has to remember how many arrows they loosed.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vttkit/companion/internal/errors"
	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
	"github.com/vttkit/companion/internal/notify"
	"github.com/vttkit/companion/internal/repositories/snapshots"
)

const subtypeAmmo = "ammo"

// TrackedQuantity reports whether the item is expendable gear worth
// tracking and the quantity to count it at. Throwable weapons without an
// explicit count are a single weapon; ammunition without a count is
// genuinely empty.
func TrackedQuantity(item *host.Item) (int, bool) {
	switch {
	case item.Type == host.ItemWeapon && item.Throwable:
		if item.Quantity <= 0 {
			return 1, true
		}
		return item.Quantity, true
	case item.Type == host.ItemConsumable && item.Subtype == subtypeAmmo:
		return item.Quantity, true
	}
	return 0, false
}

// Delta is one item's movement between the start and end of combat.
// Used is initial minus final; negative means the actor gained some.
type Delta struct {
	ItemID  string
	Initial int
	Final   int
	Used    int
}

// Diff computes the nonzero per-item deltas between two count maps.
// Items absent from initial but present in final count as gained.
// Results are sorted by item id for stable reports.
func Diff(initial, final map[string]int) []Delta {
	ids := make(map[string]struct{}, len(initial)+len(final))
	for id := range initial {
		ids[id] = struct{}{}
	}
	for id := range final {
		ids[id] = struct{}{}
	}

	out := make([]Delta, 0, len(ids))
	for id := range ids {
		before := initial[id]
		after := final[id]
		if before == after {
			continue
		}
		out = append(out, Delta{ItemID: id, Initial: before, Final: after, Used: before - after})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// Service tracks expendable gear over the lifetime of a combat
type Service interface {
	// StartTracking snapshots expendable counts for player-character
	// combatants and announces them
	StartTracking(ctx context.Context, combat *host.Combat) error

	// StopTracking reconciles counts against the stored snapshot,
	// reports the nonzero deltas, and drops the snapshot
	StopTracking(ctx context.Context, combat *host.Combat) error
}

// ServiceConfig holds configuration for the service
type ServiceConfig struct {
	Actors     host.Actors
	Messages   host.Messages
	Repository snapshots.Repository
	Notify     notify.Notifier
	Logger     *slog.Logger
}

type service struct {
	actors   host.Actors
	messages host.Messages
	repo     snapshots.Repository
	notify   notify.Notifier
	log      *slog.Logger
}

// NewService creates a new ledger service
func NewService(cfg *ServiceConfig) Service {
	if cfg.Actors == nil {
		panic("actors is required")
	}
	if cfg.Messages == nil {
		panic("messages is required")
	}
	if cfg.Repository == nil {
		panic("repository is required")
	}

	svc := &service{
		actors:   cfg.Actors,
		messages: cfg.Messages,
		repo:     cfg.Repository,
		notify:   cfg.Notify,
		log:      cfg.Logger,
	}
	if svc.notify == nil {
		svc.notify = notify.NewNoop()
	}
	if svc.log == nil {
		svc.log = slog.Default()
	}
	return svc
}

func (s *service) StartTracking(ctx context.Context, combat *host.Combat) error {
	if combat == nil {
		return errors.InvalidArgument("combat cannot be nil")
	}

	snap := make(snapshots.Snapshot)
	for _, actor := range s.trackedActors(ctx, combat) {
		counts := countExpendables(actor)
		if len(counts) > 0 {
			snap[actor.ID] = counts
		}
	}

	if len(snap) == 0 {
		s.log.Debug("ledger: nothing to track", "combat", combat.ID)
		return nil
	}

	if err := s.repo.Save(ctx, combat.ID, snap); err != nil {
		return errors.Wrap(err, "failed to store resource snapshot")
	}

	content := s.renderStartReport(ctx, snap)
	if err := s.messages.Create(ctx, &host.ChatMessage{Content: content}); err != nil {
		s.log.Error("ledger: failed to post start report", "combat", combat.ID, "error", err)
	}

	s.log.Info("ledger: tracking started", "combat", combat.ID, "actors", len(snap))
	return nil
}

func (s *service) StopTracking(ctx context.Context, combat *host.Combat) error {
	if combat == nil {
		return errors.InvalidArgument("combat cannot be nil")
	}

	snap, err := s.repo.Get(ctx, combat.ID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return errors.Wrap(err, "failed to load resource snapshot")
	}

	var sections []string
	var plain []string
	for _, actorID := range sortedKeys(snap) {
		actor, err := s.actors.Get(ctx, actorID)
		if err != nil {
			s.log.Warn("ledger: combatant no longer resolves", "actor", actorID, "error", err)
			continue
		}

		deltas := Diff(snap[actorID], countExpendables(actor))
		if len(deltas) == 0 {
			continue
		}
		sections = append(sections, renderActorSection(actor, deltas))
		plain = append(plain, renderActorPlain(actor, deltas))
	}

	if len(sections) > 0 {
		content := `<div class="resource-ledger"><h3>Expended resources</h3>` +
			strings.Join(sections, "") + `</div>`
		if err := s.messages.Create(ctx, &host.ChatMessage{Content: content}); err != nil {
			s.log.Error("ledger: failed to post usage report", "combat", combat.ID, "error", err)
		}
		s.notify.Report(ctx, "Expended resources\n"+strings.Join(plain, "\n"))
	}

	if err := s.repo.Delete(ctx, combat.ID); err != nil && !errors.IsNotFound(err) {
		s.log.Warn("ledger: failed to drop snapshot", "combat", combat.ID, "error", err)
	}

	s.log.Info("ledger: tracking stopped", "combat", combat.ID, "actors_reported", len(sections))
	return nil
}

// trackedActors resolves the player-character combatants; anything that
// no longer resolves is skipped.
func (s *service) trackedActors(ctx context.Context, combat *host.Combat) []*host.Actor {
	var out []*host.Actor
	seen := make(map[string]struct{})
	for _, cb := range combat.Combatants {
		if cb.ActorID == "" {
			continue
		}
		if _, dup := seen[cb.ActorID]; dup {
			continue
		}
		seen[cb.ActorID] = struct{}{}

		actor, err := s.actors.Get(ctx, cb.ActorID)
		if err != nil {
			s.log.Debug("ledger: combatant actor not found", "actor", cb.ActorID)
			continue
		}
		if actor.Kind != host.KindCharacter {
			continue
		}
		out = append(out, actor)
	}
	return out
}

func countExpendables(actor *host.Actor) map[string]int {
	counts := make(map[string]int)
	for _, item := range actor.Items {
		if qty, ok := TrackedQuantity(item); ok {
			counts[item.ID] = qty
		}
	}
	return counts
}

func (s *service) renderStartReport(ctx context.Context, snap snapshots.Snapshot) string {
	var b strings.Builder
	b.WriteString(`<div class="resource-ledger"><h3>Tracking expendables</h3>`)
	for _, actorID := range sortedKeys(snap) {
		actor, err := s.actors.Get(ctx, actorID)
		if err != nil {
			continue
		}
		b.WriteString("<section><h4>" + actor.Name + "</h4><ul>")
		for _, itemID := range sortedCountKeys(snap[actorID]) {
			b.WriteString(fmt.Sprintf("<li>%s: %d</li>", itemName(actor, itemID), snap[actorID][itemID]))
		}
		b.WriteString("</ul></section>")
	}
	b.WriteString("</div>")
	return b.String()
}

func renderActorSection(actor *host.Actor, deltas []Delta) string {
	var b strings.Builder
	b.WriteString("<section><h4>" + actor.Name + "</h4><ul>")
	for _, d := range deltas {
		b.WriteString(fmt.Sprintf("<li>%s: %d &rarr; %d (%s)</li>",
			itemName(actor, d.ItemID), d.Initial, d.Final, describeUsed(d.Used)))
	}
	b.WriteString("</ul></section>")
	return b.String()
}

func renderActorPlain(actor *host.Actor, deltas []Delta) string {
	parts := make([]string, 0, len(deltas))
	for _, d := range deltas {
		parts = append(parts, fmt.Sprintf("%s %d->%d (%s)",
			itemName(actor, d.ItemID), d.Initial, d.Final, describeUsed(d.Used)))
	}
	return actor.Name + ": " + strings.Join(parts, ", ")
}

func describeUsed(used int) string {
	if used < 0 {
		return fmt.Sprintf("gained %d", -used)
	}
	return fmt.Sprintf("used %d", used)
}

func itemName(actor *host.Actor, itemID string) string {
	if item := actor.Item(itemID); item != nil {
		return item.Name
	}
	return itemID
}

func sortedKeys(snap snapshots.Snapshot) []string {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCountKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Subscribe wires the ledger to combat lifecycle events
func Subscribe(bus *events.Bus, svc Service) {
	bus.Subscribe(events.EventCombatStarted, events.HandlerFunc{
		Name: "ledger.start",
		Prio: 20,
		Fn: func(ctx context.Context, event events.Event) error {
			started, ok := event.(events.CombatStarted)
			if !ok {
				return nil
			}
			return svc.StartTracking(ctx, started.Combat)
		},
	})

	bus.Subscribe(events.EventCombatDeleted, events.HandlerFunc{
		Name: "ledger.stop",
		Prio: 20,
		Fn: func(ctx context.Context, event events.Event) error {
			deleted, ok := event.(events.CombatDeleted)
			if !ok {
				return nil
			}
			return svc.StopTracking(ctx, deleted.Combat)
		},
	})
}
