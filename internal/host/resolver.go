package host

// Host versions move the actor and message references around; instead of
// optional-chaining through every shape at every call site, each lookup is
// an ordered list of resolvers tried in sequence.

// OriginResolver extracts an originating message id from a roll linkage,
// returning "" when it has no answer.
type OriginResolver func(Linkage) string

// DefaultOriginResolvers is the standard chain: the embedded linkage flag
// first, then the DOM context of the triggering click.
func DefaultOriginResolvers() []OriginResolver {
	return []OriginResolver{
		func(l Linkage) string { return l.OriginatingMessageID },
		func(l Linkage) string { return l.ClickMessageID },
	}
}

// ResolveOrigin runs the chain and returns the first hit, "" when none.
func ResolveOrigin(l Linkage, resolvers ...OriginResolver) string {
	if len(resolvers) == 0 {
		resolvers = DefaultOriginResolvers()
	}
	for _, resolve := range resolvers {
		if id := resolve(l); id != "" {
			return id
		}
	}
	return ""
}

// DialogActorResolver extracts an actor id from a dialog, "" when absent.
type DialogActorResolver func(*Dialog) string

// DefaultDialogActorResolvers covers the reference locations seen across
// host versions, most direct first.
func DefaultDialogActorResolvers() []DialogActorResolver {
	return []DialogActorResolver{
		func(d *Dialog) string { return d.ActorID },
		func(d *Dialog) string { return d.ItemActorID },
		func(d *Dialog) string { return d.SubjectActorID },
		func(d *Dialog) string {
			if len(d.RollActorIDs) > 0 {
				return d.RollActorIDs[0]
			}
			return ""
		},
	}
}

// ResolveDialogActor runs the chain and returns the first hit, "" when none.
func ResolveDialogActor(d *Dialog, resolvers ...DialogActorResolver) string {
	if d == nil {
		return ""
	}
	if len(resolvers) == 0 {
		resolvers = DefaultDialogActorResolvers()
	}
	for _, resolve := range resolvers {
		if id := resolve(d); id != "" {
			return id
		}
	}
	return ""
}
