package reconcile

import (
	"context"

	"github.com/juzibot/wechaty/internal/diff"
	"github.com/juzibot/wechaty/internal/payload"
)

// Change is one important difference handed to a FieldHandler. Old and New
// are the raw snapshot values (nil when undefined); Difference carries the
// transport form where composites are canonical JSON strings.
type Change struct {
	Field      string
	Difference diff.FieldDifference
	Old        payload.Value
	New        payload.Value
}

// FieldHandler reacts to one changed important field. A returned error is
// reported; sibling fields are still dispatched.
type FieldHandler func(ctx context.Context, p *Pass, c Change) error

func defaultHandlers() map[payload.Kind]map[string]FieldHandler {
	return map[payload.Kind]map[string]FieldHandler{
		payload.KindContact: {
			"name":        stringField,
			"alias":       stringField,
			"description": stringField,
			"corporation": stringField,
			"phone":       stringListField,
			"tags":        contactTags,
		},
		payload.KindRoom: {
			// Driven by dedicated join/leave and topic signals.
			"topic":        handledElsewhere,
			"memberIdList": handledElsewhere,
			"ownerId":      roomOwner,
		},
	}
}

// stringField emits (new, old) as strings.
func stringField(_ context.Context, p *Pass, c Change) error {
	newValue, oldValue := payload.StringOf(c.New), payload.StringOf(c.Old)
	p.EmitGlobal(GlobalEventName(p.Kind, c.Field), p.Entity, newValue, oldValue)
	p.EmitEntity(c.Field, newValue, oldValue)
	return nil
}

// stringListField emits (new, old) as string slices.
func stringListField(_ context.Context, p *Pass, c Change) error {
	newValue, oldValue := payload.StringsOf(c.New), payload.StringsOf(c.Old)
	p.EmitGlobal(GlobalEventName(p.Kind, c.Field), p.Entity, newValue, oldValue)
	p.EmitEntity(c.Field, newValue, oldValue)
	return nil
}

func handledElsewhere(context.Context, *Pass, Change) error {
	return nil
}

// contactTags resolves added and removed tag ids and emits tag-add and
// tag-remove. Each event is emitted only if at least one tag resolved.
func contactTags(ctx context.Context, p *Pass, c Change) error {
	added, removed := idDelta(payload.StringsOf(c.Old), payload.StringsOf(c.New))

	if len(added) > 0 {
		if tags := p.Resolve(ctx, payload.KindTag, added, c.Field); len(tags) > 0 {
			p.EmitGlobal(GlobalEventName(p.Kind, EventTagAdd), p.Entity, tags)
			p.EmitEntity(EventTagAdd, tags)
		}
	}
	if len(removed) > 0 {
		if tags := p.Resolve(ctx, payload.KindTag, removed, c.Field); len(tags) > 0 {
			p.EmitGlobal(GlobalEventName(p.Kind, EventTagRemove), p.Entity, tags)
			p.EmitEntity(EventTagRemove, tags)
		}
	}
	return nil
}

// roomOwner resolves both owners and emits (room, newOwner, oldOwner). An
// owner that is unset or fails to resolve is nil.
func roomOwner(ctx context.Context, p *Pass, c Change) error {
	newOwner := p.ResolveOne(ctx, payload.KindContact, payload.StringOf(c.New), c.Field)
	oldOwner := p.ResolveOne(ctx, payload.KindContact, payload.StringOf(c.Old), c.Field)

	p.EmitGlobal(GlobalEventName(p.Kind, EventOwner), p.Entity, newOwner, oldOwner)
	p.EmitEntity(EventOwner, newOwner, oldOwner)
	return nil
}

// idDelta returns ids only in next (added, in next order) and ids only in
// prev (removed, in prev order). Duplicates are dropped.
func idDelta(prev, next []string) (added, removed []string) {
	inPrev := make(map[string]bool, len(prev))
	for _, id := range prev {
		inPrev[id] = true
	}
	inNext := make(map[string]bool, len(next))
	for _, id := range next {
		inNext[id] = true
	}

	seen := map[string]bool{}
	for _, id := range next {
		if !inPrev[id] && !seen[id] {
			added = append(added, id)
			seen[id] = true
		}
	}
	for _, id := range prev {
		if !inNext[id] && !seen[id] {
			removed = append(removed, id)
			seen[id] = true
		}
	}
	return added, removed
}
