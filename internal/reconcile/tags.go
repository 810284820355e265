package reconcile

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/juzibot/wechaty/internal/converge"
	"github.com/juzibot/wechaty/internal/entity"
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/puppet"
)

// HandleTagEvent resolves the tags (or tag groups) in ev and emits "tag" or
// "tag-group" with (type, entities, timestamp). For renames it first waits,
// per entity and concurrently, until the driver shows a name different from
// the cached one. Like HandleDirty it never returns an error.
func (o *Orchestrator) HandleTagEvent(ctx context.Context, ev puppet.TagEvent) {
	kind := ev.Kind
	if kind != payload.KindTagGroup {
		kind = payload.KindTag
	}
	p := o.newPass("tag", kind, strings.Join(ev.IDs, ","))

	ctx, span := o.tracer.Start(ctx, "reconcile.tag", trace.WithAttributes(
		attribute.String("wechaty.kind", kind.String()),
		attribute.String("wechaty.tag_event", string(ev.Type)),
		attribute.Int("wechaty.ids", len(ev.IDs)),
		attribute.String("wechaty.pass_id", p.ID),
	))

	err := o.guard(func() error { return o.handleTagEvent(ctx, p, ev) })
	if err != nil {
		p.fail(err)
	}
	o.finish(ctx, p, span)
}

func (o *Orchestrator) handleTagEvent(ctx context.Context, p *Pass, ev puppet.TagEvent) error {
	name := EventTag
	if p.Kind == payload.KindTagGroup {
		name = EventTagGroup
	}

	switch ev.Type {
	case puppet.TagEventCreate, puppet.TagEventDelete:
		items := p.Resolve(ctx, p.Kind, ev.IDs, "")
		p.EmitGlobal(name, ev.Type, items, ev.Timestamp)
		return nil

	case puppet.TagEventRename:
		items := p.Resolve(ctx, p.Kind, ev.IDs, "")
		o.awaitRenames(ctx, items)
		p.EmitGlobal(name, ev.Type, items, ev.Timestamp)
		return nil

	default:
		return &Error{
			Code: ErrCodeUnsupportedEvent,
			Err:  fmt.Errorf("%s event type %q unsupported", name, ev.Type),
		}
	}
}

// awaitRenames polls each entity until its name differs from the name it
// had on entry. Giving up is logged, not reported.
func (o *Orchestrator) awaitRenames(ctx context.Context, items []entity.Handle) {
	checker := &converge.Checker{Clock: o.clock}

	var g errgroup.Group
	g.SetLimit(o.resolveConcurrency)
	for _, h := range items {
		g.Go(func() error {
			oldName := nameOf(h)
			ok := checker.Await(ctx, o.syncGap, o.syncMaxRetry, func(ctx context.Context) bool {
				if err := h.Refresh(ctx, true); err != nil {
					o.logger.Debug("rename poll failed", "kind", h.Kind(), "id", h.ID(), "error", err)
					return false
				}
				return nameOf(h) != oldName
			})
			o.metrics.observeConvergence(ok)
			if !ok {
				o.logger.Warn("rename not visible after retries",
					"kind", h.Kind(),
					"id", h.ID(),
					"attempts", o.syncMaxRetry,
					"name", oldName)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func nameOf(h entity.Handle) string {
	return payload.StringOf(h.Payload().Get("name"))
}
