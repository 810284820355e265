package reconcile

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/juzibot/wechaty/internal/entity"
	"github.com/juzibot/wechaty/internal/payload"
)

// resolveAll finds every id with at most resolveConcurrency lookups in
// flight. found[i] and errs[i] describe ids[i]; exactly one is non-nil.
func (o *Orchestrator) resolveAll(ctx context.Context, kind payload.Kind, ids []string) (found []entity.Handle, errs []error) {
	found = make([]entity.Handle, len(ids))
	errs = make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(o.resolveConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = panicError(r)
				}
			}()
			h, err := o.registry.Find(ctx, kind, id)
			if err != nil {
				errs[i] = err
				return nil
			}
			found[i] = h
			return nil
		})
	}
	_ = g.Wait()
	return found, errs
}
