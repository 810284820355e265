package store

import (
	"context"
	"fmt"
)

// RecordPass writes a pass and its events in one transaction. Writing a
// pass id that already exists is a no-op.
func (s *Store) RecordPass(ctx context.Context, p PassRecord) error {
	keysJSON, err := marshalKeys(p.ChangedKeys)
	if err != nil {
		return fmt.Errorf("record pass: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record pass: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO passes
		(id, seq, source, kind, entity_id, status, error, before_hash, after_hash, changed_keys, started_at, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		p.ID,
		p.Seq,
		p.Trigger,
		p.Kind.String(),
		p.EntityID,
		string(p.Status),
		p.Error,
		p.BeforeHash,
		p.AfterHash,
		keysJSON,
		p.StartedAt.UnixMicro(),
		p.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("record pass %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for i, ev := range p.Events {
		argsJSON, err := marshalArgs(ev.Args)
		if err != nil {
			return fmt.Errorf("record pass %s event %d: %w", p.ID, i, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (pass_id, idx, bus, name, args)
			VALUES (?, ?, ?, ?, ?)
		`, p.ID, i, string(ev.Bus), ev.Name, argsJSON); err != nil {
			return fmt.Errorf("record pass %s event %d: %w", p.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record pass %s: commit: %w", p.ID, err)
	}
	return nil
}
