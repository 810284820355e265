package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/juzibot/wechaty/internal/payload"
)

// ReadPasses returns passes matching f in processing order. Events are not
// loaded; use ReadEvents.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ReadPasses(ctx context.Context, f Filter) ([]PassRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != payload.KindUnspecified {
		where = append(where, "kind = ?")
		args = append(args, f.Kind.String())
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `
		SELECT id, seq, source, kind, entity_id, status, error, before_hash, after_hash, changed_keys, started_at, duration_us
		FROM passes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit > 0 {
		// Most recent N, still returned oldest first.
		query = `SELECT * FROM (` + query + ` ORDER BY seq DESC, id DESC LIMIT ?)`
		args = append(args, f.Limit)
	}
	query += " ORDER BY seq ASC, id COLLATE BINARY ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query passes: %w", err)
	}
	defer rows.Close()

	passes := []PassRecord{}
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passes: %w", err)
	}
	return passes, nil
}

// ReadPass returns one pass with its events.
func (s *Store) ReadPass(ctx context.Context, id string) (PassRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, source, kind, entity_id, status, error, before_hash, after_hash, changed_keys, started_at, duration_us
		FROM passes WHERE id = ?
	`, id)
	p, err := scanPass(row)
	if err == sql.ErrNoRows {
		return PassRecord{}, fmt.Errorf("pass not found: %s", id)
	}
	if err != nil {
		return PassRecord{}, err
	}
	p.Events, err = s.ReadEvents(ctx, id)
	if err != nil {
		return PassRecord{}, err
	}
	return p, nil
}

// ReadEvents returns the events of a pass in emission order.
func (s *Store) ReadEvents(ctx context.Context, passID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bus, name, args FROM events
		WHERE pass_id = ?
		ORDER BY idx ASC
	`, passID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		var (
			ev       EventRecord
			bus      string
			argsJSON string
		)
		if err := rows.Scan(&bus, &ev.Name, &argsJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Bus = Bus(bus)
		if ev.Args, err = unmarshalArgs(argsJSON); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPass(row scanner) (PassRecord, error) {
	var (
		p          PassRecord
		kind       string
		status     string
		keysJSON   string
		startedUs  int64
		durationUs int64
	)
	err := row.Scan(&p.ID, &p.Seq, &p.Trigger, &kind, &p.EntityID, &status, &p.Error,
		&p.BeforeHash, &p.AfterHash, &keysJSON, &startedUs, &durationUs)
	if err == sql.ErrNoRows {
		return PassRecord{}, err
	}
	if err != nil {
		return PassRecord{}, fmt.Errorf("scan pass: %w", err)
	}

	if p.Kind, err = payload.ParseKind(kind); err != nil {
		return PassRecord{}, fmt.Errorf("scan pass %s: %w", p.ID, err)
	}
	p.Status = PassStatus(status)
	if p.ChangedKeys, err = unmarshalKeys(keysJSON); err != nil {
		return PassRecord{}, fmt.Errorf("scan pass %s: %w", p.ID, err)
	}
	p.StartedAt = time.UnixMicro(startedUs).UTC()
	p.Duration = time.Duration(durationUs) * time.Microsecond
	return p, nil
}
