package postgres

import (
	"context"
	"errors"

	"github.com/akorchagin/eventdesk/internal/domain/event"
	"github.com/akorchagin/eventdesk/internal/domain/waitlist"
	"github.com/akorchagin/eventdesk/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WaitlistRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewWaitlistRepo(pool *pgxpool.Pool, prom *observability.Prom) *WaitlistRepo {
	return &WaitlistRepo{pool: pool, prom: prom}
}

func (r *WaitlistRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *WaitlistRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

// AppendTx places a holder at the tail of the queue. The caller already holds
// the event row lock (overflow is decided there), so COUNT(*)+1 is stable.
func (r *WaitlistRepo) AppendTx(ctx context.Context, tx pgx.Tx, eventID, holderID, holderEmail string) (entry waitlist.Entry, err error) {
	entry = waitlist.NewEntry(eventID, holderID, holderEmail, 0)

	err = r.observe("waitlist.append_tx", func() error {
		return tx.QueryRow(ctx, `
		INSERT INTO waitlist_entries (id, event_id, holder_id, holder_email, position, created_at)
		VALUES ($1, $2, $3, $4, (SELECT COUNT(*) + 1 FROM waitlist_entries WHERE event_id = $2), $5)
		RETURNING position
	`, entry.ID, entry.EventID, entry.HolderID, entry.HolderEmail, entry.CreatedAt).Scan(&entry.Position)
	})

	if err != nil {
		entry = waitlist.Entry{}
		return
	}

	return
}

func (r *WaitlistRepo) ListByEvent(ctx context.Context, eventID string) (entries []waitlist.Entry, err error) {
	var rows pgx.Rows

	err = r.observe("waitlist.list_by_event", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, `
		SELECT id, event_id, holder_id, holder_email, position, created_at
		FROM waitlist_entries
		WHERE event_id = $1
		ORDER BY position ASC, id ASC
	`, eventID)
		return qerr
	})

	if err != nil {
		return
	}

	defer rows.Close()

	entries = make([]waitlist.Entry, 0)

	for rows.Next() {
		var en waitlist.Entry

		e := rows.Scan(&en.ID, &en.EventID, &en.HolderID, &en.HolderEmail, &en.Position, &en.CreatedAt)

		if e != nil {
			err = e
			return
		}
		entries = append(entries, en)
	}

	e := rows.Err()

	if e != nil {
		if r.prom != nil {
			r.prom.DbErrorsTotal.WithLabelValues("waitlist.list_by_event", "rows_err").Inc()
		}
		err = e
		return
	}

	// an empty queue still needs a 404 when the event itself is gone

	if len(entries) == 0 {
		var dummy string

		err = r.observe("waitlist.list_by_event.check_event_exists", func() error {
			return r.pool.QueryRow(ctx, `SELECT id FROM events WHERE id = $1`, eventID).Scan(&dummy)
		})

		if errors.Is(err, pgx.ErrNoRows) {
			err = event.ErrNotFound
			return
		}

		if err != nil {
			return
		}
	}

	return
}

// ListTx reads the queue inside a transaction that already locked the event
// row, so the snapshot cannot move while a notify sweep walks it.
func (r *WaitlistRepo) ListTx(ctx context.Context, tx pgx.Tx, eventID string) (entries []waitlist.Entry, err error) {
	var rows pgx.Rows

	err = r.observe("waitlist.list_tx", func() error {
		var qerr error
		rows, qerr = tx.Query(ctx, `
		SELECT id, event_id, holder_id, holder_email, position, created_at
		FROM waitlist_entries
		WHERE event_id = $1
		ORDER BY position ASC, id ASC
	`, eventID)
		return qerr
	})

	if err != nil {
		return
	}

	defer rows.Close()

	entries = make([]waitlist.Entry, 0)

	for rows.Next() {
		var en waitlist.Entry

		e := rows.Scan(&en.ID, &en.EventID, &en.HolderID, &en.HolderEmail, &en.Position, &en.CreatedAt)

		if e != nil {
			err = e
			return
		}
		entries = append(entries, en)
	}

	if rows.Err() != nil {
		err = rows.Err()
		return
	}

	return
}

func (r *WaitlistRepo) GetByID(ctx context.Context, id string) (waitlist.Entry, error) {
	return r.getEntry(ctx, r.pool, "waitlist.get_by_id", id)
}

// GetTx re-reads an entry under the event lock. A claim has to do this: the
// entry it saw before locking may have been promoted or removed in between.
func (r *WaitlistRepo) GetTx(ctx context.Context, tx pgx.Tx, id string) (waitlist.Entry, error) {
	return r.getEntry(ctx, tx, "waitlist.get_tx", id)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *WaitlistRepo) getEntry(ctx context.Context, q rowQuerier, op, id string) (entry waitlist.Entry, err error) {
	err = r.observe(op, func() error {
		return q.QueryRow(ctx, `
		SELECT id, event_id, holder_id, holder_email, position, created_at
		FROM waitlist_entries
		WHERE id = $1
	`, id).Scan(&entry.ID, &entry.EventID, &entry.HolderID, &entry.HolderEmail, &entry.Position, &entry.CreatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = waitlist.ErrNotFound
		}
		entry = waitlist.Entry{}
		return
	}

	return
}

// Reposition moves one entry to a clamped target position and shifts the
// entries in between by one so the sequence stays contiguous. The whole move
// runs in one transaction under the event row lock.
func (r *WaitlistRepo) Reposition(ctx context.Context, id string, requested int) (moved waitlist.Entry, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var eventID string

	err = r.observe("waitlist.reposition.lookup", func() error {
		return tx.QueryRow(ctx, `SELECT event_id FROM waitlist_entries WHERE id = $1`, id).Scan(&eventID)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = waitlist.ErrNotFound
		}
		return
	}

	err = r.observe("waitlist.reposition.capacity_lock", func() error {
		_, _, e := lockEventSeats(ctx, tx, eventID)
		return e
	})

	if err != nil {
		return
	}

	// re-read now that the lock is held

	var current int

	err = r.observe("waitlist.reposition.reread", func() error {
		return tx.QueryRow(ctx, `SELECT position FROM waitlist_entries WHERE id = $1`, id).Scan(&current)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = waitlist.ErrNotFound
		}
		return
	}

	var count int

	err = r.observe("waitlist.reposition.count", func() error {
		return tx.QueryRow(ctx, `SELECT COUNT(*) FROM waitlist_entries WHERE event_id = $1`, eventID).Scan(&count)
	})

	if err != nil {
		return
	}

	target := waitlist.ClampPosition(requested, count)

	if target < current {
		// moving toward the head: everyone in [target, current) steps back

		err = r.observe("waitlist.reposition.shift", func() error {
			_, e := tx.Exec(ctx, `
			UPDATE waitlist_entries
			SET position = position + 1
			WHERE event_id = $1 AND position >= $2 AND position < $3
		`, eventID, target, current)
			return e
		})
	} else if target > current {
		// moving toward the tail: everyone in (current, target] steps forward

		err = r.observe("waitlist.reposition.shift", func() error {
			_, e := tx.Exec(ctx, `
			UPDATE waitlist_entries
			SET position = position - 1
			WHERE event_id = $1 AND position > $2 AND position <= $3
		`, eventID, current, target)
			return e
		})
	}

	if err != nil {
		return
	}

	var entry waitlist.Entry

	err = r.observe("waitlist.reposition.set", func() error {
		return tx.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET position = $2
		WHERE id = $1
		RETURNING id, event_id, holder_id, holder_email, position, created_at
	`, id, target).Scan(&entry.ID, &entry.EventID, &entry.HolderID, &entry.HolderEmail, &entry.Position, &entry.CreatedAt)
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	if err != nil {
		return
	}

	moved = entry
	return
}

// Remove deletes an entry and compacts the tail in one transaction.
func (r *WaitlistRepo) Remove(ctx context.Context, id string) (removed waitlist.Entry, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var eventID string

	err = r.observe("waitlist.remove.lookup", func() error {
		return tx.QueryRow(ctx, `SELECT event_id FROM waitlist_entries WHERE id = $1`, id).Scan(&eventID)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = waitlist.ErrNotFound
		}
		return
	}

	err = r.observe("waitlist.remove.capacity_lock", func() error {
		_, _, e := lockEventSeats(ctx, tx, eventID)
		return e
	})

	if err != nil {
		return
	}

	removed, err = r.RemoveTx(ctx, tx, id)

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	if err != nil {
		removed = waitlist.Entry{}
		return
	}

	return
}

// RemoveTx deletes an entry and closes the gap it leaves. The caller must
// already hold the event row lock.
func (r *WaitlistRepo) RemoveTx(ctx context.Context, tx pgx.Tx, id string) (removed waitlist.Entry, err error) {
	var entry waitlist.Entry

	err = r.observe("waitlist.remove_tx.delete", func() error {
		return tx.QueryRow(ctx, `
		DELETE FROM waitlist_entries
		WHERE id = $1
		RETURNING id, event_id, holder_id, holder_email, position, created_at
	`, id).Scan(&entry.ID, &entry.EventID, &entry.HolderID, &entry.HolderEmail, &entry.Position, &entry.CreatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = waitlist.ErrNotFound
		}
		return
	}

	// compaction keeps positions contiguous

	err = r.observe("waitlist.remove_tx.compact", func() error {
		_, e := tx.Exec(ctx, `
		UPDATE waitlist_entries
		SET position = position - 1
		WHERE event_id = $1 AND position > $2
	`, entry.EventID, entry.Position)
		return e
	})

	if err != nil {
		return
	}

	removed = entry
	return
}

// PromoteHeadTx pops the entry with the smallest position. The caller holds
// the event row lock and decides what to do with the freed holder.
func (r *WaitlistRepo) PromoteHeadTx(ctx context.Context, tx pgx.Tx, eventID string) (head waitlist.Entry, err error) {
	var id string

	err = r.observe("waitlist.promote_head_tx.head", func() error {
		return tx.QueryRow(ctx, `
		SELECT id
		FROM waitlist_entries
		WHERE event_id = $1
		ORDER BY position ASC, id ASC
		LIMIT 1
	`, eventID).Scan(&id)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = waitlist.ErrEmpty
		}
		return
	}

	head, err = r.RemoveTx(ctx, tx, id)
	return
}
