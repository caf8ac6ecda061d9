package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/akorchagin/eventdesk/internal/domain/task"
	"github.com/akorchagin/eventdesk/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TasksRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewTasksRepo(pool *pgxpool.Pool, prom *observability.Prom) *TasksRepo {
	return &TasksRepo{pool: pool, prom: prom}
}

func (r *TasksRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// EnqueueTx fans one subject out into one pending row per channel. The partial
// unique index on (kind, subject_id, channel) for pending rows makes this
// idempotent: a channel that was already told about this subject and has not
// acknowledged yet is not told twice. Returns how many rows were actually new.
func (r *TasksRepo) EnqueueTx(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string, channels []string, availableAt *time.Time) (created int, err error) {
	for _, ch := range channels {
		t := task.New(kind, subjectID, ch, availableAt)

		var tag pgconn.CommandTag

		err = r.observe("tasks.enqueue_tx", func() error {
			var e error
			tag, e = tx.Exec(ctx, `
			INSERT INTO tasks (id, kind, subject_id, channel, available_at, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (kind, subject_id, channel) WHERE status = 'pending' DO NOTHING
		`, t.ID, string(t.Kind), t.SubjectID, t.Channel, t.AvailableAt, string(t.Status), t.CreatedAt, t.UpdatedAt)
			return e
		})

		if err != nil {
			return
		}

		if tag.RowsAffected() == 1 {
			created++
			if r.prom != nil {
				r.prom.TasksEnqueuedTotal.WithLabelValues(string(kind), ch).Inc()
			}
		}
	}

	return
}

// PendingFor is the channel poll: pending rows for one channel that are due
// as of the given time, each enriched with the human-facing context resolved
// from its subject. Rows whose subject has since been deleted are skipped
// rather than surfaced half-empty.
func (r *TasksRepo) PendingFor(ctx context.Context, channel string, asOf time.Time) (items []task.PendingTask, err error) {
	var rows pgx.Rows

	err = r.observe("tasks.pending_for", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, `
		SELECT t.id, t.kind, t.available_at,
			m.title, m.content,
			e.title
		FROM tasks t
		LEFT JOIN mailings m
			ON t.kind = 'mailing' AND m.id = t.subject_id
		LEFT JOIN waitlist_entries w
			ON t.kind = 'waitlist.notify' AND w.id = t.subject_id
		LEFT JOIN events e
			ON e.id = w.event_id
		WHERE t.channel = $1
		  AND t.status = 'pending'
		  AND (t.available_at IS NULL OR t.available_at <= $2)
		ORDER BY t.created_at ASC, t.id ASC
	`, channel, asOf)
		return qerr
	})

	if err != nil {
		return
	}

	defer rows.Close()

	items = make([]task.PendingTask, 0)

	for rows.Next() {
		var (
			t            task.PendingTask
			kind         string
			mailingTitle *string
			mailingBody  *string
			eventTitle   *string
		)

		e := rows.Scan(&t.ID, &kind, &t.AvailableAt, &mailingTitle, &mailingBody, &eventTitle)

		if e != nil {
			err = e
			return
		}

		t.Kind = task.Kind(kind)

		switch t.Kind {
		case task.KindMailing:
			if mailingTitle == nil {
				continue
			}
			t.Title = *mailingTitle
			if mailingBody != nil {
				t.Description = *mailingBody
			}
		case task.KindWaitlistNotify:
			if eventTitle == nil {
				continue
			}
			t.Title = "Seat available: " + *eventTitle
			t.Description = "A seat opened up for " + *eventTitle + ". Claim your spot before it is taken."
		default:
			continue
		}

		items = append(items, t)
	}

	e := rows.Err()

	if e != nil {
		if r.prom != nil {
			r.prom.DbErrorsTotal.WithLabelValues("tasks.pending_for", "rows_err").Inc()
		}
		err = e
		return
	}

	return
}

// Complete acknowledges one task. Completing an already-completed task is a
// no-op; only an unknown id is an error.
func (r *TasksRepo) Complete(ctx context.Context, id string) error {
	var channel string
	var err error
	op := "tasks.complete"

	err = r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `
		UPDATE tasks
		SET status = 'completed',
		    updated_at = NOW()
		WHERE id = $1
		RETURNING channel
	`, id).Scan(&channel)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.ErrNotFound
		}
		return err
	}

	if r.prom != nil {
		r.prom.TasksCompletedTotal.WithLabelValues(channel).Inc()
	}
	return nil
}

// CompleteAllForSubjectTx retires every channel copy of a notification once
// the subject is dealt with, so the other channels stop re-delivering it.
func (r *TasksRepo) CompleteAllForSubjectTx(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string) error {
	return r.observe("tasks.complete_all_for_subject_tx", func() error {
		_, err := tx.Exec(ctx, `
		UPDATE tasks
		SET status = 'completed',
		    updated_at = NOW()
		WHERE kind = $1 AND subject_id = $2 AND status = 'pending'
	`, string(kind), subjectID)
		return err
	})
}

// DeleteForSubjectTx drops every task row for a subject. Mailing update and
// delete use it to re-sync the fan-out with the current channel list.
func (r *TasksRepo) DeleteForSubjectTx(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string) error {
	return r.observe("tasks.delete_for_subject_tx", func() error {
		_, err := tx.Exec(ctx, `
		DELETE FROM tasks
		WHERE kind = $1 AND subject_id = $2
	`, string(kind), subjectID)
		return err
	})
}
