package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/akorchagin/eventdesk/internal/domain/mailing"
	"github.com/akorchagin/eventdesk/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MailingsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewMailingsRepo(pool *pgxpool.Pool, prom *observability.Prom) *MailingsRepo {
	return &MailingsRepo{pool: pool, prom: prom}
}

func (r *MailingsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *MailingsRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

// CreateTx inserts the mailing only; the caller enqueues its task fan-out in
// the same transaction so a mailing and its delivery obligations commit
// together.
func (r *MailingsRepo) CreateTx(ctx context.Context, tx pgx.Tx, m mailing.Mailing) error {
	return r.observe("mailings.create_tx", func() error {
		_, err := tx.Exec(ctx, `
		INSERT INTO mailings (id, created_by, title, content, audience, channels, scheduled_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, m.ID, m.CreatedBy, m.Title, m.Content, m.Audience, m.Channels, m.ScheduledAt, m.CreatedAt, m.UpdatedAt)
		return err
	})
}

func (r *MailingsRepo) GetByID(ctx context.Context, id string) (found mailing.Mailing, err error) {
	var m mailing.Mailing

	err = r.observe("mailings.get_by_id", func() error {
		return r.pool.QueryRow(ctx, `
		SELECT id, created_by, title, content, audience, channels, scheduled_at, created_at, updated_at
		FROM mailings
		WHERE id = $1
	`, id).Scan(&m.ID, &m.CreatedBy, &m.Title, &m.Content, &m.Audience, &m.Channels, &m.ScheduledAt, &m.CreatedAt, &m.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = mailing.ErrNotFound
		}
		return
	}

	found = m
	return
}

func (r *MailingsRepo) List(ctx context.Context, limit, offset int) (items []mailing.Mailing, total int, err error) {
	var rows pgx.Rows

	err = r.observe("mailings.list", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, `
		SELECT id, created_by, title, content, audience, channels, scheduled_at, created_at, updated_at,
			COUNT(*) OVER() AS total
		FROM mailings
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
		return qerr
	})

	if err != nil {
		return
	}

	defer rows.Close()

	items = make([]mailing.Mailing, 0, limit)

	for rows.Next() {
		var m mailing.Mailing
		var t int

		e := rows.Scan(&m.ID, &m.CreatedBy, &m.Title, &m.Content, &m.Audience, &m.Channels, &m.ScheduledAt, &m.CreatedAt, &m.UpdatedAt, &t)

		if e != nil {
			err = e
			return
		}
		total = t
		items = append(items, m)
	}

	if rows.Err() != nil {
		err = rows.Err()
		return
	}

	return
}

func (r *MailingsRepo) UpdateTx(ctx context.Context, tx pgx.Tx, id string, req mailing.UpdateMailingRequest) (updated mailing.Mailing, err error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	argsPosition := 2

	if req.Title != "" {
		sets = append(sets, fmt.Sprintf("title = $%d", argsPosition))
		args = append(args, req.Title)
		argsPosition++
	}

	if req.Content != "" {
		sets = append(sets, fmt.Sprintf("content = $%d", argsPosition))
		args = append(args, req.Content)
		argsPosition++
	}

	if req.Channels != nil {
		sets = append(sets, fmt.Sprintf("channels = $%d", argsPosition))
		args = append(args, *req.Channels)
		argsPosition++
	}

	if req.ScheduledAt != nil {
		sets = append(sets, fmt.Sprintf("scheduled_at = $%d", argsPosition))
		args = append(args, *req.ScheduledAt)
		argsPosition++
	}

	q := `
		UPDATE mailings
		SET ` + strings.Join(sets, ", ") + `
		WHERE id = $1
		RETURNING id, created_by, title, content, audience, channels, scheduled_at, created_at, updated_at
	`

	var m mailing.Mailing

	err = r.observe("mailings.update_tx", func() error {
		return tx.QueryRow(ctx, q, args...).
			Scan(&m.ID, &m.CreatedBy, &m.Title, &m.Content, &m.Audience, &m.Channels, &m.ScheduledAt, &m.CreatedAt, &m.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = mailing.ErrNotFound
		}
		return
	}

	updated = m
	return
}

func (r *MailingsRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id string) error {
	var tag pgconn.CommandTag

	err := r.observe("mailings.delete_tx", func() error {
		var e error
		tag, e = tx.Exec(ctx, `DELETE FROM mailings WHERE id = $1`, id)
		return e
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return mailing.ErrNotFound
	}

	return nil
}
