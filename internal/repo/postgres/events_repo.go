package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akorchagin/eventdesk/internal/domain/event"
	"github.com/akorchagin/eventdesk/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventsRepo struct {
	pool *pgxpool.Pool
}

// constructor function

func NewEventsRepo(pool *pgxpool.Pool) *EventsRepo {
	return &EventsRepo{
		pool: pool,
	}
}

func (r *EventsRepo) Create(ctx context.Context, e event.Event) (event.Event, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO events(id, title, description, city, start_at, capacity, created_by, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.Title, e.Description, e.City, e.StartAt, e.Capacity, e.CreatedBy, e.CreatedAt, e.UpdatedAt)

	if err != nil {
		return event.Event{}, err
	}

	return e, nil
}

func (r *EventsRepo) ListCursor(
	ctx context.Context,
	f event.ListEventsFilter,
	afterStartAt time.Time,
	afterID string,
) (items []event.Event, nextCursor *string, hasMore bool, err error) {
	base := `
		SELECT id, title, description, city, start_at, capacity, created_by, created_at, updated_at
		FROM events
	`

	var conds []string
	var args []any

	argsPosition := 1

	if f.City != nil {
		conds = append(conds, fmt.Sprintf("city = $%d", argsPosition))
		args = append(args, *f.City)
		argsPosition++
	}

	if f.From != nil {
		conds = append(conds, fmt.Sprintf("start_at >= $%d", argsPosition))
		args = append(args, *f.From)
		argsPosition++
	}

	if f.To != nil {
		conds = append(conds, fmt.Sprintf("start_at <= $%d", argsPosition))
		args = append(args, *f.To)
		argsPosition++
	}

	// ASC keyset: the zero cursor matches every row, so the first page needs
	// no special casing.
	conds = append(conds, fmt.Sprintf("(start_at, id) > ($%d, $%d)", argsPosition, argsPosition+1))
	args = append(args, afterStartAt, afterID)
	argsPosition += 2

	q := base + " WHERE " + strings.Join(conds, " AND ")

	limitPlusOne := f.Limit + 1
	q += fmt.Sprintf(" ORDER BY start_at ASC, id ASC LIMIT $%d", argsPosition)
	args = append(args, limitPlusOne)

	rows, err := r.pool.Query(ctx, q, args...)

	if err != nil {
		return nil, nil, false, err
	}

	defer rows.Close()

	out := make([]event.Event, 0, f.Limit)

	for rows.Next() {
		var e event.Event
		if scanErr := rows.Scan(&e.ID, &e.Title, &e.Description, &e.City, &e.StartAt, &e.Capacity, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); scanErr != nil {
			return nil, nil, false, scanErr
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > f.Limit {
		hasMore = true
		out = out[:f.Limit]
		last := out[len(out)-1]
		cur, encErr := utils.EncodeEventCursor(last.StartAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}

func (r *EventsRepo) GetByID(ctx context.Context, id string) (event.Event, error) {
	var e event.Event
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, city, start_at, capacity, created_by, created_at, updated_at
		 FROM events WHERE id = $1`, id).
		Scan(&e.ID, &e.Title, &e.Description, &e.City, &e.StartAt, &e.Capacity, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, err
	}

	return e, nil
}

// Update never touches capacity: the seat ledger depends on it staying fixed.
func (r *EventsRepo) Update(ctx context.Context, id string, req event.UpdateEventRequest) (event.Event, error) {
	var e event.Event

	err := r.pool.QueryRow(
		ctx,
		`UPDATE events
			SET title = $2,
					description = $3,
					city = $4,
					start_at = $5,
					updated_at = NOW()
		WHERE id = $1
		RETURNING id, title, description, city, start_at, capacity, created_by, created_at, updated_at`,
		id,
		req.Title,
		req.Description,
		req.City,
		req.StartAt,
	).Scan(
		&e.ID,
		&e.Title,
		&e.Description,
		&e.City,
		&e.StartAt,
		&e.Capacity,
		&e.CreatedBy,
		&e.CreatedAt,
		&e.UpdatedAt,
	)

	if err != nil {
		// if there are no rows matching the id
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Event{}, event.ErrNotFound
		}
		// if it is any other type of error
		return event.Event{}, err
	}

	return e, nil
}

func (r *EventsRepo) Delete(ctx context.Context, id string) error {
	query, err := r.pool.Exec(ctx, `
		DELETE from events WHERE id = $1
	`, id)

	if err != nil {

		return err
	}

	// if no rows were deleted as a result return a not found error
	if query.RowsAffected() == 0 {
		return event.ErrNotFound
	}

	return nil
}

// Availability is the read-side seat count. It takes no lock: admission
// decisions re-derive these numbers inside their own transaction.
func (r *EventsRepo) Availability(ctx context.Context, id string) (event.Availability, error) {
	var av event.Availability

	err := r.pool.QueryRow(ctx, `
		SELECT e.id, e.capacity,
			COALESCE((SELECT SUM(b.group_size) FROM bookings b WHERE b.event_id = e.id), 0) AS occupied
		FROM events e
		WHERE e.id = $1
	`, id).Scan(&av.EventID, &av.Capacity, &av.Occupied)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Availability{}, event.ErrNotFound
		}
		return event.Availability{}, err
	}

	av.Available = av.Capacity - av.Occupied
	if av.Available < 0 {
		av.Available = 0
	}

	return av, nil
}
