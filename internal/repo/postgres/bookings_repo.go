package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/akorchagin/eventdesk/internal/domain/booking"
	"github.com/akorchagin/eventdesk/internal/domain/event"
	"github.com/akorchagin/eventdesk/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BookingsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewBookingsRepo(pool *pgxpool.Pool, prom *observability.Prom) *BookingsRepo {
	return &BookingsRepo{
		pool: pool,
		prom: prom,
	}
}

func (repo *BookingsRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (repo *BookingsRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return repo.pool.BeginTx(ctx, pgx.TxOptions{})
}

// CreateTx runs the admission decision. It locks the event row, recounts the
// occupied seats under that lock and only then inserts, so two concurrent
// requests can never both see the same free seats. A request that does not
// fit returns ErrCapacityExceeded with nothing written; the caller appends
// the holder to the waitlist inside the same transaction.
func (repo *BookingsRepo) CreateTx(ctx context.Context, tx pgx.Tx, req booking.CreateBookingRequest, holderID, holderEmail string) (b booking.Booking, err error) {
	var capacity int
	var occupied int

	err = repo.observe("bookings.create_tx.capacity_lock", func() error {
		var e error
		capacity, occupied, e = lockEventSeats(ctx, tx, req.EventID)
		return e
	})

	if err != nil {
		return
	}

	b = booking.NewFromCreateRequest(req, holderID, holderEmail)

	if occupied+b.GroupSize > capacity {
		err = booking.ErrCapacityExceeded
		return
	}

	err = repo.observe("bookings.create_tx.insert", func() error {
		_, e := tx.Exec(ctx, `
		INSERT INTO bookings (id, event_id, holder_id, holder_email, group_size, group_names, status, is_paid, is_attended, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, b.ID, b.EventID, b.HolderID, b.HolderEmail, b.GroupSize, b.GroupNames, b.Status, b.IsPaid, b.IsAttended, b.CreatedAt, b.UpdatedAt)
		return e
	})

	if err != nil {
		return
	}

	return
}

// InsertTx writes a booking without re-checking capacity. Promotion paths use
// it after they have already read the seat counts under the event lock.
func (repo *BookingsRepo) InsertTx(ctx context.Context, tx pgx.Tx, b booking.Booking) error {
	return repo.observe("bookings.insert_tx", func() error {
		_, err := tx.Exec(ctx, `
		INSERT INTO bookings (id, event_id, holder_id, holder_email, group_size, group_names, status, is_paid, is_attended, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, b.ID, b.EventID, b.HolderID, b.HolderEmail, b.GroupSize, b.GroupNames, b.Status, b.IsPaid, b.IsAttended, b.CreatedAt, b.UpdatedAt)
		return err
	})
}

// AvailabilityTx reads the seat counts under the event row lock. Callers use
// it both to gate claims and to drive the promotion sweep after a delete.
func (repo *BookingsRepo) AvailabilityTx(ctx context.Context, tx pgx.Tx, eventID string) (av event.Availability, err error) {
	var capacity int
	var occupied int

	err = repo.observe("bookings.availability_tx", func() error {
		var e error
		capacity, occupied, e = lockEventSeats(ctx, tx, eventID)
		return e
	})

	if err != nil {
		return
	}

	av = event.Availability{
		EventID:   eventID,
		Capacity:  capacity,
		Occupied:  occupied,
		Available: capacity - occupied,
	}
	if av.Available < 0 {
		av.Available = 0
	}

	return
}

func (repo *BookingsRepo) GetByID(ctx context.Context, id string) (found booking.Booking, err error) {
	var b booking.Booking

	err = repo.observe("bookings.get_by_id", func() error {
		return repo.pool.QueryRow(ctx, `
		SELECT id, event_id, holder_id, holder_email, group_size, group_names, status, is_paid, is_attended, created_at, updated_at
		FROM bookings
		WHERE id = $1
	`, id).Scan(&b.ID, &b.EventID, &b.HolderID, &b.HolderEmail, &b.GroupSize, &b.GroupNames, &b.Status, &b.IsPaid, &b.IsAttended, &b.CreatedAt, &b.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = booking.ErrNotFound
		}
		return
	}

	found = b
	return
}

func (repo *BookingsRepo) ListByEvent(ctx context.Context, eventID string, f booking.ListFilter) (items []booking.Booking, total int, err error) {
	sortCol := "created_at"
	if f.SortBy == "group_size" {
		sortCol = "group_size"
	}
	order := "ASC"
	if strings.EqualFold(f.Order, "desc") {
		order = "DESC"
	}

	q := fmt.Sprintf(`
		SELECT id, event_id, holder_id, holder_email, group_size, group_names, status, is_paid, is_attended, created_at, updated_at,
			COUNT(*) OVER() AS total
		FROM bookings
		WHERE event_id = $1
		ORDER BY %s %s, id ASC
		LIMIT $2 OFFSET $3
	`, sortCol, order)

	var rows pgx.Rows

	err = repo.observe("bookings.list_by_event", func() error {
		var qerr error
		rows, qerr = repo.pool.Query(ctx, q, eventID, f.Limit, f.Offset)
		return qerr
	})

	if err != nil {
		return
	}

	defer rows.Close()

	items = make([]booking.Booking, 0, f.Limit)

	for rows.Next() {
		var b booking.Booking
		var t int

		e := rows.Scan(&b.ID, &b.EventID, &b.HolderID, &b.HolderEmail, &b.GroupSize, &b.GroupNames, &b.Status, &b.IsPaid, &b.IsAttended, &b.CreatedAt, &b.UpdatedAt, &t)

		if e != nil {
			err = e
			return
		}
		total = t
		items = append(items, b)
	}

	e := rows.Err()

	if e != nil {
		if repo.prom != nil {
			repo.prom.DbErrorsTotal.WithLabelValues("bookings.list_by_event", "rows_err").Inc()
		}
		err = e
		return
	}

	// an empty page still needs a 404 when the event itself is gone

	if len(items) == 0 {
		var dummy string

		err = repo.observe("bookings.list_by_event.check_event_exists", func() error {
			return repo.pool.QueryRow(ctx, `SELECT id FROM events WHERE id = $1`, eventID).Scan(&dummy)
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

// Update mutates the group fields only. It deliberately skips the capacity
// check: admission is the single gate, and growing a committed group is the
// organizer's call to make.
func (repo *BookingsRepo) Update(ctx context.Context, id string, req booking.UpdateBookingRequest) (updated booking.Booking, err error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	argsPosition := 2

	if req.GroupSize != nil {
		sets = append(sets, fmt.Sprintf("group_size = $%d", argsPosition))
		args = append(args, *req.GroupSize)
		argsPosition++
	}

	if req.GroupNames != nil {
		sets = append(sets, fmt.Sprintf("group_names = $%d", argsPosition))
		args = append(args, *req.GroupNames)
		argsPosition++
	}

	q := `
		UPDATE bookings
		SET ` + strings.Join(sets, ", ") + `
		WHERE id = $1
		RETURNING id, event_id, holder_id, holder_email, group_size, group_names, status, is_paid, is_attended, created_at, updated_at
	`

	var b booking.Booking

	err = repo.observe("bookings.update", func() error {
		return repo.pool.QueryRow(ctx, q, args...).
			Scan(&b.ID, &b.EventID, &b.HolderID, &b.HolderEmail, &b.GroupSize, &b.GroupNames, &b.Status, &b.IsPaid, &b.IsAttended, &b.CreatedAt, &b.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = booking.ErrNotFound
		}
		return
	}

	updated = b
	return
}

// DeleteTx removes a booking under the event row lock and returns the removed
// row, so the caller can run the promotion policy for that event inside the
// same transaction.
func (repo *BookingsRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id string) (deleted booking.Booking, err error) {
	var eventID string

	err = repo.observe("bookings.delete_tx.lookup", func() error {
		return tx.QueryRow(ctx, `SELECT event_id FROM bookings WHERE id = $1`, id).Scan(&eventID)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = booking.ErrNotFound
		}
		return
	}

	// lock order: event row first, always

	err = repo.observe("bookings.delete_tx.capacity_lock", func() error {
		_, _, e := lockEventSeats(ctx, tx, eventID)
		return e
	})

	if err != nil {
		return
	}

	var b booking.Booking

	err = repo.observe("bookings.delete_tx.delete", func() error {
		return tx.QueryRow(ctx, `
		DELETE FROM bookings
		WHERE id = $1
		RETURNING id, event_id, holder_id, holder_email, group_size, group_names, status, is_paid, is_attended, created_at, updated_at
	`, id).Scan(&b.ID, &b.EventID, &b.HolderID, &b.HolderEmail, &b.GroupSize, &b.GroupNames, &b.Status, &b.IsPaid, &b.IsAttended, &b.CreatedAt, &b.UpdatedAt)
	})

	if err != nil {
		// the row can vanish between the lookup and the lock
		if errors.Is(err, pgx.ErrNoRows) {
			err = booking.ErrNotFound
		}
		return
	}

	deleted = b
	return
}

func (repo *BookingsRepo) TogglePaid(ctx context.Context, id string) (booking.Booking, error) {
	return repo.toggleFlag(ctx, "bookings.toggle_paid", "is_paid", id)
}

func (repo *BookingsRepo) ToggleAttended(ctx context.Context, id string) (booking.Booking, error) {
	return repo.toggleFlag(ctx, "bookings.toggle_attended", "is_attended", id)
}

// toggleFlag flips one of the pass-through booleans. Neither flag feeds the
// seat ledger.
func (repo *BookingsRepo) toggleFlag(ctx context.Context, op, col, id string) (b booking.Booking, err error) {
	q := fmt.Sprintf(`
		UPDATE bookings
		SET %s = NOT %s,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, event_id, holder_id, holder_email, group_size, group_names, status, is_paid, is_attended, created_at, updated_at
	`, col, col)

	err = repo.observe(op, func() error {
		return repo.pool.QueryRow(ctx, q, id).
			Scan(&b.ID, &b.EventID, &b.HolderID, &b.HolderEmail, &b.GroupSize, &b.GroupNames, &b.Status, &b.IsPaid, &b.IsAttended, &b.CreatedAt, &b.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = booking.ErrNotFound
		}
		b = booking.Booking{}
		return
	}

	return
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}
