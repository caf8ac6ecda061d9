package postgres

import (
	"context"
	"errors"

	"github.com/akorchagin/eventdesk/internal/domain/event"
	"github.com/jackc/pgx/v5"
)

// lockEventSeats takes the per-event row lock and returns the seat counts as
// of that lock. Every admission-path transaction (create, delete+promote,
// claim, reposition, remove) acquires THIS lock before touching bookings or
// waitlist rows, so all writers for one event serialize here and writers for
// unrelated events never wait on each other.
func lockEventSeats(ctx context.Context, tx pgx.Tx, eventID string) (capacity int, occupied int, err error) {
	err = tx.QueryRow(ctx, `
		SELECT e.capacity,
			COALESCE((SELECT SUM(b.group_size) FROM bookings b WHERE b.event_id = e.id), 0) AS occupied
		FROM events e
		WHERE e.id = $1
		FOR UPDATE
	`, eventID).Scan(&capacity, &occupied)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = event.ErrNotFound
		}
		return
	}

	return
}
