package waitlist

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Entry positions are contiguous per event: 1..N, no gaps, no duplicates.
// Every removal path compacts the tail so the invariant holds between
// any two operations.
type Entry struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"`
	HolderID    string    `json:"holderId"`
	HolderEmail string    `json:"holderEmail"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"createdAt"`
}

var ErrNotFound = errors.New("waitlist entry not found")

// ErrEmpty ends a promotion sweep.
var ErrEmpty = errors.New("waitlist is empty")

// PromotionMode is resolved by the caller per deletion and passed in
// explicitly; there is no ambient default inside the flow.
type PromotionMode string

const (
	// PromoteAuto converts head entries into bookings until seats or
	// entries run out.
	PromoteAuto PromotionMode = "auto"
	// PromoteNotify leaves the waitlist intact and enqueues one
	// seat-available task per channel per entry.
	PromoteNotify PromotionMode = "notify"
)

type RepositionRequest struct {
	Position int `json:"position" binding:"required,min=1"`
}

// ClampPosition bounds a requested position to the current queue length.
// Out-of-range targets are adjusted, not rejected.
func ClampPosition(requested, count int) int {
	if requested < 1 {
		return 1
	}
	if requested > count {
		return count
	}
	return requested
}

func NewEntry(eventID, holderID, holderEmail string, position int) Entry {
	return Entry{
		ID:          uuid.NewString(),
		EventID:     eventID,
		HolderID:    holderID,
		HolderEmail: holderEmail,
		Position:    position,
		CreatedAt:   time.Now().UTC(),
	}
}
