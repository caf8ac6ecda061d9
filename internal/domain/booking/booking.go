package booking

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// StatusPending is the status every booking is created with. Payment and
// attendance live in their own flags and do not move the status.
const StatusPending = "pending"

type Booking struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"`
	HolderID    string    `json:"holderId"`
	HolderEmail string    `json:"holderEmail"`
	GroupSize   int       `json:"groupSize"`
	GroupNames  []string  `json:"groupNames,omitempty"`
	Status      string    `json:"status"`
	IsPaid      bool      `json:"isPaid"`
	IsAttended  bool      `json:"isAttended"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("booking not found")

// ErrCapacityExceeded signals the admission branch where the request does
// not fit the remaining seats. Callers append to the waitlist instead of
// failing the request outright.
var ErrCapacityExceeded = errors.New("event capacity exceeded")

type CreateBookingRequest struct {
	EventID    string   `json:"-"`
	GroupSize  int      `json:"groupSize" binding:"omitempty,min=1,max=100"`
	GroupNames []string `json:"groupNames" binding:"omitempty,max=100,dive,min=1,max=120"`
}

// Only the group fields are mutable. Raising GroupSize is not re-checked
// against capacity; admission time is the only gate.
type UpdateBookingRequest struct {
	GroupSize  *int      `json:"groupSize" binding:"omitempty,min=1,max=100"`
	GroupNames *[]string `json:"groupNames" binding:"omitempty,max=100,dive,min=1,max=120"`
}

// ListFilter carries the admin listing knobs. SortBy is one of
// created_at | group_size, Order asc | desc.
type ListFilter struct {
	SortBy string
	Order  string
	Limit  int
	Offset int
}

func NewFromCreateRequest(req CreateBookingRequest, holderID, holderEmail string) Booking {
	now := time.Now().UTC()

	size := req.GroupSize
	if size <= 0 {
		size = 1
	}

	return Booking{
		ID:          uuid.NewString(),
		EventID:     req.EventID,
		HolderID:    holderID,
		HolderEmail: holderEmail,
		GroupSize:   size,
		GroupNames:  req.GroupNames,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewPromoted builds the single-seat booking a waitlist entry turns into,
// either by automatic promotion or by an explicit claim.
func NewPromoted(eventID, holderID, holderEmail string) Booking {
	now := time.Now().UTC()

	return Booking{
		ID:          uuid.NewString(),
		EventID:     eventID,
		HolderID:    holderID,
		HolderEmail: holderEmail,
		GroupSize:   1,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
