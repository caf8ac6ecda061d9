package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	// KindMailing points at a mailing row; channels deliver its
	// title/content to their audience.
	KindMailing Kind = "mailing"
	// KindWaitlistNotify points at a waitlist entry whose holder should
	// be told a seat freed up.
	KindWaitlistNotify Kind = "waitlist.notify"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindMailing, KindWaitlistNotify:
		return true
	default:
		return false
	}
}

type Status string

// pending -> completed is the whole lifecycle. Delivery failure is the
// channel's problem: it just never acknowledges, and the task stays
// pending for the next poll.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted:
		return true
	default:
		return false
	}
}

var ErrNotFound = errors.New("task not found")

// Task is one notification obligation addressed to one channel. The same
// subject fans out into one row per channel so acknowledgment is tracked
// independently.
type Task struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	SubjectID   string     `json:"subjectId"`
	Channel     string     `json:"channel"`
	AvailableAt *time.Time `json:"availableAt,omitempty"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PendingTask is the enriched poll view: the raw row plus the
// human-facing text resolved from its subject at read time.
type PendingTask struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AvailableAt *time.Time `json:"availableAt,omitempty"`
}

func New(kind Kind, subjectID, channel string, availableAt *time.Time) Task {
	now := time.Now().UTC()

	return Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		SubjectID:   subjectID,
		Channel:     channel,
		AvailableAt: availableAt,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
