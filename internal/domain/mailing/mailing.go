package mailing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Mailing struct {
	ID          string         `json:"id"`
	CreatedBy   string         `json:"createdBy"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Audience    map[string]any `json:"audience,omitempty"`
	Channels    []string       `json:"channels"`
	ScheduledAt *time.Time     `json:"scheduledAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

var (
	ErrNotFound       = errors.New("mailing not found")
	ErrUnknownChannel = errors.New("unknown channel")
)

// NormalizeChannels dedupes the requested channels preserving their
// first-seen order and rejects any channel outside the configured set.
// Tasks enqueued on a channel nothing polls would sit pending forever.
func NormalizeChannels(requested, configured []string) ([]string, error) {
	allowed := make(map[string]struct{}, len(configured))
	for _, c := range configured {
		allowed[c] = struct{}{}
	}

	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested))

	for _, c := range requested {
		if _, ok := allowed[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, c)
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	return out, nil
}

type CreateMailingRequest struct {
	Title       string         `json:"title" binding:"required,min=1,max=200"`
	Content     string         `json:"content" binding:"required,min=1,max=4000"`
	Audience    map[string]any `json:"audience" binding:"omitempty"`
	Channels    []string       `json:"channels" binding:"omitempty,max=10,dive,min=1,max=40"`
	ScheduledAt *time.Time     `json:"scheduledAt" binding:"omitempty"`
}

// Nil fields stay untouched. Changing Channels or ScheduledAt re-syncs
// the mailing's task rows; a present-but-empty channel list clears them.
type UpdateMailingRequest struct {
	Title       string     `json:"title" binding:"omitempty,min=1,max=200"`
	Content     string     `json:"content" binding:"omitempty,min=1,max=4000"`
	Channels    *[]string  `json:"channels" binding:"omitempty,max=10,dive,min=1,max=40"`
	ScheduledAt *time.Time `json:"scheduledAt" binding:"omitempty"`
}

func NewFromCreateRequest(req CreateMailingRequest, createdBy string) Mailing {
	now := time.Now().UTC()

	return Mailing{
		ID:          uuid.NewString(),
		CreatedBy:   createdBy,
		Title:       req.Title,
		Content:     req.Content,
		Audience:    req.Audience,
		Channels:    req.Channels,
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
