package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/akorchagin/eventdesk/internal/audit"
	"github.com/akorchagin/eventdesk/internal/cache"
	"github.com/akorchagin/eventdesk/internal/config"
	"github.com/akorchagin/eventdesk/internal/domain/booking"
	"github.com/akorchagin/eventdesk/internal/domain/event"
	"github.com/akorchagin/eventdesk/internal/domain/task"
	"github.com/akorchagin/eventdesk/internal/domain/waitlist"
	"github.com/akorchagin/eventdesk/internal/http/middlewares"
	"github.com/akorchagin/eventdesk/internal/observability"
	"github.com/akorchagin/eventdesk/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type BookingStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, req booking.CreateBookingRequest, holderID, holderEmail string) (booking.Booking, error)
	InsertTx(ctx context.Context, tx pgx.Tx, b booking.Booking) error
	AvailabilityTx(ctx context.Context, tx pgx.Tx, eventID string) (event.Availability, error)
	GetByID(ctx context.Context, id string) (booking.Booking, error)
	ListByEvent(ctx context.Context, eventID string, f booking.ListFilter) ([]booking.Booking, int, error)
	Update(ctx context.Context, id string, req booking.UpdateBookingRequest) (booking.Booking, error)
	DeleteTx(ctx context.Context, tx pgx.Tx, id string) (booking.Booking, error)
	TogglePaid(ctx context.Context, id string) (booking.Booking, error)
	ToggleAttended(ctx context.Context, id string) (booking.Booking, error)
}

type WaitlistQueue interface {
	AppendTx(ctx context.Context, tx pgx.Tx, eventID, holderID, holderEmail string) (waitlist.Entry, error)
	PromoteHeadTx(ctx context.Context, tx pgx.Tx, eventID string) (waitlist.Entry, error)
	ListTx(ctx context.Context, tx pgx.Tx, eventID string) ([]waitlist.Entry, error)
}

type TaskEnqueuer interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string, channels []string, availableAt *time.Time) (int, error)
	CompleteAllForSubjectTx(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string) error
}

// PolicySource resolves the promotion policy at deletion time, not at
// startup: flipping the setting affects the very next delete.
type PolicySource interface {
	Bool(ctx context.Context, key string, def bool) (bool, error)
}

type BookingsHandler struct {
	repo   BookingStore
	queue  WaitlistQueue
	tasks  TaskEnqueuer
	policy PolicySource
	avail  *cache.AvailabilityCache
	audit  *audit.Writer
	prom   *observability.Prom
	cfg    config.Config
}

func NewBookingsHandler(
	repo BookingStore,
	queue WaitlistQueue,
	tasks TaskEnqueuer,
	policy PolicySource,
	avail *cache.AvailabilityCache,
	auditLog *audit.Writer,
	prom *observability.Prom,
	cfg config.Config,
) *BookingsHandler {
	return &BookingsHandler{
		repo:   repo,
		queue:  queue,
		tasks:  tasks,
		policy: policy,
		avail:  avail,
		audit:  auditLog,
		prom:   prom,
		cfg:    cfg,
	}
}

// POST /events/:id/bookings

func (h *BookingsHandler) Create(ctx *gin.Context) {
	eventID := ctx.Param("id")

	if !utils.IsUUID(eventID) {
		RespondBadRequest(ctx, "invalid_id", "event id must be a valid UUID")
		return
	}

	var req booking.CreateBookingRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// force URL param as the source of truth
	req.EventID = eventID

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	email, _ := middlewares.EmailFromContext(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	tx, err := h.repo.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not create booking")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	b, err := h.repo.CreateTx(cctx, tx, req, userID, email)

	if err != nil {
		switch {
		case errors.Is(err, booking.ErrCapacityExceeded):
			// full event is not a failure: the holder queues up instead
			entry, werr := h.queue.AppendTx(cctx, tx, eventID, userID, email)
			if werr != nil {
				RespondInternal(ctx, "Could not join waitlist")
				fmt.Println(werr)
				return
			}

			if cerr := tx.Commit(cctx); cerr != nil {
				RespondInternal(ctx, "Could not join waitlist")
				return
			}

			h.countBooking("waitlisted")

			h.record(audit.Entry{
				Actor:     userID,
				Action:    "booking.waitlisted",
				Subject:   entry.ID,
				RequestID: requestIDFrom(ctx),
				Meta:      map[string]any{"eventId": eventID, "position": entry.Position},
			})

			ctx.JSON(http.StatusAccepted, gin.H{
				"status":  "waitlisted",
				"message": "Event is full. You have been added to the waitlist.",
				"entry":   entry,
			})
		case errors.Is(err, event.ErrNotFound):
			RespondNotFound(ctx, "Event not found")
		default:
			RespondInternal(ctx, "Could not create booking")
			fmt.Println(err)
		}
		return
	}

	// Commit once
	err = tx.Commit(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not create booking")
		return
	}

	h.countBooking("reserved")
	h.avail.Invalidate(cctx, eventID)

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "booking.create",
		Subject:   b.ID,
		RequestID: requestIDFrom(ctx),
		Meta:      map[string]any{"eventId": eventID, "groupSize": b.GroupSize},
	})

	ctx.JSON(http.StatusCreated, b)
}

// GET /bookings/:bookingId

func (h *BookingsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("bookingId")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "booking id must be a valid UUID")
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	role, _ := middlewares.RoleFromContext(ctx)

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	b, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			RespondNotFound(ctx, "Booking not found")
			return
		}

		RespondInternal(ctx, "Could not fetch booking")
		return
	}

	// Check ownership (admin override)
	if role != "admin" && b.HolderID != userID {
		RespondForbidden(ctx, "forbidden", "You can only view your own booking")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, b)
}

// PUT /bookings/:bookingId

func (h *BookingsHandler) Update(ctx *gin.Context) {
	id := ctx.Param("bookingId")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "booking id must be a valid UUID")
		return
	}

	var req booking.UpdateBookingRequest

	if !BindJSON(ctx, &req) {
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	role, _ := middlewares.RoleFromContext(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	// Load booking to check ownership
	existing, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			RespondNotFound(ctx, "Booking not found")
			return
		}

		RespondInternal(ctx, "Could not update booking")
		return
	}

	if role != "admin" && existing.HolderID != userID {
		RespondForbidden(ctx, "forbidden", "You can only change your own booking")
		return
	}

	updated, err := h.repo.Update(cctx, id, req)

	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			RespondNotFound(ctx, "Booking not found")
			return
		}

		RespondInternal(ctx, "Could not update booking")
		return
	}

	// group size moved the occupancy number
	h.avail.Invalidate(cctx, updated.EventID)

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "booking.update",
		Subject:   id,
		RequestID: requestIDFrom(ctx),
		Meta:      map[string]any{"eventId": updated.EventID},
	})

	ctx.JSON(http.StatusOK, updated)
}

// DELETE /bookings/:bookingId (admin)
//
// Deleting frees seats, and what happens to the waitlist is decided here:
// the policy is read fresh, then either head entries are promoted until
// the freed seats run out, or every waiting holder gets a seat-available
// task per channel.

func (h *BookingsHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("bookingId")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "booking id must be a valid UUID")
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	auto, err := h.policy.Bool(cctx, settingAutoPromote, h.cfg.AutoPromoteDefault)
	if err != nil {
		slog.Default().WarnContext(cctx, "promotion policy read failed, using default",
			"error", err,
			"default", h.cfg.AutoPromoteDefault,
		)
	}

	mode := waitlist.PromoteNotify
	if auto {
		mode = waitlist.PromoteAuto
	}

	tx, err := h.repo.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not delete booking")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	deleted, err := h.repo.DeleteTx(cctx, tx, id)

	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			RespondNotFound(ctx, "Booking not found")
			return
		}

		RespondInternal(ctx, "Could not delete booking")
		fmt.Println(err)
		return
	}

	promoted := 0

	switch mode {
	case waitlist.PromoteAuto:
		// seats freed by the delete pull in head entries one by one
		for {
			av, aerr := h.repo.AvailabilityTx(cctx, tx, deleted.EventID)
			if aerr != nil {
				RespondInternal(ctx, "Could not delete booking")
				return
			}

			if av.Available < 1 {
				break
			}

			head, perr := h.queue.PromoteHeadTx(cctx, tx, deleted.EventID)
			if perr != nil {
				if errors.Is(perr, waitlist.ErrEmpty) {
					break
				}
				RespondInternal(ctx, "Could not delete booking")
				return
			}

			nb := booking.NewPromoted(head.EventID, head.HolderID, head.HolderEmail)

			if ierr := h.repo.InsertTx(cctx, tx, nb); ierr != nil {
				RespondInternal(ctx, "Could not delete booking")
				return
			}

			// a promoted holder no longer needs a seat-available ping
			if terr := h.tasks.CompleteAllForSubjectTx(cctx, tx, task.KindWaitlistNotify, head.ID); terr != nil {
				RespondInternal(ctx, "Could not delete booking")
				return
			}

			promoted++
		}
	case waitlist.PromoteNotify:
		entries, lerr := h.queue.ListTx(cctx, tx, deleted.EventID)
		if lerr != nil {
			RespondInternal(ctx, "Could not delete booking")
			return
		}

		for _, en := range entries {
			if _, eerr := h.tasks.EnqueueTx(cctx, tx, task.KindWaitlistNotify, en.ID, h.cfg.TaskChannels, nil); eerr != nil {
				RespondInternal(ctx, "Could not delete booking")
				return
			}
		}
	}

	err = tx.Commit(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not delete booking")
		return
	}

	if promoted > 0 && h.prom != nil {
		h.prom.PromotionsTotal.WithLabelValues("auto").Add(float64(promoted))
	}

	h.avail.Invalidate(cctx, deleted.EventID)

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "booking.delete",
		Subject:   id,
		RequestID: requestIDFrom(ctx),
		Meta: map[string]any{
			"eventId":  deleted.EventID,
			"policy":   string(mode),
			"promoted": promoted,
		},
	})

	ctx.Status(http.StatusNoContent)
}

// GET /events/:id/bookings?sortBy=created_at&order=desc&limit=20&offset=0 (admin)

func (h *BookingsHandler) ListForEvent(ctx *gin.Context) {
	eventID := ctx.Param("id")

	if !utils.IsUUID(eventID) {
		RespondBadRequest(ctx, "invalid_id", "event id must be a valid UUID")
		return
	}

	limit := parseIntDefault(ctx.Query("limit"), 20)
	if limit < 1 || limit > 100 {
		RespondBadRequest(ctx, "invalid_query", "limit must be between 1 and 100")
		return
	}

	offset := parseIntDefault(ctx.Query("offset"), 0)
	if offset < 0 {
		RespondBadRequest(ctx, "invalid_query", "offset must not be negative")
		return
	}

	f := booking.ListFilter{
		SortBy: ctx.DefaultQuery("sortBy", "created_at"),
		Order:  ctx.DefaultQuery("order", "asc"),
		Limit:  limit,
		Offset: offset,
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, total, err := h.repo.ListByEvent(cctx, eventID, f)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}

		RespondInternal(ctx, "Could not list bookings")
		return
	}

	resp := gin.H{
		"eventId": eventID,
		"count":   len(items),
		"total":   total,
		"items":   items,
		"limit":   limit,
		"offset":  offset,
	}

	RespondJSONWithETag(ctx, http.StatusOK, resp)
}

// POST /bookings/:bookingId/toggle-payment (admin)

func (h *BookingsHandler) TogglePaid(ctx *gin.Context) {
	h.toggle(ctx, "booking.toggle_paid", h.repo.TogglePaid)
}

// POST /bookings/:bookingId/toggle-attendance (admin)

func (h *BookingsHandler) ToggleAttended(ctx *gin.Context) {
	h.toggle(ctx, "booking.toggle_attended", h.repo.ToggleAttended)
}

func (h *BookingsHandler) toggle(ctx *gin.Context, action string, fn func(context.Context, string) (booking.Booking, error)) {
	id := ctx.Param("bookingId")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "booking id must be a valid UUID")
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	b, err := fn(cctx, id)

	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			RespondNotFound(ctx, "Booking not found")
			return
		}

		RespondInternal(ctx, "Could not update booking")
		return
	}

	h.record(audit.Entry{
		Actor:     userID,
		Action:    action,
		Subject:   id,
		RequestID: requestIDFrom(ctx),
	})

	ctx.JSON(http.StatusOK, b)
}

func (h *BookingsHandler) countBooking(outcome string) {
	if h.prom != nil {
		h.prom.BookingsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *BookingsHandler) record(e audit.Entry) {
	if h.audit != nil {
		h.audit.Record(e)
	}
}
