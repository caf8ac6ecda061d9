package handlers

import (
	"context"
	"errors"
	"fmt"
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

type WaitlistStore interface {
	ListByEvent(ctx context.Context, eventID string) ([]waitlist.Entry, error)
	GetByID(ctx context.Context, id string) (waitlist.Entry, error)
	GetTx(ctx context.Context, tx pgx.Tx, id string) (waitlist.Entry, error)
	Reposition(ctx context.Context, id string, requested int) (waitlist.Entry, error)
	Remove(ctx context.Context, id string) (waitlist.Entry, error)
	RemoveTx(ctx context.Context, tx pgx.Tx, id string) (waitlist.Entry, error)
}

type ClaimBookingStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	AvailabilityTx(ctx context.Context, tx pgx.Tx, eventID string) (event.Availability, error)
	InsertTx(ctx context.Context, tx pgx.Tx, b booking.Booking) error
}

type NotifyCompleter interface {
	CompleteAllForSubjectTx(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string) error
}

type WaitlistHandler struct {
	repo     WaitlistStore
	bookings ClaimBookingStore
	tasks    NotifyCompleter
	avail    *cache.AvailabilityCache
	audit    *audit.Writer
	prom     *observability.Prom
}

func NewWaitlistHandler(
	repo WaitlistStore,
	bookings ClaimBookingStore,
	tasks NotifyCompleter,
	avail *cache.AvailabilityCache,
	auditLog *audit.Writer,
	prom *observability.Prom,
) *WaitlistHandler {
	return &WaitlistHandler{
		repo:     repo,
		bookings: bookings,
		tasks:    tasks,
		avail:    avail,
		audit:    auditLog,
		prom:     prom,
	}
}

// GET /events/:id/waitlist (admin)

func (h *WaitlistHandler) ListForEvent(ctx *gin.Context) {
	eventID := ctx.Param("id")

	if !utils.IsUUID(eventID) {
		RespondBadRequest(ctx, "invalid_id", "event id must be a valid UUID")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	entries, err := h.repo.ListByEvent(cctx, eventID)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}

		RespondInternal(ctx, "Could not list waitlist")
		return
	}

	resp := gin.H{
		"eventId": eventID,
		"count":   len(entries),
		"entries": entries,
	}

	RespondJSONWithETag(ctx, http.StatusOK, resp)
}

// PUT /waitlist/:entryId (admin)

func (h *WaitlistHandler) Reposition(ctx *gin.Context) {
	id := ctx.Param("entryId")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "entry id must be a valid UUID")
		return
	}

	var req waitlist.RepositionRequest

	if !BindJSON(ctx, &req) {
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	moved, err := h.repo.Reposition(cctx, id, req.Position)

	if err != nil {
		if errors.Is(err, waitlist.ErrNotFound) {
			RespondNotFound(ctx, "Waitlist entry not found")
			return
		}

		RespondInternal(ctx, "Could not reposition entry")
		fmt.Println(err)
		return
	}

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "waitlist.reposition",
		Subject:   id,
		RequestID: requestIDFrom(ctx),
		Meta:      map[string]any{"requested": req.Position, "position": moved.Position},
	})

	ctx.JSON(http.StatusOK, moved)
}

// DELETE /waitlist/:entryId (admin)

func (h *WaitlistHandler) Remove(ctx *gin.Context) {
	id := ctx.Param("entryId")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "entry id must be a valid UUID")
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	removed, err := h.repo.Remove(cctx, id)

	if err != nil {
		if errors.Is(err, waitlist.ErrNotFound) {
			RespondNotFound(ctx, "Waitlist entry not found")
			return
		}

		RespondInternal(ctx, "Could not remove entry")
		return
	}

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "waitlist.remove",
		Subject:   id,
		RequestID: requestIDFrom(ctx),
		Meta:      map[string]any{"eventId": removed.EventID, "position": removed.Position},
	})

	ctx.Status(http.StatusNoContent)
}

// POST /waitlist/:entryId/claim
//
// A holder turns their own entry into a real booking, provided a seat is
// still free at the moment the transaction looks. Checks run in a fixed
// order: entry exists, holder matches, seats remain.

func (h *WaitlistHandler) Claim(ctx *gin.Context) {
	id := ctx.Param("entryId")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "entry id must be a valid UUID")
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

	// cheap pre-checks before any locking
	entry, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, waitlist.ErrNotFound) {
			RespondNotFound(ctx, "Waitlist entry not found")
			return
		}

		RespondInternal(ctx, "Could not claim seat")
		return
	}

	if role != "admin" && entry.HolderID != userID {
		RespondForbidden(ctx, "not_holder", "You can only claim your own waitlist entry")
		return
	}

	tx, err := h.bookings.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not claim seat")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	// event lock first, same order as every admission path
	av, err := h.bookings.AvailabilityTx(cctx, tx, entry.EventID)

	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Waitlist entry not found")
			return
		}

		RespondInternal(ctx, "Could not claim seat")
		return
	}

	// re-read under the lock: the entry may have been promoted or
	// removed while we waited
	fresh, err := h.repo.GetTx(cctx, tx, id)

	if err != nil {
		if errors.Is(err, waitlist.ErrNotFound) {
			RespondNotFound(ctx, "Waitlist entry not found")
			return
		}

		RespondInternal(ctx, "Could not claim seat")
		return
	}

	if role != "admin" && fresh.HolderID != userID {
		RespondForbidden(ctx, "not_holder", "You can only claim your own waitlist entry")
		return
	}

	if av.Available < 1 {
		RespondConflict(ctx, "no_seats_available", "No seats are available to claim.")
		return
	}

	removed, err := h.repo.RemoveTx(cctx, tx, id)

	if err != nil {
		RespondInternal(ctx, "Could not claim seat")
		return
	}

	nb := booking.NewPromoted(removed.EventID, removed.HolderID, removed.HolderEmail)

	if err := h.bookings.InsertTx(cctx, tx, nb); err != nil {
		RespondInternal(ctx, "Could not claim seat")
		return
	}

	if err := h.tasks.CompleteAllForSubjectTx(cctx, tx, task.KindWaitlistNotify, removed.ID); err != nil {
		RespondInternal(ctx, "Could not claim seat")
		return
	}

	err = tx.Commit(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not claim seat")
		return
	}

	if h.prom != nil {
		h.prom.PromotionsTotal.WithLabelValues("claim").Inc()
	}

	h.avail.Invalidate(cctx, removed.EventID)

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "waitlist.claim",
		Subject:   id,
		RequestID: requestIDFrom(ctx),
		Meta:      map[string]any{"eventId": removed.EventID, "bookingId": nb.ID},
	})

	ctx.JSON(http.StatusCreated, nb)
}

func (h *WaitlistHandler) record(e audit.Entry) {
	if h.audit != nil {
		h.audit.Record(e)
	}
}
