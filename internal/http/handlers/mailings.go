package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/akorchagin/eventdesk/internal/audit"
	"github.com/akorchagin/eventdesk/internal/config"
	"github.com/akorchagin/eventdesk/internal/domain/mailing"
	"github.com/akorchagin/eventdesk/internal/domain/task"
	"github.com/akorchagin/eventdesk/internal/http/middlewares"
	"github.com/akorchagin/eventdesk/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type MailingsStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, m mailing.Mailing) error
	GetByID(ctx context.Context, id string) (mailing.Mailing, error)
	List(ctx context.Context, limit, offset int) ([]mailing.Mailing, int, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, id string, req mailing.UpdateMailingRequest) (mailing.Mailing, error)
	DeleteTx(ctx context.Context, tx pgx.Tx, id string) error
}

// TaskSyncer keeps the delivery queue aligned with the mailing rows:
// fan-out rows are created, rebuilt and destroyed in the same
// transaction that touches the mailing itself.
type TaskSyncer interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string, channels []string, availableAt *time.Time) (int, error)
	DeleteForSubjectTx(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string) error
}

type MailingsHandler struct {
	store MailingsStore
	tasks TaskSyncer
	audit *audit.Writer
	cfg   config.Config
}

func NewMailingsHandler(store MailingsStore, tasks TaskSyncer, auditLog *audit.Writer, cfg config.Config) *MailingsHandler {
	return &MailingsHandler{
		store: store,
		tasks: tasks,
		audit: auditLog,
		cfg:   cfg,
	}
}

// POST /mailings (admin)

func (h *MailingsHandler) Create(ctx *gin.Context) {
	var req mailing.CreateMailingRequest

	if !BindJSON(ctx, &req) {
		return
	}

	channels, err := mailing.NormalizeChannels(req.Channels, h.cfg.TaskChannels)
	if err != nil {
		RespondBadRequest(ctx, "invalid_channels",
			err.Error()+": must be one of "+strings.Join(h.cfg.TaskChannels, ", "))
		return
	}
	req.Channels = channels

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	m := mailing.NewFromCreateRequest(req, userID)

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.store.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not create mailing")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	if err := h.store.CreateTx(cctx, tx, m); err != nil {
		RespondInternal(ctx, "Could not create mailing")
		fmt.Println(err)
		return
	}

	if len(m.Channels) > 0 {
		if _, err := h.tasks.EnqueueTx(cctx, tx, task.KindMailing, m.ID, m.Channels, m.ScheduledAt); err != nil {
			RespondInternal(ctx, "Could not create mailing")
			return
		}
	}

	// Commit once
	err = tx.Commit(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not create mailing")
		return
	}

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "mailing.create",
		Subject:   m.ID,
		RequestID: requestIDFrom(ctx),
		Meta:      map[string]any{"channels": m.Channels},
	})

	ctx.JSON(http.StatusCreated, m)
}

// GET /mailings?limit=20&offset=0 (admin)

func (h *MailingsHandler) List(ctx *gin.Context) {
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

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, total, err := h.store.List(cctx, limit, offset)
	if err != nil {
		RespondInternal(ctx, "Could not list mailings")
		return
	}

	resp := gin.H{
		"count":  len(items),
		"total":  total,
		"items":  items,
		"limit":  limit,
		"offset": offset,
	}

	RespondJSONWithETag(ctx, http.StatusOK, resp)
}

// GET /mailings/:id (admin)

func (h *MailingsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "mailing id must be a valid UUID")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	m, err := h.store.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, mailing.ErrNotFound) {
			RespondNotFound(ctx, "Mailing not found")
			return
		}

		RespondInternal(ctx, "Could not fetch mailing")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, m)
}

// PUT /mailings/:id (admin)

func (h *MailingsHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "mailing id must be a valid UUID")
		return
	}

	var req mailing.UpdateMailingRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if req.Channels != nil {
		channels, err := mailing.NormalizeChannels(*req.Channels, h.cfg.TaskChannels)
		if err != nil {
			RespondBadRequest(ctx, "invalid_channels",
				err.Error()+": must be one of "+strings.Join(h.cfg.TaskChannels, ", "))
			return
		}
		req.Channels = &channels
	}

	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.store.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not update mailing")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	updated, err := h.store.UpdateTx(cctx, tx, id, req)

	if err != nil {
		if errors.Is(err, mailing.ErrNotFound) {
			RespondNotFound(ctx, "Mailing not found")
			return
		}

		RespondInternal(ctx, "Could not update mailing")
		return
	}

	// channel or schedule changes rebuild the pending fan-out
	if req.Channels != nil || req.ScheduledAt != nil {
		if err := h.tasks.DeleteForSubjectTx(cctx, tx, task.KindMailing, id); err != nil {
			RespondInternal(ctx, "Could not update mailing")
			return
		}

		if len(updated.Channels) > 0 {
			if _, err := h.tasks.EnqueueTx(cctx, tx, task.KindMailing, id, updated.Channels, updated.ScheduledAt); err != nil {
				RespondInternal(ctx, "Could not update mailing")
				return
			}
		}
	}

	err = tx.Commit(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not update mailing")
		return
	}

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "mailing.update",
		Subject:   id,
		RequestID: requestIDFrom(ctx),
	})

	ctx.JSON(http.StatusOK, updated)
}

// DELETE /mailings/:id (admin)

func (h *MailingsHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "mailing id must be a valid UUID")
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.store.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not delete mailing")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	// queue rows go first so nothing points at a dead mailing
	if err := h.tasks.DeleteForSubjectTx(cctx, tx, task.KindMailing, id); err != nil {
		RespondInternal(ctx, "Could not delete mailing")
		return
	}

	if err := h.store.DeleteTx(cctx, tx, id); err != nil {
		if errors.Is(err, mailing.ErrNotFound) {
			RespondNotFound(ctx, "Mailing not found")
			return
		}

		RespondInternal(ctx, "Could not delete mailing")
		return
	}

	err = tx.Commit(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not delete mailing")
		return
	}

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "mailing.delete",
		Subject:   id,
		RequestID: requestIDFrom(ctx),
	})

	ctx.Status(http.StatusNoContent)
}

func (h *MailingsHandler) record(e audit.Entry) {
	if h.audit != nil {
		h.audit.Record(e)
	}
}
