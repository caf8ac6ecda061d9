package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/akorchagin/eventdesk/internal/audit"
	"github.com/akorchagin/eventdesk/internal/config"
	"github.com/akorchagin/eventdesk/internal/domain/task"
	"github.com/akorchagin/eventdesk/internal/http/middlewares"
	"github.com/akorchagin/eventdesk/internal/utils"
	"github.com/gin-gonic/gin"
)

type TasksStore interface {
	PendingFor(ctx context.Context, channel string, asOf time.Time) ([]task.PendingTask, error)
	Complete(ctx context.Context, id string) error
}

type TasksHandler struct {
	store TasksStore
	audit *audit.Writer
	cfg   config.Config
}

func NewTasksHandler(store TasksStore, auditLog *audit.Writer, cfg config.Config) *TasksHandler {
	return &TasksHandler{
		store: store,
		audit: auditLog,
		cfg:   cfg,
	}
}

// GET /tasks?channel=telegram&until=2026-01-02T15:04:05Z (admin)
//
// Channel pollers pull their due work here. The list is read-only: a
// task disappears from it only after an explicit complete call.

func (h *TasksHandler) Poll(ctx *gin.Context) {
	channel := ctx.Query("channel")

	if channel == "" {
		RespondBadRequest(ctx, "invalid_query", "channel is required")
		return
	}

	known := false
	for _, c := range h.cfg.TaskChannels {
		if c == channel {
			known = true
			break
		}
	}

	if !known {
		RespondBadRequest(ctx, "invalid_query", "unknown channel: must be one of "+strings.Join(h.cfg.TaskChannels, ", "))
		return
	}

	asOf := time.Now().UTC()

	if untilStr := ctx.Query("until"); untilStr != "" {
		t, err := time.Parse(time.RFC3339, untilStr)

		if err != nil {
			RespondBadRequest(ctx, "invalid_query", "until must be RFC 3339 Datetime")
			return
		}

		asOf = t.UTC()
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, err := h.store.PendingFor(cctx, channel, asOf)

	if err != nil {
		RespondInternal(ctx, "Could not list tasks")
		return
	}

	resp := gin.H{
		"channel": channel,
		"asOf":    asOf,
		"count":   len(items),
		"items":   items,
	}

	RespondJSONWithETag(ctx, http.StatusOK, resp)
}

// POST /tasks/:id/complete (admin)

func (h *TasksHandler) Complete(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxTaskID, id)

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "task id must be a valid UUID")
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	err := h.store.Complete(cctx, id)

	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			RespondNotFound(ctx, "Task not found")
			return
		}

		RespondInternal(ctx, "Could not complete task")
		return
	}

	if h.audit != nil {
		h.audit.Record(audit.Entry{
			Actor:     userID,
			Action:    "task.complete",
			Subject:   id,
			RequestID: requestIDFrom(ctx),
		})
	}

	ctx.JSON(http.StatusOK, gin.H{
		"id":     id,
		"status": "completed",
	})
}
