package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/akorchagin/eventdesk/internal/audit"
	"github.com/akorchagin/eventdesk/internal/config"
	"github.com/akorchagin/eventdesk/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

const settingAutoPromote = "waitlist_auto_promote"

type SettingsStore interface {
	Set(ctx context.Context, key, value string) error
	Bool(ctx context.Context, key string, def bool) (bool, error)
}

type SettingsHandler struct {
	store SettingsStore
	audit *audit.Writer
	cfg   config.Config
}

func NewSettingsHandler(store SettingsStore, auditLog *audit.Writer, cfg config.Config) *SettingsHandler {
	return &SettingsHandler{
		store: store,
		audit: auditLog,
		cfg:   cfg,
	}
}

// pointer so an explicit false survives binding
type autoPromoteRequest struct {
	AutoPromote *bool `json:"autoPromote" binding:"required"`
}

// GET /settings/waitlist-auto-promote (admin)

func (h *SettingsHandler) GetAutoPromote(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	v, err := h.store.Bool(cctx, settingAutoPromote, h.cfg.AutoPromoteDefault)
	if err != nil {
		RespondInternal(ctx, "Could not read setting")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"key":         settingAutoPromote,
		"autoPromote": v,
	})
}

// PUT /settings/waitlist-auto-promote (admin)

func (h *SettingsHandler) PutAutoPromote(ctx *gin.Context) {
	var req autoPromoteRequest

	if !BindJSON(ctx, &req) {
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	err := h.store.Set(cctx, settingAutoPromote, strconv.FormatBool(*req.AutoPromote))
	if err != nil {
		RespondInternal(ctx, "Could not update setting")
		return
	}

	if h.audit != nil {
		h.audit.Record(audit.Entry{
			Actor:     userID,
			Action:    "settings.update",
			Subject:   settingAutoPromote,
			RequestID: requestIDFrom(ctx),
			Meta:      map[string]any{"autoPromote": *req.AutoPromote},
		})
	}

	ctx.JSON(http.StatusOK, gin.H{
		"key":         settingAutoPromote,
		"autoPromote": *req.AutoPromote,
	})
}
