package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/akorchagin/eventdesk/internal/audit"
	"github.com/akorchagin/eventdesk/internal/cache"
	"github.com/akorchagin/eventdesk/internal/config"
	"github.com/akorchagin/eventdesk/internal/domain/event"
	"github.com/akorchagin/eventdesk/internal/http/middlewares"
	"github.com/akorchagin/eventdesk/internal/utils"
	"github.com/gin-gonic/gin"
)

type EventsStore interface {
	Create(ctx context.Context, e event.Event) (event.Event, error)
	ListCursor(
		ctx context.Context,
		f event.ListEventsFilter,
		afterStartAt time.Time,
		afterID string,
	) (items []event.Event, nextCursor *string, hasMore bool, err error)
	GetByID(ctx context.Context, id string) (event.Event, error)
	Update(ctx context.Context, id string, req event.UpdateEventRequest) (event.Event, error)
	Delete(ctx context.Context, id string) error
	Availability(ctx context.Context, id string) (event.Availability, error)
}

type EventsHandler struct {
	store     EventsStore
	listCache *cache.Cache
	avail     *cache.AvailabilityCache
	audit     *audit.Writer
}

func NewEventsHandler(store EventsStore, listCache *cache.Cache, avail *cache.AvailabilityCache, auditLog *audit.Writer) *EventsHandler {
	return &EventsHandler{
		store:     store,
		listCache: listCache,
		avail:     avail,
		audit:     auditLog,
	}
}

func parseIntDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}

	n, err := strconv.Atoi(s)

	if err != nil {
		return fallback
	}

	return n
}

// eventsListCacheKey folds every filter that shapes a first page into the
// cache key, so distinct filters never collide.
func eventsListCacheKey(limit int, f event.ListEventsFilter) string {
	city := ""
	if f.City != nil {
		city = strings.ToLower(strings.TrimSpace(*f.City))
	}
	from := ""
	if f.From != nil {
		from = f.From.UTC().Format(time.RFC3339Nano)
	}
	to := ""
	if f.To != nil {
		to = f.To.UTC().Format(time.RFC3339Nano)
	}

	return "events:list:v1:limit=" + strconv.Itoa(limit) +
		":city=" + city +
		":from=" + from +
		":to=" + to
}

// GET /events?city=Berlin&from=...&to=...&limit=20&cursor=...

func (h *EventsHandler) List(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 20)
	if limit < 1 || limit > 100 {
		RespondBadRequest(ctx, "invalid_query", "limit must be between 1 and 100")
		return
	}

	f := event.ListEventsFilter{Limit: limit}

	if city := ctx.Query("city"); city != "" {
		f.City = &city
	}

	if fromStr := ctx.Query("from"); fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			RespondBadRequest(ctx, "invalid_query", "from must be RFC 3339 Datetime")
			return
		}
		tt := t.UTC()
		f.From = &tt
	}

	if toStr := ctx.Query("to"); toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			RespondBadRequest(ctx, "invalid_query", "to must be RFC 3339 Datetime")
			return
		}
		tt := t.UTC()
		f.To = &tt
	}

	cursor := ctx.Query("cursor")

	// ASC ordering: the zero cursor sorts before every real row
	var afterStartAt time.Time
	var afterID string

	cacheKey := ""

	if cursor == "" {
		// only the first page is cached; deep pages churn too much
		cacheKey = eventsListCacheKey(limit, f)

		if cached, ok := h.listCache.Get(cacheKey); ok {
			RespondJSONWithETag(ctx, http.StatusOK, cached)
			return
		}
	} else {
		cur, err := utils.DecodeEventCursor(cursor)
		if err != nil {
			RespondBadRequest(ctx, "invalid_query", "cursor is invalid")
			return
		}
		afterStartAt = cur.StartAt
		afterID = cur.ID
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, next, hasMore, err := h.store.ListCursor(cctx, f, afterStartAt, afterID)
	if err != nil {
		RespondInternal(ctx, "Could not list events")
		return
	}

	resp := gin.H{
		"limit":      limit,
		"count":      len(items),
		"items":      items,
		"hasMore":    hasMore,
		"nextCursor": next,
	}

	if cacheKey != "" {
		h.listCache.Set(cacheKey, resp)
	}

	RespondJSONWithETag(ctx, http.StatusOK, resp)
}

// GET /events/:id

func (h *EventsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "event id must be a valid UUID")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	e, err := h.store.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}

		RespondInternal(ctx, "Could not fetch event")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, e)
}

// POST /events (admin)

func (h *EventsHandler) Create(ctx *gin.Context) {
	var req event.CreateEventRequest

	if !BindJSON(ctx, &req) {
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	created, err := h.store.Create(cctx, event.NewFromCreateRequest(req, userID))

	if err != nil {
		RespondInternal(ctx, "Could not create event")
		return
	}

	h.listCache.Clear()

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "event.create",
		Subject:   created.ID,
		RequestID: requestIDFrom(ctx),
	})

	ctx.JSON(http.StatusCreated, created)
}

// PUT /events/:id (admin)

func (h *EventsHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "event id must be a valid UUID")
		return
	}

	var req event.UpdateEventRequest

	if !BindJSON(ctx, &req) {
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	updated, err := h.store.Update(cctx, id, req)

	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}

		RespondInternal(ctx, "Could not update event")
		return
	}

	h.listCache.Clear()

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "event.update",
		Subject:   id,
		RequestID: requestIDFrom(ctx),
	})

	ctx.JSON(http.StatusOK, updated)
}

// DELETE /events/:id (admin)

func (h *EventsHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "event id must be a valid UUID")
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	err := h.store.Delete(cctx, id)

	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}

		RespondInternal(ctx, "Could not delete event")
		return
	}

	h.listCache.Clear()
	h.avail.Invalidate(cctx, id)

	h.record(audit.Entry{
		Actor:     userID,
		Action:    "event.delete",
		Subject:   id,
		RequestID: requestIDFrom(ctx),
	})

	ctx.Status(http.StatusNoContent)
}

// GET /events/:id/availability

func (h *EventsHandler) Availability(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "event id must be a valid UUID")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if av, ok := h.avail.Get(cctx, id); ok {
		ctx.JSON(http.StatusOK, av)
		return
	}

	av, err := h.store.Availability(cctx, id)

	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}

		RespondInternal(ctx, "Could not fetch availability")
		return
	}

	h.avail.Set(cctx, av)

	ctx.JSON(http.StatusOK, av)
}

func (h *EventsHandler) record(e audit.Entry) {
	if h.audit != nil {
		h.audit.Record(e)
	}
}
