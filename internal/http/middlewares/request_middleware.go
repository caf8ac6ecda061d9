package middlewares

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		// honor an inbound id so callers can correlate across services
		id := ctx.GetHeader(requestIDHeader)

		if id == "" {
			id = uuid.NewString()
		}

		ctx.Writer.Header().Set(requestIDHeader, id)

		ctx.Set(CtxRequestID, id)

		ctx.Next()

	}
}

func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		route := ctx.FullPath()
		if route == "" {
			route = ctx.Request.URL.Path // fallback (e.g. 404)
		}

		method := ctx.Request.Method

		ctx.Next()

		lat := time.Since(start)
		status := ctx.Writer.Status()

		reqID, _ := ctx.Get(CtxRequestID)

		logAttrs := []any{
			"method", method,
			"route", route,
			"status", status,
			"latency_ms", lat.Milliseconds(),
			"request_id", reqID,
		}

		if taskID, ok := ctx.Get(CtxTaskID); ok {
			if taskIDStr, ok := taskID.(string); ok && taskIDStr != "" {
				logAttrs = append(logAttrs, "task_id", taskIDStr)
			}
		}

		l := log
		if l == nil {
			l = slog.Default()
		}

		switch {
		case status >= 500:
			l.ErrorContext(ctx.Request.Context(), "http_request", logAttrs...)
		case status >= 400:
			l.WarnContext(ctx.Request.Context(), "http_request", logAttrs...)
		default:
			l.InfoContext(ctx.Request.Context(), "http_request", logAttrs...)
		}
	}
}
