package audit

import (
	"context"
	"log/slog"
	"time"
)

// Entry is one administrative action worth keeping a trace of.
type Entry struct {
	At        time.Time
	Actor     string
	Action    string
	Subject   string
	RequestID string
	Meta      map[string]any
}

type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// SlogSink emits audit entries as structured log lines. Shipping them to a
// dedicated store would just mean another Sink implementation.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink { return &SlogSink{log: log} }

func (s *SlogSink) Write(_ context.Context, e Entry) error {
	attrs := []any{
		"at", e.At.Format(time.RFC3339Nano),
		"actor", e.Actor,
		"action", e.Action,
		"subject", e.Subject,
		"request_id", e.RequestID,
	}

	for k, v := range e.Meta {
		attrs = append(attrs, k, v)
	}

	s.log.Info("audit", attrs...)
	return nil
}
