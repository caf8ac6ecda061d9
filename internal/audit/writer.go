package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type WriterConfig struct {
	Buffer       int
	DrainTimeout time.Duration
}

// Writer decouples request handling from the audit sink: handlers call Record,
// a single goroutine drains the buffer. A full buffer drops the entry rather
// than stalling the request, and the drop is counted.
type Writer struct {
	cfg     WriterConfig
	sink    Sink
	log     *slog.Logger
	dropped prometheus.Counter
	ch      chan Entry
}

func NewWriter(cfg WriterConfig, sink Sink, log *slog.Logger, dropped prometheus.Counter) *Writer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}

	return &Writer{
		cfg:     cfg,
		sink:    sink,
		log:     log,
		dropped: dropped,
		ch:      make(chan Entry, cfg.Buffer),
	}
}

// Record never blocks the caller.
func (w *Writer) Record(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	select {
	case w.ch <- e:
	default:
		w.dropped.Inc()
		w.log.Warn("audit entry dropped", "action", e.Action, "subject", e.Subject)
	}
}

func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Info("audit writer received shutdown signal")
			return w.drain()

		case e := <-w.ch:
			w.write(ctx, e)
		}
	}
}

// drain flushes whatever is still buffered at shutdown.
func (w *Writer) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout)
	defer cancel()

	for {
		select {
		case e := <-w.ch:
			w.write(ctx, e)
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
}

func (w *Writer) write(ctx context.Context, e Entry) {
	if err := w.sink.Write(ctx, e); err != nil {
		w.log.Warn("audit write failed", "action", e.Action, "error", err)
	}
}
