// Package telemetry records per-request call logs off the hot path. The
// gateway hands finished requests to a buffered channel and a single
// worker drains it into the store, so logging latency never shows up in
// response times.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/store"
)

const (
	defaultBuffer = 1024
	writeTimeout  = 5 * time.Second
)

// Recorder buffers API call log entries and writes them asynchronously.
// When the buffer is full new entries are dropped rather than blocking
// request handling.
type Recorder struct {
	store  *store.Store
	logger *slog.Logger
	ch     chan *model.APICallLog

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRecorder creates a Recorder with the given buffer size. A size of
// zero or less means the default.
func NewRecorder(st *store.Store, logger *slog.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Recorder{
		store:  st,
		logger: logger,
		ch:     make(chan *model.APICallLog, buffer),
	}
}

// Start launches the background writer loop. Non-blocking.
func (r *Recorder) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		for {
			select {
			case entry := <-r.ch:
				r.write(entry)
			case <-ctx.Done():
				// Drain whatever is already buffered before exiting.
				for {
					select {
					case entry := <-r.ch:
						r.write(entry)
					default:
						return
					}
				}
			}
		}
	}()
}

// Shutdown stops the writer loop after draining buffered entries.
func (r *Recorder) Shutdown() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Record queues an entry for asynchronous persistence. Returns false if
// the buffer is full and the entry was dropped.
func (r *Recorder) Record(entry *model.APICallLog) bool {
	select {
	case r.ch <- entry:
		return true
	default:
		r.logger.Warn("call log buffer full, dropping entry",
			"workspace_id", entry.WorkspaceID,
			"endpoint", entry.Endpoint,
		)
		return false
	}
}

func (r *Recorder) write(entry *model.APICallLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.InsertCallLog(ctx, entry); err != nil {
		r.logger.Warn("call log write failed", "error", err)
	}
}
