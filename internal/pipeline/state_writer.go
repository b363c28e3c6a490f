package pipeline

import (
	"context"
	"errors"
	"time"

	"fleet-monitor/gps-poller/internal/domain"
	"fleet-monitor/gps-poller/internal/logging"
)

var ErrStateQueueFull = errors.New("state queue full")

// StateWriter takes the live-state mirror off the poll cycle: PushState only
// enqueues and Run forwards batches to the target.
type StateWriter struct {
	ch     chan []domain.Position
	target StateMirror
}

func NewStateWriter(target StateMirror, queueSize int) *StateWriter {
	if queueSize <= 0 {
		queueSize = 4
	}
	return &StateWriter{ch: make(chan []domain.Position, queueSize), target: target}
}

func (w *StateWriter) PushState(_ context.Context, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}
	batch := append([]domain.Position(nil), positions...)
	select {
	case w.ch <- batch:
		return nil
	default:
		return ErrStateQueueFull
	}
}

func (w *StateWriter) Run(ctx context.Context) {
	for {
		select {
		case batch := <-w.ch:
			w.flush(ctx, batch)
		case <-ctx.Done():
			return
		}
	}
}

func (w *StateWriter) flush(ctx context.Context, batch []domain.Position) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := w.target.PushState(ctx, batch); err != nil {
		logging.FromContext(ctx).Warn("state_update_failed", "positions", len(batch), "error", err)
	}
}
