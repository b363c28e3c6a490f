// Package notify fans inserted proactive events out to downstream consumers.
package notify

import (
	"context"
	"errors"

	"fleet-monitor/gps-poller/internal/domain"
)

type Publisher interface {
	PublishEvents(ctx context.Context, events []domain.Event) error
}

// Multi publishes to every sink and joins their errors. One failing sink does
// not stop the others.
type Multi []Publisher

func (m Multi) PublishEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishEvents(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
