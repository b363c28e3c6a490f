package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fleet-monitor/gps-poller/internal/logging"
	"fleet-monitor/gps-poller/internal/metrics"
)

type tripWindow struct {
	DeviceID string    `json:"device_id"`
	Start    time.Time `json:"time_window_start"`
	End      time.Time `json:"time_window_end"`
}

// TripSync asks the trip-ingestion service to rebuild trips for a device and
// window. Delivery is at most once: a full queue drops the request and a
// failed POST is not retried.
type TripSync struct {
	endpoint string
	client   *http.Client
	queue    chan tripWindow
}

func NewTripSync(endpoint string, queueSize int, timeout time.Duration) *TripSync {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &TripSync{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		queue:    make(chan tripWindow, queueSize),
	}
}

// Schedule enqueues a sync without blocking. It reports false when the
// request was dropped.
func (t *TripSync) Schedule(deviceID string, start, end time.Time) bool {
	select {
	case t.queue <- tripWindow{DeviceID: deviceID, Start: start.UTC(), End: end.UTC()}:
		return true
	default:
		metrics.TripSyncDrops.Inc()
		return false
	}
}

// Run sends queued requests until ctx is cancelled.
func (t *TripSync) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-t.queue:
			t.deliver(ctx, w)
		}
	}
}

// Flush sends whatever is queued right now and returns.
func (t *TripSync) Flush(ctx context.Context) {
	for {
		select {
		case w := <-t.queue:
			t.deliver(ctx, w)
		default:
			return
		}
	}
}

func (t *TripSync) deliver(ctx context.Context, w tripWindow) {
	if err := t.send(ctx, w); err != nil {
		metrics.TripSyncFailures.Inc()
		logging.FromContext(ctx).Warn("trip_sync_failed", "device_id", w.DeviceID, "error", err)
		return
	}
	logging.FromContext(ctx).Debug("trip_sync_sent", "device_id", w.DeviceID, "start", w.Start, "end", w.End)
}

func (t *TripSync) send(ctx context.Context, w tripWindow) error {
	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal trip window: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post trip sync: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("trip sync returned HTTP %d", resp.StatusCode)
	}
	return nil
}
