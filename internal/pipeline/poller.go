package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/gps-poller/internal/domain"
	"fleet-monitor/gps-poller/internal/gps51"
	"fleet-monitor/gps-poller/internal/logging"
	"fleet-monitor/gps-poller/internal/metrics"
	"fleet-monitor/gps-poller/internal/normalize"
	"fleet-monitor/gps-poller/internal/notify"
)

var ErrUnknownAction = errors.New("unknown action")

const (
	ActionLastPosition = gps51.ActionLastPosition
	ActionMonitorList  = gps51.ActionQueryMonitorList
)

// Request selects what one cycle does. An empty Action means lastposition.
type Request struct {
	Action   string `json:"action"`
	UseCache bool   `json:"use_cache"`
}

type CycleResult struct {
	CycleID            string    `json:"cycle_id"`
	Action             string    `json:"action"`
	FromCache          bool      `json:"from_cache"`
	Records            int       `json:"records"`
	Vehicles           int       `json:"vehicles"`
	PositionsWritten   int       `json:"positions_written"`
	StaleSkipped       int       `json:"stale_skipped"`
	SamplesWritten     int       `json:"samples_written"`
	EventsCreated      int       `json:"events_created"`
	EventsSuppressed   int       `json:"events_suppressed"`
	WriteFailures      int       `json:"write_failures"`
	TripSyncsScheduled int       `json:"trip_syncs_scheduled"`
	StartedAt          time.Time `json:"started_at"`
	DurationMS         int64     `json:"duration_ms"`
}

type Tokens interface {
	ValidToken(ctx context.Context) (domain.Session, error)
	Invalidate(ctx context.Context) error
}

type Vendor interface {
	LastPosition(ctx context.Context, s domain.Session, deviceIDs []string, since int64) (gps51.LastPositionResult, error)
	MonitorList(ctx context.Context, s domain.Session) ([]domain.Vehicle, error)
}

// PositionStore is the backing store as seen by a poll cycle.
type PositionStore interface {
	DeviceIDs(ctx context.Context) ([]string, error)
	UpsertVehicles(ctx context.Context, vehicles []domain.Vehicle) error
	PreviousPositions(ctx context.Context, deviceIDs []string) (map[string]domain.Position, error)
	UpsertPositions(ctx context.Context, positions []domain.Position) error
	LatestSamples(ctx context.Context, deviceIDs []string) (map[string]domain.HistorySample, error)
	InsertSamples(ctx context.Context, samples []domain.HistorySample) error
	LogAPICall(ctx context.Context, l domain.CallLog) error
}

type ResultCache interface {
	CachedResult(ctx context.Context, action string) ([]byte, bool, error)
	CacheResult(ctx context.Context, action string, payload []byte, ttl time.Duration) error
}

type StateMirror interface {
	PushState(ctx context.Context, positions []domain.Position) error
}

type TripScheduler interface {
	Schedule(deviceID string, start, end time.Time) bool
}

// Options wires the optional collaborators of a Poller. Nil fields are
// skipped.
type Options struct {
	Cache      ResultCache
	State      StateMirror
	Publisher  notify.Publisher
	Trips      TripScheduler
	ChunkSize  int
	CacheTTL   time.Duration
	TripWindow time.Duration
}

type Poller struct {
	tokens     Tokens
	vendor     Vendor
	store      PositionStore
	normalizer *normalize.Normalizer
	sampler    *Sampler
	detector   *Detector
	opts       Options
	now        func() time.Time
}

func NewPoller(
	tokens Tokens,
	vendor Vendor,
	store PositionStore,
	normalizer *normalize.Normalizer,
	sampler *Sampler,
	detector *Detector,
	opts Options,
) *Poller {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.TripWindow <= 0 {
		opts.TripWindow = 24 * time.Hour
	}
	return &Poller{
		tokens:     tokens,
		vendor:     vendor,
		store:      store,
		normalizer: normalizer,
		sampler:    sampler,
		detector:   detector,
		opts:       opts,
		now:        time.Now,
	}
}

// Run executes one poll cycle. Vendor token errors invalidate the stored
// session and fail the cycle; the next cycle logs in again.
func (p *Poller) Run(ctx context.Context, req Request) (CycleResult, error) {
	action := req.Action
	if action == "" {
		action = ActionLastPosition
	}
	if action != ActionLastPosition && action != ActionMonitorList {
		return CycleResult{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	started := p.now()
	res := CycleResult{
		CycleID:   uuid.NewString(),
		Action:    action,
		StartedAt: started,
	}
	log := logging.FromContext(ctx).With("cycle_id", res.CycleID, "action", action)
	ctx = logging.NewContext(ctx, log)

	if req.UseCache {
		if cached, ok := p.cached(ctx, action); ok {
			cached.CycleID = res.CycleID
			cached.FromCache = true
			p.logCall(ctx, &cached, nil)
			metrics.PollCycles.WithLabelValues(action, "cached").Inc()
			log.Info("cycle_served_from_cache", "records", cached.Records)
			return cached, nil
		}
	}

	err := p.execute(ctx, action, &res)
	res.DurationMS = p.now().Sub(started).Milliseconds()
	metrics.CycleDuration.Observe(p.now().Sub(started).Seconds())
	p.logCall(ctx, &res, err)

	if err != nil {
		metrics.PollCycles.WithLabelValues(action, "error").Inc()
		log.Error("cycle_failed", "error", err)
		return res, err
	}

	metrics.PollCycles.WithLabelValues(action, "ok").Inc()
	p.saveCache(ctx, &res)
	log.Info("cycle_completed",
		"records", res.Records,
		"positions_written", res.PositionsWritten,
		"stale_skipped", res.StaleSkipped,
		"samples_written", res.SamplesWritten,
		"events_created", res.EventsCreated,
		"events_suppressed", res.EventsSuppressed,
		"write_failures", res.WriteFailures,
		"duration_ms", res.DurationMS,
	)
	return res, nil
}

func (p *Poller) execute(ctx context.Context, action string, res *CycleResult) error {
	sess, err := p.tokens.ValidToken(ctx)
	if err != nil {
		return fmt.Errorf("obtain vendor session: %w", err)
	}

	switch action {
	case ActionMonitorList:
		err = p.syncVehicles(ctx, sess, res)
	default:
		err = p.pollPositions(ctx, sess, res)
	}

	if err != nil && gps51.IsTokenError(err) {
		if ierr := p.tokens.Invalidate(ctx); ierr != nil {
			logging.FromContext(ctx).Warn("session_invalidate_failed", "error", ierr)
		}
		logging.FromContext(ctx).Warn("session_invalidated", "error", err)
	}
	return err
}

func (p *Poller) syncVehicles(ctx context.Context, sess domain.Session, res *CycleResult) error {
	vehicles, err := p.vendor.MonitorList(ctx, sess)
	if err != nil {
		return fmt.Errorf("query monitor list: %w", err)
	}
	res.Vehicles = len(vehicles)

	_, failed := writeChunks(ctx, "vehicles", vehicles, p.opts.ChunkSize, p.store.UpsertVehicles)
	res.WriteFailures += failed
	return nil
}

func (p *Poller) pollPositions(ctx context.Context, sess domain.Session, res *CycleResult) error {
	log := logging.FromContext(ctx)

	ids, err := p.store.DeviceIDs(ctx)
	if err != nil {
		return fmt.Errorf("load device ids: %w", err)
	}
	if len(ids) == 0 {
		log.Info("device_registry_empty_syncing")
		if err := p.syncVehicles(ctx, sess, res); err != nil {
			return err
		}
		if ids, err = p.store.DeviceIDs(ctx); err != nil {
			return fmt.Errorf("load device ids: %w", err)
		}
	}
	if len(ids) == 0 {
		log.Warn("no_devices_to_poll")
		return nil
	}

	result, err := p.vendor.LastPosition(ctx, sess, ids, 0)
	if err != nil {
		return fmt.Errorf("query last positions: %w", err)
	}
	res.Records = len(result.Records)
	if result.Dropped > 0 {
		metrics.RecordsDropped.Add(float64(result.Dropped))
		log.Warn("records_dropped", "count", result.Dropped)
	}

	now := p.now()
	positions := latestPerDevice(p.normalizer.NormalizeAll(result.Records, now))
	metrics.RecordsNormalized.Add(float64(len(positions)))

	seen := make([]string, len(positions))
	for i := range positions {
		seen[i] = positions[i].DeviceID
	}
	prev, err := p.store.PreviousPositions(ctx, seen)
	if err != nil {
		return fmt.Errorf("load previous positions: %w", err)
	}

	fresh := make([]domain.Position, 0, len(positions))
	for _, pos := range positions {
		if stored, ok := prev[pos.DeviceID]; ok && isStale(&pos, &stored) {
			res.StaleSkipped++
			continue
		}
		fresh = append(fresh, pos)
	}
	metrics.StalePositionsSkipped.Add(float64(res.StaleSkipped))

	written, failed := writeChunks(ctx, "vehicle_positions", fresh, p.opts.ChunkSize, p.store.UpsertPositions)
	res.PositionsWritten = written
	res.WriteFailures += failed

	if p.opts.State != nil {
		if err := p.opts.State.PushState(ctx, fresh); err != nil {
			log.Warn("state_mirror_failed", "error", err)
		}
	}

	p.sampleHistory(ctx, seen, fresh, now, res)
	p.recordEvents(ctx, prev, fresh, now, res)
	return nil
}

func (p *Poller) sampleHistory(ctx context.Context, ids []string, positions []domain.Position, now time.Time, res *CycleResult) {
	latest, err := p.store.LatestSamples(ctx, ids)
	if err != nil {
		logging.FromContext(ctx).Error("history_lookup_failed", "error", err)
		return
	}

	var samples []domain.HistorySample
	for i := range positions {
		var last *domain.HistorySample
		if h, ok := latest[positions[i].DeviceID]; ok {
			last = &h
		}
		if ok, sample := p.sampler.ShouldPersist(last, &positions[i], now); ok {
			samples = append(samples, sample)
		}
	}

	written, failed := writeChunks(ctx, "position_history", samples, p.opts.ChunkSize, p.store.InsertSamples)
	res.SamplesWritten = written
	res.WriteFailures += failed
}

func (p *Poller) recordEvents(ctx context.Context, prev map[string]domain.Position, positions []domain.Position, now time.Time, res *CycleResult) {
	log := logging.FromContext(ctx)

	var candidates []domain.Event
	for i := range positions {
		var before *domain.Position
		if pp, ok := prev[positions[i].DeviceID]; ok {
			before = &pp
		}
		candidates = append(candidates, p.detector.Detect(before, &positions[i], now)...)
	}
	if len(candidates) == 0 {
		return
	}

	stored, suppressed, err := p.detector.Record(ctx, candidates, now)
	res.EventsSuppressed = suppressed
	metrics.EventsSuppressed.Add(float64(suppressed))
	if err != nil {
		res.WriteFailures += len(candidates)
		metrics.WriteFailures.WithLabelValues("proactive_events").Add(float64(len(candidates)))
		log.Error("event_record_failed", "candidates", len(candidates), "error", err)
		return
	}
	res.EventsCreated = len(stored)

	for _, ev := range stored {
		metrics.EventsInserted.WithLabelValues(string(ev.Type)).Inc()
		log.Info("event_created", "device_id", ev.DeviceID, "type", ev.Type, "severity", ev.Severity)

		if ev.Type == domain.EventIgnitionOff && p.opts.Trips != nil {
			if p.opts.Trips.Schedule(ev.DeviceID, ev.CreatedAt.Add(-p.opts.TripWindow), ev.CreatedAt) {
				res.TripSyncsScheduled++
			} else {
				log.Warn("trip_sync_dropped", "device_id", ev.DeviceID)
			}
		}
	}

	if p.opts.Publisher != nil && len(stored) > 0 {
		if err := p.opts.Publisher.PublishEvents(ctx, stored); err != nil {
			log.Warn("event_publish_failed", "events", len(stored), "error", err)
		}
	}
}

func (p *Poller) cached(ctx context.Context, action string) (CycleResult, bool) {
	if p.opts.Cache == nil {
		return CycleResult{}, false
	}
	payload, ok, err := p.opts.Cache.CachedResult(ctx, action)
	if err != nil {
		logging.FromContext(ctx).Warn("cache_read_failed", "error", err)
		return CycleResult{}, false
	}
	if !ok {
		return CycleResult{}, false
	}
	var res CycleResult
	if err := json.Unmarshal(payload, &res); err != nil {
		logging.FromContext(ctx).Warn("cache_decode_failed", "error", err)
		return CycleResult{}, false
	}
	return res, true
}

func (p *Poller) saveCache(ctx context.Context, res *CycleResult) {
	if p.opts.Cache == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := p.opts.Cache.CacheResult(ctx, res.Action, payload, p.opts.CacheTTL); err != nil {
		logging.FromContext(ctx).Warn("cache_write_failed", "error", err)
	}
}

func (p *Poller) logCall(ctx context.Context, res *CycleResult, cycleErr error) {
	entry := domain.CallLog{
		CycleID:    res.CycleID,
		Action:     res.Action,
		Success:    cycleErr == nil,
		Records:    res.Records,
		Duration:   time.Duration(res.DurationMS) * time.Millisecond,
		FromCache:  res.FromCache,
		OccurredAt: p.now(),
	}
	if cycleErr != nil {
		entry.Error = cycleErr.Error()
	}
	if err := p.store.LogAPICall(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn("api_call_log_failed", "error", err)
	}
}

// latestPerDevice keeps one position per device, the newest by update time,
// at the slot where the device first appeared. A later record with an equal
// or missing timestamp does not displace a timestamped one.
func latestPerDevice(positions []domain.Position) []domain.Position {
	idx := make(map[string]int, len(positions))
	out := make([]domain.Position, 0, len(positions))
	for _, pos := range positions {
		i, ok := idx[pos.DeviceID]
		if !ok {
			idx[pos.DeviceID] = len(out)
			out = append(out, pos)
			continue
		}
		if newer(&pos, &out[i]) {
			out[i] = pos
		}
	}
	return out
}

func newer(a, b *domain.Position) bool {
	if a.LastUpdate == nil {
		return false
	}
	if b.LastUpdate == nil {
		return true
	}
	return a.LastUpdate.After(*b.LastUpdate)
}

// isStale mirrors the upsert guard: a position loses to a stored one that
// carries a later timestamp, or any timestamp when it has none.
func isStale(cur, stored *domain.Position) bool {
	if stored.LastUpdate == nil {
		return false
	}
	if cur.LastUpdate == nil {
		return true
	}
	return cur.LastUpdate.Before(*stored.LastUpdate)
}
