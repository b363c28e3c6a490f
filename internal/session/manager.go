package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleet-monitor/gps-poller/internal/domain"
	"fleet-monitor/gps-poller/internal/logging"
	"fleet-monitor/gps-poller/internal/metrics"
)

// Store persists the shared session row.
type Store interface {
	// LoadSession returns nil when no session is stored.
	LoadSession(ctx context.Context) (*domain.Session, error)
	SaveSession(ctx context.Context, s domain.Session) error
	DeleteSession(ctx context.Context) error
}

// Vendor opens new sessions.
type Vendor interface {
	Login(ctx context.Context) (domain.Session, error)
}

// Manager hands out a usable vendor token. The stored row is read on every
// call and replaced by a fresh login when it is missing or inside the margin.
// Refresh is check-then-act without a distributed lock; concurrent pollers at
// worst log in twice.
type Manager struct {
	store  Store
	vendor Vendor
	margin time.Duration
	now    func() time.Time

	mu sync.Mutex
}

func NewManager(store Store, vendor Vendor, margin time.Duration) *Manager {
	return &Manager{
		store:  store,
		vendor: vendor,
		margin: margin,
		now:    time.Now,
	}
}

func (m *Manager) ValidToken(ctx context.Context) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logging.FromContext(ctx)
	now := m.now()

	stored, err := m.store.LoadSession(ctx)
	if err != nil {
		log.Warn("session_load_failed", "error", err)
	} else if stored.ValidAt(now, m.margin) {
		return *stored, nil
	}

	fresh, err := m.vendor.Login(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("vendor login: %w", err)
	}
	metrics.SessionRefreshes.Inc()
	log.Info("session_refreshed", "username", fresh.Username, "server_id", fresh.ServerID, "expires_at", fresh.ExpiresAt)

	if err := m.store.SaveSession(ctx, fresh); err != nil {
		log.Warn("session_save_failed", "error", err)
	}
	return fresh, nil
}

// Invalidate deletes the stored token so the next call logs in again.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteSession(ctx); err != nil {
		return fmt.Errorf("delete stored session: %w", err)
	}
	return nil
}
