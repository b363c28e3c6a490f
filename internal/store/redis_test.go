package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"fleet-monitor/gps-poller/internal/domain"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client), mr
}

func TestCachedResultExpires(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	if _, ok, err := r.CachedResult(ctx, "lastposition"); err != nil || ok {
		t.Fatalf("expected cache miss, got ok=%v err=%v", ok, err)
	}

	if err := r.CacheResult(ctx, "lastposition", []byte(`{"records":3}`), 30*time.Second); err != nil {
		t.Fatalf("cache: %v", err)
	}
	got, ok, err := r.CachedResult(ctx, "lastposition")
	if err != nil || !ok || string(got) != `{"records":3}` {
		t.Fatalf("expected hit, got %q ok=%v err=%v", got, ok, err)
	}

	mr.FastForward(31 * time.Second)
	if _, ok, _ := r.CachedResult(ctx, "lastposition"); ok {
		t.Fatal("expected cached result to expire")
	}
}

func TestPushState(t *testing.T) {
	r, mr := newTestRedis(t)
	lat, lon, batt := 6.5244, 3.3792, 55.0
	on := true
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	positions := []domain.Position{
		{DeviceID: "a", Lat: &lat, Lon: &lon, SpeedKmh: 42, BatteryPct: &batt, IgnitionOn: &on, IsOnline: true, LastUpdate: &ts},
		{DeviceID: "b", SpeedKmh: 0},
	}
	if err := r.PushState(context.Background(), positions); err != nil {
		t.Fatalf("push state: %v", err)
	}

	if got := mr.HGet(stateKey("a"), "speed_kmh"); got != "42" {
		t.Fatalf("speed_kmh = %q", got)
	}
	if got := mr.HGet(stateKey("a"), "ignition_on"); got != "1" {
		t.Fatalf("ignition_on = %q", got)
	}
	if mr.TTL(stateKey("a")) != stateTTL {
		t.Fatalf("state ttl = %v", mr.TTL(stateKey("a")))
	}
	if !mr.Exists(stateKey("b")) {
		t.Fatal("state without coordinates should still be written")
	}

	members, err := r.Client().ZRange(context.Background(), GeoKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("geo members: %v", err)
	}
	if len(members) != 1 || members[0] != "a" {
		t.Fatalf("expected only a in geo set, got %v", members)
	}
}

func TestPublishEvents(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	sub := r.Client().Subscribe(ctx, EventsChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := domain.Event{ID: "e1", DeviceID: "a", Type: domain.EventOffline, Severity: domain.SeverityWarning}
	if err := r.PublishEvents(ctx, []domain.Event{ev}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got domain.Event
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != "e1" || got.Type != domain.EventOffline {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestGetAPIKey(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Set("poller:auth:k1", "ops")

	owner, err := r.GetAPIKey(context.Background(), "k1")
	if err != nil || owner != "ops" {
		t.Fatalf("got %q %v", owner, err)
	}
	owner, err = r.GetAPIKey(context.Background(), "missing")
	if err != nil || owner != "" {
		t.Fatalf("expected empty owner, got %q %v", owner, err)
	}
}
