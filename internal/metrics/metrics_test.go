package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersExposed(t *testing.T) {
	before := testutil.ToFloat64(EventsInserted.WithLabelValues("low_battery"))
	EventsInserted.WithLabelValues("low_battery").Inc()
	if got := testutil.ToFloat64(EventsInserted.WithLabelValues("low_battery")); got != before+1 {
		t.Fatalf("expected %f, got %f", before+1, got)
	}

	TripSyncDrops.Add(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"gps_poller_events_inserted_total", "gps_poller_trip_sync_dropped_total"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}
