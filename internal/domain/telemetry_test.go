package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRawRecordToleratesMistypedStrings(t *testing.T) {
	var rec RawRecord
	err := json.Unmarshal([]byte(`{"deviceid":12345,"strstatus":null,"strstatusen":true,"speed":"12.5","status":[1]}`), &rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.DeviceID != "12345" {
		t.Fatalf("deviceid = %q", rec.DeviceID)
	}
	if rec.StrStatus != nil || rec.StrStatusEn != nil {
		t.Fatalf("expected absent status strings, got %v %v", rec.StrStatus, rec.StrStatusEn)
	}
	if !rec.Speed.Valid || rec.Speed.Value != 12.5 {
		t.Fatalf("speed = %+v", rec.Speed)
	}
	if rec.Status.Valid {
		t.Fatalf("expected array status to be absent, got %+v", rec.Status)
	}
}

func TestObservedAtPrefersLatestTime(t *testing.T) {
	fix := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	upd := fix.Add(2 * time.Hour)

	p := Position{GPSFixTime: &fix, LastUpdate: &upd}
	if at, ok := p.ObservedAt(); !ok || !at.Equal(upd) {
		t.Fatalf("expected update time, got %v %v", at, ok)
	}

	p = Position{GPSFixTime: &upd, LastUpdate: &fix}
	if at, _ := p.ObservedAt(); !at.Equal(upd) {
		t.Fatalf("expected fix time, got %v", at)
	}

	if _, ok := (&Position{}).ObservedAt(); ok {
		t.Fatal("expected no observation time")
	}
}
