package kafkax

import "testing"

func TestHeaderCarrierSetGrowsAndOverwrites(t *testing.T) {
	c := &headerCarrier{headers: EventHeaders("evt-1", "visit.booked.v1")}
	c.Set("traceparent", "00-abc-def-01")
	if c.Get("traceparent") != "00-abc-def-01" {
		t.Fatalf("expected traceparent to be appended, got %v", c.headers)
	}
	c.Set(HeaderEventID, "evt-2")
	if c.Get(HeaderEventID) != "evt-2" {
		t.Fatalf("expected overwrite, got %v", c.headers)
	}
	if len(c.Keys()) != 3 {
		t.Fatalf("expected 3 keys, got %v", c.Keys())
	}
}
