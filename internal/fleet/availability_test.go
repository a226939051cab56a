package fleet

import (
	"testing"
	"time"
)

func newTestRecord(t0 time.Time) *deviceRecord {
	return &deviceRecord{
		serial:            testSerial(1),
		availability:      AvailabilityUnknown,
		availabilitySince: t0,
		firstSeen:         t0,
	}
}

func TestAvailabilityPromotionIsImmediate(t *testing.T) {
	t0 := time.Now()
	grace := 180 * time.Second

	t.Run("unknown to available on first success", func(t *testing.T) {
		rec := newTestRecord(t0)

		tr, changed := rec.recordSuccess(t0.Add(time.Second))
		if !changed {
			t.Fatal("recordSuccess() changed = false, want transition")
		}
		if tr.from != AvailabilityUnknown || tr.to != AvailabilityAvailable {
			t.Errorf("transition = %s -> %s, want unknown -> available", tr.from, tr.to)
		}
	})

	t.Run("unavailable to available with zero delay", func(t *testing.T) {
		rec := newTestRecord(t0)
		rec.availability = AvailabilityUnavailable

		// A success promotes even when the last one was ages ago.
		tr, changed := rec.recordSuccess(t0.Add(time.Hour))
		if !changed {
			t.Fatal("recordSuccess() changed = false, want transition")
		}
		if tr.to != AvailabilityAvailable {
			t.Errorf("transition to = %s, want available", tr.to)
		}

		// And demotion machinery starts from scratch afterwards.
		if _, demoted := rec.recordFailure(t0.Add(time.Hour).Add(time.Second), grace); demoted {
			t.Error("recordFailure() straight after recovery demoted the device")
		}
	})
}

func TestAvailabilityNoPrematureDemotion(t *testing.T) {
	t0 := time.Now()
	grace := 180 * time.Second

	rec := newTestRecord(t0)
	rec.recordSuccess(t0)

	// One failed command: eight attempts at one second each lands well
	// inside the grace window and must not demote.
	now := t0
	for i := 0; i < 8; i++ {
		now = now.Add(time.Second)
		if _, changed := rec.recordFailure(now, grace); changed {
			t.Fatalf("recordFailure() #%d demoted inside the grace window", i+1)
		}
	}

	// A success after the failure run keeps the device Available.
	if _, changed := rec.recordSuccess(now.Add(time.Second)); changed {
		t.Error("recordSuccess() reported a transition for an Available device")
	}
	if rec.availability != AvailabilityAvailable {
		t.Errorf("availability = %s, want available", rec.availability)
	}
}

func TestAvailabilityDemotionAfterGrace(t *testing.T) {
	t0 := time.Now()
	grace := 180 * time.Second

	rec := newTestRecord(t0)
	rec.recordSuccess(t0)
	rec.recordFailure(t0.Add(10*time.Second), grace)

	// Grace elapsed since the last success and the most recent outcome
	// was that failure: the next check demotes.
	tr, changed := rec.checkSilence(t0.Add(grace+time.Second), grace)
	if !changed {
		t.Fatal("checkSilence() after grace changed = false, want demotion")
	}
	if tr.from != AvailabilityAvailable || tr.to != AvailabilityUnavailable {
		t.Errorf("transition = %s -> %s, want available -> unavailable", tr.from, tr.to)
	}

	// Exactly once: re-evaluating must not produce a second event.
	if _, changed := rec.checkSilence(t0.Add(grace+time.Minute), grace); changed {
		t.Error("checkSilence() demoted twice")
	}
	if _, changed := rec.recordFailure(t0.Add(grace+2*time.Minute), grace); changed {
		t.Error("recordFailure() demoted twice")
	}
}

func TestAvailabilityIdleDeviceKeepsState(t *testing.T) {
	t0 := time.Now()
	grace := 180 * time.Second

	rec := newTestRecord(t0)
	rec.recordSuccess(t0)

	// No failures on record: silence alone is not evidence of loss,
	// however long it lasts.
	if _, changed := rec.checkSilence(t0.Add(time.Hour), grace); changed {
		t.Error("checkSilence() demoted an idle device with no failed requests")
	}
	if rec.availability != AvailabilityAvailable {
		t.Errorf("availability = %s, want available", rec.availability)
	}
}

func TestAvailabilityUnknownAgesOut(t *testing.T) {
	t0 := time.Now()
	grace := 180 * time.Second

	rec := newTestRecord(t0)

	// Inside the grace window Unknown holds.
	if _, changed := rec.checkSilence(t0.Add(grace), grace); changed {
		t.Fatal("checkSilence() demoted Unknown inside the grace window")
	}

	// Zero successful contact ever, grace elapsed: demote.
	tr, changed := rec.checkSilence(t0.Add(grace+time.Second), grace)
	if !changed {
		t.Fatal("checkSilence() changed = false, want unknown -> unavailable")
	}
	if tr.from != AvailabilityUnknown || tr.to != AvailabilityUnavailable {
		t.Errorf("transition = %s -> %s, want unknown -> unavailable", tr.from, tr.to)
	}
}

func TestAvailabilityFailureOnlyUnknownDemotes(t *testing.T) {
	t0 := time.Now()
	grace := 30 * time.Second

	// A device that was discovered but never answered anything demotes
	// through the failure path too, not only the sweep.
	rec := newTestRecord(t0)
	rec.recordFailure(t0.Add(8*time.Second), grace)
	if rec.availability != AvailabilityUnknown {
		t.Fatalf("availability = %s, want unknown", rec.availability)
	}

	tr, changed := rec.recordFailure(t0.Add(grace+time.Second), grace)
	if !changed {
		t.Fatal("recordFailure() after grace changed = false, want demotion")
	}
	if tr.to != AvailabilityUnavailable {
		t.Errorf("transition to = %s, want unavailable", tr.to)
	}
}

func TestAvailabilityStrings(t *testing.T) {
	cases := map[Availability]string{
		AvailabilityUnknown:     "unknown",
		AvailabilityAvailable:   "available",
		AvailabilityUnavailable: "unavailable",
		Availability(99):        "unknown",
	}
	for a, want := range cases {
		if got := a.String(); got != want {
			t.Errorf("Availability(%d).String() = %q, want %q", int(a), got, want)
		}
	}
}
