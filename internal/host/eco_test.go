package host

import (
	"testing"
	"time"
)

func TestEcoSleepWithoutSignal(t *testing.T) {
	var e ecoSleeper
	if d := e.next(time.Now(), false, 0, 0); d != ecoMaxSleep {
		t.Errorf("no-signal sleep = %v, want %v", d, ecoMaxSleep)
	}
}

func TestEcoSleepConverges(t *testing.T) {
	start := time.Unix(0, 0)
	e := ecoSleeper{reference: start}

	var d time.Duration
	for i := range 2000 {
		now := start.Add(time.Duration(i+1) * 16 * time.Millisecond)
		d = e.next(now, true, 0, 16*time.Millisecond)
		e.reference = now
	}

	want := time.Duration(0.85 * float64(16*time.Millisecond))
	if diff := d - want; diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("converged sleep = %v, want about %v", d, want)
	}
}

func TestEcoSleepClampedToFrameInterval(t *testing.T) {
	start := time.Unix(0, 0)
	e := ecoSleeper{reference: start, estimate: time.Second}

	d := e.next(start.Add(time.Second), true, 0, 5*time.Millisecond)
	if d != 5*time.Millisecond {
		t.Errorf("sleep = %v, want 5ms", d)
	}
}

func TestEcoSleepSkippedWhileDropping(t *testing.T) {
	start := time.Unix(0, 0)
	e := ecoSleeper{reference: start, estimate: 10 * time.Millisecond}

	if d := e.next(start.Add(16*time.Millisecond), true, 3, 0); d != 0 {
		t.Errorf("sleep while dropping = %v, want 0", d)
	}
	if e.estimate >= 10*time.Millisecond {
		t.Errorf("estimate %v did not shrink", e.estimate)
	}
}
