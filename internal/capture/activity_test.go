package capture

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestActivityStopJoinsBeforeRestart(t *testing.T) {
	var a Activity
	var alive, maxAlive atomic.Int32

	loop := func(running func() bool) {
		n := alive.Add(1)
		for {
			m := maxAlive.Load()
			if n <= m || maxAlive.CompareAndSwap(m, n) {
				break
			}
		}
		for running() {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(5 * time.Millisecond)
		alive.Add(-1)
	}

	for range 20 {
		if err := a.Start(loop); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := a.Stop(0); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}

	if got := maxAlive.Load(); got != 1 {
		t.Errorf("max concurrent activities = %d, want 1", got)
	}
	if a.Alive() {
		t.Error("activity alive after Stop")
	}
}

func TestActivityRefusesSecondStart(t *testing.T) {
	var a Activity
	release := make(chan struct{})

	err := a.Start(func(running func() bool) {
		for running() {
			time.Sleep(time.Millisecond)
		}
		<-release
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := a.Start(func(func() bool) {}); !errors.Is(err, ErrActivityRunning) {
		t.Errorf("second Start = %v, want ErrActivityRunning", err)
	}

	close(release)
	if err := a.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestActivitySelfExitAllowsRestart(t *testing.T) {
	var a Activity
	exited := make(chan struct{})

	if err := a.Start(func(func() bool) { close(exited) }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-exited

	deadline := time.Now().Add(time.Second)
	for a.Alive() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := a.Start(func(func() bool) {}); err != nil {
		t.Errorf("Start after self exit: %v", err)
	}
	_ = a.Stop(time.Second)
}

func TestActivityJoinTimeoutAbandons(t *testing.T) {
	var a Activity
	hang := make(chan struct{})
	defer close(hang)

	if err := a.Start(func(func() bool) { <-hang }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := a.Stop(20 * time.Millisecond)
	if !errors.Is(err, ErrJoinTimeout) {
		t.Fatalf("Stop = %v, want ErrJoinTimeout", err)
	}
	if !a.Abandoned() {
		t.Error("activity not marked abandoned")
	}

	if err := a.Start(func(func() bool) {}); !errors.Is(err, ErrActivityAbandoned) {
		t.Errorf("Start after abandon = %v, want ErrActivityAbandoned", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	var a Activity
	if err := a.Stop(time.Millisecond); err != nil {
		t.Errorf("Stop on idle activity = %v", err)
	}
}
