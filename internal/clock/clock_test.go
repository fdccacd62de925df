package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	fake := NewFake(epoch)
	var fired []string

	fake.AfterFunc(30*time.Millisecond, func() { fired = append(fired, "c") })
	fake.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	fake.AfterFunc(20*time.Millisecond, func() { fired = append(fired, "b") })

	fake.Advance(25 * time.Millisecond)

	want := []string{"a", "b"}
	if len(fired) != len(want) {
		t.Fatalf("fired %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired %v, want %v", fired, want)
		}
	}
	if fake.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", fake.Pending())
	}
}

func TestFakeAdvanceRunsChainedTimers(t *testing.T) {
	fake := NewFake(epoch)
	var count int

	// Each firing schedules the next 10ms out, like a rescheduling
	// background timer.
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			fake.AfterFunc(10*time.Millisecond, tick)
		}
	}
	fake.AfterFunc(10*time.Millisecond, tick)

	fake.Advance(35 * time.Millisecond)
	if count != 3 {
		t.Errorf("chained timers fired %d times, want 3", count)
	}
}

func TestFakeNowAdvances(t *testing.T) {
	fake := NewFake(epoch)
	fake.Advance(42 * time.Millisecond)
	if got := fake.Now(); !got.Equal(epoch.Add(42 * time.Millisecond)) {
		t.Errorf("Now() = %v, want %v", got, epoch.Add(42*time.Millisecond))
	}
}

func TestFakeTimerStop(t *testing.T) {
	fake := NewFake(epoch)
	fired := false
	timer := fake.AfterFunc(10*time.Millisecond, func() { fired = true })

	if !timer.Stop() {
		t.Error("Stop() = false for a pending timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}

	fake.Advance(20 * time.Millisecond)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFakeTimerAtNowFires(t *testing.T) {
	fake := NewFake(epoch)
	fired := false
	fake.AfterFunc(0, func() { fired = true })
	fake.Advance(0)
	if !fired {
		t.Error("zero-delay timer did not fire on Advance(0)")
	}
}

func TestRealClockAfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real AfterFunc never fired")
	}
}
