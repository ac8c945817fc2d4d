package timers

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimer_FiresAfterDelay(t *testing.T) {
	tm := New()
	var fired int32
	tm.Reset(20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	time.Sleep(80 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("timer did not fire")
	}
}

func TestTimer_ResetCancelsPreviousFiring(t *testing.T) {
	tm := New()
	var calls int32
	tm.Reset(20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	time.Sleep(5 * time.Millisecond)
	tm.Reset(40*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	time.Sleep(80 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one firing after rearm, got %d", calls)
	}
}

func TestTimer_StopPreventsFiring(t *testing.T) {
	tm := New()
	var fired int32
	tm.Reset(20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	tm.Stop()
	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("stopped timer fired anyway")
	}
}

func TestTimer_StopIsIdempotent(t *testing.T) {
	tm := New()
	tm.Stop()
	tm.Stop() // must not panic
}

func TestTimer_RepeatedResetBeforeExpiryOnlyFiresOnce(t *testing.T) {
	tm := New()
	var calls int32
	for i := 0; i < 10; i++ {
		tm.Reset(15*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
		time.Sleep(3 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one firing, got %d", calls)
	}
}
