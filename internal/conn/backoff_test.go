package conn

import (
	"testing"
	"time"
)

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := newBackoff(time.Second, 8*time.Second)
	b.rand = func() float64 { return 0.5 } // no jitter

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second, // capped
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() call %d = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := newBackoff(time.Second, time.Minute)
	b.rand = func() float64 { return 0.5 }

	b.Next()
	b.Next()
	b.Reset()

	if got := b.Current(); got != 0 {
		t.Errorf("Current() after reset = %v, want 0", got)
	}
	if got := b.Next(); got != time.Second {
		t.Errorf("Next() after reset = %v, want base", got)
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	for _, r := range []float64{0, 1} {
		b := newBackoff(time.Second, time.Minute)
		b.rand = func() float64 { return r }
		got := b.Next()
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Errorf("jittered delay %v outside ±20%% of base", got)
		}
	}
}

func TestBackoff_Defaults(t *testing.T) {
	b := newBackoff(0, 0)
	if b.base != DefaultBackoffBase {
		t.Errorf("base = %v, want default", b.base)
	}
	if b.max != DefaultBackoffMax {
		t.Errorf("max = %v, want default", b.max)
	}
}
