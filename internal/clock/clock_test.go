package clock

import (
	"testing"
	"time"
)

func TestFakeSleepAdvances(t *testing.T) {
	start := time.Unix(1000, 0)
	f := NewFake(start)

	f.Sleep(10 * time.Millisecond)
	f.Sleep(-time.Second)
	f.Sleep(0)

	if got := f.Now().Sub(start); got != 10*time.Millisecond {
		t.Errorf("elapsed: got %v, want 10ms", got)
	}
}

func TestFakeSet(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	want := time.Unix(42, 0)
	f.Set(want)
	if !f.Now().Equal(want) {
		t.Errorf("Now: got %v, want %v", f.Now(), want)
	}
}

func TestRealMonotonic(t *testing.T) {
	c := Real()
	a := c.Now()
	c.Sleep(time.Millisecond)
	if !c.Now().After(a) {
		t.Error("real clock did not advance")
	}
}
