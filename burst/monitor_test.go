package burst

import (
	"testing"
	"time"
)

func TestMonitor_CoalescesBurstIntoOneTrigger(t *testing.T) {
	m := NewMonitor(50 * time.Millisecond)

	m.Ping()
	time.Sleep(10 * time.Millisecond)
	m.Ping()
	time.Sleep(30 * time.Millisecond)
	m.Ping()

	select {
	case <-m.Trigger():
		t.Fatal("trigger fired before quiescence window elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case <-m.Trigger():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected exactly one trigger after the burst settled")
	}

	select {
	case <-m.Trigger():
		t.Fatal("expected no second trigger for a single burst")
	case <-time.After(100 * time.Millisecond):
	}
}
