package ioarea_test

import (
	"testing"

	"github.com/pwcore/node-graph/ioarea"
)

func TestIOBuffersHandshake(t *testing.T) {
	region := make([]byte, ioarea.IOBuffersSize)
	b := ioarea.CastIOBuffers(region)

	if got := b.LoadStatus(); got != ioarea.StatusOK {
		t.Fatalf("fresh region status = %v, want StatusOK", got)
	}

	b.Publish(42)
	if got := b.LoadStatus(); got != ioarea.StatusHaveData {
		t.Fatalf("status after Publish = %v, want HaveData", got)
	}

	id := b.Consume()
	if id != 42 {
		t.Fatalf("Consume id = %d, want 42", id)
	}
	if got := b.LoadStatus(); got != ioarea.StatusNeedData {
		t.Fatalf("status after Consume = %v, want NeedData", got)
	}
}

func TestIOClockSetName(t *testing.T) {
	region := make([]byte, ioarea.IOClockSize)
	c := ioarea.CastIOClock(region)
	c.SetName("driver-A")

	got := string(c.Name[:8])
	if got != "driver-A" {
		t.Fatalf("Name = %q, want %q", got, "driver-A")
	}
	if c.Name[8] != 0 {
		t.Fatalf("Name not zero-padded after written prefix")
	}
}

func TestActivationCycleStateArithmetic(t *testing.T) {
	region := make([]byte, ioarea.ActivationHeaderSize+ioarea.IOPositionSize)
	a := ioarea.CastActivation(region)

	a.State(0).SetRequired(2)
	if got := a.State(0).Pending(); got != 2 {
		t.Fatalf("pending after arm = %d, want 2", got)
	}

	if got := a.State(0).FetchSub(1); got != 1 {
		t.Fatalf("FetchSub(1) = %d, want 1", got)
	}
	if got := a.State(0).FetchSub(1); got != 0 {
		t.Fatalf("FetchSub(1) = %d, want 0", got)
	}

	// cycle 1 uses the other double-buffered slot and must start untouched.
	if got := a.State(1).Pending(); got != 0 {
		t.Fatalf("state[1].pending = %d, want 0 (untouched)", got)
	}
}

func TestActivationXrunAccounting(t *testing.T) {
	region := make([]byte, ioarea.ActivationHeaderSize+ioarea.IOPositionSize)
	a := ioarea.CastActivation(region)

	a.RecordXrun(1000)
	a.RecordXrun(2000)

	count, total := a.XrunStats()
	if count != 2 || total != 3000 {
		t.Fatalf("XrunStats = (%d,%d), want (2,3000)", count, total)
	}
}

func TestActivationStatusAndVersions(t *testing.T) {
	region := make([]byte, ioarea.ActivationHeaderSize+ioarea.IOPositionSize)
	a := ioarea.CastActivation(region)

	a.SetStatus(ioarea.StatusTriggered)
	if a.Status() != ioarea.StatusTriggered {
		t.Fatalf("Status = %v, want Triggered", a.Status())
	}

	a.SetVersions(3, 3)
	c, s := a.Versions()
	if c != 3 || s != 3 {
		t.Fatalf("Versions = (%d,%d), want (3,3)", c, s)
	}
}
