package session

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: baseTime} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sequentialIDs returns "s1", "s2", ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "s" + strconv.Itoa(n)
	}
}

func newAggregator(c *clock) *Aggregator {
	return New(WithClock(c.Now), WithIDs(sequentialIDs()))
}

func TestAggregator_InactiveByDefault(t *testing.T) {
	a := newAggregator(newClock())
	if a.Active() {
		t.Fatal("new aggregator should be inactive")
	}
	if a.Observe(true) {
		t.Error("Observe while inactive should not count a transition")
	}
	if st := a.Snapshot(); st != (Stats{}) {
		t.Errorf("inactive Snapshot = %+v, want zero", st)
	}
}

func TestAggregator_StartIsIdempotent(t *testing.T) {
	c := newClock()
	a := newAggregator(c)

	if !a.Start() {
		t.Fatal("first Start should begin a session")
	}
	a.Observe(true)
	c.Advance(time.Minute)

	if a.Start() {
		t.Error("second Start should be a no-op")
	}
	st := a.Snapshot()
	if !st.StartedAt.Equal(baseTime) {
		t.Errorf("StartedAt moved to %v", st.StartedAt)
	}
	if st.AlertTransitions != 1 {
		t.Errorf("AlertTransitions reset by repeated Start: %d", st.AlertTransitions)
	}
}

func TestAggregator_CountsRisingEdgesOnly(t *testing.T) {
	a := newAggregator(newClock())
	a.Start()

	// Held alert for many frames is one transition.
	a.Observe(false)
	if !a.Observe(true) {
		t.Error("false→true should report a rising edge")
	}
	for i := 0; i < 50; i++ {
		if a.Observe(true) {
			t.Fatalf("frame %d: held alert reported as a new edge", i)
		}
	}
	if got := a.Snapshot().AlertTransitions; got != 1 {
		t.Fatalf("AlertTransitions = %d, want 1", got)
	}

	a.Observe(false)
	a.Observe(true)
	if got := a.Snapshot().AlertTransitions; got != 2 {
		t.Errorf("AlertTransitions after second episode = %d, want 2", got)
	}
}

func TestAggregator_FrameCounters(t *testing.T) {
	a := newAggregator(newClock())
	a.Start()
	for _, v := range []bool{false, true, true, false, true} {
		a.Observe(v)
	}
	st := a.Snapshot()
	if st.Frames != 5 || st.AlertFrames != 3 {
		t.Errorf("Frames=%d AlertFrames=%d, want 5 and 3", st.Frames, st.AlertFrames)
	}
}

func TestAggregator_ElapsedTracksClock(t *testing.T) {
	c := newClock()
	a := newAggregator(c)
	a.Start()
	c.Advance(90 * time.Second)

	if got := a.Snapshot().Elapsed; got != 90*time.Second {
		t.Errorf("Elapsed = %v, want 1m30s", got)
	}
}

func TestAggregator_LastAlertAt(t *testing.T) {
	c := newClock()
	a := newAggregator(c)
	a.Start()
	c.Advance(time.Minute)
	a.Observe(true)

	if got := a.Snapshot().LastAlertAt; !got.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("LastAlertAt = %v", got)
	}
}

func TestAggregator_StopThenStartIsFreshSession(t *testing.T) {
	c := newClock()
	a := newAggregator(c)
	a.Start()
	a.Observe(true)
	a.Observe(false)
	a.Observe(true)
	c.Advance(10 * time.Minute)

	final := a.Stop()
	if final.AlertTransitions != 2 || final.SessionID != "s1" {
		t.Errorf("final stats = %+v", final)
	}
	if final.Elapsed != 10*time.Minute {
		t.Errorf("final Elapsed = %v, want 10m", final.Elapsed)
	}
	if a.Active() {
		t.Error("Stop should deactivate")
	}

	c.Advance(time.Minute)
	a.Start()
	st := a.Snapshot()
	if st.AlertTransitions != 0 {
		t.Errorf("new session AlertTransitions = %d, want 0", st.AlertTransitions)
	}
	if !st.StartedAt.Equal(baseTime.Add(11 * time.Minute)) {
		t.Errorf("new session StartedAt = %v", st.StartedAt)
	}
	if st.SessionID != "s2" {
		t.Errorf("SessionID = %q, want s2", st.SessionID)
	}
}

func TestAggregator_StopResetsEdgeTracking(t *testing.T) {
	a := newAggregator(newClock())
	a.Start()
	a.Observe(true)
	a.Stop()
	a.Start()

	// Alert still held by the engine when the new session begins: the new
	// session counts it as its own first episode.
	if !a.Observe(true) {
		t.Error("first alert frame of a new session should count")
	}
}

func TestAggregator_ConcurrentSnapshots(t *testing.T) {
	a := newAggregator(newClock())
	a.Start()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			a.Observe(n%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			a.Snapshot()
		}()
	}
	wg.Wait()
	if got := a.Snapshot().Frames; got != 50 {
		t.Errorf("Frames = %d, want 50", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	cases := map[time.Duration]string{
		0:                            "00:00:00",
		59 * time.Second:             "00:00:59",
		61 * time.Minute:             "01:01:00",
		26*time.Hour + 3*time.Second: "26:00:03",
		-5 * time.Second:             "00:00:00",
		1500 * time.Millisecond:      "00:00:01",
	}
	for d, want := range cases {
		if got := FormatElapsed(d); got != want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", d, got, want)
		}
	}
}
