package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/drowseguard/drowseguard/internal/debounce"
	"github.com/drowseguard/drowseguard/internal/ocular"
	"github.com/drowseguard/drowseguard/internal/session"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	closed = ocular.Sample{Openness: 0.10, Confidence: ocular.ConfidenceFull}
	open   = ocular.Sample{Openness: 0.40, Confidence: ocular.ConfidenceFull}
)

// testEngine returns a started engine with a clock advanced by tick().
func testEngine(t *testing.T, s debounce.Settings) (*Engine, func(time.Duration)) {
	t.Helper()
	var (
		mu  sync.Mutex
		now = baseTime
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	e := New(s, session.WithClock(clock))
	e.Start()
	return e, advance
}

func TestEngine_Scenario(t *testing.T) {
	e, _ := testEngine(t, debounce.Settings{LowThreshold: 0.25, RequiredFrames: 20})

	var res FrameResult
	for i := 0; i < 19; i++ {
		res = e.ProcessFrame(closed)
	}
	if res.Alert {
		t.Fatal("alert after 19 low frames")
	}

	res = e.ProcessFrame(closed)
	if !res.Alert || !res.AlertStarted {
		t.Fatalf("20th frame: %+v, want rising alert", res)
	}

	res = e.ProcessFrame(open)
	if res.Alert || !res.AlertCleared {
		t.Errorf("open frame: %+v, want falling alert", res)
	}
	if res.LowFrames != 0 {
		t.Errorf("LowFrames = %d, want 0", res.LowFrames)
	}
	if res.Openness != 0.40 {
		t.Errorf("Openness = %v, want 0.40", res.Openness)
	}
	if res.Stats.AlertTransitions != 1 {
		t.Errorf("AlertTransitions = %d, want 1", res.Stats.AlertTransitions)
	}
	if res.Frame != 21 {
		t.Errorf("Frame = %d, want 21", res.Frame)
	}
}

func TestEngine_HeldAlertIsOneTransition(t *testing.T) {
	e, _ := testEngine(t, debounce.Settings{LowThreshold: 0.25, RequiredFrames: 5})
	var res FrameResult
	for i := 0; i < 5+40; i++ {
		res = e.ProcessFrame(closed)
	}
	if res.Stats.AlertTransitions != 1 {
		t.Errorf("AlertTransitions = %d, want 1", res.Stats.AlertTransitions)
	}
	if res.Stats.AlertFrames != 41 {
		t.Errorf("AlertFrames = %d, want 41", res.Stats.AlertFrames)
	}
}

func TestEngine_StatsElapsed(t *testing.T) {
	e, advance := testEngine(t, debounce.DefaultSettings())
	advance(3 * time.Second)
	res := e.ProcessFrame(open)
	if res.Stats.Elapsed != 3*time.Second {
		t.Errorf("Elapsed = %v, want 3s", res.Stats.Elapsed)
	}
	advance(2 * time.Second)
	if got := e.Snapshot().Elapsed; got != 5*time.Second {
		t.Errorf("Snapshot Elapsed = %v, want 5s", got)
	}
	if got := e.Last().Stats.Elapsed; got != 5*time.Second {
		t.Errorf("Last Elapsed = %v, want 5s", got)
	}
}

func TestEngine_StopResetsEverything(t *testing.T) {
	e, advance := testEngine(t, debounce.Settings{LowThreshold: 0.25, RequiredFrames: 5})
	for i := 0; i < 6; i++ {
		e.ProcessFrame(closed)
	}
	advance(time.Minute)

	final := e.Stop()
	if final.AlertTransitions != 1 || final.Elapsed != time.Minute {
		t.Errorf("final = %+v", final)
	}
	if st := e.State(); st.Alert || st.LowFrames != 0 {
		t.Errorf("debounce state after Stop = %+v", st)
	}
	if e.Active() {
		t.Error("engine still active after Stop")
	}

	advance(time.Minute)
	st, started := e.Start()
	if !started || st.AlertTransitions != 0 || !st.StartedAt.Equal(baseTime.Add(2*time.Minute)) {
		t.Errorf("restart stats = %+v started=%v", st, started)
	}
}

func TestEngine_FramesWithoutSessionStillDebounce(t *testing.T) {
	e := New(debounce.Settings{LowThreshold: 0.25, RequiredFrames: 5})
	var res FrameResult
	for i := 0; i < 5; i++ {
		res = e.ProcessFrame(closed)
	}
	if !res.Alert {
		t.Error("debounce should run without a session")
	}
	if res.Stats.Active || res.Stats.AlertTransitions != 0 {
		t.Errorf("stats without session = %+v", res.Stats)
	}
}

func TestEngine_ConfigureClampsAndApplies(t *testing.T) {
	e, _ := testEngine(t, debounce.Settings{LowThreshold: 0.25, RequiredFrames: 20})
	for i := 0; i < 12; i++ {
		e.ProcessFrame(closed)
	}
	got := e.Configure(debounce.Settings{LowThreshold: 0.9, RequiredFrames: 10})
	if got.LowThreshold != debounce.MaxLowThreshold || got.RequiredFrames != 10 {
		t.Errorf("Configure returned %+v", got)
	}
	if res := e.ProcessFrame(closed); !res.Alert || !res.AlertStarted {
		t.Errorf("after lowering requirement: %+v, want rising alert", res)
	}
}

func TestEngine_ConcurrentConfigureAndFrames(t *testing.T) {
	e, _ := testEngine(t, debounce.Settings{LowThreshold: 0.25, RequiredFrames: 5})
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.ProcessFrame(closed)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.Configure(debounce.Settings{LowThreshold: 0.25, RequiredFrames: 5 + i%10})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.Snapshot()
			e.Last()
		}
	}()
	wg.Wait()

	if got := e.State().LowFrames; got != 200 {
		t.Errorf("LowFrames = %d, want 200 (counter corrupted by concurrent config)", got)
	}
}
