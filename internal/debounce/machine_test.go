package debounce

import (
	"math"
	"testing"

	"github.com/drowseguard/drowseguard/internal/ocular"
)

func full(v float64) ocular.Sample {
	return ocular.Sample{Openness: v, Confidence: ocular.ConfidenceFull}
}

var (
	closed    = full(0.10)
	open      = full(0.40)
	noFace    = ocular.NoDetection()
	oneEye    = ocular.Sample{Openness: 0.9, Confidence: ocular.ConfidencePartial}
	scenario  = Settings{LowThreshold: 0.25, RequiredFrames: 20}
	shortWait = Settings{LowThreshold: 0.25, RequiredFrames: 5}
)

// feed sends s to m n times and returns the last alert value.
func feed(m *Machine, s ocular.Sample, n int) bool {
	var alert bool
	for i := 0; i < n; i++ {
		alert, _ = m.Update(s)
	}
	return alert
}

// --- Core scenario ---

func TestMachine_AlertsOnTwentiethLowFrame(t *testing.T) {
	m := New(scenario)

	if alert := feed(m, closed, 19); alert {
		t.Fatal("alert after 19 low frames, want false")
	}
	if alert, openness := m.Update(closed); !alert || openness != 0.10 {
		t.Fatalf("20th low frame: alert=%v openness=%v, want true 0.10", alert, openness)
	}
	alert, openness := m.Update(open)
	if alert {
		t.Error("open frame should clear the alert immediately")
	}
	if openness != 0.40 {
		t.Errorf("openness = %v, want 0.40", openness)
	}
	if got := m.State().LowFrames; got != 0 {
		t.Errorf("LowFrames after open frame = %d, want 0", got)
	}
}

func TestMachine_AlertIsStickyWhileLow(t *testing.T) {
	m := New(shortWait)
	feed(m, closed, 5)
	for i := 0; i < 30; i++ {
		if alert, _ := m.Update(closed); !alert {
			t.Fatalf("frame %d past threshold: alert dropped", i)
		}
	}
}

func TestMachine_OpenFrameResetsRun(t *testing.T) {
	m := New(shortWait)
	feed(m, closed, 4)
	m.Update(open)
	if alert := feed(m, closed, 4); alert {
		t.Error("run should restart after an open frame")
	}
	if alert, _ := m.Update(closed); !alert {
		t.Error("fifth consecutive low frame should alert")
	}
}

// --- Confidence rules ---

func TestMachine_NoDetectionCountsLikeClosedEyes(t *testing.T) {
	a, b := New(shortWait), New(shortWait)
	for i := 0; i < 7; i++ {
		alertA, _ := a.Update(noFace)
		alertB, _ := b.Update(closed)
		if alertA != alertB || a.State().LowFrames != b.State().LowFrames {
			t.Fatalf("frame %d: no-face %+v vs closed %+v", i, a.State(), b.State())
		}
	}
	if _, openness := a.Update(noFace); openness != ocular.MinOpenness {
		t.Errorf("no-face openness = %v, want %v", openness, ocular.MinOpenness)
	}
}

func TestMachine_PartialIsAlwaysLow(t *testing.T) {
	m := New(shortWait)
	var openness float64
	for i := 0; i < 5; i++ {
		_, openness = m.Update(oneEye)
	}
	if !m.State().Alert {
		t.Error("five partial frames should alert even though 0.5 > threshold")
	}
	if openness != ocular.PartialOpenness {
		t.Errorf("partial openness = %v, want %v", openness, ocular.PartialOpenness)
	}
	if ocular.PartialOpenness <= shortWait.LowThreshold {
		t.Fatal("test precondition: partial value should exceed the threshold")
	}
}

func TestMachine_UnknownConfidenceTreatedAsNone(t *testing.T) {
	m := New(shortWait)
	_, openness := m.Update(ocular.Sample{Openness: 0.9, Confidence: ocular.Confidence(42)})
	if openness != ocular.MinOpenness || m.State().LowFrames != 1 {
		t.Errorf("unknown confidence: state %+v, want low frame at min openness", m.State())
	}
}

func TestMachine_OutOfRangeOpennessClamped(t *testing.T) {
	m := New(shortWait)
	if _, openness := m.Update(full(3.5)); openness != ocular.MaxOpenness {
		t.Errorf("openness = %v, want clamp to %v", openness, ocular.MaxOpenness)
	}
	if _, openness := m.Update(full(math.NaN())); openness != ocular.MinOpenness {
		t.Errorf("NaN openness = %v, want %v", openness, ocular.MinOpenness)
	}
	if m.State().LowFrames != 1 {
		t.Errorf("NaN frame should count as low, LowFrames = %d", m.State().LowFrames)
	}
}

func TestMachine_ThresholdBoundaryIsOpen(t *testing.T) {
	m := New(shortWait)
	m.Update(full(shortWait.LowThreshold))
	if m.State().LowFrames != 0 {
		t.Error("openness equal to the threshold should classify as open")
	}
}

// --- Runtime reconfiguration ---

func TestMachine_LoweringRequirementAlertsOnNextLowFrame(t *testing.T) {
	m := New(Settings{LowThreshold: 0.25, RequiredFrames: 20})
	feed(m, closed, 12)

	m.Configure(Settings{LowThreshold: 0.25, RequiredFrames: 10})
	if m.State().Alert {
		t.Fatal("Configure must not change the alert by itself")
	}
	if alert, _ := m.Update(closed); !alert {
		t.Error("next low frame after lowering requirement below the counter should alert")
	}
}

func TestMachine_LoweringRequirementOpenFrameWins(t *testing.T) {
	m := New(Settings{LowThreshold: 0.25, RequiredFrames: 20})
	feed(m, closed, 12)

	m.Configure(Settings{LowThreshold: 0.25, RequiredFrames: 10})
	alert, _ := m.Update(open)
	if alert {
		t.Error("an open frame takes precedence over the lowered requirement")
	}
	if m.State().LowFrames != 0 {
		t.Errorf("LowFrames = %d, want 0", m.State().LowFrames)
	}
}

func TestMachine_RaisingRequirementReevaluatesInvariant(t *testing.T) {
	m := New(Settings{LowThreshold: 0.25, RequiredFrames: 5})
	feed(m, closed, 6)
	if !m.State().Alert {
		t.Fatal("precondition: alerting")
	}

	m.Configure(Settings{LowThreshold: 0.25, RequiredFrames: 30})
	if alert, _ := m.Update(closed); alert {
		t.Error("counter 7 < 30: alert should follow the invariant")
	}
	if m.State().LowFrames != 7 {
		t.Errorf("counter must not be reinterpreted, got %d want 7", m.State().LowFrames)
	}
}

func TestMachine_ThresholdChangeAppliesToNextFrame(t *testing.T) {
	m := New(shortWait)
	m.Update(full(0.30))
	if m.State().LowFrames != 0 {
		t.Fatal("0.30 should be open at threshold 0.25")
	}
	m.Configure(Settings{LowThreshold: 0.35, RequiredFrames: 5})
	m.Update(full(0.30))
	if m.State().LowFrames != 1 {
		t.Error("0.30 should be low at threshold 0.35")
	}
}

func TestMachine_InvariantHoldsOverMixedSequence(t *testing.T) {
	m := New(shortWait)
	seq := []ocular.Sample{closed, closed, noFace, oneEye, closed, closed, open, closed, noFace}
	run := 0
	for i, s := range seq {
		low, _ := Classify(s, shortWait.LowThreshold)
		if low {
			run++
		} else {
			run = 0
		}
		alert, _ := m.Update(s)
		if alert != (run >= shortWait.RequiredFrames) {
			t.Fatalf("frame %d: alert=%v with run %d", i, alert, run)
		}
	}
}

func TestMachine_Reset(t *testing.T) {
	m := New(shortWait)
	feed(m, closed, 8)
	m.Reset()
	st := m.State()
	if st.Alert || st.LowFrames != 0 {
		t.Errorf("after Reset: %+v", st)
	}
	if st.Settings != shortWait {
		t.Errorf("Reset must keep settings, got %+v", st.Settings)
	}
}

// --- Settings ---

func TestSettings_Clamp(t *testing.T) {
	cases := []struct {
		in, want Settings
	}{
		{Settings{0.01, 1}, Settings{MinLowThreshold, MinRequiredFrames}},
		{Settings{0.9, 500}, Settings{MaxLowThreshold, MaxRequiredFrames}},
		{Settings{math.NaN(), 0}, Settings{DefaultLowThreshold, MinRequiredFrames}},
		{Settings{0.2, 4}, Settings{0.2, MinRequiredFrames}},
		{Settings{0.2, -3}, Settings{0.2, MinRequiredFrames}},
		{Settings{0.25, 20}, Settings{0.25, 20}},
	}
	for _, c := range cases {
		if got := c.in.Clamp(); got != c.want {
			t.Errorf("Clamp(%+v) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestMachine_ZeroRequiredFramesUsesMinimum(t *testing.T) {
	m := New(Settings{LowThreshold: 0.25, RequiredFrames: 0})

	if got := m.State().Settings.RequiredFrames; got != MinRequiredFrames {
		t.Fatalf("RequiredFrames = %d, want %d", got, MinRequiredFrames)
	}
	if alert := feed(m, closed, MinRequiredFrames-1); alert {
		t.Fatalf("alert after %d low frames, want false", MinRequiredFrames-1)
	}
	if alert, _ := m.Update(closed); !alert {
		t.Errorf("no alert after %d low frames", MinRequiredFrames)
	}
}
