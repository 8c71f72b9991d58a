package debounce

import "github.com/drowseguard/drowseguard/internal/ocular"

// State is a read-only view of a Machine.
type State struct {
	LowFrames int      `json:"low_frames"`
	Alert     bool     `json:"alert"`
	Openness  float64  `json:"openness"`
	Settings  Settings `json:"settings"`
}

// Machine is the debounce state for one monitored stream.
type Machine struct {
	settings  Settings
	lowFrames int
	alert     bool
	openness  float64
}

// New returns a Machine in the monitoring state with a zero counter.
func New(s Settings) *Machine {
	return &Machine{settings: s.Clamp()}
}

// Configure replaces the settings. The new values apply from the next Update;
// the current counter is kept as is.
func (m *Machine) Configure(s Settings) {
	m.settings = s.Clamp()
}

// Settings returns the active (clamped) settings.
func (m *Machine) Settings() Settings {
	return m.settings
}

// Update classifies sample, advances or resets the counter and returns the
// alert flag and the openness value to report for this frame.
func (m *Machine) Update(sample ocular.Sample) (alert bool, openness float64) {
	low, openness := Classify(sample, m.settings.LowThreshold)
	if low {
		if m.lowFrames < maxCounter {
			m.lowFrames++
		}
	} else {
		m.lowFrames = 0
	}
	m.alert = m.lowFrames >= m.settings.RequiredFrames
	m.openness = openness
	return m.alert, m.openness
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	return State{
		LowFrames: m.lowFrames,
		Alert:     m.alert,
		Openness:  m.openness,
		Settings:  m.settings,
	}
}

// Reset returns the machine to its initial state, keeping its settings.
func (m *Machine) Reset() {
	m.lowFrames = 0
	m.alert = false
	m.openness = 0
}

// maxCounter saturates the low-frame counter well past any valid requirement.
const maxCounter = 1 << 30

// Classify applies the per-confidence rule to sample and returns whether the
// frame is low along with the openness to report.
func Classify(sample ocular.Sample, lowThreshold float64) (low bool, openness float64) {
	switch sample.Confidence {
	case ocular.ConfidenceFull:
		openness = ocular.ClampOpenness(sample.Openness)
		return openness < lowThreshold, openness
	case ocular.ConfidencePartial:
		return true, ocular.PartialOpenness
	default:
		return true, ocular.MinOpenness
	}
}
