// Package debounce implements the per-stream drowsiness state machine.
//
// Machine consumes one ocular.Sample per frame, counts consecutive "low"
// frames and derives the alert flag. The alert rises only after
// Settings.RequiredFrames consecutive low frames and clears on the first open
// frame: degradation is delayed, recovery is immediate.
//
// Classification:
//   - Full: low when Openness < Settings.LowThreshold
//   - Partial: always low, openness reported as ocular.PartialOpenness
//   - None: always low, openness reported as ocular.MinOpenness
//
// Precedence when settings change mid-stream: the frame's classification is
// applied first and the invariant Alert == (LowFrames >= RequiredFrames) is
// evaluated afterwards on every update. An open frame therefore always clears
// the alert, while a low frame raises it as soon as the counter meets the
// current requirement, including a requirement lowered below an existing run.
//
// Machine is not safe for concurrent use; the engine facade serialises access.
package debounce
