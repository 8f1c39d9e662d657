package pipeline

import "time"

const windowSize = 40

// slidingWindow holds the last windowSize samples of a duration series and
// exposes their arithmetic mean (the performance monitor, §4.4).
type slidingWindow struct {
	samples [windowSize]time.Duration
	filled  int
	next    int
}

func (w *slidingWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % windowSize
	if w.filled < windowSize {
		w.filled++
	}
}

func (w *slidingWindow) meanMs() float64 {
	if w.filled == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < w.filled; i++ {
		sum += w.samples[i]
	}
	return float64(sum.Microseconds()) / 1000 / float64(w.filled)
}

// PerfMonitor tracks per-step and total-graph timing using a sliding
// window of the last 40 samples per series.
type PerfMonitor struct {
	enabled   bool
	perStep   []slidingWindow
	total     slidingWindow
}

func newPerfMonitor(stepCount int) *PerfMonitor {
	return &PerfMonitor{perStep: make([]slidingWindow, stepCount)}
}

// SetEnabled toggles the monitor; per §4.4 this takes effect at the next
// frame boundary, which callers satisfy simply by checking Enabled() once
// at the top of each frame rather than mid-frame.
func (m *PerfMonitor) SetEnabled(enabled bool) { m.enabled = enabled }

// Enabled reports whether timing is currently being recorded.
func (m *PerfMonitor) Enabled() bool { return m.enabled }

func (m *PerfMonitor) recordStep(i int, d time.Duration) {
	if i >= len(m.perStep) {
		return
	}
	m.perStep[i].add(d)
}

func (m *PerfMonitor) recordTotal(d time.Duration) {
	m.total.add(d)
}

// StepMeansMs returns the mean duration, in milliseconds, of each step's
// sliding window.
func (m *PerfMonitor) StepMeansMs() []float64 {
	out := make([]float64, len(m.perStep))
	for i := range m.perStep {
		out[i] = m.perStep[i].meanMs()
	}
	return out
}

// TotalMeanMs returns the mean duration, in milliseconds, of the whole
// graph's sliding window.
func (m *PerfMonitor) TotalMeanMs() float64 {
	return m.total.meanMs()
}
