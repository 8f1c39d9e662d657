package pipeline

import (
	"fmt"
	"sync"
	"time"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/variant"
	"cvautomation/pkg/xerror"
)

// ImageHost is the pipeline's side of a scripting step's Host.GetImage /
// Host.SetImage callbacks: it exposes the image currently flowing through
// the graph at the point the script runs.
type ImageHost interface {
	GetImage() (*pixel.Buffer, error)
	SetImage(buf *pixel.Buffer) error
}

// CallbacksFactory builds the scripting-host callback table for step index
// i, given the pipeline's ImageHost view for that step. Supplied by the
// automation server, which also wires the non-image callbacks
// (GetVariable, CreatePluginInstance, ...).
type CallbacksFactory func(stepIndex int, host ImageHost) plugin.ScriptingCallbacks

type runtimeStep struct {
	Step
	descriptor *plugin.Descriptor
	instance   plugin.Instance
	dtor       *plugin.DtorRef
	initErr    error
}

// Pipeline is one video source's instantiated processing graph: live
// plug-in instances, the buffer reuse ring, pending live-reconfiguration
// requests, and the performance monitor (§4.4).
type Pipeline struct {
	steps []runtimeStep
	ring  []*pixel.Buffer

	Perf *PerfMonitor

	pendingMu sync.Mutex
	pending   map[int]map[string]variant.Value

	scriptCurrent *pixel.Buffer // image exposed to the step currently running
}

// Instantiate walks graph and, for each step, creates a plug-in instance
// and applies its persisted configuration. Scripting steps are additionally
// wired to callbacks and run through Init/LoadScript/InitScript. Per-step
// failures are recorded on the step rather than aborting instantiation of
// the rest of the graph (§4.4: "that step will report the recorded error on
// every subsequent frame without attempting to execute").
func Instantiate(graph Graph, registry *plugin.Registry, callbacks CallbacksFactory) (*Pipeline, error) {
	p := &Pipeline{
		steps:   make([]runtimeStep, len(graph.Steps)),
		ring:    make([]*pixel.Buffer, 1, len(graph.Steps)+1),
		Perf:    newPerfMonitor(len(graph.Steps)),
		pending: make(map[int]map[string]variant.Value),
	}

	for i, step := range graph.Steps {
		rs := runtimeStep{Step: step}

		descriptor, err := registry.PluginByGUID(step.Plugin)
		if err != nil {
			rs.initErr = fmt.Errorf("step %q: %w", step.Name, err)
			p.steps[i] = rs
			continue
		}
		rs.descriptor = descriptor

		inst, dtor, err := registry.CreateInstance(descriptor)
		if err != nil {
			rs.initErr = fmt.Errorf("step %q: %w", step.Name, err)
			p.steps[i] = rs
			continue
		}
		rs.instance = inst
		rs.dtor = dtor

		if err := applyConfig(descriptor, inst, step.Config); err != nil {
			rs.initErr = fmt.Errorf("step %q: configure: %w", step.Name, err)
			p.steps[i] = rs
			continue
		}

		if descriptor.Type == plugin.TypeScriptingEngine {
			se, ok := inst.(plugin.ScriptingEngine)
			if !ok {
				rs.initErr = fmt.Errorf("step %q: %w", step.Name, xerror.FailedPluginInstantiation)
				p.steps[i] = rs
				continue
			}
			stepIndex := i
			se.SetCallbacks(callbacks(stepIndex, p))
			if err := initScriptStep(se, step.Config); err != nil {
				rs.initErr = fmt.Errorf("step %q: %w", step.Name, err)
			}
		}

		p.steps[i] = rs
	}
	return p, nil
}

func applyConfig(d *plugin.Descriptor, inst plugin.Instance, config map[string]variant.Value) error {
	for key, value := range config {
		id := d.PropertyIndex(key)
		if id < 0 {
			continue // Unknown keys are ignored, same as an outdated persisted config.
		}
		if err := plugin.SetProperty(d, inst, id, value); err != nil {
			return err
		}
		if err := plugin.PropagateDependents(d, inst, id); err != nil {
			return err
		}
	}
	return nil
}

func initScriptStep(se plugin.ScriptingEngine, config map[string]variant.Value) error {
	if err := se.Init(); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if path, ok := config["script"]; ok {
		if err := se.SetScriptFile(path.String_()); err != nil {
			return fmt.Errorf("set script file: %w", err)
		}
	}
	if err := se.LoadScript(); err != nil {
		return fmt.Errorf("load script: %w", scriptError(se, err))
	}
	if err := se.InitScript(); err != nil {
		return fmt.Errorf("init script: %w", scriptError(se, err))
	}
	return nil
}

func scriptError(se plugin.ScriptingEngine, fallback error) error {
	if msg := se.GetLastErrorMessage(); msg != "" {
		return fmt.Errorf("%v: %w", msg, xerror.FailedRunningScript)
	}
	return fallback
}

// GetImage implements ImageHost for the step currently executing.
func (p *Pipeline) GetImage() (*pixel.Buffer, error) {
	if p.scriptCurrent == nil {
		return nil, xerror.NullParameter
	}
	return p.scriptCurrent, nil
}

// SetImage implements ImageHost for the step currently executing.
func (p *Pipeline) SetImage(buf *pixel.Buffer) error {
	if buf == nil {
		return xerror.NullParameter
	}
	p.scriptCurrent = buf
	return nil
}

// Result is the outcome of running one frame through the graph.
type Result struct {
	Output         *pixel.Buffer
	StepsCompleted int
	Err            error
}

// Run executes the graph once against incoming, placed in reuse-ring slot
// 0, following §4.4's per-frame algorithm: slot indices only ever grow
// (append-only), and geometry-matching lets CopyDataOrClone keep reusing
// the same backing memory across frames (buffer reuse law, §8 invariant 4).
func (p *Pipeline) Run(incoming *pixel.Buffer) Result {
	var totalStart time.Time
	perfOn := p.Perf.Enabled()
	if perfOn {
		totalStart = time.Now()
	}

	p.ring[0] = incoming
	current := p.ring[0]
	nextSlot := 1
	completed := 0
	var runErr error

stepLoop:
	for i := range p.steps {
		s := &p.steps[i]

		if s.initErr != nil {
			runErr = s.initErr
			break
		}

		var stepStart time.Time
		if perfOn {
			stepStart = time.Now()
		}

		switch s.descriptor.Type {
		case plugin.TypeImageProcessingFilter:
			out, next, err := p.runFilter(s, current, &nextSlot)
			if err != nil {
				runErr = fmt.Errorf("step %q: %w", s.Name, err)
				break stepLoop
			}
			current = out
			nextSlot = next

		case plugin.TypeVideoProcessing:
			vp := s.instance.(plugin.VideoProcessing)
			if !supportsFormat(vp.SupportedPixelFormats(), current.Format) {
				runErr = fmt.Errorf("step %q: cannot accept image format.: %w", s.Name, xerror.UnsupportedPixelFormat)
				break stepLoop
			}
			if err := vp.Process(current); err != nil {
				runErr = fmt.Errorf("step %q: %w", s.Name, err)
				break stepLoop
			}

		case plugin.TypeScriptingEngine:
			se := s.instance.(plugin.ScriptingEngine)
			p.scriptCurrent = current
			if err := se.RunScript(); err != nil {
				runErr = fmt.Errorf("step %q: %w", s.Name, scriptError(se, err))
				break stepLoop
			}
			newImage := p.scriptCurrent
			if newImage != current {
				slot := nextSlot
				if pixel.SameGeometry(newImage, current) {
					slot = nextSlot - 1 // same shape: reuse the slot current occupies
				}
				for len(p.ring) <= slot {
					p.ring = append(p.ring, nil)
				}
				reused, err := pixel.CopyDataOrClone(newImage, p.ring[slot])
				if err != nil {
					runErr = fmt.Errorf("step %q: %w", s.Name, err)
					break stepLoop
				}
				p.ring[slot] = reused
				current = reused
				nextSlot = slot + 1
			}

		case plugin.TypeImageProcessing:
			analyzer := s.instance.(plugin.ImageProcessing)
			if !supportsFormat(analyzer.SupportedPixelFormats(), current.Format) {
				runErr = fmt.Errorf("step %q: cannot accept image format.: %w", s.Name, xerror.UnsupportedPixelFormat)
				break stepLoop
			}
			if err := analyzer.Process(current); err != nil {
				runErr = fmt.Errorf("step %q: %w", s.Name, err)
				break stepLoop
			}
		}

		if perfOn {
			p.Perf.recordStep(i, time.Since(stepStart))
		}
		completed++
	}

	p.drainPendingConfig()

	if perfOn {
		p.Perf.recordTotal(time.Since(totalStart))
	}

	return Result{Output: current, StepsCompleted: completed, Err: runErr}
}

func (p *Pipeline) runFilter(s *runtimeStep, current *pixel.Buffer, nextSlot *int) (*pixel.Buffer, int, error) {
	filt := s.instance.(plugin.ImageProcessingFilter)
	if !supportsFormat(filt.SupportedPixelFormats(), current.Format) {
		return nil, *nextSlot, fmt.Errorf("cannot accept image format.: %w", xerror.UnsupportedPixelFormat)
	}

	if filt.CanProcessInPlace() {
		if err := filt.ProcessInPlace(current); err != nil {
			return nil, *nextSlot, err
		}
		return current, *nextSlot, nil
	}

	out, err := filt.Process(current)
	if err != nil {
		return nil, *nextSlot, err
	}

	slot := *nextSlot
	for len(p.ring) <= slot {
		p.ring = append(p.ring, nil)
	}
	reused, err := pixel.CopyDataOrClone(out, p.ring[slot])
	if err != nil {
		return nil, *nextSlot, err
	}
	p.ring[slot] = reused
	return reused, slot + 1, nil
}

func supportsFormat(formats []pixel.Format, f pixel.Format) bool {
	for _, x := range formats {
		if x == f {
			return true
		}
	}
	return false
}

// StashConfig records a pending (stepIndex -> configuration) update under a
// short lock, applied at the end of the current (or next, if none is
// in-flight) frame's processing (§4.4 "Live reconfiguration").
func (p *Pipeline) StashConfig(stepIndex int, config map[string]variant.Value) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.pending[stepIndex] = config
}

func (p *Pipeline) drainPendingConfig() {
	p.pendingMu.Lock()
	pending := p.pending
	p.pending = make(map[int]map[string]variant.Value)
	p.pendingMu.Unlock()

	for idx, config := range pending {
		if idx < 0 || idx >= len(p.steps) {
			continue
		}
		s := &p.steps[idx]
		if s.initErr != nil || s.instance == nil {
			continue
		}
		if err := applyConfig(s.descriptor, s.instance, config); err != nil {
			s.initErr = err
		}
	}
}

// StepCount returns the number of steps in the instantiated graph.
func (p *Pipeline) StepCount() int { return len(p.steps) }

// RingLen returns the current length of the buffer reuse ring, used by
// tests asserting the append-only growth law (§8 invariant 4, S3).
func (p *Pipeline) RingLen() int { return len(p.ring) }

// Close releases every step's plug-in instance through its destructor.
func (p *Pipeline) Close() {
	for _, s := range p.steps {
		if s.dtor != nil {
			s.dtor.Release()
		}
	}
}
