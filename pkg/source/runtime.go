// Package source implements the Video-Source Runtime: the per-source state
// machine that bridges a video-source plug-in's asynchronous producer
// thread to the processing pipeline's single-threaded consumer, applying
// the backpressure/frame-drop policy and fanning frames and errors out to
// listeners (spec §4.5). It is grounded on CVSandbox's
// XVideoSourceProcessingGraph / XVideoSourceLogger collaborators
// (original_source/.../core/automationserver) and, for the producer-thread
// discipline, on XManualResetEvent (original_source/.../afx_platform+).
package source

import (
	"fmt"
	"sync"
	"sync/atomic"

	"cvautomation/pkg/pipeline"
	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/variant"
)

// State is one of the four video-source runtime lifecycle states.
type State uint8

// Lifecycle states (§4.5).
const (
	Added State = iota
	Running
	Finalizing
	Gone
)

func (s State) String() string {
	switch s {
	case Added:
		return "added"
	case Running:
		return "running"
	case Finalizing:
		return "finalizing"
	case Gone:
		return "gone"
	default:
		return "unknown"
	}
}

// Listener receives frames and errors from one video source, delivered
// synchronously on that source's consumer thread.
type Listener interface {
	OnNewImage(sourceID int, buf *pixel.Buffer)
	OnError(sourceID int, message string)
}

// FrameDecoder turns an opaque byte payload into a pixel buffer. Video
// sources that declare pixel.JPEG as their frame format are paired with one
// so the runtime can decode before handing frames to the reuse ring (§4.5
// "Decoding hook").
type FrameDecoder interface {
	Decode(data []byte) (*pixel.Buffer, error)
}

// FrameInfo is a point-in-time statistics snapshot, read under the
// runtime's own short-held lock so it never contends with frame processing
// (§4.5 "Frame info & timing").
type FrameInfo struct {
	Received, Dropped, Blocked uint64

	OriginalWidth, OriginalHeight int
	OriginalFormat                pixel.Format

	ProcessedWidth, ProcessedHeight int
	ProcessedFormat                 pixel.Format

	StepsCompleted int
}

// Runtime is one video source's state machine: it owns the consumer thread,
// the two handoff events, and the pipeline instantiated for this source.
type Runtime struct {
	ID     int
	Name   string
	source plugin.VideoSource
	decode FrameDecoder // applied to frames whose format is pixel.JPEG; may be nil
	graph  *pipeline.Pipeline

	dropWhenBusy bool

	newFrameAvailable *ManualResetEvent
	consumerIdle      *ManualResetEvent
	needToExit        atomic.Bool
	consumerDone      atomic.Bool

	// processing-sync (spec §5): handoff slot, last image, last error.
	processingMu sync.Mutex
	pending      *pixel.Buffer
	lastImage    *pixel.Buffer
	lastErr      string

	// listener-sync: listener list only.
	listenerMu sync.Mutex
	listeners  []Listener

	// frame-info-sync: stats snapshot + perf-monitor enable flag.
	infoMu sync.Mutex
	info   FrameInfo

	framesReceived atomic.Uint64
	framesDropped  atomic.Uint64
	framesBlocked  atomic.Uint64

	stateMu sync.Mutex
	state   State

	wg sync.WaitGroup
}

// New constructs a runtime in the Added state. decode may be nil; it is
// only consulted when src reports a JPEG pass-through frame format.
func New(id int, name string, src plugin.VideoSource, graph *pipeline.Pipeline, decode FrameDecoder, dropWhenBusy bool) *Runtime {
	r := &Runtime{
		ID:                id,
		Name:              name,
		source:            src,
		decode:            decode,
		graph:             graph,
		dropWhenBusy:      dropWhenBusy,
		newFrameAvailable: NewManualResetEvent(),
		consumerIdle:      NewManualResetEvent(),
		state:             Added,
	}
	r.consumerIdle.Signal() // idle until the first frame arrives
	return r
}

func (r *Runtime) setState(s State) {
	r.stateMu.Lock()
	r.state = s
	r.stateMu.Unlock()
}

// State reports the runtime's current lifecycle state.
func (r *Runtime) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

// Start transitions Added -> Running: it spawns the consumer goroutine and
// starts the video-source plug-in. Failure of the plug-in's own Start is a
// fatal, worker-terminating condition reported synchronously (§7).
func (r *Runtime) Start() error {
	r.setState(Running)
	r.source.SetCallbacks(r)

	r.wg.Add(1)
	go r.consumeLoop()

	if err := r.source.Start(); err != nil {
		r.needToExit.Store(true)
		r.newFrameAvailable.Signal()
		r.wg.Wait()
		r.setState(Gone)
		return fmt.Errorf("start video source %v %q: %w", r.ID, r.Name, err)
	}
	return nil
}

// OnNewImage implements plugin.VideoSourceCallbacks: called from the video
// source plug-in's own producer thread at unpredictable times (§4.5).
func (r *Runtime) OnNewImage(buf *pixel.Buffer) {
	if !r.consumerIdle.IsSignaled() {
		if r.dropWhenBusy {
			r.framesDropped.Add(1)
			return
		}
		r.framesBlocked.Add(1)
		r.consumerIdle.Wait()
	}

	decoded := buf
	if r.decode != nil && buf.Format == pixel.JPEG {
		d, err := r.decode.Decode(buf.Data)
		if err != nil {
			r.OnError(fmt.Sprintf("decode frame: %v", err))
			return
		}
		decoded = d
	}

	r.framesReceived.Add(1)

	r.processingMu.Lock()
	reused, err := pixel.CopyDataOrClone(decoded, r.pending)
	if err != nil {
		r.processingMu.Unlock()
		r.OnError(fmt.Sprintf("copy incoming frame: %v", err))
		return
	}
	r.pending = reused
	r.lastErr = ""
	r.processingMu.Unlock()

	r.newFrameAvailable.Signal()
}

// OnError implements plugin.VideoSourceCallbacks: surfaces a video-source
// plug-in failure the same way a pipeline-step failure is surfaced, with
// the same de-duplication rule (§7).
func (r *Runtime) OnError(message string) {
	r.reportError(message)
}

func (r *Runtime) consumeLoop() {
	defer r.wg.Done()
	defer r.consumerDone.Store(true)

	for {
		r.newFrameAvailable.Wait()
		r.newFrameAvailable.Reset()

		if r.needToExit.Load() {
			return
		}

		r.consumerIdle.Reset()
		r.processFrame()
		r.consumerIdle.Signal()
	}
}

func (r *Runtime) processFrame() {
	r.processingMu.Lock()
	frame := r.pending
	r.processingMu.Unlock()
	if frame == nil {
		return
	}

	origW, origH, origFmt := frame.Width, frame.Height, frame.Format

	result := r.graph.Run(frame)

	r.infoMu.Lock()
	r.info.Received = r.framesReceived.Load()
	r.info.Dropped = r.framesDropped.Load()
	r.info.Blocked = r.framesBlocked.Load()
	r.info.OriginalWidth, r.info.OriginalHeight, r.info.OriginalFormat = origW, origH, origFmt
	r.info.StepsCompleted = result.StepsCompleted
	if result.Output != nil {
		r.info.ProcessedWidth, r.info.ProcessedHeight, r.info.ProcessedFormat =
			result.Output.Width, result.Output.Height, result.Output.Format
	}
	r.infoMu.Unlock()

	if result.Err != nil {
		r.reportError(result.Err.Error())
		return
	}

	r.processingMu.Lock()
	r.lastImage = result.Output
	r.lastErr = ""
	r.processingMu.Unlock()

	r.fanOutImage(result.Output)
}

func (r *Runtime) fanOutImage(buf *pixel.Buffer) {
	r.listenerMu.Lock()
	listeners := append([]Listener(nil), r.listeners...)
	r.listenerMu.Unlock()

	for _, l := range listeners {
		l.OnNewImage(r.ID, buf)
	}
}

func (r *Runtime) reportError(message string) {
	r.processingMu.Lock()
	duplicate := r.lastErr == message
	r.lastErr = message
	r.processingMu.Unlock()
	if duplicate {
		return
	}

	r.listenerMu.Lock()
	listeners := append([]Listener(nil), r.listeners...)
	r.listenerMu.Unlock()

	for _, l := range listeners {
		l.OnError(r.ID, message)
	}
}

// AddListener subscribes l. If notifyWithRecent is true and the source is
// Running, l is immediately given the current last image/error under a
// try-lock on the processing mutex, so a long frame in flight never blocks
// registration (§4.5).
func (r *Runtime) AddListener(l Listener, notifyWithRecent bool) {
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenerMu.Unlock()

	if !notifyWithRecent {
		return
	}
	if !r.processingMu.TryLock() {
		return
	}
	img, errMsg := r.lastImage, r.lastErr
	r.processingMu.Unlock()

	if img != nil {
		l.OnNewImage(r.ID, img)
	}
	if errMsg != "" {
		l.OnError(r.ID, errMsg)
	}
}

// RemoveListener unsubscribes l, if present.
func (r *Runtime) RemoveListener(l Listener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// SnapshotFrameInfo returns the current statistics snapshot.
func (r *Runtime) SnapshotFrameInfo() FrameInfo {
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	return r.info
}

// PerfStats returns the pipeline's per-step and total sliding-window means,
// in milliseconds.
func (r *Runtime) PerfStats() (perStep []float64, total float64) {
	return r.graph.Perf.StepMeansMs(), r.graph.Perf.TotalMeanMs()
}

// SetPerformanceMonitorEnabled toggles timing collection.
func (r *Runtime) SetPerformanceMonitorEnabled(enabled bool) {
	r.graph.Perf.SetEnabled(enabled)
}

// FramesReceived, FramesDropped and FramesBlocked expose the raw counters
// backing FrameInfo, mainly for tests asserting the invariants of §8.
func (r *Runtime) FramesReceived() uint64 { return r.framesReceived.Load() }
func (r *Runtime) FramesDropped() uint64  { return r.framesDropped.Load() }
func (r *Runtime) FramesBlocked() uint64  { return r.framesBlocked.Load() }

// StashConfig forwards a live-reconfiguration request to the pipeline,
// applied at the next frame boundary.
func (r *Runtime) StashConfig(stepIndex int, config map[string]variant.Value) {
	r.graph.StashConfig(stepIndex, config)
}

// Finalize transitions Running -> Finalizing: it detaches listeners, clears
// the plug-in's callback table, signals the plug-in and the consumer thread
// to stop, but does not block (§4.6 "Worker collections").
func (r *Runtime) Finalize() {
	r.setState(Finalizing)

	r.listenerMu.Lock()
	r.listeners = nil
	r.listenerMu.Unlock()

	r.source.SetCallbacks(nil)
	r.source.SignalToStop()

	r.needToExit.Store(true)
	r.newFrameAvailable.Signal()
}

// Terminate is the emergency Running -> Gone transition; it must not be
// used except as a last resort (§4.5).
func (r *Runtime) Terminate() {
	r.source.Terminate()
	r.needToExit.Store(true)
	r.newFrameAvailable.Signal()
	r.setState(Gone)
}

// Reaped reports whether both the video-source plug-in's own thread and the
// consumer thread have exited, the condition the janitor polls for (§4.6).
func (r *Runtime) Reaped() bool {
	return !r.source.IsRunning() && r.consumerDone.Load()
}

// WaitForStop blocks until both the plug-in and the consumer thread have
// exited.
func (r *Runtime) WaitForStop() {
	r.source.WaitForStop()
	r.wg.Wait()
	r.setState(Gone)
}

var _ plugin.VideoSourceCallbacks = (*Runtime)(nil)
