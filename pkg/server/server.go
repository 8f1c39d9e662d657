// Package server implements the Automation Server: the Added/Running/
// Finalizing worker maps for video sources and scripting threads, the
// shared host variable store, the scripting-host callback vtable, and the
// janitor goroutine that reaps finalized workers (spec §4.6). It is
// grounded on CVSandbox's XAutomationServer
// (original_source/.../core/automationserver).
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cvautomation/pkg/log"
	"cvautomation/pkg/pipeline"
	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/source"
	"cvautomation/pkg/variant"
	"cvautomation/pkg/xerror"
)

// janitorInterval is the finalizing-map poll period (spec §4.6: "~every
// 200 ms").
const janitorInterval = 200 * time.Millisecond

type videoSourceEntry struct {
	id           int
	name         string
	descriptor   *plugin.Descriptor
	instance     plugin.VideoSource
	dtor         *plugin.DtorRef
	dropWhenBusy bool

	graph pipeline.Graph

	runtime  *source.Runtime
	pipeline *pipeline.Pipeline

	dynamicMu  sync.Mutex
	dynamicDtr []*plugin.DtorRef
}

// Server owns the Added/Running/Finalizing worker maps for video sources
// and scripting threads, the shared variable store, and the janitor.
type Server struct {
	registry    *plugin.Registry
	log         *log.Logger
	jpegDecoder source.FrameDecoder

	mu         sync.Mutex // server-sync
	nextSource int
	added      map[int]*videoSourceEntry
	running    map[int]*videoSourceEntry
	finalizing map[int]*videoSourceEntry

	threadsMu      sync.Mutex
	nextThread     int
	addedThreads   map[int]*threadEntry
	runningThreads map[int]*threadEntry
	finThreads     map[int]*threadEntry

	varsMu         sync.Mutex // variables-sync
	variables      map[string]variant.Value
	imageVariables map[string]*pixel.Buffer
	varsListener   VariablesListener

	startOnce sync.Once
	eg        *errgroup.Group
	cancel    context.CancelFunc
	started   bool
}

// New returns a Server ready for Start. jpegDecoder may be nil; it is
// handed to every video-source runtime to decode JPEG pass-through frames
// (§4.5 "Decoding hook").
func New(registry *plugin.Registry, logger *log.Logger, jpegDecoder source.FrameDecoder) *Server {
	return &Server{
		registry:    registry,
		log:         logger,
		jpegDecoder: jpegDecoder,

		added:      make(map[int]*videoSourceEntry),
		running:    make(map[int]*videoSourceEntry),
		finalizing: make(map[int]*videoSourceEntry),

		addedThreads:   make(map[int]*threadEntry),
		runningThreads: make(map[int]*threadEntry),
		finThreads:     make(map[int]*threadEntry),

		variables:      make(map[string]variant.Value),
		imageVariables: make(map[string]*pixel.Buffer),
	}
}

// Start launches the janitor goroutine. Calling Start more than once has no
// additional effect.
func (s *Server) Start() error {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		eg, egCtx := errgroup.WithContext(ctx)
		s.cancel = cancel
		s.eg = eg
		s.started = true
		eg.Go(func() error {
			s.janitorLoop(egCtx)
			return nil
		})
	})
	return nil
}

// IsRunning reports whether Start has run and neither WaitForStop nor
// Terminate has completed since; SignalToStop alone does not clear it.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// SignalToStop requests shutdown without blocking (§5 "idempotent and
// non-blocking"). It moves every Running entry to Finalizing.
func (s *Server) SignalToStop() {
	s.mu.Lock()
	for id, e := range s.running {
		e.runtime.Finalize()
		s.finalizing[id] = e
		delete(s.running, id)
	}
	s.mu.Unlock()

	s.threadsMu.Lock()
	for id, e := range s.runningThreads {
		close(e.stop)
		s.finThreads[id] = e
		delete(s.runningThreads, id)
	}
	s.threadsMu.Unlock()
}

// WaitForStop blocks until every worker has joined: it signals stop (if not
// already signalled), then waits for the Finalizing maps to drain and the
// janitor to exit.
func (s *Server) WaitForStop() {
	s.SignalToStop()

	for {
		s.mu.Lock()
		sourcesLeft := len(s.finalizing)
		s.mu.Unlock()
		s.threadsMu.Lock()
		threadsLeft := len(s.finThreads)
		s.threadsMu.Unlock()
		if sourcesLeft == 0 && threadsLeft == 0 {
			break
		}
		time.Sleep(janitorInterval)
	}

	s.mu.Lock()
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.eg != nil {
		_ = s.eg.Wait()
	}
}

// Terminate is the emergency shutdown path: it calls Terminate on every
// live video source and thread instead of waiting for a clean stop. It must
// not be used except as a last resort (§4.5).
func (s *Server) Terminate() {
	s.mu.Lock()
	for id, e := range s.running {
		e.runtime.Terminate()
		delete(s.running, id)
	}
	for id, e := range s.finalizing {
		e.runtime.Terminate()
		delete(s.finalizing, id)
	}
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()

	s.threadsMu.Lock()
	for id, e := range s.runningThreads {
		e.terminate()
		delete(s.runningThreads, id)
	}
	for id, e := range s.finThreads {
		e.terminate()
		delete(s.finThreads, id)
	}
	s.threadsMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Server) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapVideoSources()
			s.reapThreads()
		}
	}
}

func (s *Server) reapVideoSources() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.finalizing {
		if !e.runtime.Reaped() {
			continue
		}
		e.dynamicMu.Lock()
		for _, d := range e.dynamicDtr {
			d.Release()
		}
		e.dynamicMu.Unlock()
		e.pipeline.Close()
		e.dtor.Release()
		delete(s.finalizing, id)
	}
}

func (s *Server) reapThreads() {
	s.threadsMu.Lock()
	defer s.threadsMu.Unlock()
	for id, e := range s.finThreads {
		if !e.done.Load() {
			continue
		}
		e.wg.Wait()
		e.dynamicMu.Lock()
		for _, d := range e.dynamicDtr {
			d.Release()
		}
		e.dynamicMu.Unlock()
		e.dtor.Release()
		delete(s.finThreads, id)
	}
}

// AddVideoSource registers instance (created and configured by the caller,
// e.g. from config.SourceConfig via the registry) in the Added map.
func (s *Server) AddVideoSource(name string, descriptor *plugin.Descriptor, instance plugin.Instance, dtor *plugin.DtorRef, dropWhenBusy bool) (int, error) {
	vs, ok := instance.(plugin.VideoSource)
	if !ok {
		return 0, fmt.Errorf("plugin %q is not a video source: %w", descriptor.ShortName, xerror.InvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSource
	s.nextSource++
	s.added[id] = &videoSourceEntry{
		id:           id,
		name:         name,
		descriptor:   descriptor,
		instance:     vs,
		dtor:         dtor,
		dropWhenBusy: dropWhenBusy,
	}
	return id, nil
}

func (s *Server) findSourceLocked(id int) (*videoSourceEntry, bool, error) {
	if e, ok := s.added[id]; ok {
		return e, false, nil
	}
	if e, ok := s.running[id]; ok {
		return e, true, nil
	}
	if e, ok := s.finalizing[id]; ok {
		return e, true, nil
	}
	return nil, false, fmt.Errorf("video source %v: %w", id, xerror.InvalidArgument)
}

// SetProcessingGraph attaches graph to the Added entry id. It cannot be
// called once the source is running; step-level reconfiguration while
// running goes through SetStepConfiguration instead.
func (s *Server) SetProcessingGraph(id int, graph pipeline.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, isRunning, err := s.findSourceLocked(id)
	if err != nil {
		return err
	}
	if isRunning {
		return fmt.Errorf("video source %v: %w", id, xerror.CannotSetPropertyWhileRunning)
	}
	e.graph = graph.Clone()
	return nil
}

// GetStepConfiguration returns a copy of step stepIndex's persisted config.
func (s *Server) GetStepConfiguration(id, stepIndex int) (map[string]variant.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _, err := s.findSourceLocked(id)
	if err != nil {
		return nil, err
	}
	if stepIndex < 0 || stepIndex >= len(e.graph.Steps) {
		return nil, fmt.Errorf("step %v: %w", stepIndex, xerror.IndexOutOfBounds)
	}
	out := make(map[string]variant.Value, len(e.graph.Steps[stepIndex].Config))
	for k, v := range e.graph.Steps[stepIndex].Config {
		out[k] = v
	}
	return out, nil
}

// SetStepConfiguration updates step stepIndex's configuration. While Added
// it rewrites the stored graph directly; while Running it is forwarded to
// the live pipeline's pending-config path, applied at the next frame
// boundary (§4.4 "Live reconfiguration").
func (s *Server) SetStepConfiguration(id, stepIndex int, config map[string]variant.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, isRunning, err := s.findSourceLocked(id)
	if err != nil {
		return err
	}
	if stepIndex < 0 || stepIndex >= len(e.graph.Steps) {
		return fmt.Errorf("step %v: %w", stepIndex, xerror.IndexOutOfBounds)
	}
	if isRunning {
		e.runtime.StashConfig(stepIndex, config)
		return nil
	}
	merged := make(map[string]variant.Value, len(config))
	for k, v := range config {
		merged[k] = v
	}
	e.graph.Steps[stepIndex].Config = merged
	return nil
}

// StartVideoSource moves entry id from Added to Running: it instantiates
// the processing pipeline and spawns the runtime's consumer thread.
// Failure to start the video-source plug-in is fatal and reported
// synchronously (§7).
func (s *Server) StartVideoSource(id int) error {
	s.mu.Lock()
	e, ok := s.added[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("video source %v: %w", id, xerror.InvalidArgument)
	}

	p, err := pipeline.Instantiate(e.graph, s.registry, s.pipelineCallbacksFactory(e))
	if err != nil {
		return fmt.Errorf("video source %v: instantiate pipeline: %w", id, err)
	}
	e.pipeline = p

	rt := source.New(id, e.name, e.instance, p, s.jpegDecoder, e.dropWhenBusy)
	e.runtime = rt

	if err := rt.Start(); err != nil {
		p.Close()
		return err
	}

	s.mu.Lock()
	delete(s.added, id)
	s.running[id] = e
	s.mu.Unlock()
	return nil
}

// StartAllVideoSources starts every Added video source, collecting
// per-source errors rather than stopping at the first failure.
func (s *Server) StartAllVideoSources() map[int]error {
	s.mu.Lock()
	ids := make([]int, 0, len(s.added))
	for id := range s.added {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	errs := make(map[int]error)
	for _, id := range ids {
		if err := s.StartVideoSource(id); err != nil {
			errs[id] = err
		}
	}
	return errs
}

// FinalizeVideoSource moves a Running entry to Finalizing (§4.6 "Worker
// collections"): the runtime detaches listeners and signals the plug-in and
// consumer thread to stop, without blocking.
func (s *Server) FinalizeVideoSource(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.running[id]
	if !ok {
		return fmt.Errorf("video source %v: %w", id, xerror.InvalidArgument)
	}
	e.runtime.Finalize()
	delete(s.running, id)
	s.finalizing[id] = e
	return nil
}

// AddListener subscribes l to video source id.
func (s *Server) AddListener(id int, l source.Listener, notifyWithRecent bool) error {
	s.mu.Lock()
	e, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("video source %v: %w", id, xerror.InvalidArgument)
	}
	e.runtime.AddListener(l, notifyWithRecent)
	return nil
}

// RemoveListener unsubscribes l from video source id.
func (s *Server) RemoveListener(id int, l source.Listener) error {
	s.mu.Lock()
	e, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("video source %v: %w", id, xerror.InvalidArgument)
	}
	e.runtime.RemoveListener(l)
	return nil
}

// GetVideoSourceCount reports how many video sources are in each state.
func (s *Server) GetVideoSourceCount() (added, running, finalizing int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.added), len(s.running), len(s.finalizing)
}
