package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cvautomation/pkg/plugin"
	"cvautomation/pkg/xerror"
)

// threadEntry is a scripting-thread runtime (spec §4.6: "add-thread",
// "start-thread"): a scripting-engine instance run on its own goroutine at
// a fixed period, independent of any video source.
type threadEntry struct {
	id         int
	name       string
	descriptor *plugin.Descriptor
	instance   plugin.ScriptingEngine
	dtor       *plugin.DtorRef
	periodMsec int

	stop chan struct{}
	done atomic.Bool
	wg   sync.WaitGroup

	dynamicMu  sync.Mutex
	dynamicDtr []*plugin.DtorRef
}

func (e *threadEntry) terminate() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	e.wg.Wait()
}

// AddThread registers a scripting-engine instance in the Added-threads map.
func (s *Server) AddThread(name string, descriptor *plugin.Descriptor, instance plugin.Instance, dtor *plugin.DtorRef, periodMsec int) (int, error) {
	se, ok := instance.(plugin.ScriptingEngine)
	if !ok {
		return 0, fmt.Errorf("plugin %q is not a scripting engine: %w", descriptor.ShortName, xerror.InvalidArgument)
	}
	if periodMsec <= 0 {
		return 0, fmt.Errorf("thread %q: period must be positive: %w", name, xerror.InvalidArgument)
	}

	s.threadsMu.Lock()
	defer s.threadsMu.Unlock()
	id := s.nextThread
	s.nextThread++
	s.addedThreads[id] = &threadEntry{
		id:         id,
		name:       name,
		descriptor: descriptor,
		instance:   se,
		dtor:       dtor,
		periodMsec: periodMsec,
	}
	return id, nil
}

// StartThread moves entry id from Added to Running and starts its period
// loop.
func (s *Server) StartThread(id int) error {
	s.threadsMu.Lock()
	e, ok := s.addedThreads[id]
	if !ok {
		s.threadsMu.Unlock()
		return fmt.Errorf("thread %v: %w", id, xerror.InvalidArgument)
	}
	delete(s.addedThreads, id)
	e.stop = make(chan struct{})
	s.runningThreads[id] = e
	e.wg.Add(1)
	s.threadsMu.Unlock()

	go s.runThread(e)
	return nil
}

// StartAllThreads starts every Added thread, collecting per-thread errors.
func (s *Server) StartAllThreads() map[int]error {
	s.threadsMu.Lock()
	ids := make([]int, 0, len(s.addedThreads))
	for id := range s.addedThreads {
		ids = append(ids, id)
	}
	s.threadsMu.Unlock()

	errs := make(map[int]error)
	for _, id := range ids {
		if err := s.StartThread(id); err != nil {
			errs[id] = err
		}
	}
	return errs
}

// FinalizeThread signals thread id to stop without blocking.
func (s *Server) FinalizeThread(id int) error {
	s.threadsMu.Lock()
	defer s.threadsMu.Unlock()
	e, ok := s.runningThreads[id]
	if !ok {
		return fmt.Errorf("thread %v: %w", id, xerror.InvalidArgument)
	}
	close(e.stop)
	delete(s.runningThreads, id)
	s.finThreads[id] = e
	return nil
}

func (s *Server) runThread(e *threadEntry) {
	defer e.wg.Done()
	defer e.done.Store(true)

	se := e.instance
	se.SetCallbacks(s.threadCallbacks(e))

	if err := se.Init(); err != nil {
		s.log.Error().Src("server").Source(e.name).Msgf("thread init: %v", err)
		return
	}
	if err := se.LoadScript(); err != nil {
		s.log.Error().Src("server").Source(e.name).Msgf("thread load script: %v", scriptError(se, err))
		return
	}
	if err := se.InitScript(); err != nil {
		s.log.Error().Src("server").Source(e.name).Msgf("thread init script: %v", scriptError(se, err))
		return
	}

	ticker := time.NewTicker(time.Duration(e.periodMsec) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if err := se.RunScript(); err != nil {
				s.log.Error().Src("server").Source(e.name).Msgf("thread run script: %v", scriptError(se, err))
			}
		}
	}
}

func scriptError(se plugin.ScriptingEngine, fallback error) error {
	if msg := se.GetLastErrorMessage(); msg != "" {
		return fmt.Errorf("%v: %w", msg, xerror.FailedRunningScript)
	}
	return fallback
}
