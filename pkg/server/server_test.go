package server

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"cvautomation/pkg/log"
	"cvautomation/pkg/pipeline"
	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/variant"
)

// startTestLogger boots a mock logger's fan-out goroutine so that Event.Msg
// calls on it don't block forever on the unbuffered feed channel.
func startTestLogger(t *testing.T) *log.Logger {
	t.Helper()
	logger := log.NewMockLogger()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, logger.Start(ctx))
	t.Cleanup(cancel)
	return logger
}

func newTestServer(t *testing.T) (*Server, *plugin.Registry) {
	t.Helper()
	reg := plugin.NewRegistry()
	srv := New(reg, startTestLogger(t), nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.WaitForStop)
	return srv, reg
}

type stubVideoSource struct {
	running atomic.Bool
	cb      plugin.VideoSourceCallbacks
}

func (s *stubVideoSource) Start() error                                { s.running.Store(true); return nil }
func (s *stubVideoSource) SignalToStop()                               { s.running.Store(false) }
func (s *stubVideoSource) WaitForStop()                                {}
func (s *stubVideoSource) IsRunning() bool                             { return s.running.Load() }
func (s *stubVideoSource) Terminate()                                  { s.running.Store(false) }
func (s *stubVideoSource) FramesReceived() uint64                      { return 0 }
func (s *stubVideoSource) SetCallbacks(cb plugin.VideoSourceCallbacks) { s.cb = cb }
func (s *stubVideoSource) FrameFormat() pixel.Format                   { return pixel.Gray8 }

func registerVideoSourceDescriptor(t *testing.T, reg *plugin.Registry) *plugin.Descriptor {
	t.Helper()
	d := &plugin.Descriptor{
		GUID:       uuid.New(),
		FamilyGUID: uuid.New(),
		ShortName:  "stub-source",
		Type:       plugin.TypeVideoSource,
		Creator: func() (plugin.Instance, error) {
			return &stubVideoSource{}, nil
		},
	}
	require.NoError(t, reg.RegisterBuiltin(plugin.Module{GUID: uuid.New(), Name: "m"}, d))
	return d
}

func addStartedVideoSource(t *testing.T, srv *Server, reg *plugin.Registry) int {
	t.Helper()
	d := registerVideoSourceDescriptor(t, reg)
	inst, dtor, err := reg.CreateInstance(d)
	require.NoError(t, err)

	id, err := srv.AddVideoSource("cam1", d, inst, dtor, true)
	require.NoError(t, err)
	require.NoError(t, srv.SetProcessingGraph(id, pipeline.Graph{}))
	require.NoError(t, srv.StartVideoSource(id))
	return id
}

func TestVideoSourceLifecycleMovesAcrossMaps(t *testing.T) {
	srv, reg := newTestServer(t)

	id := addStartedVideoSource(t, srv, reg)
	added, running, finalizing := srv.GetVideoSourceCount()
	require.Equal(t, 0, added)
	require.Equal(t, 1, running)
	require.Equal(t, 0, finalizing)

	require.NoError(t, srv.FinalizeVideoSource(id))
	_, running, finalizing = srv.GetVideoSourceCount()
	require.Equal(t, 0, running)
	require.Equal(t, 1, finalizing)

	require.Eventually(t, func() bool {
		_, _, finalizing := srv.GetVideoSourceCount()
		return finalizing == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAddListenerDeliversFrames(t *testing.T) {
	srv, reg := newTestServer(t)
	id := addStartedVideoSource(t, srv, reg)

	var received atomic.Int32
	l := &countingListener{onImage: func() { received.Add(1) }}
	require.NoError(t, srv.AddListener(id, l, false))

	srv.mu.Lock()
	rt := srv.running[id].runtime
	srv.mu.Unlock()
	buf, err := pixel.Allocate(2, 2, pixel.Gray8)
	require.NoError(t, err)
	rt.OnNewImage(buf)

	require.Eventually(t, func() bool { return received.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, srv.RemoveListener(id, l))
}

type countingListener struct {
	onImage func()
}

func (l *countingListener) OnNewImage(int, *pixel.Buffer) { l.onImage() }
func (l *countingListener) OnError(int, string)            {}

// S5: two pipeline steps exchange state only through the shared variable
// store, never through a direct reference.
func TestCrossStepVariablesViaSharedHostStore(t *testing.T) {
	srv, reg := newTestServer(t)

	writerDone := make(chan struct{})
	var readBack variant.Value
	var readErr error

	writer := &plugin.Descriptor{
		GUID:       uuid.New(),
		FamilyGUID: uuid.New(),
		ShortName:  "writer",
		Type:       plugin.TypeScriptingEngine,
		Creator: func() (plugin.Instance, error) {
			return &scriptStub{onRun: func(cb plugin.ScriptingCallbacks) error {
				return cb.SetVariable("shared", variant.NewInt32(42))
			}}, nil
		},
	}
	reader := &plugin.Descriptor{
		GUID:       uuid.New(),
		FamilyGUID: uuid.New(),
		ShortName:  "reader",
		Type:       plugin.TypeScriptingEngine,
		Creator: func() (plugin.Instance, error) {
			return &scriptStub{onRun: func(cb plugin.ScriptingCallbacks) error {
				readBack, readErr = cb.GetVariable("shared")
				close(writerDone)
				return nil
			}}, nil
		},
	}
	require.NoError(t, reg.RegisterBuiltin(plugin.Module{GUID: uuid.New(), Name: "m"}, writer))
	require.NoError(t, reg.RegisterBuiltin(plugin.Module{GUID: uuid.New(), Name: "m"}, reader))

	srcDescriptor := registerVideoSourceDescriptor(t, reg)
	inst, dtor, err := reg.CreateInstance(srcDescriptor)
	require.NoError(t, err)
	id, err := srv.AddVideoSource("cam1", srcDescriptor, inst, dtor, true)
	require.NoError(t, err)

	graph := pipeline.Graph{Steps: []pipeline.Step{
		{Name: "writer", Plugin: writer.GUID},
		{Name: "reader", Plugin: reader.GUID},
	}}
	require.NoError(t, srv.SetProcessingGraph(id, graph))
	require.NoError(t, srv.StartVideoSource(id))

	srv.mu.Lock()
	rt := srv.running[id].runtime
	srv.mu.Unlock()
	buf, err := pixel.Allocate(2, 2, pixel.Gray8)
	require.NoError(t, err)
	rt.OnNewImage(buf)

	select {
	case <-writerDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reader step")
	}

	require.NoError(t, readErr)
	require.Equal(t, variant.Int32, readBack.Type())
	require.Equal(t, int64(42), readBack.Int())
}

// S6: WaitForStop blocks until every running video source and thread has
// reaped, draining the Finalizing maps.
func TestWaitForStopDrainsRunningWorkers(t *testing.T) {
	reg := plugin.NewRegistry()
	srv := New(reg, startTestLogger(t), nil)
	require.NoError(t, srv.Start())

	id := addStartedVideoSource(t, srv, reg)

	threadDescriptor := &plugin.Descriptor{
		GUID:       uuid.New(),
		FamilyGUID: uuid.New(),
		ShortName:  "periodic",
		Type:       plugin.TypeScriptingEngine,
		Creator: func() (plugin.Instance, error) {
			return &scriptStub{}, nil
		},
	}
	require.NoError(t, reg.RegisterBuiltin(plugin.Module{GUID: uuid.New(), Name: "m"}, threadDescriptor))
	tInst, tDtor, err := reg.CreateInstance(threadDescriptor)
	require.NoError(t, err)
	threadID, err := srv.AddThread("ticker", threadDescriptor, tInst, tDtor, 10)
	require.NoError(t, err)
	require.NoError(t, srv.StartThread(threadID))

	_, running, _ := srv.GetVideoSourceCount()
	require.Equal(t, 1, running)
	_ = id

	done := make(chan struct{})
	go func() {
		srv.WaitForStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("WaitForStop did not return")
	}

	added, running, finalizing := srv.GetVideoSourceCount()
	require.Zero(t, added)
	require.Zero(t, running)
	require.Zero(t, finalizing)
	require.False(t, srv.IsRunning())
}

// scriptStub is a minimal plugin.ScriptingEngine used across server tests.
type scriptStub struct {
	mu    sync.Mutex
	cb    plugin.ScriptingCallbacks
	onRun func(plugin.ScriptingCallbacks) error
}

func (s *scriptStub) DefaultExtension() string   { return ".stub" }
func (s *scriptStub) Init() error                { return nil }
func (s *scriptStub) SetScriptFile(string) error { return nil }
func (s *scriptStub) LoadScript() error          { return nil }
func (s *scriptStub) InitScript() error          { return nil }
func (s *scriptStub) RunScript() error {
	s.mu.Lock()
	cb := s.cb
	run := s.onRun
	s.mu.Unlock()
	if run == nil {
		return nil
	}
	return run(cb)
}
func (s *scriptStub) GetLastErrorMessage() string { return "" }
func (s *scriptStub) SetCallbacks(cb plugin.ScriptingCallbacks) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

func TestVariableStoreCrossExclusivity(t *testing.T) {
	srv, _ := newTestServer(t)

	require.NoError(t, srv.SetVariable("x", variant.NewInt32(1)))
	buf, err := pixel.Allocate(1, 1, pixel.Gray8)
	require.NoError(t, err)
	require.NoError(t, srv.SetVariable("x", variant.NewImage(buf)))

	v, err := srv.GetVariable("x")
	require.NoError(t, err)
	require.Equal(t, variant.Image, v.Type())

	require.NoError(t, srv.SetVariable("x", variant.NewInt32(2)))
	img, err := srv.GetImageVariable("x")
	require.NoError(t, err)
	require.Nil(t, img)

	require.NoError(t, srv.SetVariable("x", variant.NewEmpty()))
	v, err = srv.GetVariable("x")
	require.NoError(t, err)
	require.True(t, v.IsEmpty())
}

func TestClearAllVariablesNotifiesListener(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NoError(t, srv.SetVariable("a", variant.NewInt32(1)))

	var cleared atomic.Bool
	srv.SetVariablesListener(&clearListener{onClear: func() { cleared.Store(true) }}, false)

	srv.ClearAllVariables()
	require.True(t, cleared.Load())

	v, err := srv.GetVariable("a")
	require.NoError(t, err)
	require.True(t, v.IsEmpty())
}

type clearListener struct {
	onClear func()
}

func (l *clearListener) OnVariableSet(string, variant.Value) {}
func (l *clearListener) OnClearAll()                         { l.onClear() }
