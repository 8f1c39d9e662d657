package source

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"cvautomation/pkg/pipeline"
	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
)

type stubVideoSource struct {
	running atomic.Bool
	cb      plugin.VideoSourceCallbacks
	format  pixel.Format
}

func (s *stubVideoSource) Start() error {
	s.running.Store(true)
	return nil
}
func (s *stubVideoSource) SignalToStop()  { s.running.Store(false) }
func (s *stubVideoSource) WaitForStop()   {}
func (s *stubVideoSource) IsRunning() bool { return s.running.Load() }
func (s *stubVideoSource) Terminate()     { s.running.Store(false) }
func (s *stubVideoSource) FramesReceived() uint64 { return 0 }
func (s *stubVideoSource) SetCallbacks(cb plugin.VideoSourceCallbacks) { s.cb = cb }
func (s *stubVideoSource) FrameFormat() pixel.Format { return s.format }

type recordingListener struct {
	mu     sync.Mutex
	images int
	errs   []string
}

func (l *recordingListener) OnNewImage(int, *pixel.Buffer) {
	l.mu.Lock()
	l.images++
	l.mu.Unlock()
}
func (l *recordingListener) OnError(_ int, message string) {
	l.mu.Lock()
	l.errs = append(l.errs, message)
	l.mu.Unlock()
}

func passthroughPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.Instantiate(pipeline.Graph{}, plugin.NewRegistry(), nil)
	require.NoError(t, err)
	return p
}

func grayFrame(w, h int, fill byte) *pixel.Buffer {
	buf, _ := pixel.Allocate(w, h, pixel.Gray8)
	for i := range buf.Data {
		buf.Data[i] = fill
	}
	return buf
}

func TestRuntimeDeliversFrameToListener(t *testing.T) {
	src := &stubVideoSource{format: pixel.Gray8}
	r := New(1, "cam1", src, passthroughPipeline(t), nil, false)

	l := &recordingListener{}
	r.AddListener(l, false)

	require.NoError(t, r.Start())
	r.OnNewImage(grayFrame(2, 2, 5))

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.images == 1
	}, time.Second, time.Millisecond)

	r.Finalize()
	r.WaitForStop()
	require.True(t, r.Reaped())
}

// Invariant 2: frames-received + frames-dropped equals the number of
// on-new-image invocations.
func TestFramesReceivedPlusDroppedEqualsInvocations(t *testing.T) {
	src := &stubVideoSource{format: pixel.Gray8}
	r := New(1, "cam1", src, passthroughPipeline(t), nil, true)
	require.NoError(t, r.Start())

	const n = 50
	for i := 0; i < n; i++ {
		r.OnNewImage(grayFrame(2, 2, byte(i)))
	}

	require.Eventually(t, func() bool {
		return r.FramesReceived()+r.FramesDropped() == n
	}, time.Second, time.Millisecond)

	r.Finalize()
	r.WaitForStop()
}

// Invariant 3: with drop-when-busy = false, no frame is ever dropped.
func TestDropWhenBusyFalseNeverDrops(t *testing.T) {
	src := &stubVideoSource{format: pixel.Gray8}
	r := New(1, "cam1", src, passthroughPipeline(t), nil, false)
	require.NoError(t, r.Start())

	for i := 0; i < 20; i++ {
		r.OnNewImage(grayFrame(2, 2, byte(i)))
	}

	require.Eventually(t, func() bool {
		return r.FramesReceived() == 20
	}, time.Second, time.Millisecond)
	require.Equal(t, uint64(0), r.FramesDropped())

	r.Finalize()
	r.WaitForStop()
}

// S4: drop-when-busy sheds most frames under sustained overload, blocking
// none.
func TestDropWhenBusyShedsUnderOverload(t *testing.T) {
	reg := plugin.NewRegistry()
	d := &plugin.Descriptor{
		GUID:       uuid.New(),
		FamilyGUID: uuid.New(),
		ShortName:  "slow",
		Type:       plugin.TypeImageProcessingFilter,
		Creator: func() (plugin.Instance, error) {
			return &slowFilter{}, nil
		},
	}
	require.NoError(t, reg.RegisterBuiltin(plugin.Module{GUID: uuid.New(), Name: "m"}, d))
	graph, err := pipeline.Instantiate(pipeline.Graph{Steps: []pipeline.Step{{Name: "slow", Plugin: d.GUID}}}, reg, nil)
	require.NoError(t, err)

	src := &stubVideoSource{format: pixel.Gray8}
	r := New(1, "cam1", src, graph, nil, true)
	require.NoError(t, r.Start())

	const pushes = 100
	for i := 0; i < pushes; i++ {
		r.OnNewImage(grayFrame(2, 2, byte(i)))
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return r.FramesReceived()+r.FramesDropped() == pushes
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, uint64(0), r.FramesBlocked())
	require.Greater(t, r.FramesDropped(), uint64(0))
	require.Greater(t, r.FramesReceived(), uint64(0))

	r.Finalize()
	r.WaitForStop()
}

type slowFilter struct{}

func (f *slowFilter) SupportedPixelFormats() []pixel.Format { return []pixel.Format{pixel.Gray8} }
func (f *slowFilter) CanProcessInPlace() bool                { return true }
func (f *slowFilter) GetOutputPixelFormat(in pixel.Format) (pixel.Format, error) {
	return in, nil
}
func (f *slowFilter) Process(src *pixel.Buffer) (*pixel.Buffer, error) { return src.Clone() }
func (f *slowFilter) ProcessInPlace(*pixel.Buffer) error {
	time.Sleep(50 * time.Millisecond)
	return nil
}

func TestAddListenerWithNotifyRecentDeliversLastImage(t *testing.T) {
	src := &stubVideoSource{format: pixel.Gray8}
	r := New(1, "cam1", src, passthroughPipeline(t), nil, false)
	require.NoError(t, r.Start())

	r.OnNewImage(grayFrame(2, 2, 7))
	require.Eventually(t, func() bool { return r.FramesReceived() == 1 }, time.Second, time.Millisecond)

	// Give the consumer a moment to finish delivering the frame so
	// lastImage is populated before the late listener subscribes.
	time.Sleep(20 * time.Millisecond)

	l := &recordingListener{}
	r.AddListener(l, true)
	require.Equal(t, 1, l.images)

	r.Finalize()
	r.WaitForStop()
}

func TestErrorDeduplication(t *testing.T) {
	src := &stubVideoSource{format: pixel.Gray8}
	r := New(1, "cam1", src, passthroughPipeline(t), nil, false)
	l := &recordingListener{}
	r.AddListener(l, false)
	require.NoError(t, r.Start())

	r.OnError("boom")
	r.OnError("boom")
	r.OnError("boom")

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.errs) == 1
	}, time.Second, time.Millisecond)

	r.Finalize()
	r.WaitForStop()
}
