// Package httpmjpeg is a VideoSource plug-in that pulls frames from a
// chunked multipart/x-mixed-replace MJPEG-over-HTTP stream — the common
// IP-camera transport standing in for vs_dshow's device capture thread.
// Frames are handed upstream as opaque JPEG bytes (pixel.JPEG); the source
// runtime's JPEG-decode hook turns them into a real pixel grid.
package httpmjpeg

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/variant"
	"cvautomation/pkg/xerror"
)

var (
	ModuleGUID = uuid.MustParse("8f1a7c9e-5555-4a2b-9c3d-000000000001")
	familyGUID = uuid.MustParse("8f1a7c9e-5555-4a2b-9c3d-000000000fa1")
	pluginGUID = uuid.MustParse("8f1a7c9e-5555-4a2b-9c3d-000000000101")
)

const (
	propURL = iota
)

// reconnectDelay is how long the stream loop waits between a failed
// connection attempt and the next one.
const reconnectDelay = 2 * time.Second

// Descriptor returns the plug-in metadata for registration.
func Descriptor() *plugin.Descriptor {
	return &plugin.Descriptor{
		GUID:        pluginGUID,
		FamilyGUID:  familyGUID,
		ShortName:   "httpmjpeg",
		DisplayName: "HTTP MJPEG stream",
		Version:     plugin.Version{Major: 1},
		Type:        plugin.TypeVideoSource,
		Properties: []plugin.PropertyDescriptor{
			{Key: "url", DisplayName: "Stream URL", ValueType: variant.String},
		},
		Creator: func() (plugin.Instance, error) {
			return newSource(), nil
		},
	}
}

// Source streams MJPEG frames over HTTP on its own goroutine.
type Source struct {
	mu     sync.Mutex
	url    string
	client *http.Client
	cb     plugin.VideoSourceCallbacks

	running atomic.Bool
	frames  atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSource() *Source {
	tr := &http.Transport{}
	_ = http2.ConfigureTransport(tr) // best-effort HTTP/2 upgrade; ignored on failure, falls back to HTTP/1.1
	return &Source{client: &http.Client{Transport: tr}}
}

func (s *Source) GetProperty(id int) (variant.Value, error) {
	if id != propURL {
		return variant.Value{}, fmt.Errorf("httpmjpeg: %w", xerror.InvalidProperty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return variant.NewString(s.url), nil
}

func (s *Source) SetProperty(id int, value variant.Value) error {
	if id != propURL {
		return fmt.Errorf("httpmjpeg: %w", xerror.InvalidProperty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = value.String_()
	return nil
}

func (s *Source) SetCallbacks(cb plugin.VideoSourceCallbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

func (s *Source) FrameFormat() pixel.Format { return pixel.JPEG }

func (s *Source) FramesReceived() uint64 { return s.frames.Load() }

func (s *Source) IsRunning() bool { return s.running.Load() }

func (s *Source) Start() error {
	s.mu.Lock()
	url := s.url
	s.mu.Unlock()
	if url == "" {
		return fmt.Errorf("httpmjpeg: %w", xerror.InvalidConfiguration)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running.Store(true)
	s.wg.Add(1)
	go s.run(ctx, url)
	return nil
}

func (s *Source) SignalToStop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Source) WaitForStop() {
	s.wg.Wait()
	s.running.Store(false)
}

func (s *Source) Terminate() {
	s.SignalToStop()
}

func (s *Source) run(ctx context.Context, url string) {
	defer s.wg.Done()
	for {
		if err := s.streamOnce(ctx, url); err != nil {
			s.mu.Lock()
			cb := s.cb
			s.mu.Unlock()
			if cb != nil {
				cb.OnError(err.Error())
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Source) streamOnce(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("httpmjpeg: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpmjpeg: %w", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return fmt.Errorf("httpmjpeg: unexpected content type %q: %w", resp.Header.Get("Content-Type"), xerror.InvalidFormat)
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("httpmjpeg: %w", err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return fmt.Errorf("httpmjpeg: %w", err)
		}
		buf, err := pixel.WrapBytes(data, len(data), 1, len(data), pixel.JPEG)
		if err != nil {
			continue
		}
		s.frames.Add(1)
		s.mu.Lock()
		cb := s.cb
		s.mu.Unlock()
		if cb != nil {
			cb.OnNewImage(buf)
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

var _ plugin.VideoSource = (*Source)(nil)
