// Package httpimage is a VideoSource plug-in that polls a still-image URL
// (e.g. an IP camera's /snapshot.jpg) at a fixed interval, the simplest
// possible stand-in for a device capture thread.
package httpimage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/variant"
	"cvautomation/pkg/xerror"
)

var (
	ModuleGUID = uuid.MustParse("8f1a7c9e-6666-4a2b-9c3d-000000000001")
	familyGUID = uuid.MustParse("8f1a7c9e-6666-4a2b-9c3d-000000000fa1")
	pluginGUID = uuid.MustParse("8f1a7c9e-6666-4a2b-9c3d-000000000101")
)

const (
	propURL = iota
	propIntervalMsec
)

const defaultIntervalMsec = 1000

// Descriptor returns the plug-in metadata for registration.
func Descriptor() *plugin.Descriptor {
	return &plugin.Descriptor{
		GUID:        pluginGUID,
		FamilyGUID:  familyGUID,
		ShortName:   "httpimage",
		DisplayName: "HTTP still-image poller",
		Version:     plugin.Version{Major: 1},
		Type:        plugin.TypeVideoSource,
		Properties: []plugin.PropertyDescriptor{
			{Key: "url", DisplayName: "Snapshot URL", ValueType: variant.String},
			{Key: "interval-msec", DisplayName: "Poll interval", ValueType: variant.Int32, Default: variant.NewInt32(defaultIntervalMsec)},
		},
		Creator: func() (plugin.Instance, error) {
			return &Source{client: &http.Client{}, intervalMsec: defaultIntervalMsec}, nil
		},
	}
}

// Source polls a still-image URL on its own goroutine.
type Source struct {
	mu           sync.Mutex
	url          string
	intervalMsec int32
	client       *http.Client
	cb           plugin.VideoSourceCallbacks

	running atomic.Bool
	frames  atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *Source) GetProperty(id int) (variant.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch id {
	case propURL:
		return variant.NewString(s.url), nil
	case propIntervalMsec:
		return variant.NewInt32(s.intervalMsec), nil
	default:
		return variant.Value{}, fmt.Errorf("httpimage: %w", xerror.InvalidProperty)
	}
}

func (s *Source) SetProperty(id int, value variant.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch id {
	case propURL:
		s.url = value.String_()
	case propIntervalMsec:
		s.intervalMsec = int32(value.Int())
	default:
		return fmt.Errorf("httpimage: %w", xerror.InvalidProperty)
	}
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
	interval := s.intervalMsec
	s.mu.Unlock()
	if url == "" {
		return fmt.Errorf("httpimage: %w", xerror.InvalidConfiguration)
	}
	if interval <= 0 {
		interval = defaultIntervalMsec
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running.Store(true)
	s.wg.Add(1)
	go s.run(ctx, url, time.Duration(interval)*time.Millisecond)
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

func (s *Source) run(ctx context.Context, url string, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.fetchOnce(ctx, url); err != nil {
				s.mu.Lock()
				cb := s.cb
				s.mu.Unlock()
				if cb != nil {
					cb.OnError(err.Error())
				}
			}
		}
	}
}

func (s *Source) fetchOnce(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("httpimage: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpimage: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpimage: %w", err)
	}
	buf, err := pixel.WrapBytes(data, len(data), 1, len(data), pixel.JPEG)
	if err != nil {
		return fmt.Errorf("httpimage: %w", err)
	}
	s.frames.Add(1)
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb.OnNewImage(buf)
	}
	return nil
}

var _ plugin.VideoSource = (*Source)(nil)
