package server

import (
	"fmt"

	"cvautomation/pkg/pipeline"
	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/variant"
	"cvautomation/pkg/xerror"
)

// hostVersion is the Automation Server's own version, surfaced to scripts
// via the host callback table's get-host-version (spec §4.6).
var hostVersion = plugin.Version{Major: 1, Minor: 0, Rev: 0}

const hostName = "cvautomationd"

// baseCallbacks implements the callback methods common to both a
// pipeline-step scripting engine and a thread-runtime scripting engine:
// host identity, printing, dynamic instantiation, and the shared variable
// store (spec §4.6).
type baseCallbacks struct {
	server *Server
	source string // logged under Event.Source for Print
}

func (c *baseCallbacks) HostName() string            { return hostName }
func (c *baseCallbacks) HostVersion() plugin.Version { return hostVersion }

func (c *baseCallbacks) Print(msg string) {
	c.server.log.Info().Src("script").Source(c.source).Msg(msg)
}

func (c *baseCallbacks) GetVariable(name string) (variant.Value, error) {
	return c.server.GetVariable(name)
}

func (c *baseCallbacks) SetVariable(name string, value variant.Value) error {
	return c.server.SetVariable(name, value)
}

func (c *baseCallbacks) GetImageVariable(name string) (*pixel.Buffer, error) {
	return c.server.GetImageVariable(name)
}

func (c *baseCallbacks) SetImageVariable(name string, buf *pixel.Buffer) error {
	return c.server.SetImageVariable(name, buf)
}

// createPluginInstance instantiates name through the registry and records
// the resulting destructor against dynamicDtr so the caller's reaper can
// release it once the owning runtime is torn down; scripts never release
// instances they create themselves.
func (c *baseCallbacks) createPluginInstance(name string, track func(*plugin.DtorRef)) (*plugin.Descriptor, plugin.Instance, error) {
	d, err := c.server.registry.PluginByName(name)
	if err != nil {
		return nil, nil, err
	}
	inst, dtor, err := c.server.registry.CreateInstance(d)
	if err != nil {
		return nil, nil, err
	}
	track(dtor)
	return d, inst, nil
}

// pipelineCallbacks is the host callback table handed to a scripting engine
// running as a pipeline step: in addition to the shared host surface it
// exposes the current frame and the owning video source (spec §4.6).
type pipelineCallbacks struct {
	baseCallbacks
	entry *videoSourceEntry
	host  pipeline.ImageHost
}

func (s *Server) pipelineCallbacksFactory(entry *videoSourceEntry) pipeline.CallbacksFactory {
	return func(stepIndex int, host pipeline.ImageHost) plugin.ScriptingCallbacks {
		return &pipelineCallbacks{
			baseCallbacks: baseCallbacks{server: s, source: entry.name},
			entry:         entry,
			host:          host,
		}
	}
}

func (c *pipelineCallbacks) CreatePluginInstance(name string) (*plugin.Descriptor, plugin.Instance, error) {
	return c.createPluginInstance(name, func(d *plugin.DtorRef) {
		c.entry.dynamicMu.Lock()
		c.entry.dynamicDtr = append(c.entry.dynamicDtr, d)
		c.entry.dynamicMu.Unlock()
	})
}

func (c *pipelineCallbacks) GetImage() (*pixel.Buffer, error) { return c.host.GetImage() }
func (c *pipelineCallbacks) SetImage(buf *pixel.Buffer) error { return c.host.SetImage(buf) }

func (c *pipelineCallbacks) GetVideoSource() (*plugin.Descriptor, plugin.Instance, error) {
	return c.entry.descriptor, c.entry.instance, nil
}

// threadCallbacksImpl is the host callback table handed to a scripting
// engine running as an independent thread: the frame/video-source callbacks
// are not meaningful outside a pipeline step and return NotImplemented
// (spec §4.6, Design Notes §9's open question, resolved conservatively).
type threadCallbacksImpl struct {
	baseCallbacks
	entry *threadEntry
}

func (s *Server) threadCallbacks(entry *threadEntry) plugin.ScriptingCallbacks {
	return &threadCallbacksImpl{
		baseCallbacks: baseCallbacks{server: s, source: entry.name},
		entry:         entry,
	}
}

func (c *threadCallbacksImpl) CreatePluginInstance(name string) (*plugin.Descriptor, plugin.Instance, error) {
	return c.createPluginInstance(name, func(d *plugin.DtorRef) {
		c.entry.dynamicMu.Lock()
		c.entry.dynamicDtr = append(c.entry.dynamicDtr, d)
		c.entry.dynamicMu.Unlock()
	})
}

func (c *threadCallbacksImpl) GetImage() (*pixel.Buffer, error) {
	return nil, fmt.Errorf("get-image: %w", xerror.NotImplemented)
}

func (c *threadCallbacksImpl) SetImage(*pixel.Buffer) error {
	return fmt.Errorf("set-image: %w", xerror.NotImplemented)
}

func (c *threadCallbacksImpl) GetVideoSource() (*plugin.Descriptor, plugin.Instance, error) {
	return nil, nil, fmt.Errorf("get-video-source: %w", xerror.NotImplemented)
}

var (
	_ plugin.ScriptingCallbacks = (*pipelineCallbacks)(nil)
	_ plugin.ScriptingCallbacks = (*threadCallbacksImpl)(nil)
)
