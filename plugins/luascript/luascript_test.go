package luascript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/variant"
)

type fakeCallbacks struct {
	vars    map[string]variant.Value
	printed []string
	image   *pixel.Buffer
}

func newFakeCallbacks() *fakeCallbacks {
	return &fakeCallbacks{vars: map[string]variant.Value{}}
}

func (f *fakeCallbacks) HostName() string                { return "test-host" }
func (f *fakeCallbacks) HostVersion() plugin.Version      { return plugin.Version{Major: 1} }
func (f *fakeCallbacks) Print(s string)                   { f.printed = append(f.printed, s) }
func (f *fakeCallbacks) CreatePluginInstance(string) (*plugin.Descriptor, plugin.Instance, error) {
	return nil, nil, nil
}
func (f *fakeCallbacks) GetVariable(name string) (variant.Value, error) {
	return f.vars[name], nil
}
func (f *fakeCallbacks) SetVariable(name string, v variant.Value) error {
	f.vars[name] = v
	return nil
}
func (f *fakeCallbacks) GetImageVariable(string) (*pixel.Buffer, error) { return nil, nil }
func (f *fakeCallbacks) SetImageVariable(string, *pixel.Buffer) error   { return nil }
func (f *fakeCallbacks) GetImage() (*pixel.Buffer, error)               { return f.image, nil }
func (f *fakeCallbacks) SetImage(buf *pixel.Buffer) error {
	f.image = buf
	return nil
}
func (f *fakeCallbacks) GetVideoSource() (*plugin.Descriptor, plugin.Instance, error) {
	return nil, nil, nil
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "script.lua")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunScriptRoundTripsVariableThroughHost(t *testing.T) {
	path := writeScript(t, `
function InitScript()
  host.set_variable("counter", 1)
end

function RunScript()
  local v = host.get_variable("counter")
  host.set_variable("counter", v + 1)
end
`)
	cb := newFakeCallbacks()
	e := &Engine{}
	require.NoError(t, e.Init())
	e.SetCallbacks(cb)
	require.NoError(t, e.SetScriptFile(path))
	require.NoError(t, e.LoadScript())
	require.NoError(t, e.InitScript())
	require.NoError(t, e.RunScript())
	require.NoError(t, e.RunScript())

	v, err := cb.GetVariable("counter")
	require.NoError(t, err)
	require.Equal(t, float64(3), v.Float())
}

func TestLoadScriptReportsSyntaxError(t *testing.T) {
	path := writeScript(t, `this is not valid lua (`)
	e := &Engine{}
	require.NoError(t, e.Init())
	require.NoError(t, e.SetScriptFile(path))
	err := e.LoadScript()
	require.Error(t, err)
	require.NotEmpty(t, e.GetLastErrorMessage())
}

func TestRunScriptIsOptional(t *testing.T) {
	path := writeScript(t, `-- no hooks defined`)
	e := &Engine{}
	require.NoError(t, e.Init())
	require.NoError(t, e.SetScriptFile(path))
	require.NoError(t, e.LoadScript())
	require.NoError(t, e.InitScript())
	require.NoError(t, e.RunScript())
}

// S3: a script reads the current frame through host.get_image, allocates a
// differently-sized replacement via host.new_image, and hands it back
// through host.set_image.
func TestRunScriptReplacesImageThroughHost(t *testing.T) {
	path := writeScript(t, `
function RunScript()
  local img = host.get_image()
  local out = host.new_image(img:width() * 2, img:height(), img:format())
  host.set_image(out)
end
`)
	cb := newFakeCallbacks()
	src, err := pixel.Allocate(4, 4, pixel.Gray8)
	require.NoError(t, err)
	cb.image = src

	e := &Engine{}
	require.NoError(t, e.Init())
	e.SetCallbacks(cb)
	require.NoError(t, e.SetScriptFile(path))
	require.NoError(t, e.LoadScript())
	require.NoError(t, e.RunScript())

	require.NotSame(t, src, cb.image)
	require.Equal(t, 8, cb.image.Width)
	require.Equal(t, 4, cb.image.Height)
	require.Equal(t, pixel.Gray8, cb.image.Format)
}

func TestPrintForwardsToHostCallback(t *testing.T) {
	path := writeScript(t, `
function RunScript()
  host.print("hello from lua")
end
`)
	cb := newFakeCallbacks()
	e := &Engine{}
	require.NoError(t, e.Init())
	e.SetCallbacks(cb)
	require.NoError(t, e.SetScriptFile(path))
	require.NoError(t, e.LoadScript())
	require.NoError(t, e.RunScript())
	require.Equal(t, []string{"hello from lua"}, cb.printed)
}
