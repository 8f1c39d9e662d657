// Package luascript is a ScriptingEngine plug-in backed by an embedded Lua
// 5.1 runtime (gopher-lua), grounded on the original
// LuaScriptingEnginePlugin.cpp. A loaded script may define any of the
// optional global functions InitScript/RunScript; the host callback
// surface (spec §4.6) is exposed to scripts as the global table "host".
package luascript

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/variant"
	"cvautomation/pkg/xerror"
)

// imageTypeName names the Lua userdata metatable that wraps *pixel.Buffer,
// mirroring how LuaScriptingEnginePlugin.cpp's image binding lets a script
// hold an opaque handle to a host-owned image.
const imageTypeName = "image"

var (
	ModuleGUID = uuid.MustParse("8f1a7c9e-7777-4a2b-9c3d-000000000001")
	familyGUID = uuid.MustParse("8f1a7c9e-7777-4a2b-9c3d-000000000fa1")
	pluginGUID = uuid.MustParse("8f1a7c9e-7777-4a2b-9c3d-000000000101")
)

// Descriptor returns the plug-in metadata for registration.
func Descriptor() *plugin.Descriptor {
	return &plugin.Descriptor{
		GUID:        pluginGUID,
		FamilyGUID:  familyGUID,
		ShortName:   "luascript",
		DisplayName: "Lua scripting engine",
		Version:     plugin.Version{Major: 1},
		Type:        plugin.TypeScriptingEngine,
		Creator: func() (plugin.Instance, error) {
			return &Engine{}, nil
		},
	}
}

// Engine runs one loaded Lua chunk across repeated RunScript calls.
type Engine struct {
	mu         sync.Mutex
	state      *lua.LState
	scriptPath string
	lastErr    string
	cb         plugin.ScriptingCallbacks
}

func (*Engine) DefaultExtension() string { return ".lua" }

func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = lua.NewState()
	e.registerHostLocked()
	return nil
}

func (e *Engine) SetScriptFile(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scriptPath = path
	return nil
}

func (e *Engine) LoadScript() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return fmt.Errorf("luascript: %w", xerror.InvalidConfiguration)
	}
	if err := e.state.DoFile(e.scriptPath); err != nil {
		e.lastErr = err.Error()
		return fmt.Errorf("luascript: %w", xerror.FailedLoadingScript)
	}
	return nil
}

func (e *Engine) InitScript() error { return e.callOptionalHook("InitScript") }
func (e *Engine) RunScript() error  { return e.callOptionalHook("RunScript") }

// callOptionalHook invokes the named global Lua function if the script
// defined one; a script that doesn't define it is not an error.
func (e *Engine) callOptionalHook(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.state.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil
	}
	if err := e.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		e.lastErr = err.Error()
		return fmt.Errorf("luascript: %w", xerror.FailedRunningScript)
	}
	return nil
}

func (e *Engine) GetLastErrorMessage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) SetCallbacks(cb plugin.ScriptingCallbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
}

// registerHostLocked installs the global "host" table scripts call into
// the shared host store and print sink. Callers must hold e.mu.
func (e *Engine) registerHostLocked() {
	e.registerImageTypeLocked()

	tbl := e.state.NewTable()
	tbl.RawSetString("print", e.state.NewFunction(e.luaPrint))
	tbl.RawSetString("get_variable", e.state.NewFunction(e.luaGetVariable))
	tbl.RawSetString("set_variable", e.state.NewFunction(e.luaSetVariable))
	tbl.RawSetString("get_image", e.state.NewFunction(e.luaGetImage))
	tbl.RawSetString("set_image", e.state.NewFunction(e.luaSetImage))
	tbl.RawSetString("new_image", e.state.NewFunction(e.luaNewImage))
	e.state.SetGlobal("host", tbl)
}

// registerImageTypeLocked installs the "image" userdata metatable: a
// get_image/new_image result is a handle a script can inspect with
// :width()/:height()/:format() and hand back unchanged or replaced through
// set_image. Callers must hold e.mu.
func (e *Engine) registerImageTypeLocked() {
	mt := e.state.NewTypeMetatable(imageTypeName)
	e.state.SetField(mt, "__index", e.state.SetFuncs(e.state.NewTable(), map[string]lua.LGFunction{
		"width":  luaImageWidth,
		"height": luaImageHeight,
		"format": luaImageFormat,
	}))
}

func newLuaImage(L *lua.LState, buf *pixel.Buffer) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = buf
	L.SetMetatable(ud, L.GetTypeMetatable(imageTypeName))
	return ud
}

func checkImage(L *lua.LState, n int) *pixel.Buffer {
	ud, ok := L.CheckUserData(n).Value.(*pixel.Buffer)
	if !ok {
		L.ArgError(n, "image expected")
		return nil
	}
	return ud
}

func luaImageWidth(L *lua.LState) int {
	L.Push(lua.LNumber(checkImage(L, 1).Width))
	return 1
}

func luaImageHeight(L *lua.LState) int {
	L.Push(lua.LNumber(checkImage(L, 1).Height))
	return 1
}

func luaImageFormat(L *lua.LState) int {
	L.Push(lua.LString(checkImage(L, 1).Format.String()))
	return 1
}

func (e *Engine) luaPrint(L *lua.LState) int {
	if e.cb != nil {
		e.cb.Print(L.CheckString(1))
	}
	return 0
}

func (e *Engine) luaGetVariable(L *lua.LState) int {
	name := L.CheckString(1)
	if e.cb == nil {
		L.Push(lua.LNil)
		return 1
	}
	v, err := e.cb.GetVariable(name)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(variantToLua(v))
	return 1
}

func (e *Engine) luaSetVariable(L *lua.LState) int {
	name := L.CheckString(1)
	value, err := luaToVariant(L.Get(2))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	if e.cb != nil {
		if err := e.cb.SetVariable(name, value); err != nil {
			L.RaiseError("%v", err)
		}
	}
	return 0
}

func (e *Engine) luaGetImage(L *lua.LState) int {
	if e.cb == nil {
		L.RaiseError("host callbacks not available")
		return 0
	}
	buf, err := e.cb.GetImage()
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(newLuaImage(L, buf))
	return 1
}

func (e *Engine) luaSetImage(L *lua.LState) int {
	buf := checkImage(L, 1)
	if e.cb == nil {
		L.RaiseError("host callbacks not available")
		return 0
	}
	if err := e.cb.SetImage(buf); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

// luaNewImage lets a script allocate a fresh buffer to hand back through
// set_image, e.g. to replace the current frame with a differently sized
// one (spec scenario S3).
func (e *Engine) luaNewImage(L *lua.LState) int {
	width := L.CheckInt(1)
	height := L.CheckInt(2)
	format, err := formatFromName(L.CheckString(3))
	if err != nil {
		L.ArgError(3, err.Error())
		return 0
	}
	buf, err := pixel.Allocate(width, height, format)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(newLuaImage(L, buf))
	return 1
}

var formatsByName = map[string]pixel.Format{
	"Gray8":    pixel.Gray8,
	"Gray16":   pixel.Gray16,
	"RGB24":    pixel.RGB24,
	"RGBA32":   pixel.RGBA32,
	"RGB48":    pixel.RGB48,
	"RGBA64":   pixel.RGBA64,
	"Binary1":  pixel.Binary1,
	"Indexed1": pixel.Indexed1,
	"Indexed2": pixel.Indexed2,
	"Indexed4": pixel.Indexed4,
	"Indexed8": pixel.Indexed8,
}

func formatFromName(name string) (pixel.Format, error) {
	f, ok := formatsByName[name]
	if !ok {
		return 0, fmt.Errorf("luascript: format %q: %w", name, xerror.UnsupportedPixelFormat)
	}
	return f, nil
}

func variantToLua(v variant.Value) lua.LValue {
	switch v.Type() {
	case variant.Bool:
		return lua.LBool(v.Bool())
	case variant.Int8, variant.Int16, variant.Int32, variant.Int64:
		return lua.LNumber(v.Int())
	case variant.UInt8, variant.UInt16, variant.UInt32, variant.UInt64:
		return lua.LNumber(v.UInt())
	case variant.Float32, variant.Float64:
		return lua.LNumber(v.Float())
	case variant.String:
		return lua.LString(v.String_())
	default:
		return lua.LNil
	}
}

func luaToVariant(lv lua.LValue) (variant.Value, error) {
	switch lv.Type() {
	case lua.LTBool:
		return variant.NewBool(bool(lv.(lua.LBool))), nil
	case lua.LTNumber:
		return variant.NewFloat64(float64(lv.(lua.LNumber))), nil
	case lua.LTString:
		return variant.NewString(string(lv.(lua.LString))), nil
	case lua.LTNil:
		return variant.NewEmpty(), nil
	default:
		return variant.Value{}, fmt.Errorf("luascript: lua type %v: %w", lv.Type(), xerror.IncompatibleTypes)
	}
}

var _ plugin.ScriptingEngine = (*Engine)(nil)
