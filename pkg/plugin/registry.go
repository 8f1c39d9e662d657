package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"cvautomation/pkg/xerror"
)

// Manifest is the on-disk plugin.toml sidecar describing a module's
// identity, parsed by CollectModules. The module's actual Descriptor
// content (properties, thunks) still comes from Go code registered via
// RegisterBuiltin — the manifest only lets the registry discover and
// index modules living under a directory without importing them by name.
type Manifest struct {
	ModuleGUID string `toml:"module_guid"`
	ModuleName string `toml:"module_name"`
	Version    string `toml:"version"`
	Plugins    []struct {
		GUID      string `toml:"guid"`
		ShortName string `toml:"short_name"`
	} `toml:"plugins"`
}

// Module groups the plug-in descriptors that came from one shared module.
type Module struct {
	GUID    uuid.UUID
	Name    string
	Version string
}

// Registry loads plug-in modules, indexes plug-ins by GUID and short name,
// and instantiates them (§4.3).
type Registry struct {
	mu          sync.RWMutex
	byGUID      map[uuid.UUID]*Descriptor
	byShortName map[string]*Descriptor
	modules     map[uuid.UUID]Module
	// moduleOf maps a plug-in GUID to the module it was registered under,
	// enabling the "module.plugin" qualified lookup form used by scripts.
	moduleOf map[uuid.UUID]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byGUID:      make(map[uuid.UUID]*Descriptor),
		byShortName: make(map[string]*Descriptor),
		modules:     make(map[uuid.UUID]Module),
		moduleOf:    make(map[uuid.UUID]string),
	}
}

// RegisterBuiltin adds a single plug-in descriptor under the given module,
// used by in-process collaborators (plugins/grayscale, plugins/luascript,
// ...) that don't ship a shared library to dlopen.
func (r *Registry) RegisterBuiltin(module Module, d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byGUID[d.GUID]; exists {
		return fmt.Errorf("plugin %v already registered: %w", d.GUID, xerror.InvalidConfiguration)
	}
	if _, exists := r.byShortName[d.ShortName]; exists {
		return fmt.Errorf("plugin short name %q already registered: %w", d.ShortName, xerror.InvalidConfiguration)
	}

	r.byGUID[d.GUID] = d
	r.byShortName[d.ShortName] = d
	r.modules[module.GUID] = module
	r.moduleOf[d.GUID] = module.Name
	return nil
}

// CollectModules scans directory for plugin.toml manifests, records each as
// a Module, and verifies that every manifest entry has a corresponding
// builtin already registered (manifests describe identity; Go code
// supplies behavior, per the package doc on Manifest).
func (r *Registry) CollectModules(directory string) error {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return fmt.Errorf("collect modules %v: %w", directory, xerror.IOFailure)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), "plugin.toml") {
			continue
		}
		path := filepath.Join(directory, e.Name())
		var m Manifest
		if _, err := toml.DecodeFile(path, &m); err != nil {
			return fmt.Errorf("decode manifest %v: %w", path, err)
		}
		guid, err := uuid.Parse(m.ModuleGUID)
		if err != nil {
			return fmt.Errorf("manifest %v: invalid module guid: %w", path, xerror.InvalidConfiguration)
		}

		r.mu.Lock()
		r.modules[guid] = Module{GUID: guid, Name: m.ModuleName, Version: m.Version}
		for _, p := range m.Plugins {
			pguid, err := uuid.Parse(p.GUID)
			if err != nil {
				r.mu.Unlock()
				return fmt.Errorf("manifest %v: invalid plugin guid: %w", path, xerror.InvalidConfiguration)
			}
			if _, ok := r.byGUID[pguid]; !ok {
				r.mu.Unlock()
				return fmt.Errorf("manifest %v: plugin %v has no registered builtin: %w", path, pguid, xerror.InvalidConfiguration)
			}
			r.moduleOf[pguid] = m.ModuleName
		}
		r.mu.Unlock()
	}
	return nil
}

// Families returns every distinct family GUID currently registered.
func (r *Registry) Families() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[uuid.UUID]struct{}{}
	var out []uuid.UUID
	for _, d := range r.byGUID {
		if _, ok := seen[d.FamilyGUID]; !ok {
			seen[d.FamilyGUID] = struct{}{}
			out = append(out, d.FamilyGUID)
		}
	}
	return out
}

// Modules returns every registered Module.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	return out
}

// PluginsOfType returns every descriptor whose Type bit is set in mask.
func (r *Registry) PluginsOfType(mask Type) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Descriptor
	for _, d := range r.byGUID {
		if d.Type&mask != 0 {
			out = append(out, d)
		}
	}
	return out
}

// PluginByGUID looks up a descriptor by its stable GUID.
func (r *Registry) PluginByGUID(id uuid.UUID) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byGUID[id]
	if !ok {
		return nil, fmt.Errorf("plugin %v: %w", id, xerror.PluginNotFound)
	}
	return d, nil
}

// PluginByName looks up a descriptor by short name, optionally qualified as
// "module.plugin" the way scripts reference it.
func (r *Registry) PluginByName(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	module, short, qualified := strings.Cut(name, ".")
	if !qualified {
		short = module
	}

	d, ok := r.byShortName[short]
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", name, xerror.PluginNotFound)
	}
	if qualified && r.moduleOf[d.GUID] != module {
		return nil, fmt.Errorf("plugin %q: %w", name, xerror.PluginNotFound)
	}
	return d, nil
}

// DtorRef releases the instance that created it, ensuring a plug-in's
// destructor thunk always runs exactly once.
type DtorRef struct {
	once sync.Once
	d    *Descriptor
	inst Instance
}

// Release invokes the descriptor's destructor on the held instance.
func (r *DtorRef) Release() {
	r.once.Do(func() {
		if r.d.Destructor != nil {
			r.d.Destructor(r.inst)
		}
	})
}

// CreateInstance instantiates d's plug-in class via its creator thunk.
func (r *Registry) CreateInstance(d *Descriptor) (Instance, *DtorRef, error) {
	if d.Creator == nil {
		return nil, nil, fmt.Errorf("plugin %v has no creator: %w", d.GUID, xerror.FailedPluginInstantiation)
	}
	inst, err := d.Creator()
	if err != nil {
		return nil, nil, fmt.Errorf("create instance of %v: %w", d.ShortName, xerror.FailedPluginInstantiation)
	}
	return inst, &DtorRef{d: d, inst: inst}, nil
}
