// Package plugin implements the Plug-in Registry: descriptors, the
// typed-property access operations, and the per-type virtual interfaces
// the Processing Pipeline drives (spec §3, §4.3). It is grounded on
// CVSandbox's XPluginDescriptor / XPropertyDescriptor
// (original_source/.../afx_types+ and .../ip_stdimaging,
// se_lua, vs_dshow descriptors).
package plugin

import (
	"fmt"

	"github.com/google/uuid"

	"cvautomation/pkg/variant"
	"cvautomation/pkg/xerror"
)

// Type tags the role a plug-in class plays in the pipeline.
type Type uint8

// Plug-in type tags the core dispatches on.
const (
	TypeImageProcessingFilter Type = 1 << iota
	TypeImageProcessingFilter2
	TypeImageProcessing
	TypeVideoProcessing
	TypeImageImporter
	TypeImageExporter
	TypeVideoSource
	TypeScriptingEngine
	TypeDetection
)

var typeNames = map[Type]string{
	TypeImageProcessingFilter:  "image-processing-filter",
	TypeImageProcessingFilter2: "image-processing-filter2",
	TypeImageProcessing:        "image-processing",
	TypeVideoProcessing:        "video-processing",
	TypeImageImporter:          "image-importer",
	TypeImageExporter:          "image-exporter",
	TypeVideoSource:            "video-source",
	TypeScriptingEngine:        "scripting-engine",
	TypeDetection:              "detection",
}

// String returns t's canonical name, or "unknown" for an unrecognized or
// multi-bit value.
func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Version is a plug-in's major.minor.rev triple.
type Version struct{ Major, Minor, Rev int }

func (v Version) String() string { return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Rev) }

// PropertyFlags are bit flags on a PropertyDescriptor.
type PropertyFlags uint8

// Property flags.
const (
	FlagReadOnly PropertyFlags = 1 << iota
	FlagHidden
	FlagDisabled
	FlagPreferredEditor
	FlagRuntimeConfiguration       // settable while the owner is running
	FlagDeviceRuntimeConfiguration // settable only while running
	FlagDependent                  // value domain depends on ParentProperty
)

// Choice is one entry of an enumerated property's choice list.
type Choice struct {
	Value variant.Value
	Label string
}

// DependentUpdater recomputes a dependent property's domain (choices,
// min/max, default) given its parent's current value. Updaters are pure
// functions of the parent value.
type DependentUpdater func(parent variant.Value) (choices []Choice, min, max, def variant.Value)

// PropertyDescriptor is immutable metadata attached to a plug-in class.
type PropertyDescriptor struct {
	Key         string
	DisplayName string
	ValueType   variant.Type
	Default     variant.Value
	Min, Max    *variant.Value
	Choices     []Choice
	// SelectByIndex, if true, means Choices are selected by index rather
	// than by matching value.
	SelectByIndex bool
	Flags         PropertyFlags

	// ParentProperty is the index into the owning descriptor's Properties
	// slice of this property's parent, meaningful iff FlagDependent is set.
	ParentProperty int
	Updater        DependentUpdater
}

func (p PropertyDescriptor) has(f PropertyFlags) bool { return p.Flags&f != 0 }

// CreatorFunc constructs a plug-in Instance.
type CreatorFunc func() (Instance, error)

// DestructorFunc releases resources an Instance holds.
type DestructorFunc func(Instance)

// DynamicUpdateFunc lets a live plug-in rewrite its own descriptor after
// instantiation (e.g. a video source reporting the real min/max exposure of
// the selected device once opened).
type DynamicUpdateFunc func(Instance, *Descriptor) error

// InstanceUpdaterFunc is an optional per-instance descriptor updater run
// whenever a property that has dependents changes.
type InstanceUpdaterFunc func(Instance, *Descriptor, propertyIndex int) error

type propertyIndex = int

// Descriptor is the stable, introspectable metadata for one plug-in class.
type Descriptor struct {
	GUID        uuid.UUID
	FamilyGUID  uuid.UUID
	ShortName   string // scripting identifier, unique
	DisplayName string
	Version     Version
	Type        Type

	Creator    CreatorFunc
	Destructor DestructorFunc
	Properties []PropertyDescriptor

	DynamicUpdate   DynamicUpdateFunc
	InstanceUpdater InstanceUpdaterFunc
}

// PropertyIndex returns the index of the property with the given key, or
// -1 if none exists.
func (d *Descriptor) PropertyIndex(key string) int {
	for i, p := range d.Properties {
		if p.Key == key {
			return i
		}
	}
	return -1
}

// Instance is the opaque state produced by a Descriptor's CreatorFunc. The
// core only touches it through the type-tag-specific virtual interfaces
// below and the descriptor's property accessors; Instance itself carries no
// methods of its own.
type Instance interface{}

// GetProperty reads property id (by descriptor index) of instance through
// the per-instance PropertyReader interface, defaulting to the property's
// Default if the instance does not implement PropertyReader.
func GetProperty(d *Descriptor, inst Instance, id int) (variant.Value, error) {
	if id < 0 || id >= len(d.Properties) {
		return variant.Value{}, fmt.Errorf("property %v: %w", id, xerror.InvalidProperty)
	}
	if pr, ok := inst.(PropertyReader); ok {
		return pr.GetProperty(id)
	}
	return d.Properties[id].Default, nil
}

// SetProperty converts value to the property's declared type, enforces the
// ReadOnly/Hidden flags, and writes it through PropertyWriter. Callers must
// re-run dependent updaters of any property whose ParentProperty is id
// after a successful set (PropagateDependents does this).
func SetProperty(d *Descriptor, inst Instance, id int, value variant.Value) error {
	if id < 0 || id >= len(d.Properties) {
		return fmt.Errorf("property %v: %w", id, xerror.InvalidProperty)
	}
	prop := d.Properties[id]
	if prop.has(FlagReadOnly) || prop.has(FlagHidden) {
		return fmt.Errorf("property %q: %w", prop.Key, xerror.ReadOnlyProperty)
	}
	converted, err := value.ChangeType(prop.ValueType)
	if err != nil {
		return fmt.Errorf("property %q: %w", prop.Key, xerror.IncompatibleTypes)
	}
	pw, ok := inst.(PropertyWriter)
	if !ok {
		return fmt.Errorf("instance does not support property writes: %w", xerror.NotImplemented)
	}
	return pw.SetProperty(id, converted)
}

// GetIndexedProperty reads element index of array-typed property id
// without materializing the whole array.
func GetIndexedProperty(d *Descriptor, inst Instance, id, index int) (variant.Value, error) {
	if id < 0 || id >= len(d.Properties) {
		return variant.Value{}, fmt.Errorf("property %v: %w", id, xerror.InvalidProperty)
	}
	ip, ok := inst.(IndexedPropertyAccessor)
	if !ok {
		return variant.Value{}, fmt.Errorf("property %q: %w", d.Properties[id].Key, xerror.NotIndexedProperty)
	}
	return ip.GetIndexedProperty(id, index)
}

// SetIndexedProperty writes element index of array-typed property id.
func SetIndexedProperty(d *Descriptor, inst Instance, id, index int, value variant.Value) error {
	if id < 0 || id >= len(d.Properties) {
		return fmt.Errorf("property %v: %w", id, xerror.InvalidProperty)
	}
	ip, ok := inst.(IndexedPropertyAccessor)
	if !ok {
		return fmt.Errorf("property %q: %w", d.Properties[id].Key, xerror.NotIndexedProperty)
	}
	return ip.SetIndexedProperty(id, index, value)
}

// UpdateDynamicDescription lets a live plug-in rewrite its own descriptor.
func UpdateDynamicDescription(d *Descriptor, inst Instance) error {
	if d.DynamicUpdate == nil {
		return nil
	}
	return d.DynamicUpdate(inst, d)
}

// PropagateDependents re-runs the updater of every property whose parent is
// changedID, in declaration order, recursively.
func PropagateDependents(d *Descriptor, inst Instance, changedID int) error {
	value, err := GetProperty(d, inst, changedID)
	if err != nil {
		return err
	}
	for i, p := range d.Properties {
		if !p.has(FlagDependent) || p.ParentProperty != changedID || p.Updater == nil {
			continue
		}
		choices, min, max, def := p.Updater(value)
		d.Properties[i].Choices = choices
		if !min.IsEmpty() {
			d.Properties[i].Min = &min
		}
		if !max.IsEmpty() {
			d.Properties[i].Max = &max
		}
		d.Properties[i].Default = def

		if err := PropagateDependents(d, inst, i); err != nil {
			return err
		}
	}
	return nil
}
