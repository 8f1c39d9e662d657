// Package threshold is a configurable ImageProcessingFilter plug-in that
// binarizes a Gray8 buffer against a level property, grounded on the
// original threshold.c kernel.
package threshold

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/variant"
	"cvautomation/pkg/xerror"
)

var (
	ModuleGUID = uuid.MustParse("8f1a7c9e-3333-4a2b-9c3d-000000000001")
	familyGUID = uuid.MustParse("8f1a7c9e-3333-4a2b-9c3d-000000000fa1")
	pluginGUID = uuid.MustParse("8f1a7c9e-3333-4a2b-9c3d-000000000101")
)

const propLevel = 0

func Descriptor() *plugin.Descriptor {
	return &plugin.Descriptor{
		GUID:        pluginGUID,
		FamilyGUID:  familyGUID,
		ShortName:   "threshold",
		DisplayName: "Threshold",
		Version:     plugin.Version{Major: 1},
		Type:        plugin.TypeImageProcessingFilter,
		Properties: []plugin.PropertyDescriptor{
			{
				Key:         "level",
				DisplayName: "Threshold level",
				ValueType:   variant.UInt8,
				Default:     variant.NewUInt8(128),
			},
		},
		Creator: func() (plugin.Instance, error) {
			f := &filter{}
			f.level.Store(128)
			return f, nil
		},
	}
}

type filter struct {
	level atomic.Uint32 // uint8 threshold, stored widened for atomic access
}

func (f *filter) GetProperty(id int) (variant.Value, error) {
	if id != propLevel {
		return variant.Value{}, fmt.Errorf("threshold: %w", xerror.InvalidProperty)
	}
	return variant.NewUInt8(uint8(f.level.Load())), nil
}

func (f *filter) SetProperty(id int, value variant.Value) error {
	if id != propLevel {
		return fmt.Errorf("threshold: %w", xerror.InvalidProperty)
	}
	f.level.Store(uint32(value.UInt()))
	return nil
}

func (*filter) SupportedPixelFormats() []pixel.Format { return []pixel.Format{pixel.Gray8} }

func (*filter) CanProcessInPlace() bool { return true }

func (*filter) GetOutputPixelFormat(in pixel.Format) (pixel.Format, error) {
	if in != pixel.Gray8 {
		return 0, fmt.Errorf("threshold: %w", xerror.UnsupportedPixelFormat)
	}
	return pixel.Gray8, nil
}

func (f *filter) Process(src *pixel.Buffer) (*pixel.Buffer, error) {
	out, err := src.Clone()
	if err != nil {
		return nil, err
	}
	if err := f.ProcessInPlace(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *filter) ProcessInPlace(inout *pixel.Buffer) error {
	if inout == nil {
		return xerror.NullParameter
	}
	if inout.Format != pixel.Gray8 {
		return fmt.Errorf("threshold: %w", xerror.UnsupportedPixelFormat)
	}
	level := byte(f.level.Load())
	for y := 0; y < inout.Height; y++ {
		row := y * inout.Stride
		for x := 0; x < inout.Width; x++ {
			off := row + x
			if inout.Data[off] >= level {
				inout.Data[off] = 255
			} else {
				inout.Data[off] = 0
			}
		}
	}
	return nil
}

var (
	_ plugin.ImageProcessingFilter = (*filter)(nil)
	_ plugin.PropertyReader        = (*filter)(nil)
	_ plugin.PropertyWriter        = (*filter)(nil)
)
