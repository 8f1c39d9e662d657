// Package swaprgb is an ImageProcessingFilter plug-in that swaps the red
// and blue channels of an RGB24/RGBA32 buffer in place, grounded on the
// original swap_rgb.c kernel.
package swaprgb

import (
	"fmt"

	"github.com/google/uuid"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/xerror"
)

var (
	ModuleGUID = uuid.MustParse("8f1a7c9e-2222-4a2b-9c3d-000000000001")
	familyGUID = uuid.MustParse("8f1a7c9e-2222-4a2b-9c3d-000000000fa1")
	pluginGUID = uuid.MustParse("8f1a7c9e-2222-4a2b-9c3d-000000000101")
)

func Descriptor() *plugin.Descriptor {
	return &plugin.Descriptor{
		GUID:        pluginGUID,
		FamilyGUID:  familyGUID,
		ShortName:   "swaprgb",
		DisplayName: "Swap Red/Blue",
		Version:     plugin.Version{Major: 1},
		Type:        plugin.TypeImageProcessingFilter,
		Creator: func() (plugin.Instance, error) {
			return &filter{}, nil
		},
	}
}

type filter struct{}

func (*filter) SupportedPixelFormats() []pixel.Format {
	return []pixel.Format{pixel.RGB24, pixel.RGBA32}
}

func (*filter) CanProcessInPlace() bool { return true }

func (*filter) GetOutputPixelFormat(in pixel.Format) (pixel.Format, error) {
	switch in {
	case pixel.RGB24, pixel.RGBA32:
		return in, nil
	default:
		return 0, fmt.Errorf("swaprgb: %w", xerror.UnsupportedPixelFormat)
	}
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

func (*filter) ProcessInPlace(inout *pixel.Buffer) error {
	if inout == nil {
		return xerror.NullParameter
	}
	bpp := inout.Format.BytesPerPixel()
	switch inout.Format {
	case pixel.RGB24, pixel.RGBA32:
	default:
		return fmt.Errorf("swaprgb: %w", xerror.UnsupportedPixelFormat)
	}
	for y := 0; y < inout.Height; y++ {
		row := y * inout.Stride
		for x := 0; x < inout.Width; x++ {
			off := row + x*bpp
			inout.Data[off], inout.Data[off+2] = inout.Data[off+2], inout.Data[off]
		}
	}
	return nil
}

var _ plugin.ImageProcessingFilter = (*filter)(nil)
