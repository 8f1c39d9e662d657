// Package grayscale is an ImageProcessingFilter plug-in converting RGB24 or
// RGBA32 input to Gray8, grounded on the original color2grayscale.c kernel
// (luminance weights 0.299/0.587/0.114, the same weights pkg/pixel.Buffer's
// Set uses for its own Gray8 write path).
package grayscale

import (
	"fmt"

	"github.com/google/uuid"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/xerror"
)

var (
	// ModuleGUID groups every descriptor this package registers.
	ModuleGUID = uuid.MustParse("8f1a7c9e-1111-4a2b-9c3d-000000000001")
	familyGUID = uuid.MustParse("8f1a7c9e-1111-4a2b-9c3d-000000000fa1")
	pluginGUID = uuid.MustParse("8f1a7c9e-1111-4a2b-9c3d-000000000101")
)

// Descriptor returns the plug-in metadata for registration via
// Registry.RegisterBuiltin.
func Descriptor() *plugin.Descriptor {
	return &plugin.Descriptor{
		GUID:        pluginGUID,
		FamilyGUID:  familyGUID,
		ShortName:   "grayscale",
		DisplayName: "Grayscale",
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

func (*filter) CanProcessInPlace() bool { return false }

func (*filter) GetOutputPixelFormat(in pixel.Format) (pixel.Format, error) {
	switch in {
	case pixel.RGB24, pixel.RGBA32:
		return pixel.Gray8, nil
	default:
		return 0, fmt.Errorf("grayscale: %w", xerror.UnsupportedPixelFormat)
	}
}

func (f *filter) Process(src *pixel.Buffer) (*pixel.Buffer, error) {
	if src == nil {
		return nil, xerror.NullParameter
	}
	if src.Format != pixel.RGB24 && src.Format != pixel.RGBA32 {
		return nil, fmt.Errorf("grayscale: %w", xerror.UnsupportedPixelFormat)
	}
	out, err := pixel.Allocate(src.Width, src.Height, pixel.Gray8)
	if err != nil {
		return nil, err
	}
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			c, err := src.At(x, y)
			if err != nil {
				return nil, err
			}
			if err := out.Set(x, y, c); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (*filter) ProcessInPlace(*pixel.Buffer) error {
	return fmt.Errorf("grayscale: %w", xerror.NotImplemented)
}

var _ plugin.ImageProcessingFilter = (*filter)(nil)
