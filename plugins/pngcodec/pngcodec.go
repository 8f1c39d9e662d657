// Package pngcodec implements the ImageImporter and ImageExporter
// contracts (§4.3) for PNG, backed by libvips through govips.
package pngcodec

import (
	"fmt"
	"os"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/google/uuid"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/xerror"
)

var (
	ModuleGUID     = uuid.MustParse("8f1a7c9e-9999-4a2b-9c3d-000000000001")
	importerGUID   = uuid.MustParse("8f1a7c9e-9999-4a2b-9c3d-000000000101")
	exporterGUID   = uuid.MustParse("8f1a7c9e-9999-4a2b-9c3d-000000000102")
	importerFamily = uuid.MustParse("8f1a7c9e-9999-4a2b-9c3d-0000000000f1")
	exporterFamily = uuid.MustParse("8f1a7c9e-9999-4a2b-9c3d-0000000000f2")
	startupOnce    sync.Once
)

func ensureStarted() {
	startupOnce.Do(func() {
		vips.Startup(nil)
	})
}

// ImporterDescriptor returns the ImageImporter plug-in metadata.
func ImporterDescriptor() *plugin.Descriptor {
	return &plugin.Descriptor{
		GUID:        importerGUID,
		FamilyGUID:  importerFamily,
		ShortName:   "png-importer",
		DisplayName: "PNG importer",
		Version:     plugin.Version{Major: 1},
		Type:        plugin.TypeImageImporter,
		Creator: func() (plugin.Instance, error) {
			ensureStarted()
			return &importer{}, nil
		},
	}
}

// ExporterDescriptor returns the ImageExporter plug-in metadata.
func ExporterDescriptor() *plugin.Descriptor {
	return &plugin.Descriptor{
		GUID:        exporterGUID,
		FamilyGUID:  exporterFamily,
		ShortName:   "png-exporter",
		DisplayName: "PNG exporter",
		Version:     plugin.Version{Major: 1},
		Type:        plugin.TypeImageExporter,
		Creator: func() (plugin.Instance, error) {
			ensureStarted()
			return &exporter{}, nil
		},
	}
}

type importer struct{}

func (*importer) SupportedExtensions() []string { return []string{".png"} }

func (*importer) Import(path string) (*pixel.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pngcodec: %w", xerror.IOFailure)
	}
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("pngcodec: %w", xerror.FailedImageDecoding)
	}
	defer img.Close()

	format, err := formatForBands(img.Bands())
	if err != nil {
		return nil, err
	}
	raw, err := img.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("pngcodec: %w", xerror.FailedImageDecoding)
	}
	return pixel.WrapBytes(raw, img.Width(), img.Height(), pixel.MinStride(img.Width(), format), format)
}

type exporter struct{}

func (*exporter) SupportedExtensions() []string { return []string{".png"} }

func (*exporter) SupportedPixelFormats() []pixel.Format {
	return []pixel.Format{pixel.Gray8, pixel.RGB24, pixel.RGBA32}
}

// Export writes buf losslessly, preferring a high compression level over
// encode speed since PNG export in this pipeline is for archival frames,
// not the hot streaming path.
func (*exporter) Export(path string, buf *pixel.Buffer) error {
	if buf == nil {
		return xerror.NullParameter
	}
	bands, bandFormat, err := bandsForFormat(buf.Format)
	if err != nil {
		return err
	}
	img, err := vips.NewImageFromMemory(buf.Data, buf.Width, buf.Height, bands, bandFormat)
	if err != nil {
		return fmt.Errorf("pngcodec: %w", xerror.FailedImageEncoding)
	}
	defer img.Close()

	params := vips.NewPngExportParams()
	params.Compression = 9
	data, _, err := img.ExportPng(params)
	if err != nil {
		return fmt.Errorf("pngcodec: %w", xerror.FailedImageEncoding)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("pngcodec: %w", xerror.IOFailure)
	}
	return nil
}

func formatForBands(bands int) (pixel.Format, error) {
	switch bands {
	case 1:
		return pixel.Gray8, nil
	case 3:
		return pixel.RGB24, nil
	case 4:
		return pixel.RGBA32, nil
	default:
		return 0, fmt.Errorf("pngcodec: %v bands: %w", bands, xerror.UnsupportedPixelFormat)
	}
}

func bandsForFormat(format pixel.Format) (int, vips.BandFormat, error) {
	switch format {
	case pixel.Gray8:
		return 1, vips.BandFormatUchar, nil
	case pixel.RGB24:
		return 3, vips.BandFormatUchar, nil
	case pixel.RGBA32:
		return 4, vips.BandFormatUchar, nil
	default:
		return 0, 0, fmt.Errorf("pngcodec: %w", xerror.UnsupportedPixelFormat)
	}
}

var (
	_ plugin.ImageImporter = (*importer)(nil)
	_ plugin.ImageExporter = (*exporter)(nil)
)
