// Package jpegcodec implements the ImageImporter and ImageExporter
// contracts (§4.3) for JPEG, backed by libvips through govips for a
// production-grade decode/encode path rather than a hand-rolled codec.
package jpegcodec

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
	ModuleGUID     = uuid.MustParse("8f1a7c9e-8888-4a2b-9c3d-000000000001")
	importerGUID   = uuid.MustParse("8f1a7c9e-8888-4a2b-9c3d-000000000101")
	exporterGUID   = uuid.MustParse("8f1a7c9e-8888-4a2b-9c3d-000000000102")
	importerFamily = uuid.MustParse("8f1a7c9e-8888-4a2b-9c3d-0000000000f1")
	exporterFamily = uuid.MustParse("8f1a7c9e-8888-4a2b-9c3d-0000000000f2")
	startupOnce    sync.Once
)

// ensureStarted boots libvips on first use of this package's codecs.
// plugins/pngcodec keeps a separate guard and makes its own Startup call.
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
		ShortName:   "jpeg-importer",
		DisplayName: "JPEG importer",
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
		ShortName:   "jpeg-exporter",
		DisplayName: "JPEG exporter",
		Version:     plugin.Version{Major: 1},
		Type:        plugin.TypeImageExporter,
		Creator: func() (plugin.Instance, error) {
			ensureStarted()
			return &exporter{}, nil
		},
	}
}

// Decoder adapts the package's libvips decode path to source.FrameDecoder,
// letting a video source that declares pixel.JPEG as its frame format hand
// raw JPEG bytes straight to the runtime (spec §4.5 "Decoding hook").
type Decoder struct{}

// NewDecoder returns a ready-to-use Decoder; libvips is started on first
// call like the importer/exporter paths.
func NewDecoder() *Decoder {
	ensureStarted()
	return &Decoder{}
}

// Decode implements source.FrameDecoder.
func (*Decoder) Decode(data []byte) (*pixel.Buffer, error) {
	return decodeToBuffer(data)
}

type importer struct{}

func (*importer) SupportedExtensions() []string { return []string{".jpg", ".jpeg"} }

func (*importer) Import(path string) (*pixel.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jpegcodec: %w", xerror.IOFailure)
	}
	return decodeToBuffer(data)
}

type exporter struct{}

func (*exporter) SupportedExtensions() []string { return []string{".jpg", ".jpeg"} }

func (*exporter) SupportedPixelFormats() []pixel.Format {
	return []pixel.Format{pixel.Gray8, pixel.RGB24, pixel.RGBA32}
}

func (*exporter) Export(path string, buf *pixel.Buffer) error {
	data, err := encodeJPEG(buf)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("jpegcodec: %w", xerror.IOFailure)
	}
	return nil
}

// decodeToBuffer backs both the importer and Decoder: libvips reports
// geometry and interpretation the same way for every format it decodes,
// so the raw-memory unpack only needs to branch on band count.
func decodeToBuffer(data []byte) (*pixel.Buffer, error) {
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("jpegcodec: %w", xerror.FailedImageDecoding)
	}
	defer img.Close()

	format, err := formatForBands(img.Bands())
	if err != nil {
		return nil, err
	}

	raw, err := img.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("jpegcodec: %w", xerror.FailedImageDecoding)
	}
	return pixel.WrapBytes(raw, img.Width(), img.Height(), pixel.MinStride(img.Width(), format), format)
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
		return 0, fmt.Errorf("jpegcodec: %v bands: %w", bands, xerror.UnsupportedPixelFormat)
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
		return 0, 0, fmt.Errorf("jpegcodec: %w", xerror.UnsupportedPixelFormat)
	}
}

func encodeJPEG(buf *pixel.Buffer) ([]byte, error) {
	if buf == nil {
		return nil, xerror.NullParameter
	}
	bands, bandFormat, err := bandsForFormat(buf.Format)
	if err != nil {
		return nil, err
	}
	img, err := vips.NewImageFromMemory(buf.Data, buf.Width, buf.Height, bands, bandFormat)
	if err != nil {
		return nil, fmt.Errorf("jpegcodec: %w", xerror.FailedImageEncoding)
	}
	defer img.Close()

	data, _, err := img.ExportJpeg(vips.NewJpegExportParams())
	if err != nil {
		return nil, fmt.Errorf("jpegcodec: %w", xerror.FailedImageEncoding)
	}
	return data, nil
}

var (
	_ plugin.ImageImporter = (*importer)(nil)
	_ plugin.ImageExporter = (*exporter)(nil)
)
