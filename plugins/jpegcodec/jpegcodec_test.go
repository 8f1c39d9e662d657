package jpegcodec

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cvautomation/pkg/pixel"
)

func makeJPEGFile(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))

	path := filepath.Join(t.TempDir(), "in.jpg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestImportDecodesGeometry(t *testing.T) {
	ensureStarted()
	path := makeJPEGFile(t, 16, 12)

	imp := &importer{}
	buf, err := imp.Import(path)
	require.NoError(t, err)
	require.Equal(t, 16, buf.Width)
	require.Equal(t, 12, buf.Height)
}

func TestExportRoundTrips(t *testing.T) {
	ensureStarted()
	src, err := pixel.Allocate(8, 8, pixel.RGB24)
	require.NoError(t, err)
	for i := range src.Data {
		src.Data[i] = byte(i % 256)
	}

	out := filepath.Join(t.TempDir(), "out.jpg")
	exp := &exporter{}
	require.NoError(t, exp.Export(out, src))

	imp := &importer{}
	decoded, err := imp.Import(out)
	require.NoError(t, err)
	require.Equal(t, 8, decoded.Width)
	require.Equal(t, 8, decoded.Height)
}

func TestFormatForBandsRejectsUnknown(t *testing.T) {
	_, err := formatForBands(2)
	require.Error(t, err)
}

func TestDecoderImplementsFrameDecoder(t *testing.T) {
	path := makeJPEGFile(t, 6, 4)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	buf, err := NewDecoder().Decode(data)
	require.NoError(t, err)
	require.Equal(t, 6, buf.Width)
	require.Equal(t, 4, buf.Height)
}

func TestBandsForFormatCoversSupportedFormats(t *testing.T) {
	for _, f := range []pixel.Format{pixel.Gray8, pixel.RGB24, pixel.RGBA32} {
		_, _, err := bandsForFormat(f)
		require.NoError(t, err)
	}
	_, _, err := bandsForFormat(pixel.Indexed8)
	require.Error(t, err)
}
