package grayscale

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cvautomation/pkg/pixel"
)

func TestProcessConvertsRGB24ToGray8(t *testing.T) {
	src, err := pixel.Allocate(2, 1, pixel.RGB24)
	require.NoError(t, err)
	src.Data[0], src.Data[1], src.Data[2] = 255, 0, 0 // pure red
	src.Data[3], src.Data[4], src.Data[5] = 0, 0, 0   // black

	f := &filter{}
	out, err := f.Process(src)
	require.NoError(t, err)
	require.Equal(t, pixel.Gray8, out.Format)
	require.Equal(t, byte(76), out.Data[0]) // 0.299*255 rounds down to 76
	require.Equal(t, byte(0), out.Data[1])
}

func TestProcessRejectsUnsupportedFormat(t *testing.T) {
	src, err := pixel.Allocate(1, 1, pixel.Gray8)
	require.NoError(t, err)
	f := &filter{}
	_, err = f.Process(src)
	require.Error(t, err)
}

func TestGetOutputPixelFormat(t *testing.T) {
	f := &filter{}
	out, err := f.GetOutputPixelFormat(pixel.RGBA32)
	require.NoError(t, err)
	require.Equal(t, pixel.Gray8, out)

	_, err = f.GetOutputPixelFormat(pixel.Gray16)
	require.Error(t, err)
}
