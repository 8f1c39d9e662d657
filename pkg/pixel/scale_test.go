package pixel

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScaleProducesRequestedGeometry(t *testing.T) {
	src, err := Allocate(4, 4, RGB24)
	require.NoError(t, err)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			require.NoError(t, src.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255}))
		}
	}

	dst, err := src.Scale(2, 2)
	require.NoError(t, err)
	require.Equal(t, 2, dst.Width)
	require.Equal(t, 2, dst.Height)
	require.Equal(t, RGBA32, dst.Format)

	c, err := dst.At(0, 0)
	require.NoError(t, err)
	require.InDelta(t, 200, c.R, 2)
	require.InDelta(t, 100, c.G, 2)
	require.InDelta(t, 50, c.B, 2)
}

func TestScaleRejectsIndexedFormat(t *testing.T) {
	src, err := Allocate(2, 2, Indexed8)
	require.NoError(t, err)
	_, err = src.Scale(4, 4)
	require.Error(t, err)
}

func TestScaleRejectsInvalidDimensions(t *testing.T) {
	src, err := Allocate(2, 2, RGB24)
	require.NoError(t, err)
	_, err = src.Scale(0, 2)
	require.Error(t, err)
}
