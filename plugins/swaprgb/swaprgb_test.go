package swaprgb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cvautomation/pkg/pixel"
)

func TestProcessInPlaceSwapsChannels(t *testing.T) {
	buf, err := pixel.Allocate(1, 1, pixel.RGB24)
	require.NoError(t, err)
	buf.Data[0], buf.Data[1], buf.Data[2] = 10, 20, 30

	f := &filter{}
	require.NoError(t, f.ProcessInPlace(buf))
	require.Equal(t, []byte{30, 20, 10}, buf.Data)
}

func TestProcessReturnsIndependentCopy(t *testing.T) {
	src, err := pixel.Allocate(1, 1, pixel.RGB24)
	require.NoError(t, err)
	src.Data[0], src.Data[1], src.Data[2] = 10, 20, 30

	f := &filter{}
	out, err := f.Process(src)
	require.NoError(t, err)
	require.Equal(t, []byte{30, 20, 10}, out.Data)
	require.Equal(t, []byte{10, 20, 30}, src.Data) // original untouched
}

func TestCanProcessInPlace(t *testing.T) {
	require.True(t, (&filter{}).CanProcessInPlace())
}
