package threshold

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/variant"
)

func newFilter(level uint8) *filter {
	f := &filter{}
	f.level.Store(uint32(level))
	return f
}

func TestProcessInPlaceBinarizes(t *testing.T) {
	buf, err := pixel.Allocate(3, 1, pixel.Gray8)
	require.NoError(t, err)
	buf.Data[0], buf.Data[1], buf.Data[2] = 50, 128, 200

	f := newFilter(128)
	require.NoError(t, f.ProcessInPlace(buf))
	require.Equal(t, []byte{0, 255, 255}, buf.Data)
}

func TestSetPropertyChangesLevel(t *testing.T) {
	f := newFilter(128)
	require.NoError(t, f.SetProperty(propLevel, variant.NewUInt8(200)))

	v, err := f.GetProperty(propLevel)
	require.NoError(t, err)
	require.Equal(t, uint64(200), v.UInt())

	buf, err := pixel.Allocate(1, 1, pixel.Gray8)
	require.NoError(t, err)
	buf.Data[0] = 150
	require.NoError(t, f.ProcessInPlace(buf))
	require.Equal(t, byte(0), buf.Data[0])
}

func TestGetPropertyRejectsUnknownID(t *testing.T) {
	f := newFilter(128)
	_, err := f.GetProperty(99)
	require.Error(t, err)
}

func TestProcessInPlaceRejectsNonGray8(t *testing.T) {
	buf, err := pixel.Allocate(1, 1, pixel.RGB24)
	require.NoError(t, err)
	f := newFilter(128)
	require.Error(t, f.ProcessInPlace(buf))
}
