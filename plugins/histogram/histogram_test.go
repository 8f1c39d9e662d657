package histogram

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/variant"
)

func TestProcessGray8ComputesMeanAndRange(t *testing.T) {
	buf, err := pixel.Allocate(4, 1, pixel.Gray8)
	require.NoError(t, err)
	buf.Data[0], buf.Data[1], buf.Data[2], buf.Data[3] = 0, 50, 100, 150

	a := &analyzer{rangeToFind: 95}
	require.NoError(t, a.Process(buf))

	meanVal, err := a.GetProperty(channelProp(chanGrayOrRed, offMean))
	require.NoError(t, err)
	require.InDelta(t, 75, meanVal.Float(), 0.01)

	fullRange, err := a.GetProperty(channelProp(chanGrayOrRed, offFullRange))
	require.NoError(t, err)
	require.Equal(t, int64(0), fullRange.RangeInt().Min)
	require.Equal(t, int64(150), fullRange.RangeInt().Max)
}

func TestProcessRGB24PopulatesThreeChannels(t *testing.T) {
	buf, err := pixel.Allocate(1, 1, pixel.RGB24)
	require.NoError(t, err)
	buf.Data[0], buf.Data[1], buf.Data[2] = 10, 20, 30

	a := &analyzer{rangeToFind: 95}
	require.NoError(t, a.Process(buf))
	require.Equal(t, 3, a.active)

	redMean, err := a.GetProperty(channelProp(chanGrayOrRed, offMean))
	require.NoError(t, err)
	require.InDelta(t, 10, redMean.Float(), 0.01)

	greenMean, err := a.GetProperty(channelProp(chanGreen, offMean))
	require.NoError(t, err)
	require.InDelta(t, 20, greenMean.Float(), 0.01)
}

func TestProcessRejectsUnsupportedFormat(t *testing.T) {
	buf, err := pixel.Allocate(1, 1, pixel.Gray16)
	require.NoError(t, err)
	a := &analyzer{rangeToFind: 95}
	require.Error(t, a.Process(buf))
}

func TestSetPropertyOnlyAllowsRangeToFind(t *testing.T) {
	a := &analyzer{rangeToFind: 95}
	require.NoError(t, a.SetProperty(propRangeToFind, variant.NewFloat32(80)))

	v, err := a.GetProperty(propRangeToFind)
	require.NoError(t, err)
	require.InDelta(t, 80, v.Float(), 0.01)

	require.Error(t, a.SetProperty(channelProp(chanGrayOrRed, offMean), variant.NewFloat32(1)))
}

func TestHistogramArrayHasAllBuckets(t *testing.T) {
	buf, err := pixel.Allocate(1, 1, pixel.Gray8)
	require.NoError(t, err)
	buf.Data[0] = 42

	a := &analyzer{rangeToFind: 95}
	require.NoError(t, a.Process(buf))

	histVal, err := a.GetProperty(channelProp(chanGrayOrRed, offHistogram))
	require.NoError(t, err)
	require.Len(t, histVal.Array(), 256)
	require.Equal(t, int64(1), histVal.Array()[42].Int())
}
