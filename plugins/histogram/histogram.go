// Package histogram is an ImageProcessing analyzer plug-in: it computes
// per-channel pixel histograms, mean, standard deviation, and a
// percentage-bounded "interesting range" around the median, grounded on
// the original ImageStatisticsPlugin.cpp. Results surface as read-only
// properties rather than a returned image, per the ImageProcessing
// contract.
package histogram

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/variant"
	"cvautomation/pkg/xerror"
)

var (
	ModuleGUID = uuid.MustParse("8f1a7c9e-4444-4a2b-9c3d-000000000001")
	familyGUID = uuid.MustParse("8f1a7c9e-4444-4a2b-9c3d-000000000fa1")
	pluginGUID = uuid.MustParse("8f1a7c9e-4444-4a2b-9c3d-000000000101")
)

// channel indices into the per-channel statistics. For Gray8 input only
// channel 0 is populated; for RGB24/RGBA32 all three are.
const (
	chanGrayOrRed = 0
	chanGreen     = 1
	chanBlue      = 2
	numChannels   = 3
)

const propRangeToFind = 0

// per-channel property IDs are propRangeToFind+1 + channel*propsPerChannel + offset
const propsPerChannel = 5

const (
	offHistogram = iota
	offMean
	offStdDev
	offFullRange
	offFoundRange
)

func channelProp(ch, off int) int { return 1 + ch*propsPerChannel + off }

// Descriptor returns the plug-in metadata for registration.
func Descriptor() *plugin.Descriptor {
	props := []plugin.PropertyDescriptor{
		{
			Key:         "range-to-find",
			DisplayName: "Percentage range to find",
			ValueType:   variant.Float32,
			Default:     variant.NewFloat32(95),
		},
	}
	names := [numChannels]string{"channel0", "channel1", "channel2"}
	for ch := 0; ch < numChannels; ch++ {
		props = append(props,
			plugin.PropertyDescriptor{Key: names[ch] + "-histogram", ValueType: variant.Int32, Flags: plugin.FlagReadOnly},
			plugin.PropertyDescriptor{Key: names[ch] + "-mean", ValueType: variant.Float32, Flags: plugin.FlagReadOnly},
			plugin.PropertyDescriptor{Key: names[ch] + "-stddev", ValueType: variant.Float32, Flags: plugin.FlagReadOnly},
			plugin.PropertyDescriptor{Key: names[ch] + "-full-range", ValueType: variant.RangeInt, Flags: plugin.FlagReadOnly},
			plugin.PropertyDescriptor{Key: names[ch] + "-found-range", ValueType: variant.RangeInt, Flags: plugin.FlagReadOnly},
		)
	}

	return &plugin.Descriptor{
		GUID:        pluginGUID,
		FamilyGUID:  familyGUID,
		ShortName:   "histogram",
		DisplayName: "Histogram statistics",
		Version:     plugin.Version{Major: 1},
		Type:        plugin.TypeImageProcessing,
		Properties:  props,
		Creator: func() (plugin.Instance, error) {
			a := &analyzer{rangeToFind: 95}
			return a, nil
		},
	}
}

type channelStats struct {
	histogram          [256]uint32
	mean, stddev       float64
	min, max           uint8
	foundMin, foundMax uint8
}

type analyzer struct {
	mu          sync.Mutex
	rangeToFind float32
	channels    [numChannels]channelStats
	active      int // number of populated channels, 1 or 3
}

func (*analyzer) SupportedPixelFormats() []pixel.Format {
	return []pixel.Format{pixel.Gray8, pixel.RGB24, pixel.RGBA32}
}

func (a *analyzer) Process(src *pixel.Buffer) error {
	if src == nil {
		return xerror.NullParameter
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.channels {
		a.channels[i] = channelStats{min: 255}
	}

	switch src.Format {
	case pixel.Gray8:
		a.active = 1
		accumulate(&a.channels[chanGrayOrRed], src, 0)
	case pixel.RGB24, pixel.RGBA32:
		a.active = 3
		accumulate(&a.channels[chanGrayOrRed], src, 0)
		accumulate(&a.channels[chanGreen], src, 1)
		accumulate(&a.channels[chanBlue], src, 2)
	default:
		return fmt.Errorf("histogram: %w", xerror.UnsupportedPixelFormat)
	}

	for i := 0; i < a.active; i++ {
		finalize(&a.channels[i], a.rangeToFind)
	}
	return nil
}

// accumulate fills hist from the byteOffset-th byte of every pixel in src
// (0 for Gray8/the red channel, 1 for green, 2 for blue).
func accumulate(hist *channelStats, src *pixel.Buffer, byteOffset int) {
	bpp := src.Format.BytesPerPixel()
	hist.min = 255
	hist.max = 0
	for y := 0; y < src.Height; y++ {
		row := y * src.Stride
		for x := 0; x < src.Width; x++ {
			v := src.Data[row+x*bpp+byteOffset]
			hist.histogram[v]++
			if v < hist.min {
				hist.min = v
			}
			if v > hist.max {
				hist.max = v
			}
		}
	}
}

// finalize computes mean, stddev, and the found-range bounding rangeToFind
// percent of the histogram's mass around its median, mirroring the
// original's CalculateRange.
func finalize(hist *channelStats, rangeToFind float32) {
	var total uint64
	var sum float64
	for v, count := range hist.histogram {
		total += uint64(count)
		sum += float64(v) * float64(count)
	}
	if total == 0 {
		return
	}
	mean := sum / float64(total)
	var variance float64
	for v, count := range hist.histogram {
		d := float64(v) - mean
		variance += d * d * float64(count)
	}
	variance /= float64(total)

	hist.mean = mean
	hist.stddev = math.Sqrt(variance)

	foundMin, foundMax := int(hist.min), int(hist.max)
	if rangeToFind <= 100 {
		toRemove := uint64((100 - float64(rangeToFind)) / 100 * float64(total))
		half := toRemove / 2

		var removed uint64
		for removed < half && foundMin < foundMax {
			next := removed + uint64(hist.histogram[foundMin])
			if next >= half {
				break
			}
			removed = next
			foundMin++
		}
		removed = 0
		for removed < half && foundMax > foundMin {
			next := removed + uint64(hist.histogram[foundMax])
			if next >= half {
				break
			}
			removed = next
			foundMax--
		}
	}
	hist.foundMin, hist.foundMax = uint8(foundMin), uint8(foundMax)
}

func (a *analyzer) GetProperty(id int) (variant.Value, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == propRangeToFind {
		return variant.NewFloat32(a.rangeToFind), nil
	}
	ch := (id - 1) / propsPerChannel
	off := (id - 1) % propsPerChannel
	if ch < 0 || ch >= numChannels {
		return variant.Value{}, fmt.Errorf("histogram: %w", xerror.InvalidProperty)
	}
	s := &a.channels[ch]
	switch off {
	case offHistogram:
		elems := make([]variant.Value, 256)
		for i, v := range s.histogram {
			elems[i] = variant.NewInt32(int32(v))
		}
		return variant.NewArray1D(elems), nil
	case offMean:
		return variant.NewFloat32(float32(s.mean)), nil
	case offStdDev:
		return variant.NewFloat32(float32(s.stddev)), nil
	case offFullRange:
		return variant.NewRangeInt(variant.RangeIntVal{Min: int64(s.min), Max: int64(s.max)}), nil
	case offFoundRange:
		return variant.NewRangeInt(variant.RangeIntVal{Min: int64(s.foundMin), Max: int64(s.foundMax)}), nil
	default:
		return variant.Value{}, fmt.Errorf("histogram: %w", xerror.InvalidProperty)
	}
}

func (a *analyzer) SetProperty(id int, value variant.Value) error {
	if id != propRangeToFind {
		return fmt.Errorf("histogram: %w", xerror.ReadOnlyProperty)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rangeToFind = float32(value.Float())
	return nil
}

var (
	_ plugin.ImageProcessing = (*analyzer)(nil)
	_ plugin.PropertyReader  = (*analyzer)(nil)
	_ plugin.PropertyWriter  = (*analyzer)(nil)
)
