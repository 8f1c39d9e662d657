package pixel

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocate(t *testing.T) {
	cases := map[string]struct {
		w, h    int
		format  Format
		wantErr bool
	}{
		"rgb24":       {10, 5, RGB24, false},
		"gray8":       {10, 5, Gray8, false},
		"indexed1":    {10, 5, Indexed1, false},
		"zeroWidth":   {0, 5, RGB24, true},
		"negativeDim": {-1, 5, RGB24, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			buf, err := Allocate(tc.w, tc.h, tc.format)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.w, buf.Width)
			require.Equal(t, tc.h, buf.Height)
			require.GreaterOrEqual(t, buf.Stride, MinStride(tc.w, tc.format))
			if tc.format.IsIndexed() {
				require.Len(t, buf.Palette, 1<<uint(tc.format.BitsPerPixel()))
			}
		})
	}
}

func TestCopyDataOrCloneReusesStorage(t *testing.T) {
	dst, err := Allocate(4, 4, RGB24)
	require.NoError(t, err)
	backing := &dst.Data[0]

	src, err := Allocate(4, 4, RGB24)
	require.NoError(t, err)
	src.Data[0] = 42

	out, err := CopyDataOrClone(src, dst)
	require.NoError(t, err)
	require.Same(t, backing, &out.Data[0], "identical geometry must reuse dst's storage")
	require.Equal(t, byte(42), out.Data[0])
}

func TestCopyDataOrCloneAllocatesOnMismatch(t *testing.T) {
	dst, err := Allocate(4, 4, RGB24)
	require.NoError(t, err)

	src, err := Allocate(8, 8, RGB24)
	require.NoError(t, err)

	out, err := CopyDataOrClone(src, dst)
	require.NoError(t, err)
	require.NotSame(t, dst, out)
	require.Equal(t, 8, out.Width)
}

func TestSetAtRoundTrip(t *testing.T) {
	buf, err := Allocate(2, 2, RGBA32)
	require.NoError(t, err)

	want := color.RGBA{10, 20, 30, 40}
	require.NoError(t, buf.Set(1, 1, want))

	got, err := buf.At(1, 1)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSubImageOutOfBounds(t *testing.T) {
	buf, err := Allocate(4, 4, RGB24)
	require.NoError(t, err)

	_, err = buf.SubImage(2, 2, 10, 10)
	require.Error(t, err)
}

func TestPutImageCropsToOverlap(t *testing.T) {
	dst, err := Allocate(4, 4, Gray8)
	require.NoError(t, err)
	src, err := Allocate(4, 4, Gray8)
	require.NoError(t, err)
	for i := range src.Data {
		src.Data[i] = 0xFF
	}

	require.NoError(t, dst.PutImage(src, 2, 2))

	v, err := dst.At(3, 3)
	require.NoError(t, err)
	require.Equal(t, uint8(0xFF), v.R)

	v, err = dst.At(0, 0)
	require.NoError(t, err)
	require.Equal(t, uint8(0), v.R)
}

func TestBinary1PackingMSBFirst(t *testing.T) {
	buf, err := Allocate(8, 1, Binary1)
	require.NoError(t, err)

	require.NoError(t, setIndex(buf, 0, 0, 1))
	require.Equal(t, byte(0b1000_0000), buf.Data[0])

	require.NoError(t, setIndex(buf, 7, 0, 1))
	require.Equal(t, byte(0b1000_0001), buf.Data[0])
}

func TestSameGeometry(t *testing.T) {
	a, _ := Allocate(4, 4, RGB24)
	b, _ := Allocate(4, 4, RGB24)
	c, _ := Allocate(4, 5, RGB24)

	require.True(t, SameGeometry(a, b))
	require.False(t, SameGeometry(a, c))
	require.False(t, SameGeometry(nil, b))
}

func TestWrapBytesRejectsShortBuffer(t *testing.T) {
	_, err := WrapBytes(make([]byte, 4), 10, 10, 30, RGB24)
	require.Error(t, err)
}
