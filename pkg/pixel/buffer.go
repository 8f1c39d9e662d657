package pixel

import (
	"fmt"
	"image/color"

	"cvautomation/pkg/xerror"
)

// Buffer is a rectangular pixel container: width, height, stride (which may
// include row padding), a pixel-format tag, the raw bytes, and — iff the
// format is indexed — an ordered palette of RGBA entries sized 2^bpp.
//
// A Buffer is exclusively owned by exactly one holder at a time: the most
// recent pipeline step that produced it, or a reuse-ring slot awaiting the
// next frame. Transfer between holders is by move (assign the pointer, do
// not alias it from two places at once); Clone and CopyDataOrClone are the
// two sanctioned ways to get an independent copy.
type Buffer struct {
	Width  int
	Height int
	Stride int
	Format Format
	Data   []byte
	// Palette is non-nil iff Format.IsIndexed(); len(Palette) == 2^bpp.
	Palette []color.RGBA

	// owned is false for views created by WrapBytes: Release is then a
	// no-op and the backing array belongs to the caller.
	owned bool
}

// Allocate returns a new zero-filled Buffer of the given geometry.
func Allocate(w, h int, format Format) (*Buffer, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("allocate %vx%v: %w", w, h, xerror.InvalidArgument)
	}
	stride := MinStride(w, format)
	data := make([]byte, stride*h)

	buf := &Buffer{
		Width:  w,
		Height: h,
		Stride: stride,
		Format: format,
		Data:   data,
		owned:  true,
	}
	if format.IsIndexed() {
		buf.Palette = defaultPalette(format)
	}
	return buf, nil
}

func defaultPalette(format Format) []color.RGBA {
	n := 1 << uint(format.BitsPerPixel())
	pal := make([]color.RGBA, n)
	if n == 2 {
		pal[0] = color.RGBA{0, 0, 0, 255}
		pal[1] = color.RGBA{255, 255, 255, 255}
		return pal
	}
	step := 255 / (n - 1)
	for i := range pal {
		v := uint8(i * step)
		pal[i] = color.RGBA{v, v, v, 255}
	}
	return pal
}

// WrapBytes returns a non-owning Buffer view over an existing byte slice.
// Release on the returned buffer does not free ptr.
func WrapBytes(ptr []byte, w, h, stride int, format Format) (*Buffer, error) {
	if ptr == nil {
		return nil, xerror.NullParameter
	}
	if stride < MinStride(w, format) {
		return nil, fmt.Errorf("stride %v below minimum for width %v: %w", stride, w, xerror.InvalidArgument)
	}
	if len(ptr) < stride*h {
		return nil, fmt.Errorf("buffer too small for %vx%v stride %v: %w", w, h, stride, xerror.InvalidArgument)
	}
	return &Buffer{
		Width:  w,
		Height: h,
		Stride: stride,
		Format: format,
		Data:   ptr,
		owned:  false,
	}, nil
}

// Clone returns a deep, independently-owned copy of b.
func (b *Buffer) Clone() (*Buffer, error) {
	if b == nil {
		return nil, xerror.NullParameter
	}
	data := make([]byte, len(b.Data))
	copy(data, b.Data)

	var pal []color.RGBA
	if b.Palette != nil {
		pal = make([]color.RGBA, len(b.Palette))
		copy(pal, b.Palette)
	}

	return &Buffer{
		Width:   b.Width,
		Height:  b.Height,
		Stride:  b.Stride,
		Format:  b.Format,
		Data:    data,
		Palette: pal,
		owned:   true,
	}, nil
}

// CopyDataOrClone is the pipeline's hot-loop allocation path (§4.1): if dst
// already has identical geometry (width, height, format) its storage is
// reused in place and src's bytes are copied into it; otherwise a fresh
// clone of src replaces dst entirely. The returned buffer is always the one
// that should now occupy dst's slot.
func CopyDataOrClone(src, dst *Buffer) (*Buffer, error) {
	if src == nil {
		return nil, xerror.NullParameter
	}
	if dst != nil && dst.owned &&
		dst.Width == src.Width && dst.Height == src.Height &&
		dst.Format == src.Format && dst.Stride == src.Stride &&
		len(dst.Data) == len(src.Data) {
		copy(dst.Data, src.Data)
		if src.Palette != nil {
			if len(dst.Palette) != len(src.Palette) {
				dst.Palette = make([]color.RGBA, len(src.Palette))
			}
			copy(dst.Palette, src.Palette)
		} else {
			dst.Palette = nil
		}
		return dst, nil
	}
	return src.Clone()
}

// SubImage returns a new Buffer backed by a view into b's region
// (x,y,w,h). The rectangle must lie entirely within b's bounds.
func (b *Buffer) SubImage(x, y, w, h int) (*Buffer, error) {
	if b == nil {
		return nil, xerror.NullParameter
	}
	if w <= 0 || h <= 0 || x < 0 || y < 0 || x+w > b.Width || y+h > b.Height {
		return nil, fmt.Errorf("sub-image (%v,%v,%v,%v) outside %vx%v: %w",
			x, y, w, h, b.Width, b.Height, xerror.InvalidArgument)
	}
	if b.Format.BitsPerPixel() < 8 {
		// Sub-byte formats don't have a byte-addressable column offset;
		// fall back to a clone-based crop.
		return cropPacked(b, x, y, w, h)
	}
	bpp := b.Format.BitsPerPixel() / 8
	offset := y*b.Stride + x*bpp

	return &Buffer{
		Width:   w,
		Height:  h,
		Stride:  b.Stride,
		Format:  b.Format,
		Data:    b.Data[offset:],
		Palette: b.Palette,
		owned:   false,
	}, nil
}

func cropPacked(b *Buffer, x, y, w, h int) (*Buffer, error) {
	out, err := Allocate(w, h, b.Format)
	if err != nil {
		return nil, err
	}
	out.Palette = b.Palette
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			idx, err := getIndex(b, x+col, y+row)
			if err != nil {
				return nil, err
			}
			if err := setIndex(out, col, row, idx); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// PutImage copies src into self at (x,y), silently cropping to the overlap
// between src's rectangle and self's bounds.
func (b *Buffer) PutImage(src *Buffer, x, y int) error {
	if b == nil || src == nil {
		return xerror.NullParameter
	}
	if src.Format != b.Format {
		return fmt.Errorf("put-image format %v into %v: %w", src.Format, b.Format, xerror.UnsupportedPixelFormat)
	}
	sx, sy := 0, 0
	if x < 0 {
		sx, x = -x, 0
	}
	if y < 0 {
		sy, y = -y, 0
	}
	w := src.Width - sx
	h := src.Height - sy
	if x+w > b.Width {
		w = b.Width - x
	}
	if y+h > b.Height {
		h = b.Height - y
	}
	if w <= 0 || h <= 0 || x >= b.Width || y >= b.Height || x+w < 0 || y+h < 0 {
		return nil // Entirely outside: silently drop, same as the overlap being empty.
	}

	if b.Format.BitsPerPixel() >= 8 {
		bpp := b.Format.BitsPerPixel() / 8
		for row := 0; row < h; row++ {
			srcOff := (sy+row)*src.Stride + sx*bpp
			dstOff := (y+row)*b.Stride + x*bpp
			copy(b.Data[dstOff:dstOff+w*bpp], src.Data[srcOff:srcOff+w*bpp])
		}
		return nil
	}

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			idx, err := getIndex(src, sx+col, sy+row)
			if err != nil {
				return err
			}
			if err := setIndex(b, x+col, y+row, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func getIndex(b *Buffer, x, y int) (byte, error) {
	bpp := b.Format.BitsPerPixel()
	bitOffset := x * bpp
	byteOffset := y*b.Stride + bitOffset/8
	if byteOffset < 0 || byteOffset >= len(b.Data) {
		return 0, fmt.Errorf("index (%v,%v) out of range: %w", x, y, xerror.IndexOutOfBounds)
	}
	shift := 8 - bpp - (bitOffset % 8)
	mask := byte(1<<uint(bpp)) - 1
	return (b.Data[byteOffset] >> uint(shift)) & mask, nil
}

func setIndex(b *Buffer, x, y int, value byte) error {
	bpp := b.Format.BitsPerPixel()
	bitOffset := x * bpp
	byteOffset := y*b.Stride + bitOffset/8
	if byteOffset < 0 || byteOffset >= len(b.Data) {
		return fmt.Errorf("index (%v,%v) out of range: %w", x, y, xerror.IndexOutOfBounds)
	}
	shift := 8 - bpp - (bitOffset % 8)
	mask := byte(1<<uint(bpp)) - 1
	b.Data[byteOffset] = b.Data[byteOffset]&^(mask<<uint(shift)) | (value&mask)<<uint(shift)
	return nil
}

// At returns the pixel at (x,y) converted to RGBA space regardless of the
// buffer's native format.
func (b *Buffer) At(x, y int) (color.RGBA, error) {
	if b == nil {
		return color.RGBA{}, xerror.NullParameter
	}
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return color.RGBA{}, fmt.Errorf("at (%v,%v) outside %vx%v: %w", x, y, b.Width, b.Height, xerror.InvalidArgument)
	}

	if b.Format.IsIndexed() || b.Format == Binary1 {
		idx, err := getIndex(b, x, y)
		if err != nil {
			return color.RGBA{}, err
		}
		if b.Format == Binary1 && len(b.Palette) == 0 {
			v := idx * 255
			return color.RGBA{v, v, v, 255}, nil
		}
		if int(idx) >= len(b.Palette) {
			return color.RGBA{}, fmt.Errorf("palette index %v out of range: %w", idx, xerror.IndexOutOfBounds)
		}
		return b.Palette[idx], nil
	}

	bpp := b.Format.BitsPerPixel() / 8
	off := y*b.Stride + x*bpp
	switch b.Format {
	case Gray8:
		v := b.Data[off]
		return color.RGBA{v, v, v, 255}, nil
	case Gray16:
		v := b.Data[off]
		return color.RGBA{v, v, v, 255}, nil
	case RGB24:
		return color.RGBA{b.Data[off], b.Data[off+1], b.Data[off+2], 255}, nil
	case RGBA32:
		return color.RGBA{b.Data[off], b.Data[off+1], b.Data[off+2], b.Data[off+3]}, nil
	case RGB48:
		return color.RGBA{b.Data[off], b.Data[off+2], b.Data[off+4], 255}, nil
	case RGBA64:
		return color.RGBA{b.Data[off], b.Data[off+2], b.Data[off+4], b.Data[off+6]}, nil
	default:
		return color.RGBA{}, fmt.Errorf("at: %w", xerror.UnsupportedPixelFormat)
	}
}

// Set writes a pixel at (x,y) given in RGBA space. Only Gray8 (as the
// luminance of c), RGB24 and RGBA32 buffers are settable this way; every
// other format, including the indexed ones, Binary1, Gray16, RGB48 and
// RGBA64, returns UnsupportedPixelFormat.
func (b *Buffer) Set(x, y int, c color.RGBA) error {
	if b == nil {
		return xerror.NullParameter
	}
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return fmt.Errorf("set (%v,%v) outside %vx%v: %w", x, y, b.Width, b.Height, xerror.InvalidArgument)
	}
	bpp := b.Format.BitsPerPixel() / 8
	off := y*b.Stride + x*bpp
	switch b.Format {
	case Gray8:
		b.Data[off] = gray(c)
	case RGB24:
		b.Data[off], b.Data[off+1], b.Data[off+2] = c.R, c.G, c.B
	case RGBA32:
		b.Data[off], b.Data[off+1], b.Data[off+2], b.Data[off+3] = c.R, c.G, c.B, c.A
	default:
		return fmt.Errorf("set: %w", xerror.UnsupportedPixelFormat)
	}
	return nil
}

func gray(c color.RGBA) byte {
	return byte((299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000)
}

// Release detaches b's data. For an owning buffer this drops its reference
// to the backing array (letting the GC reclaim it); for a WrapBytes view it
// is a no-op since the caller retains ownership.
func (b *Buffer) Release() {
	if b == nil || !b.owned {
		return
	}
	b.Data = nil
	b.Palette = nil
}

// SameGeometry reports whether a and b have identical width, height and
// format — the condition under which a reuse-ring slot keeps its backing
// storage across frames (buffer reuse law, §8 invariant 4).
func SameGeometry(a, b *Buffer) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Width == b.Width && a.Height == b.Height && a.Format == b.Format
}
