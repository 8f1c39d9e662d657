package pixel

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"cvautomation/pkg/xerror"
)

// imageView adapts a Buffer to image.Image so it can drive golang.org/x/image/draw's
// resampler without a copy into a standard library image type first.
type imageView struct{ buf *Buffer }

func (v imageView) ColorModel() color.Model { return color.RGBAModel }
func (v imageView) Bounds() image.Rectangle { return image.Rect(0, 0, v.buf.Width, v.buf.Height) }
func (v imageView) At(x, y int) color.Color {
	c, err := v.buf.At(x, y)
	if err != nil {
		return color.RGBA{}
	}
	return c
}

// Scale resizes b to w x h using bilinear resampling, the fallback path for
// video sources and codecs that don't expose native scaling (grounded on
// the resize-step pattern of image-processing pipelines built on
// golang.org/x/image/draw). The result is always RGBA32; indexed and
// packed-bit formats must be converted before scaling.
func (b *Buffer) Scale(w, h int) (*Buffer, error) {
	if b == nil {
		return nil, xerror.NullParameter
	}
	if w <= 0 || h <= 0 {
		return nil, xerror.InvalidArgument
	}
	if b.Format.IsIndexed() || b.Format == Binary1 || b.Format == JPEG {
		return nil, xerror.UnsupportedPixelFormat
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), imageView{buf: b}, imageView{buf: b}.Bounds(), draw.Over, nil)

	out, err := Allocate(w, h, RGBA32)
	if err != nil {
		return nil, err
	}
	copy(out.Data, dst.Pix)
	return out, nil
}
