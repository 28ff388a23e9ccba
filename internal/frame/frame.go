package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrMalformedFrame is returned for frames with zero dimensions or a pixel
// buffer that does not match them.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is a raw video frame in BGR byte order, 3 bytes per pixel, rows
// packed with a stride of Width*3.
//
// *Frame implements draw.Image so the standard image and font packages can
// paint onto it directly.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// New allocates a black frame of the given size.
func New(width, height int) *Frame {
	return &Frame{Width: width, Height: height, Pix: make([]byte, width*height*3)}
}

// Validate reports ErrMalformedFrame if the frame cannot be safely indexed.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrMalformedFrame)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrMalformedFrame, f.Width, f.Height)
	}
	if len(f.Pix) < f.Width*f.Height*3 {
		return fmt.Errorf("%w: buffer %d bytes, want %d", ErrMalformedFrame, len(f.Pix), f.Width*f.Height*3)
	}
	return nil
}

// Clone returns a deep copy that shares no storage with f.
func (f *Frame) Clone() *Frame {
	out := &Frame{Width: f.Width, Height: f.Height, Pix: make([]byte, len(f.Pix))}
	copy(out.Pix, f.Pix)
	return out
}

// Stride is the number of bytes per row.
func (f *Frame) Stride() int { return f.Width * 3 }

func (f *Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.Width, f.Height) }

func (f *Frame) ColorModel() color.Model { return color.RGBAModel }

func (f *Frame) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return color.RGBA{}
	}
	off := y*f.Stride() + x*3
	return color.RGBA{R: f.Pix[off+2], G: f.Pix[off+1], B: f.Pix[off], A: 255}
}

func (f *Frame) Set(x, y int, c color.Color) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	off := y*f.Stride() + x*3
	f.Pix[off] = rgba.B
	f.Pix[off+1] = rgba.G
	f.Pix[off+2] = rgba.R
}

// FromImage converts any decoded image into a BGR frame.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := New(b.Dx(), b.Dy())

	// Fast paths for what image/jpeg and image/png usually hand back
	switch src := img.(type) {
	case *image.YCbCr:
		for y := 0; y < f.Height; y++ {
			row := y * f.Stride()
			for x := 0; x < f.Width; x++ {
				yi := src.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := src.COffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				off := row + x*3
				f.Pix[off], f.Pix[off+1], f.Pix[off+2] = bl, g, r
			}
		}
	case *image.RGBA:
		for y := 0; y < f.Height; y++ {
			srcRow := src.PixOffset(b.Min.X, b.Min.Y+y)
			row := y * f.Stride()
			for x := 0; x < f.Width; x++ {
				s := srcRow + x*4
				off := row + x*3
				f.Pix[off], f.Pix[off+1], f.Pix[off+2] = src.Pix[s+2], src.Pix[s+1], src.Pix[s]
			}
		}
	default:
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				f.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
	}
	return f
}

// ToNRGBA converts the frame into an image the standard encoders handle
// without per-pixel interface calls.
func (f *Frame) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(f.Bounds())
	for y := 0; y < f.Height; y++ {
		row := y * f.Stride()
		dst := y * out.Stride
		for x := 0; x < f.Width; x++ {
			s := row + x*3
			d := dst + x*4
			out.Pix[d] = f.Pix[s+2]
			out.Pix[d+1] = f.Pix[s+1]
			out.Pix[d+2] = f.Pix[s]
			out.Pix[d+3] = 255
		}
	}
	return out
}

// Crop copies the pixels inside r (clipped to the frame) into a new frame.
func (f *Frame) Crop(r image.Rectangle) (*Frame, error) {
	r = r.Intersect(f.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("%w: empty crop region", ErrMalformedFrame)
	}
	out := New(r.Dx(), r.Dy())
	for y := 0; y < out.Height; y++ {
		src := (r.Min.Y+y)*f.Stride() + r.Min.X*3
		copy(out.Pix[y*out.Stride():(y+1)*out.Stride()], f.Pix[src:src+out.Stride()])
	}
	return out, nil
}
