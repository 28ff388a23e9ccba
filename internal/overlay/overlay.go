// Package overlay stamps the capture guide onto live frames.
//
// Everything here runs once per incoming frame, so nothing may panic or
// return an error: a bad frame is passed through untouched.
package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/andresmejia3/fingercap/internal/frame"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"
)

// Caption is always drawn under the guide box.
const Caption = "Place finger inside the green box"

const (
	borderWidth = 4
	// Outside the guide: keep 7/10 of the original, blend the rest with black
	dimKeepNum = 7
	dimKeepDen = 10

	instructionBaseline = 40
	captionGap          = 40
)

var (
	green = color.RGBA{G: 255, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

	instructionFace font.Face = inconsolata.Bold8x16
	captionFace     font.Face = basicfont.Face7x13
)

// Guide returns the guide box for a w x h frame: 35% of the width and 45% of
// the height, centred. It must be recomputed for every frame since the
// camera resolution can change between frames.
func Guide(w, h int) image.Rectangle {
	if w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	bw := w * 35 / 100
	bh := h * 45 / 100
	cx, cy := w/2, h/2
	return image.Rect(cx-bw/2, cy-bh/2, cx+bw/2, cy+bh/2)
}

// Annotate returns a copy of f with the guide box, dimmed surround,
// instruction text and caption drawn on it. f is never modified. Malformed
// frames come back unchanged.
func Annotate(f *frame.Frame, instruction string) (out *frame.Frame) {
	if f.Validate() != nil {
		return f
	}
	defer func() {
		if r := recover(); r != nil {
			out = f
		}
	}()

	out = f.Clone()
	g := Guide(out.Width, out.Height)

	dimOutside(out, g)
	if !g.Empty() {
		drawBorder(out, g)
	}
	if instruction != "" {
		drawLabel(out, instruction, instructionFace, instructionBaseline, 10, 10, 10, green)
	}
	drawLabel(out, Caption, captionFace, g.Max.Y+captionGap, 10, 5, 5, white)
	return out
}

// dimOutside darkens every pixel outside g. Pixels inside g are not touched
// so the operator sees the finger at full brightness.
func dimOutside(f *frame.Frame, g image.Rectangle) {
	stride := f.Stride()
	for y := 0; y < f.Height; y++ {
		row := f.Pix[y*stride : (y+1)*stride]
		inRow := y >= g.Min.Y && y < g.Max.Y
		for x := 0; x < f.Width; x++ {
			if inRow && x >= g.Min.X && x < g.Max.X {
				continue
			}
			off := x * 3
			row[off] = dim(row[off])
			row[off+1] = dim(row[off+1])
			row[off+2] = dim(row[off+2])
		}
	}
}

func dim(v byte) byte {
	return byte((int(v)*dimKeepNum + dimKeepDen/2) / dimKeepDen)
}

// drawBorder paints a solid border centred on the edges of g.
func drawBorder(f *frame.Frame, g image.Rectangle) {
	outer := g.Inset(-borderWidth / 2).Intersect(f.Bounds())
	inner := g.Inset(borderWidth / 2)
	src := image.NewUniform(green)

	for _, r := range []image.Rectangle{
		image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, inner.Min.Y), // top
		image.Rect(outer.Min.X, inner.Max.Y, outer.Max.X, outer.Max.Y), // bottom
		image.Rect(outer.Min.X, inner.Min.Y, inner.Min.X, inner.Max.Y), // left
		image.Rect(inner.Max.X, inner.Min.Y, outer.Max.X, inner.Max.Y), // right
	} {
		r = r.Intersect(outer)
		if !r.Empty() {
			draw.Draw(f, r, src, image.Point{}, draw.Src)
		}
	}
}

// drawLabel centres text horizontally with its baseline at y, on an opaque
// black box padded by padX on both sides, padTop above the cap height and
// padBottom below the baseline. Parts outside the frame are clipped.
func drawLabel(f *frame.Frame, text string, face font.Face, y, padX, padTop, padBottom int, fg color.Color) {
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Ascent.Ceil()
	x := (f.Width - width) / 2

	bg := image.Rect(x-padX, y-height-padTop, x+width+padX, y+padBottom).Intersect(f.Bounds())
	if bg.Empty() {
		return
	}
	draw.Draw(f, bg, image.Black, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  f,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
