package effects

import (
	"image"
	"math"
	"time"
)

const (
	threshold = 0.001

	// blurTaps is the number of samples on each side of the center pixel.
	blurTaps = 4
	// blurSpread is the sample spacing in pixels at full blur.
	blurSpread = 10.0

	glitchSlices     = 16
	glitchBucket     = 80 * time.Millisecond
	glitchMaxShift   = 0.1 // Fraction of the frame width
	rgbShiftMaxPixel = 20
)

// Processor applies effect passes in place. It keeps scratch buffers
// between frames and is not safe for concurrent use.
type Processor struct {
	scratch *image.RGBA
}

// NewProcessor creates a processor.
func NewProcessor() *Processor {
	return &Processor{}
}

func (p *Processor) scratchFor(frame *image.RGBA) *image.RGBA {
	b := frame.Bounds()
	if p.scratch == nil || p.scratch.Bounds() != b {
		p.scratch = image.NewRGBA(b)
	}
	return p.scratch
}

// ApplyFilters runs blur, brightness, contrast, grayscale, sepia and invert
// on frame, in that order. Color operations run as one pass after the blur
// and clamp only at the end. Alpha is untouched.
func (p *Processor) ApplyFilters(frame *image.RGBA, params Params) {
	if params.Blur > threshold {
		p.blur(frame, params.Blur)
	}

	if math.Abs(params.Brightness) <= threshold && math.Abs(params.Contrast) <= threshold &&
		params.Grayscale <= threshold && params.Sepia <= threshold && params.Invert <= 0.5 {
		return
	}

	b := frame.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := frame.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			i := row + x*4
			r := float64(frame.Pix[i]) / 255
			g := float64(frame.Pix[i+1]) / 255
			bl := float64(frame.Pix[i+2]) / 255

			r, g, bl = filterPixel(r, g, bl, params)

			frame.Pix[i] = toByte(r)
			frame.Pix[i+1] = toByte(g)
			frame.Pix[i+2] = toByte(bl)
		}
	}
}

func filterPixel(r, g, b float64, p Params) (float64, float64, float64) {
	r += p.Brightness
	g += p.Brightness
	b += p.Brightness

	k := 1 + p.Contrast
	r = (r-0.5)*k + 0.5
	g = (g-0.5)*k + 0.5
	b = (b-0.5)*k + 0.5

	if p.Grayscale > threshold {
		gray := 0.299*r + 0.587*g + 0.114*b
		r = mix(r, gray, p.Grayscale)
		g = mix(g, gray, p.Grayscale)
		b = mix(b, gray, p.Grayscale)
	}

	if p.Sepia > threshold {
		sr := 0.393*r + 0.769*g + 0.189*b
		sg := 0.349*r + 0.686*g + 0.168*b
		sb := 0.272*r + 0.534*g + 0.131*b
		r = mix(r, sr, p.Sepia)
		g = mix(g, sg, p.Sepia)
		b = mix(b, sb, p.Sepia)
	}

	if p.Invert > 0.5 {
		r, g, b = 1-r, 1-g, 1-b
	}
	return r, g, b
}

func mix(a, b, t float64) float64 { return a + (b-a)*t }

func toByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// blur is a separable tent-weighted blur; spacing between samples grows
// with the amount.
func (p *Processor) blur(frame *image.RGBA, amount float64) {
	step := amount * blurSpread
	var weights [2*blurTaps + 1]float64
	var total float64
	for k := -blurTaps; k <= blurTaps; k++ {
		w := 1 - math.Abs(float64(k))/float64(blurTaps+1)
		weights[k+blurTaps] = w
		total += w
	}

	tmp := p.scratchFor(frame)
	convolve(tmp, frame, weights[:], total, step, true)
	convolve(frame, tmp, weights[:], total, step, false)
}

func convolve(dst, src *image.RGBA, weights []float64, total, step float64, horizontal bool) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		dstRow := dst.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < w; x++ {
			var acc [4]float64
			for k, wt := range weights {
				offset := int(math.Round(float64(k-blurTaps) * step))
				sx, sy := x, y
				if horizontal {
					sx = clampInt(x+offset, 0, w-1)
				} else {
					sy = clampInt(y+offset, 0, h-1)
				}
				si := src.PixOffset(b.Min.X+sx, b.Min.Y+sy)
				acc[0] += float64(src.Pix[si]) * wt
				acc[1] += float64(src.Pix[si+1]) * wt
				acc[2] += float64(src.Pix[si+2]) * wt
				acc[3] += float64(src.Pix[si+3]) * wt
			}
			di := dstRow + x*4
			for c := 0; c < 4; c++ {
				dst.Pix[di+c] = uint8(math.Min(255, acc[c]/total+0.5))
			}
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
